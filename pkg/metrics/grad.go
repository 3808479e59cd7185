package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/relight3d/go-relight/pkg/core"
)

// Luminance weights matching core.Vec3.Luminance
var lumWeights = core.Vec3{X: 0.299, Y: 0.587, Z: 0.114}

// PhotometricLoss returns the combined training loss
// (1-lambda)*L1 + lambda*(1-SSIM) together with its gradient with respect to
// each rendered pixel channel. The gradient is analytic: the evaluator
// upstream is linear, so this is the only nontrivial derivative in the
// training step.
func PhotometricLoss(rendered, gt []core.Vec3, lambda float64) (loss float64, grad []core.Vec3) {
	l1 := L1(rendered, gt)
	ssim := SSIM(rendered, gt)
	loss = (1.0-lambda)*l1 + lambda*(1.0-ssim)

	grad = make([]core.Vec3, len(rendered))
	addL1Grad(grad, rendered, gt, 1.0-lambda)
	addSSIMGrad(grad, rendered, gt, -lambda)
	return loss, grad
}

// addL1Grad accumulates weight * dL1/dpixel into grad
func addL1Grad(grad, rendered, gt []core.Vec3, weight float64) {
	// L1 averages over pixels and channels
	scale := weight / (3.0 * float64(len(rendered)))
	for i := range rendered {
		d := rendered[i].Subtract(gt[i])
		grad[i] = grad[i].Add(core.Vec3{
			X: sign(d.X) * scale,
			Y: sign(d.Y) * scale,
			Z: sign(d.Z) * scale,
		})
	}
}

// addSSIMGrad accumulates weight * dSSIM/dpixel into grad. SSIM is computed
// over per-pixel luminance, so the channel gradient is the luminance
// derivative scaled by the channel weights.
func addSSIMGrad(grad, rendered, gt []core.Vec3, weight float64) {
	n := len(rendered)
	if n < 2 {
		return
	}

	const k1 = 0.01
	const k2 = 0.03
	c1 := k1 * k1
	c2 := k2 * k2

	x := toLuminance(rendered)
	y := toLuminance(gt)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	a := 2*muX*muY + c1
	b := 2*sigmaXY + c2
	c := muX*muX + muY*muY + c1
	d := sigmaX + sigmaY + c2
	if c == 0 || d == 0 {
		return
	}
	s := (a * b) / (c * d)

	nf := float64(n)
	nm1 := nf - 1.0

	for i := range x {
		// d/dx_i of the statistics; the centered sums make these exact
		dA := 2.0 * muY / nf
		dB := 2.0 * (y[i] - muY) / nm1
		dC := 2.0 * muX / nf
		dD := 2.0 * (x[i] - muX) / nm1

		ds := (dA*b+a*dB)/(c*d) - s*(dC*d+c*dD)/(c*d)
		grad[i] = grad[i].Add(lumWeights.Multiply(weight * ds))
	}
}

func sign(v float64) float64 {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}
