// Package metrics computes photometric error metrics between rendered and
// ground-truth images stored as row-major Vec3 pixel slices.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/relight3d/go-relight/pkg/core"
)

// L1 returns the mean absolute difference between two images
func L1(a, b []core.Vec3) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range a {
		sum += a[i].Subtract(b[i]).Abs().Mean()
	}
	return sum / float64(len(a))
}

// MSE returns the mean squared difference between two images
func MSE(a, b []core.Vec3) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range a {
		sum += a[i].Subtract(b[i]).Square().Mean()
	}
	return sum / float64(len(a))
}

// PSNR returns the peak signal-to-noise ratio in dB for images in [0, 1]
func PSNR(a, b []core.Vec3) float64 {
	mse := MSE(a, b)
	if mse == 0 {
		return math.Inf(1)
	}
	return 10.0 * math.Log10(1.0/mse)
}

// SSIM computes the structural similarity index between two images using
// global image statistics. Values range from -1 to 1, with 1 indicating
// identical structure.
func SSIM(a, b []core.Vec3) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	// Constants for SSIM with dynamic range L = 1
	const k1 = 0.01
	const k2 = 0.03
	c1 := k1 * k1
	c2 := k2 * k2

	x := toLuminance(a)
	y := toLuminance(b)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den == 0 {
		return 0
	}
	return num / den
}

// toLuminance flattens an RGB image into per-pixel luminance samples
func toLuminance(img []core.Vec3) []float64 {
	out := make([]float64, len(img))
	for i, p := range img {
		out[i] = p.Luminance()
	}
	return out
}
