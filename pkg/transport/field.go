// Package transport holds the trainable per-pixel light-transport state and
// its diffuse shading evaluator. Each pixel of a fixed grid carries one
// spherical harmonic coefficient vector per color channel; shading a pixel
// under a directional light is the dot product of its transport coefficients
// with the light's coefficients.
package transport

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/sh"
)

const channels = 3

// Grid is a fixed pixel grid enumerated row-major: index = y*Width + x
type Grid struct {
	Width  int
	Height int
}

// NumPixels returns the total pixel count of the grid
func (g Grid) NumPixels() int {
	return g.Width * g.Height
}

// Index returns the row-major index of pixel (x, y)
func (g Grid) Index(x, y int) int {
	return y*g.Width + x
}

// Field is the trainable transport state: a dense matrix with one row per
// pixel and 3*order^2 columns (channel-major coefficient blocks per row).
type Field struct {
	grid   Grid
	order  int
	coeffs int // coefficients per channel = order^2
	params *mat.Dense
	grad   *mat.Dense
}

// NewField creates a transport field for the given grid and spherical
// harmonic order, seeded with small random coefficients from rng so that the
// first rendered images are near black but gradients are nonzero
func NewField(grid Grid, order int, rng *rand.Rand) *Field {
	coeffs := sh.CoeffCount(order)
	n := grid.NumPixels()

	data := make([]float64, n*channels*coeffs)
	for i := range data {
		data[i] = rng.Float64() / 255.0
	}

	return &Field{
		grid:   grid,
		order:  order,
		coeffs: coeffs,
		params: mat.NewDense(n, channels*coeffs, data),
		grad:   mat.NewDense(n, channels*coeffs, nil),
	}
}

// Grid returns the pixel grid the field is defined over
func (f *Field) Grid() Grid { return f.grid }

// Order returns the spherical harmonic order of the transport coefficients
func (f *Field) Order() int { return f.order }

// Params exposes the underlying parameter matrix for optimizers and tests
func (f *Field) Params() *mat.Dense { return f.params }

// Grad exposes the accumulated gradient matrix
func (f *Field) Grad() *mat.Dense { return f.grad }

// Evaluate shades every pixel of the grid under the given light coefficient
// vector and returns the diffuse image row-major. The evaluation is a pure,
// deterministic function of the field parameters and the light coefficients;
// no clamping is applied.
func (f *Field) Evaluate(light []float64) ([]core.Vec3, error) {
	if len(light) != f.coeffs {
		return nil, fmt.Errorf("light coefficient count %d does not match transport order %d (%d expected)",
			len(light), f.order, f.coeffs)
	}

	n := f.grid.NumPixels()
	image := make([]core.Vec3, n)
	raw := f.params.RawMatrix()

	for i := 0; i < n; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		var px [channels]float64
		for c := 0; c < channels; c++ {
			block := row[c*f.coeffs : (c+1)*f.coeffs]
			sum := 0.0
			for k, l := range light {
				sum += block[k] * l
			}
			px[c] = sum
		}
		image[i] = core.Vec3{X: px[0], Y: px[1], Z: px[2]}
	}
	return image, nil
}

// Backward accumulates the gradient of a scalar loss into the field given
// dLdImage, the per-pixel per-channel derivative of that loss with respect to
// the evaluated image. Because the evaluator is linear in the coefficients,
// d(pixel_c)/d(coeff_ck) is simply light[k].
func (f *Field) Backward(dLdImage []core.Vec3, light []float64) error {
	if len(dLdImage) != f.grid.NumPixels() {
		return fmt.Errorf("gradient pixel count %d does not match grid %dx%d",
			len(dLdImage), f.grid.Width, f.grid.Height)
	}
	if len(light) != f.coeffs {
		return fmt.Errorf("light coefficient count %d does not match transport coefficients %d",
			len(light), f.coeffs)
	}

	raw := f.grad.RawMatrix()
	for i, d := range dLdImage {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for k, l := range light {
			row[0*f.coeffs+k] += d.X * l
			row[1*f.coeffs+k] += d.Y * l
			row[2*f.coeffs+k] += d.Z * l
		}
	}
	return nil
}

// ZeroGrad clears the accumulated gradient
func (f *Field) ZeroGrad() {
	f.grad.Zero()
}
