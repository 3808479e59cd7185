// Package sh evaluates real spherical harmonic bases for directional light
// encoding. Coefficients are indexed l*(l+1)+m for band l and order m, so an
// expansion of order N carries N*N coefficients.
package sh

import "math"

// DefaultOrder is the band limit used for light transport throughout the
// pipeline: 9 bands, 81 coefficients per channel.
const DefaultOrder = 9

// CoeffCount returns the number of coefficients in an expansion of the given order
func CoeffCount(order int) int {
	return order * order
}

// DirectionFromAngles converts light angles in degrees to a unit direction.
// Phi is the azimuth around +Z, theta the polar angle measured from +Z.
func DirectionFromAngles(phi, theta float64) (x, y, z float64) {
	phiRad := phi * math.Pi / 180.0
	thetaRad := theta * math.Pi / 180.0
	sinT := math.Sin(thetaRad)
	return sinT * math.Cos(phiRad), sinT * math.Sin(phiRad), math.Cos(thetaRad)
}

// LightCoeffs encodes a directional light given by (phi, theta) in degrees as
// a spherical harmonic coefficient vector of the given order. The result is a
// pure function of its inputs: identical calls produce identical bits.
func LightCoeffs(phi, theta float64, order int) []float64 {
	phiRad := phi * math.Pi / 180.0
	thetaRad := theta * math.Pi / 180.0
	return EvalBasis(phiRad, thetaRad, order)
}

// EvalBasis evaluates all real spherical harmonic basis functions up to the
// given order at spherical direction (phi, theta) in radians. Results are
// ordered band-major: l in [0, order), m in [-l, l], index l*(l+1)+m.
func EvalBasis(phi, theta float64, order int) []float64 {
	coeffs := make([]float64, order*order)
	cosTheta := math.Cos(theta)

	for l := 0; l < order; l++ {
		for m := -l; m <= l; m++ {
			coeffs[l*(l+1)+m] = evalY(l, m, phi, cosTheta)
		}
	}
	return coeffs
}

// evalY evaluates the real spherical harmonic Y_l^m
func evalY(l, m int, phi, cosTheta float64) float64 {
	if m == 0 {
		return normalization(l, 0) * legendre(l, 0, cosTheta)
	}
	if m > 0 {
		return math.Sqrt2 * normalization(l, m) * math.Cos(float64(m)*phi) * legendre(l, m, cosTheta)
	}
	// m < 0
	return math.Sqrt2 * normalization(l, -m) * math.Sin(float64(-m)*phi) * legendre(l, -m, cosTheta)
}

// normalization returns the K_l^m normalization constant
func normalization(l, m int) float64 {
	num := float64(2*l+1) * factorial(l-m)
	den := 4.0 * math.Pi * factorial(l+m)
	return math.Sqrt(num / den)
}

// legendre evaluates the associated Legendre polynomial P_l^m(x) for m >= 0
// using the standard three-term recurrence
func legendre(l, m int, x float64) float64 {
	// P_m^m
	pmm := 1.0
	if m > 0 {
		somx2 := math.Sqrt((1.0 - x) * (1.0 + x))
		fact := 1.0
		for i := 1; i <= m; i++ {
			pmm *= -fact * somx2
			fact += 2.0
		}
	}
	if l == m {
		return pmm
	}

	// P_{m+1}^m
	pmmp1 := x * float64(2*m+1) * pmm
	if l == m+1 {
		return pmmp1
	}

	// Raise the band with the recurrence
	// (l-m) P_l^m = x (2l-1) P_{l-1}^m - (l+m-1) P_{l-2}^m
	var pll float64
	for ll := m + 2; ll <= l; ll++ {
		pll = (x*float64(2*ll-1)*pmmp1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm = pmmp1
		pmmp1 = pll
	}
	return pll
}

// factorial returns n! as a float64; exact for the band counts used here
func factorial(n int) float64 {
	result := 1.0
	for i := 2; i <= n; i++ {
		result *= float64(i)
	}
	return result
}
