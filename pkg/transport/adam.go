package transport

import "math"

// AdamConfig contains hyperparameters for the Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns the standard Adam hyperparameters used for the
// transport field
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam applies Adam updates to a transport field's parameters from its
// accumulated gradients
type Adam struct {
	config AdamConfig
	field  *Field
	m      []float64 // first moment estimate
	v      []float64 // second moment estimate
	t      int       // update count
}

// NewAdam creates an Adam optimizer owning the moment state for the field
func NewAdam(field *Field, config AdamConfig) *Adam {
	n := len(field.Params().RawMatrix().Data)
	return &Adam{
		config: config,
		field:  field,
		m:      make([]float64, n),
		v:      make([]float64, n),
	}
}

// Step applies one update from the field's current gradient and advances the
// bias-correction step counter. Gradients are left in place; callers clear
// them with ZeroGrad.
func (a *Adam) Step() {
	a.t++
	params := a.field.Params().RawMatrix().Data
	grads := a.field.Grad().RawMatrix().Data

	b1 := a.config.Beta1
	b2 := a.config.Beta2
	corr1 := 1.0 - math.Pow(b1, float64(a.t))
	corr2 := 1.0 - math.Pow(b2, float64(a.t))

	for i, g := range grads {
		a.m[i] = b1*a.m[i] + (1.0-b1)*g
		a.v[i] = b2*a.v[i] + (1.0-b2)*g*g
		mHat := a.m[i] / corr1
		vHat := a.v[i] / corr2
		params[i] -= a.config.LearningRate * mHat / (math.Sqrt(vHat) + a.config.Epsilon)
	}
}
