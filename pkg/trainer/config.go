package trainer

import (
	"github.com/relight3d/go-relight/pkg/transport"
)

// Config contains configuration for an optimization run
type Config struct {
	Iterations           int    // total horizon
	TestIterations       []int  // validation points
	SaveIterations       []int  // scene snapshot points
	CheckpointIterations []int  // (model snapshot, iteration) checkpoint points
	StartCheckpoint      string // checkpoint file to resume from, empty for a fresh run

	LambdaDSSIM float64 // structural-similarity weight in [0, 1]
	Optimizer   transport.AdamConfig
	Width       int // transport grid width
	Height      int // transport grid height
	SHOrder     int // spherical harmonic order for transport and lights

	DebugPath string // periodic debug artifacts directory; empty disables the branch
	Debug     bool   // skip optimization and only render the current state

	Seed int64 // seed for camera sampling and field initialization
}

// DefaultConfig returns sensible default values matching a full training run
func DefaultConfig() Config {
	return Config{
		Iterations:     30000,
		TestIterations: []int{7000, 30000},
		SaveIterations: []int{7000, 30000},
		LambdaDSSIM:    0.2,
		Optimizer:      transport.DefaultAdamConfig(),
		Width:          100,
		Height:         100,
		SHOrder:        9,
		Seed:           0,
	}
}

// contains reports whether iteration is one of the scheduled points
func contains(iterations []int, iteration int) bool {
	for _, it := range iterations {
		if it == iteration {
			return true
		}
	}
	return false
}
