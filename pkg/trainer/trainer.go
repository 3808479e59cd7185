// Package trainer drives the light-transport optimization loop: per-step
// camera sampling, diffuse shading against a directional light encoding,
// photometric loss and parameter updates, capacity escalation on a fixed
// schedule, checkpointing and periodic validation.
package trainer

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/loaders"
	"github.com/relight3d/go-relight/pkg/metrics"
	"github.com/relight3d/go-relight/pkg/scene"
	"github.com/relight3d/go-relight/pkg/sh"
	"github.com/relight3d/go-relight/pkg/transport"
)

// State identifies the phase of the optimization run
type State int

const (
	StateInitializing State = iota
	StateStepping
	StateValidating
	StateCheckpointing
	StateFinalizing
	StateDiverged
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStepping:
		return "stepping"
	case StateValidating:
		return "validating"
	case StateCheckpointing:
		return "checkpointing"
	case StateFinalizing:
		return "finalizing"
	case StateDiverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// RenderFunc renders a camera through the full radiance-model pipeline. It is
// supplied externally and used for validation only: training gradients flow
// through the diffuse transport evaluator, not through this function.
type RenderFunc func(cam *scene.Camera, model scene.RadianceModel) ([]core.Vec3, error)

// capacityEscalationInterval is the fixed schedule on which the radiance
// model is asked to raise its spherical harmonic degree, and on which debug
// renders are emitted
const capacityEscalationInterval = 1000

// renderGamma is the display gamma applied to persisted renders
const renderGamma = 2.2

// Trainer owns the optimization loop state. All mutation happens on the
// single goroutine that calls Run.
type Trainer struct {
	config      Config
	sceneConfig scene.Config
	model       scene.RadianceModel
	renderFunc  RenderFunc
	logger      core.Logger

	scene     *scene.Scene
	field     *transport.Field
	optimizer *transport.Adam
	rng       *rand.Rand

	stack     []*scene.Camera
	emaLoss   float64
	state     State
	firstIter int
}

// New creates a trainer over the given dataset and radiance model. renderFn
// may be nil, in which case validation falls back to the diffuse transport
// pipeline.
func New(sceneCfg scene.Config, model scene.RadianceModel, cfg Config, renderFn RenderFunc, logger core.Logger) *Trainer {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Trainer{
		config:      cfg,
		sceneConfig: sceneCfg,
		model:       model,
		renderFunc:  renderFn,
		logger:      logger,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		state:       StateInitializing,
	}
}

// State returns the trainer's current phase
func (t *Trainer) State() State {
	return t.state
}

// Field returns the transport field once Run has initialized it
func (t *Trainer) Field() *transport.Field {
	return t.field
}

// Run executes the full optimization: initialization, the iteration loop
// (unless configured debug-only), and final rendering of every view. A
// diverged loss terminates the loop early and proceeds to finalization; the
// last valid checkpoint remains usable.
func (t *Trainer) Run() error {
	if err := t.initialize(); err != nil {
		return err
	}

	if !t.config.Debug {
		if err := t.optimize(); err != nil {
			return err
		}
	}

	return t.finalize()
}

// initialize constructs the scene, sets up both optimizers and restores a
// prior checkpoint when configured
func (t *Trainer) initialize() error {
	t.state = StateInitializing

	s, err := scene.New(t.sceneConfig, t.model)
	if err != nil {
		return fmt.Errorf("scene construction failed: %w", err)
	}
	t.scene = s

	params := scene.DefaultOptimizationParams()
	params.Iterations = t.config.Iterations
	t.model.SetupOptimizer(params)

	if t.config.StartCheckpoint != "" {
		blob, err := os.ReadFile(t.config.StartCheckpoint)
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		resumeIter, err := t.model.Restore(blob, params)
		if err != nil {
			return fmt.Errorf("failed to restore checkpoint: %w", err)
		}
		t.firstIter = resumeIter
		t.logger.Printf("Resuming from checkpoint at iteration %d\n", resumeIter)
	}

	grid := transport.Grid{Width: t.config.Width, Height: t.config.Height}
	order := t.config.SHOrder
	if order == 0 {
		order = sh.DefaultOrder
	}
	t.field = transport.NewField(grid, order, t.rng)
	t.optimizer = transport.NewAdam(t.field, t.config.Optimizer)
	return nil
}

// optimize runs the iteration loop from the resume point to the horizon
func (t *Trainer) optimize() error {
	t.state = StateStepping

	for iteration := t.firstIter + 1; iteration <= t.config.Iterations; iteration++ {
		diverged, err := t.step(iteration)
		if err != nil {
			return err
		}
		if diverged {
			t.state = StateDiverged
			return nil
		}
	}
	return nil
}

// step performs one optimization iteration. It returns diverged=true when
// the loss left the finite range, which aborts the loop without applying
// further parameter updates.
func (t *Trainer) step(iteration int) (diverged bool, err error) {
	stepStart := time.Now()

	t.model.AdvanceLearningRate(iteration)

	// Every fixed interval the radiance model is asked to raise its
	// spherical harmonic degree by one band; the cap is the model's concern
	if iteration%capacityEscalationInterval == 0 {
		t.model.IncreaseSHDegree()
	}

	cam, err := t.nextCamera()
	if err != nil {
		return false, err
	}

	light := sh.LightCoeffs(cam.Phi, cam.Theta, t.field.Order())
	image, err := t.field.Evaluate(light)
	if err != nil {
		return false, err
	}

	gt := cam.Image.Pixels
	if len(gt) != len(image) {
		return false, fmt.Errorf("camera %s image %dx%d does not match transport grid %dx%d",
			cam.Name, cam.Width, cam.Height, t.field.Grid().Width, t.field.Grid().Height)
	}

	loss, grad := metrics.PhotometricLoss(image, gt, t.config.LambdaDSSIM)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.logger.Printf("loss is inf or nan, stop training\n")
		t.logger.Printf("iteration: %d\n", iteration)
		return true, nil
	}

	if err := t.field.Backward(grad, light); err != nil {
		return false, err
	}
	t.optimizer.Step()
	t.field.ZeroGrad()

	elapsed := time.Since(stepStart)
	t.report(iteration, loss, elapsed, image)

	if contains(t.config.TestIterations, iteration) {
		t.validate(iteration)
	}
	if contains(t.config.SaveIterations, iteration) {
		t.state = StateCheckpointing
		t.logger.Printf("[ITER %d] Saving model snapshot\n", iteration)
		if err := t.scene.Save(iteration); err != nil {
			return false, err
		}
		t.state = StateStepping
	}
	if contains(t.config.CheckpointIterations, iteration) {
		t.state = StateCheckpointing
		if err := t.saveCheckpoint(iteration); err != nil {
			return false, err
		}
		t.state = StateStepping
	}

	return false, nil
}

// nextCamera pops one camera uniformly at random from the sampling stack,
// refilling it with a fresh copy of the training set when exhausted. Within
// one refill every camera is visited exactly once.
func (t *Trainer) nextCamera() (*scene.Camera, error) {
	if len(t.stack) == 0 {
		cams, err := t.scene.TrainCameras(1.0)
		if err != nil {
			return nil, err
		}
		if len(cams) == 0 {
			return nil, fmt.Errorf("no training cameras available")
		}
		t.stack = append([]*scene.Camera(nil), cams...)
	}

	idx := t.rng.Intn(len(t.stack))
	cam := t.stack[idx]
	t.stack[idx] = t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return cam, nil
}

// report maintains the loss moving average, progress output and periodic
// debug renders. Failures here are logged and never affect the loop.
func (t *Trainer) report(iteration int, loss float64, elapsed time.Duration, image []core.Vec3) {
	// Exponential moving average purely for progress reporting
	t.emaLoss = 0.4*loss + 0.6*t.emaLoss
	if iteration%10 == 0 {
		t.logger.Printf("[ITER %d] Loss: %.7f (%.2fms/it)\n", iteration, t.emaLoss, float64(elapsed.Microseconds())/1000.0)
	}

	if t.config.DebugPath == "" || iteration%capacityEscalationInterval != 0 {
		return
	}

	if err := os.MkdirAll(filepath.Join(t.config.DebugPath, "sh_map"), 0755); err != nil {
		t.logger.Printf("Warning: failed to create debug directory: %v\n", err)
		return
	}

	corrected := make([]core.Vec3, len(image))
	for i, p := range image {
		corrected[i] = p.GammaCorrect(renderGamma)
	}
	path := filepath.Join(t.config.DebugPath, "render", fmt.Sprintf("%05d.png", iteration))
	if err := loaders.SavePNG(path, corrected, t.field.Grid().Width, t.field.Grid().Height); err != nil {
		t.logger.Printf("Warning: failed to save debug render: %v\n", err)
	}
}

// saveCheckpoint writes the (model snapshot, iteration) pair atomically:
// the blob lands under a temporary name and is renamed into place, so no
// partial checkpoint is ever readable
func (t *Trainer) saveCheckpoint(iteration int) error {
	t.logger.Printf("[ITER %d] Saving checkpoint\n", iteration)

	blob, err := t.model.Capture(iteration)
	if err != nil {
		return fmt.Errorf("failed to capture checkpoint: %w", err)
	}

	path := filepath.Join(t.sceneConfig.ModelPath, fmt.Sprintf("chkpnt_%d.json", iteration))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	return nil
}
