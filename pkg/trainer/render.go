package trainer

import (
	"fmt"
	"path/filepath"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/loaders"
	"github.com/relight3d/go-relight/pkg/scene"
	"github.com/relight3d/go-relight/pkg/sh"
)

// finalize renders every train and test camera through the diffuse transport
// pipeline to the persistent output tree. A second, un-shuffled scene view is
// constructed fresh over the same dataset, never from a saved snapshot, so
// output indices follow dataset order.
func (t *Trainer) finalize() error {
	t.state = StateFinalizing
	t.logger.Printf("Rendering final images\n")

	cfg := t.sceneConfig
	cfg.Shuffle = false
	cfg.LoadIteration = 0
	renderScene, err := scene.New(cfg, t.model)
	if err != nil {
		return fmt.Errorf("failed to construct render scene: %w", err)
	}

	trainCams, err := renderScene.TrainCameras(1.0)
	if err != nil {
		return err
	}
	testCams, err := renderScene.TestCameras(1.0)
	if err != nil {
		return err
	}

	if err := t.renderSet("train", trainCams); err != nil {
		return err
	}
	return t.renderSet("test", testCams)
}

// renderSet writes gamma-corrected renders and ground-truth images for one
// camera split under <model>/<split>/ours_<iterations>/{renders,gt}
func (t *Trainer) renderSet(name string, views []*scene.Camera) error {
	base := filepath.Join(t.sceneConfig.ModelPath, name, fmt.Sprintf("ours_%d", t.config.Iterations))
	renderPath := filepath.Join(base, "renders")
	gtPath := filepath.Join(base, "gt")

	grid := t.field.Grid()
	for idx, view := range views {
		light := sh.LightCoeffs(view.Phi, view.Theta, t.field.Order())
		rendering, err := t.field.Evaluate(light)
		if err != nil {
			return err
		}

		filename := fmt.Sprintf("%05d.png", idx)
		if err := loaders.SavePNG(filepath.Join(renderPath, filename),
			gammaCorrectImage(rendering), grid.Width, grid.Height); err != nil {
			return fmt.Errorf("failed to save render %s/%s: %w", name, filename, err)
		}
		if err := loaders.SavePNG(filepath.Join(gtPath, filename),
			gammaCorrectImage(view.Image.Pixels), view.Width, view.Height); err != nil {
			return fmt.Errorf("failed to save ground truth %s/%s: %w", name, filename, err)
		}
	}
	return nil
}

// gammaCorrectImage applies the display gamma to every pixel
func gammaCorrectImage(image []core.Vec3) []core.Vec3 {
	out := make([]core.Vec3, len(image))
	for i, p := range image {
		out[i] = p.GammaCorrect(renderGamma)
	}
	return out
}
