package trainer

import (
	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/metrics"
	"github.com/relight3d/go-relight/pkg/scene"
	"github.com/relight3d/go-relight/pkg/sh"
)

// trainSampleIndices selects the fixed sparse subsample of training views
// reported during validation: indices 5, 10, 15, 20, 25 modulo set size
func trainSampleIndices(setSize int) []int {
	if setSize == 0 {
		return nil
	}
	indices := make([]int, 0, 5)
	for idx := 5; idx < 30; idx += 5 {
		indices = append(indices, idx%setSize)
	}
	return indices
}

// validate computes mean absolute error and PSNR over the full test set and
// a sparse subsample of training views. Validation renders through the full
// radiance-model pipeline, not the diffuse approximation used for the
// gradient step; that asymmetry is intentional. Failures are reported, not
// propagated: validation never affects the loop.
func (t *Trainer) validate(iteration int) {
	prev := t.state
	t.state = StateValidating
	defer func() { t.state = prev }()

	testCams, err := t.scene.TestCameras(1.0)
	if err != nil {
		t.logger.Printf("Warning: validation skipped: %v\n", err)
		return
	}
	trainCams, err := t.scene.TrainCameras(1.0)
	if err != nil {
		t.logger.Printf("Warning: validation skipped: %v\n", err)
		return
	}

	var trainSample []*scene.Camera
	for _, idx := range trainSampleIndices(len(trainCams)) {
		trainSample = append(trainSample, trainCams[idx])
	}

	configs := []struct {
		name    string
		cameras []*scene.Camera
	}{
		{"test", testCams},
		{"train", trainSample},
	}

	for _, config := range configs {
		if len(config.cameras) == 0 {
			continue
		}

		l1Total := 0.0
		psnrTotal := 0.0
		evaluated := 0
		for _, viewpoint := range config.cameras {
			rendered, err := t.renderView(viewpoint)
			if err != nil {
				t.logger.Printf("Warning: validation render of %s failed: %v\n", viewpoint.Name, err)
				continue
			}

			image := clampImage(rendered)
			gt := clampImage(viewpoint.Image.Pixels)
			l1Total += metrics.L1(image, gt)
			psnrTotal += metrics.PSNR(image, gt)
			evaluated++
		}
		if evaluated == 0 {
			continue
		}

		t.logger.Printf("\n[ITER %d] Evaluating %s: L1 %f PSNR %f\n",
			iteration, config.name, l1Total/float64(evaluated), psnrTotal/float64(evaluated))
	}

	t.logger.Printf("[ITER %d] Total points: %d\n", iteration, len(t.model.Positions()))
}

// renderView renders one camera through the externally supplied full
// pipeline, falling back to the diffuse transport evaluator when none was
// provided
func (t *Trainer) renderView(cam *scene.Camera) ([]core.Vec3, error) {
	if t.renderFunc != nil {
		return t.renderFunc(cam, t.model)
	}
	light := sh.LightCoeffs(cam.Phi, cam.Theta, t.field.Order())
	return t.field.Evaluate(light)
}

// clampImage returns a copy of the image with all channels clamped to [0, 1]
func clampImage(image []core.Vec3) []core.Vec3 {
	out := make([]core.Vec3, len(image))
	for i, p := range image {
		out[i] = p.Clamp(0, 1)
	}
	return out
}
