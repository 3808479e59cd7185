package scene

import (
	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/loaders"
)

// Camera is a materialized, resolution-scaled view record. Cameras are
// produced once from a RawCamera and never mutated afterward.
type Camera struct {
	Name        string
	Rotation    [3][3]float64
	Translation core.Vec3
	FovX        float64
	FovY        float64
	Width       int
	Height      int
	Image       *loaders.ImageData // decoded ground truth at this scale
	Phi         float64            // light azimuth in degrees
	Theta       float64            // light polar angle in degrees
}

// materializeCamera converts a raw per-view description into a camera record
// at the given resolution scale. The image is copied, never shared, so each
// scale owns its pixels independently.
func materializeCamera(raw *RawCamera, resolutionScale float64) *Camera {
	img := raw.Image.Scale(resolutionScale)

	return &Camera{
		Name:        raw.Name,
		Rotation:    raw.Rotation,
		Translation: raw.Translation,
		FovX:        raw.FovX,
		FovY:        raw.FovY,
		Width:       img.Width,
		Height:      img.Height,
		Image:       img,
		Phi:         raw.Phi,
		Theta:       raw.Theta,
	}
}

// materializeCameras applies the camera materializer to every raw description
// at one resolution scale, preserving order
func materializeCameras(raws []RawCamera, resolutionScale float64) []*Camera {
	cameras := make([]*Camera, len(raws))
	for i := range raws {
		cameras[i] = materializeCamera(&raws[i], resolutionScale)
	}
	return cameras
}

// CameraJSON is the persisted per-camera metadata record in cameras.json
type CameraJSON struct {
	ID         int           `json:"id"`
	ImgName    string        `json:"img_name"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Position   [3]float64    `json:"position"`
	Rotation   [3][3]float64 `json:"rotation"`
	FovX       float64       `json:"fov_x"`
	FovY       float64       `json:"fov_y"`
	LightPhi   float64       `json:"light_phi"`
	LightTheta float64       `json:"light_theta"`
}

// cameraToJSON builds the metadata record for one raw camera with the given
// stable zero-based identifier
func cameraToJSON(id int, raw *RawCamera) CameraJSON {
	return CameraJSON{
		ID:         id,
		ImgName:    raw.Name,
		Width:      raw.Width,
		Height:     raw.Height,
		Position:   [3]float64{raw.Translation.X, raw.Translation.Y, raw.Translation.Z},
		Rotation:   raw.Rotation,
		FovX:       raw.FovX,
		FovY:       raw.FovY,
		LightPhi:   raw.Phi,
		LightTheta: raw.Theta,
	}
}
