package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/loaders"
)

// ErrUnrecognizedScene is returned when no dataset dispatch rule matches the
// source path
var ErrUnrecognizedScene = errors.New("could not recognize scene type")

// RawCamera is the intermediate per-view description produced by dataset
// readers before materialization
type RawCamera struct {
	Name        string
	Rotation    [3][3]float64
	Translation core.Vec3
	FovX        float64 // horizontal field of view in radians
	FovY        float64 // vertical field of view in radians
	Width       int
	Height      int
	Image       *loaders.ImageData
	Phi         float64 // light azimuth in degrees
	Theta       float64 // light polar angle in degrees
}

// LightRig describes the capture rig's light arrangement, when the dataset
// provides one
type LightRig struct {
	Type       string       `json:"type"`
	Directions [][2]float64 `json:"directions,omitempty"` // (phi, theta) pairs in degrees
}

// Normalization carries the scene-space scaling produced by a reader
type Normalization struct {
	Radius float64
}

// SceneInfo is the uniform intermediate scene description every dataset
// reader returns
type SceneInfo struct {
	TrainCameras   []RawCamera
	TestCameras    []RawCamera
	Normalization  Normalization
	PointCloudPath string
	LightRig       *LightRig
}

// Reader signatures for the three supported dataset formats. Colmap and OLAT
// readers are external collaborators wired in through Config; a synthetic
// transforms reader is provided in this package.
type (
	ColmapReader    func(sourcePath, imagesDir string, eval bool) (*SceneInfo, error)
	SyntheticReader func(sourcePath string, numPoints int, eval bool, radius float64) (*SceneInfo, error)
	OLATReader      func(sourcePath string, resolutionScale float64, eval bool, radius float64, whiteBackground bool, lightRigType string) (*SceneInfo, error)
)

// loadSceneInfo dispatches among dataset formats in fixed priority order.
// Exactly one branch fires.
func loadSceneInfo(cfg *Config, logger core.Logger) (*SceneInfo, error) {
	if dirExists(filepath.Join(cfg.SourcePath, "sparse")) {
		logger.Printf("Found sparse folder, assuming Colmap data set!\n")
		if cfg.ColmapReader == nil {
			return nil, fmt.Errorf("colmap data set at %s but no colmap reader configured", cfg.SourcePath)
		}
		return cfg.ColmapReader(cfg.SourcePath, "images", cfg.Eval)
	}

	if fileExists(filepath.Join(cfg.SourcePath, "transforms_train.json")) {
		logger.Printf("Found transforms_train.json file, assuming synthetic data set!\n")
		reader := cfg.SyntheticReader
		if reader == nil {
			reader = ReadSyntheticTransforms
		}
		return reader(cfg.SourcePath, cfg.NumPoints, cfg.Eval, cfg.Radius)
	}

	if cfg.DatasetType == DatasetOLAT {
		logger.Printf("Found OLAT data set!\n")
		if cfg.OLATReader == nil {
			return nil, fmt.Errorf("OLAT data set requested for %s but no OLAT reader configured", cfg.SourcePath)
		}
		return cfg.OLATReader(cfg.SourcePath, cfg.ResolutionScale, cfg.Eval, cfg.Radius, cfg.WhiteBackground, cfg.LightRigType)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedScene, cfg.SourcePath)
}

// syntheticTransforms mirrors the transforms_train.json manifest layout
type syntheticTransforms struct {
	CameraAngleX float64 `json:"camera_angle_x"`
	Frames       []struct {
		FilePath        string      `json:"file_path"`
		TransformMatrix [][]float64 `json:"transform_matrix"`
		LightPhi        float64     `json:"light_phi"`
		LightTheta      float64     `json:"light_theta"`
	} `json:"frames"`
}

// ReadSyntheticTransforms loads a synthetic-transform data set: camera poses
// and light directions from transforms_{train,test}.json, frame images from
// the paths they reference, and a canonical point cloud. When the data set
// ships no points3d.ply, a deterministic random cloud of numPoints inside the
// normalization radius is synthesized and persisted next to the manifests.
func ReadSyntheticTransforms(sourcePath string, numPoints int, eval bool, radius float64) (*SceneInfo, error) {
	trainCams, err := readTransformsFile(filepath.Join(sourcePath, "transforms_train.json"), sourcePath)
	if err != nil {
		return nil, err
	}

	var testCams []RawCamera
	testPath := filepath.Join(sourcePath, "transforms_test.json")
	if eval && fileExists(testPath) {
		testCams, err = readTransformsFile(testPath, sourcePath)
		if err != nil {
			return nil, err
		}
	}

	plyPath := filepath.Join(sourcePath, "points3d.ply")
	if !fileExists(plyPath) {
		if err := writeRandomPointCloud(plyPath, numPoints, radius); err != nil {
			return nil, err
		}
	}

	return &SceneInfo{
		TrainCameras:   trainCams,
		TestCameras:    testCams,
		Normalization:  Normalization{Radius: radius},
		PointCloudPath: plyPath,
	}, nil
}

// readTransformsFile parses one transforms manifest into raw cameras
func readTransformsFile(manifestPath, sourcePath string) ([]RawCamera, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read transforms file: %w", err)
	}

	var manifest syntheticTransforms
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", manifestPath, err)
	}

	cameras := make([]RawCamera, 0, len(manifest.Frames))
	for _, frame := range manifest.Frames {
		if len(frame.TransformMatrix) < 3 {
			return nil, fmt.Errorf("frame %s: malformed transform matrix", frame.FilePath)
		}

		imagePath := filepath.Join(sourcePath, frame.FilePath)
		if filepath.Ext(imagePath) == "" {
			imagePath += ".png"
		}
		img, err := loaders.LoadImage(imagePath)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", frame.FilePath, err)
		}

		var rotation [3][3]float64
		var translation core.Vec3
		for r := 0; r < 3; r++ {
			if len(frame.TransformMatrix[r]) < 4 {
				return nil, fmt.Errorf("frame %s: malformed transform matrix row", frame.FilePath)
			}
			for c := 0; c < 3; c++ {
				rotation[r][c] = frame.TransformMatrix[r][c]
			}
		}
		translation = core.NewVec3(
			frame.TransformMatrix[0][3],
			frame.TransformMatrix[1][3],
			frame.TransformMatrix[2][3],
		)

		fovX := manifest.CameraAngleX
		fovY := focal2fov(fov2focal(fovX, img.Width), img.Height)

		// Camera names are the frame stems, extension stripped
		name := strings.TrimSuffix(filepath.Base(frame.FilePath), filepath.Ext(frame.FilePath))

		cameras = append(cameras, RawCamera{
			Name:        name,
			Rotation:    rotation,
			Translation: translation,
			FovX:        fovX,
			FovY:        fovY,
			Width:       img.Width,
			Height:      img.Height,
			Image:       img,
			Phi:         frame.LightPhi,
			Theta:       frame.LightTheta,
		})
	}
	return cameras, nil
}

// writeRandomPointCloud seeds a synthetic scene with numPoints random points
// inside a sphere of the given radius. The cloud is deterministic for a given
// point count so repeated constructions agree.
func writeRandomPointCloud(path string, numPoints int, radius float64) error {
	rng := rand.New(rand.NewSource(int64(numPoints)))

	cloud := &loaders.PointCloud{
		Points:  make([]core.Vec3, numPoints),
		Colors:  make([]core.Vec3, numPoints),
		Normals: make([]core.Vec3, numPoints),
	}
	for i := 0; i < numPoints; i++ {
		cloud.Points[i] = core.NewVec3(
			(rng.Float64()*2-1)*radius,
			(rng.Float64()*2-1)*radius,
			(rng.Float64()*2-1)*radius,
		)
		cloud.Colors[i] = core.NewVec3(rng.Float64(), rng.Float64(), rng.Float64()).Multiply(1.0 / 255.0)
	}
	return loaders.SavePLY(path, cloud)
}

// fov2focal converts a field of view in radians to a focal length in pixels
func fov2focal(fov float64, pixels int) float64 {
	return float64(pixels) / (2.0 * math.Tan(fov/2.0))
}

// focal2fov converts a focal length in pixels to a field of view in radians
func focal2fov(focal float64, pixels int) float64 {
	return 2.0 * math.Atan(float64(pixels)/(2.0*focal))
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
