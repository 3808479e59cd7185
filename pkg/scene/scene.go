// Package scene owns the lifecycle of a captured data set: dataset-format
// dispatch, camera materialization per resolution scale, radiance model
// population, and persistence of camera metadata and model snapshots.
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/loaders"
)

// DatasetOLAT selects the one-light-at-a-time capture-rig reader when no
// filesystem marker matches
const DatasetOLAT = "OLAT"

// LoadLatest requests the highest persisted snapshot iteration
const LoadLatest = -1

// ErrMissingScale is returned when cameras are requested for a resolution
// scale that was never materialized
var ErrMissingScale = errors.New("resolution scale not materialized")

// OptimizationParams is the schedule configuration handed to the radiance
// model's own optimizer
type OptimizationParams struct {
	Iterations      int
	PositionLRInit  float64
	PositionLRFinal float64
}

// DefaultOptimizationParams returns the schedule used for training runs
func DefaultOptimizationParams() OptimizationParams {
	return OptimizationParams{
		Iterations:      30000,
		PositionLRInit:  1.6e-4,
		PositionLRFinal: 1.6e-6,
	}
}

// RadianceModel is the external scene representation consumed opaquely by the
// lifecycle manager and the training loop. Densification, pruning and
// rasterization live behind this interface.
type RadianceModel interface {
	CreateFromPointCloud(cloud *loaders.PointCloud, extent float64) error
	LoadSnapshot(path string) error
	SaveSnapshot(path string) error
	SetupOptimizer(params OptimizationParams)
	Capture(iteration int) ([]byte, error)
	Restore(checkpoint []byte, params OptimizationParams) (resumeIteration int, err error)
	AdvanceLearningRate(iteration int)
	IncreaseSHDegree()
	Positions() []core.Vec3
	Opacities() []float64
}

// Config collects everything Scene construction needs. Reader fields inject
// the dataset parsers; a synthetic-transforms reader is used by default.
type Config struct {
	SourcePath       string
	ModelPath        string
	LoadIteration    int // 0 = fresh run, LoadLatest = highest saved iteration
	Shuffle          bool
	ResolutionScale  float64 // scale passed to the OLAT reader
	ResolutionScales []float64
	DatasetType      string
	NumPoints        int
	Radius           float64
	WhiteBackground  bool
	LightRigType     string
	LoadPointsPath   string // optional point-cloud override file
	Eval             bool

	ColmapReader    ColmapReader
	SyntheticReader SyntheticReader
	OLATReader      OLATReader

	Logger core.Logger
	Rand   *rand.Rand // shuffle source; nil uses global randomness
}

// Scene is the aggregate root over materialized cameras and the radiance
// model. Camera content is immutable after construction.
type Scene struct {
	modelPath    string
	loadedIter   int // 0 when no checkpoint was loaded
	extent       float64
	lightRig     *LightRig
	model        RadianceModel
	trainCameras map[float64][]*Camera
	testCameras  map[float64][]*Camera
}

// New constructs a Scene: dispatches the dataset format, persists first-run
// metadata, shuffles if requested, materializes cameras per resolution scale
// and populates the radiance model through exactly one of its three
// initialization branches.
func New(cfg Config, model RadianceModel) (*Scene, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	scales := cfg.ResolutionScales
	if len(scales) == 0 {
		scales = []float64{1.0}
	}

	s := &Scene{
		modelPath:    cfg.ModelPath,
		model:        model,
		trainCameras: make(map[float64][]*Camera),
		testCameras:  make(map[float64][]*Camera),
	}

	if cfg.LoadIteration != 0 {
		if cfg.LoadIteration == LoadLatest {
			iter, err := searchForMaxIteration(filepath.Join(cfg.ModelPath, "point_cloud"))
			if err != nil {
				return nil, err
			}
			s.loadedIter = iter
		} else {
			s.loadedIter = cfg.LoadIteration
		}
		logger.Printf("Loading trained model at iteration %d\n", s.loadedIter)
	}

	info, err := loadSceneInfo(&cfg, logger)
	if err != nil {
		return nil, err
	}

	if info.LightRig != nil {
		logger.Printf("Loading Light Info\n")
		s.lightRig = info.LightRig
	}

	// First-construction side effects happen before any shuffle so that
	// camera metadata identifiers are stable across runs.
	if s.loadedIter == 0 {
		if err := s.persistInputMetadata(info); err != nil {
			return nil, err
		}
	}

	if cfg.Shuffle {
		shuffleCameras(info.TrainCameras, cfg.Rand)
		shuffleCameras(info.TestCameras, cfg.Rand)
	}

	s.extent = info.Normalization.Radius
	logger.Printf("successfully loaded scene\n")

	for _, scale := range scales {
		logger.Printf("Loading Training Cameras\n")
		s.trainCameras[scale] = materializeCameras(info.TrainCameras, scale)
		logger.Printf("Loading Test Cameras\n")
		s.testCameras[scale] = materializeCameras(info.TestCameras, scale)
	}

	if err := s.populateModel(&cfg, info); err != nil {
		return nil, err
	}

	return s, nil
}

// persistInputMetadata copies the canonical point cloud into the model path
// and serializes all cameras in train-then-test concatenation order
func (s *Scene) persistInputMetadata(info *SceneInfo) error {
	if err := os.MkdirAll(s.modelPath, 0755); err != nil {
		return fmt.Errorf("failed to create model path: %w", err)
	}

	src, err := os.ReadFile(info.PointCloudPath)
	if err != nil {
		return fmt.Errorf("failed to read canonical point cloud: %w", err)
	}
	ext := filepath.Ext(info.PointCloudPath)
	if ext == "" {
		ext = ".ply"
	}
	if err := os.WriteFile(filepath.Join(s.modelPath, "input"+ext), src, 0644); err != nil {
		return fmt.Errorf("failed to copy input point cloud: %w", err)
	}

	records := make([]CameraJSON, 0, len(info.TrainCameras)+len(info.TestCameras))
	id := 0
	for i := range info.TrainCameras {
		records = append(records, cameraToJSON(id, &info.TrainCameras[i]))
		id++
	}
	for i := range info.TestCameras {
		records = append(records, cameraToJSON(id, &info.TestCameras[i]))
		id++
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal camera metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.modelPath, "cameras.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write cameras.json: %w", err)
	}
	return nil
}

// populateModel runs exactly one of the three radiance-model initialization
// branches: explicit point-cloud override, checkpoint load, or the reader's
// canonical cloud
func (s *Scene) populateModel(cfg *Config, info *SceneInfo) error {
	switch {
	case cfg.LoadPointsPath != "":
		cloud, err := loaders.LoadPLY(cfg.LoadPointsPath)
		if err != nil {
			return fmt.Errorf("failed to load point cloud override: %w", err)
		}
		seeded := seedCloudColors(cloud)
		return s.model.CreateFromPointCloud(seeded, s.extent)

	case s.loadedIter != 0:
		return s.model.LoadSnapshot(s.SnapshotPath(s.loadedIter))

	default:
		cloud, err := loaders.LoadPLY(info.PointCloudPath)
		if err != nil {
			return fmt.Errorf("failed to load canonical point cloud: %w", err)
		}
		return s.model.CreateFromPointCloud(cloud, s.extent)
	}
}

// seedCloudColors replaces a cloud's colors with near-zero-luminance seeds
// and its normals with zeros, matching override-initialization semantics
func seedCloudColors(cloud *loaders.PointCloud) *loaders.PointCloud {
	n := len(cloud.Points)
	rng := rand.New(rand.NewSource(int64(n)))

	out := &loaders.PointCloud{
		Points:  cloud.Points,
		Colors:  make([]core.Vec3, n),
		Normals: make([]core.Vec3, n),
	}
	for i := range out.Colors {
		out.Colors[i] = core.NewVec3(rng.Float64(), rng.Float64(), rng.Float64()).Multiply(1.0 / 255.0)
	}
	return out
}

// shuffleCameras permutes a camera list uniformly at random, in place
func shuffleCameras(cams []RawCamera, rng *rand.Rand) {
	swap := func(i, j int) { cams[i], cams[j] = cams[j], cams[i] }
	if rng != nil {
		rng.Shuffle(len(cams), swap)
	} else {
		rand.Shuffle(len(cams), swap)
	}
}

// TrainCameras returns the training cameras materialized at the given scale
func (s *Scene) TrainCameras(scale float64) ([]*Camera, error) {
	cams, ok := s.trainCameras[scale]
	if !ok {
		return nil, fmt.Errorf("%w: train scale %v", ErrMissingScale, scale)
	}
	return cams, nil
}

// TestCameras returns the test cameras materialized at the given scale
func (s *Scene) TestCameras(scale float64) ([]*Camera, error) {
	cams, ok := s.testCameras[scale]
	if !ok {
		return nil, fmt.Errorf("%w: test scale %v", ErrMissingScale, scale)
	}
	return cams, nil
}

// LightRig returns the capture rig descriptor, or nil when the dataset has none
func (s *Scene) LightRig() *LightRig {
	return s.lightRig
}

// Extent returns the normalization radius used to scale scene distances
func (s *Scene) Extent() float64 {
	return s.extent
}

// LoadedIteration returns the checkpoint iteration the scene was constructed
// from, or 0 for a fresh run
func (s *Scene) LoadedIteration() int {
	return s.loadedIter
}

// Model returns the radiance model owned by this scene
func (s *Scene) Model() RadianceModel {
	return s.model
}

// SnapshotPath returns the snapshot location for an iteration
func (s *Scene) SnapshotPath(iteration int) string {
	return filepath.Join(s.modelPath, "point_cloud", fmt.Sprintf("iteration_%d", iteration), "point_cloud.ply")
}

// Save persists the radiance model's current state keyed by iteration
func (s *Scene) Save(iteration int) error {
	if err := s.model.SaveSnapshot(s.SnapshotPath(iteration)); err != nil {
		return fmt.Errorf("failed to save snapshot at iteration %d: %w", iteration, err)
	}
	return nil
}

// searchForMaxIteration finds the highest iteration_<n> directory under the
// snapshot root
func searchForMaxIteration(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan snapshot directory: %w", err)
	}

	maxIter := 0
	found := false
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "iteration_") {
			continue
		}
		iter, err := strconv.Atoi(strings.TrimPrefix(name, "iteration_"))
		if err != nil {
			continue
		}
		if !found || iter > maxIter {
			maxIter = iter
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no saved iterations found under %s", dir)
	}
	return maxIter, nil
}
