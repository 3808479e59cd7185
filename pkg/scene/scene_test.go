package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/loaders"
)

// fakeModel records the lifecycle calls a Scene makes on its radiance model
type fakeModel struct {
	createdCloud   *loaders.PointCloud
	createdExtent  float64
	loadedSnapshot string
	savedSnapshot  string
	optimizerSetup bool
}

func (m *fakeModel) CreateFromPointCloud(cloud *loaders.PointCloud, extent float64) error {
	m.createdCloud = cloud
	m.createdExtent = extent
	return nil
}

func (m *fakeModel) LoadSnapshot(path string) error {
	m.loadedSnapshot = path
	return nil
}

func (m *fakeModel) SaveSnapshot(path string) error {
	m.savedSnapshot = path
	return nil
}

func (m *fakeModel) SetupOptimizer(params OptimizationParams) { m.optimizerSetup = true }

func (m *fakeModel) Capture(iteration int) ([]byte, error) { return nil, nil }

func (m *fakeModel) Restore(checkpoint []byte, params OptimizationParams) (int, error) {
	return 0, nil
}

func (m *fakeModel) AdvanceLearningRate(iteration int) {}
func (m *fakeModel) IncreaseSHDegree()                 {}
func (m *fakeModel) Positions() []core.Vec3            { return nil }
func (m *fakeModel) Opacities() []float64              { return nil }

// writeSyntheticDataset builds a minimal synthetic-transforms data set: four
// training views and two test views with 8x8 images and OLAT light directions
func writeSyntheticDataset(t *testing.T, dir string) {
	t.Helper()

	type frame struct {
		FilePath        string      `json:"file_path"`
		TransformMatrix [][]float64 `json:"transform_matrix"`
		LightPhi        float64     `json:"light_phi"`
		LightTheta      float64     `json:"light_theta"`
	}
	type manifest struct {
		CameraAngleX float64 `json:"camera_angle_x"`
		Frames       []frame `json:"frames"`
	}

	identity := [][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 4},
		{0, 0, 0, 1},
	}

	lights := [][2]float64{{0, 0}, {90, 0}, {0, 90}, {180, 45}}

	writeManifest := func(name string, prefix string, count int) {
		m := manifest{CameraAngleX: 0.8}
		for i := 0; i < count; i++ {
			imgName := fmt.Sprintf("%s_%02d", prefix, i)
			pixels := make([]core.Vec3, 64)
			for p := range pixels {
				pixels[p] = core.NewVec3(float64(i)*0.2, 0.5, float64(p)/64.0)
			}
			if err := loaders.SavePNG(filepath.Join(dir, imgName+".png"), pixels, 8, 8); err != nil {
				t.Fatalf("failed to write frame image: %v", err)
			}
			light := lights[i%len(lights)]
			m.Frames = append(m.Frames, frame{
				FilePath:        imgName,
				TransformMatrix: identity,
				LightPhi:        light[0],
				LightTheta:      light[1],
			})
		}
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("failed to marshal manifest: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatalf("failed to write manifest: %v", err)
		}
	}

	writeManifest("transforms_train.json", "train", 4)
	writeManifest("transforms_test.json", "test", 2)
}

func syntheticConfig(t *testing.T) Config {
	t.Helper()
	sourceDir := t.TempDir()
	writeSyntheticDataset(t, sourceDir)
	return Config{
		SourcePath:       sourceDir,
		ModelPath:        filepath.Join(t.TempDir(), "model"),
		ResolutionScales: []float64{1.0},
		NumPoints:        50,
		Radius:           3.0,
		Eval:             true,
		Logger:           &core.SilentLogger{},
	}
}

func TestSceneDispatchPrefersColmap(t *testing.T) {
	// Both markers present: the sparse folder must win over the manifest
	sourceDir := t.TempDir()
	writeSyntheticDataset(t, sourceDir)
	if err := os.MkdirAll(filepath.Join(sourceDir, "sparse"), 0755); err != nil {
		t.Fatal(err)
	}

	sentinel := errors.New("colmap reader invoked")
	cfg := Config{
		SourcePath: sourceDir,
		ModelPath:  t.TempDir(),
		Logger:     &core.SilentLogger{},
		ColmapReader: func(sourcePath, imagesDir string, eval bool) (*SceneInfo, error) {
			return nil, sentinel
		},
	}

	_, err := New(cfg, &fakeModel{})
	if !errors.Is(err, sentinel) {
		t.Errorf("Expected colmap reader to be dispatched, got error %v", err)
	}
}

func TestSceneDispatchOLAT(t *testing.T) {
	sentinel := errors.New("OLAT reader invoked")
	cfg := Config{
		SourcePath:  t.TempDir(),
		ModelPath:   t.TempDir(),
		DatasetType: DatasetOLAT,
		Logger:      &core.SilentLogger{},
		OLATReader: func(sourcePath string, resolutionScale float64, eval bool, radius float64, whiteBackground bool, lightRigType string) (*SceneInfo, error) {
			return nil, sentinel
		},
	}

	_, err := New(cfg, &fakeModel{})
	if !errors.Is(err, sentinel) {
		t.Errorf("Expected OLAT reader to be dispatched, got error %v", err)
	}
}

func TestSceneDispatchUnrecognized(t *testing.T) {
	cfg := Config{
		SourcePath: t.TempDir(),
		ModelPath:  t.TempDir(),
		Logger:     &core.SilentLogger{},
	}

	_, err := New(cfg, &fakeModel{})
	if !errors.Is(err, ErrUnrecognizedScene) {
		t.Errorf("Expected ErrUnrecognizedScene, got %v", err)
	}
}

func TestSceneSyntheticLoad(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.ResolutionScales = []float64{1.0, 2.0}
	model := &fakeModel{}

	s, err := New(cfg, model)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	train, err := s.TrainCameras(1.0)
	if err != nil {
		t.Fatalf("TrainCameras(1.0) failed: %v", err)
	}
	if len(train) != 4 {
		t.Errorf("Expected 4 training cameras, got %d", len(train))
	}
	test, err := s.TestCameras(1.0)
	if err != nil {
		t.Fatalf("TestCameras(1.0) failed: %v", err)
	}
	if len(test) != 2 {
		t.Errorf("Expected 2 test cameras, got %d", len(test))
	}

	if train[0].Width != 8 || train[0].Height != 8 {
		t.Errorf("Expected 8x8 at scale 1.0, got %dx%d", train[0].Width, train[0].Height)
	}

	half, err := s.TrainCameras(2.0)
	if err != nil {
		t.Fatalf("TrainCameras(2.0) failed: %v", err)
	}
	if half[0].Width != 4 || half[0].Height != 4 {
		t.Errorf("Expected 4x4 at scale 2.0, got %dx%d", half[0].Width, half[0].Height)
	}

	if _, err := s.TrainCameras(4.0); !errors.Is(err, ErrMissingScale) {
		t.Errorf("Expected ErrMissingScale for scale 4.0, got %v", err)
	}

	if s.Extent() != cfg.Radius {
		t.Errorf("Extent = %v, expected %v", s.Extent(), cfg.Radius)
	}
	if s.LoadedIteration() != 0 {
		t.Errorf("LoadedIteration = %d, expected 0 for a fresh run", s.LoadedIteration())
	}

	// Fresh run populates the model from the canonical cloud
	if model.createdCloud == nil {
		t.Fatal("Expected CreateFromPointCloud to be called")
	}
	if len(model.createdCloud.Points) != cfg.NumPoints {
		t.Errorf("Expected %d canonical points, got %d", cfg.NumPoints, len(model.createdCloud.Points))
	}
	if model.createdExtent != cfg.Radius {
		t.Errorf("Model extent = %v, expected %v", model.createdExtent, cfg.Radius)
	}

	// Light directions survive into materialized cameras
	if train[1].Phi != 90 || train[1].Theta != 0 {
		t.Errorf("train camera 1 light = (%v, %v), expected (90, 0)", train[1].Phi, train[1].Theta)
	}
}

func TestSceneFirstRunMetadata(t *testing.T) {
	cfg := syntheticConfig(t)
	model := &fakeModel{}

	if _, err := New(cfg, model); err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.ModelPath, "input.ply")); err != nil {
		t.Errorf("Expected input.ply to be copied into the model path: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.ModelPath, "cameras.json"))
	if err != nil {
		t.Fatalf("Expected cameras.json in the model path: %v", err)
	}

	var records []CameraJSON
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("cameras.json is not valid JSON: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("Expected 6 camera records (train then test), got %d", len(records))
	}
	for i, rec := range records {
		if rec.ID != i {
			t.Errorf("record %d has id %d, expected sequential ids", i, rec.ID)
		}
	}
	// Train cameras come first, then test cameras; names are the frame stems
	if records[0].ImgName != "train_00" || records[4].ImgName != "test_00" {
		t.Errorf("Unexpected record order: first %q, fifth %q", records[0].ImgName, records[4].ImgName)
	}
}

func TestSceneMetadataStableUnderShuffle(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Shuffle = true

	read := func(seed int64) []byte {
		cfg.ModelPath = filepath.Join(t.TempDir(), "model")
		cfg.Rand = rand.New(rand.NewSource(seed))
		if _, err := New(cfg, &fakeModel{}); err != nil {
			t.Fatalf("New failed: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(cfg.ModelPath, "cameras.json"))
		if err != nil {
			t.Fatalf("failed to read cameras.json: %v", err)
		}
		return data
	}

	first := read(1)
	second := read(99)
	if string(first) != string(second) {
		t.Error("cameras.json differs across shuffle seeds; metadata must be serialized before shuffling")
	}
}

func TestSceneShuffleConsistentAcrossScales(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Shuffle = true
	cfg.Rand = rand.New(rand.NewSource(7))
	cfg.ResolutionScales = []float64{1.0, 2.0}

	s, err := New(cfg, &fakeModel{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	full, _ := s.TrainCameras(1.0)
	half, _ := s.TrainCameras(2.0)
	if len(full) != len(half) {
		t.Fatalf("Camera counts differ across scales: %d vs %d", len(full), len(half))
	}
	for i := range full {
		if full[i].Name != half[i].Name {
			t.Errorf("index %d: scale 1.0 has %q, scale 2.0 has %q", i, full[i].Name, half[i].Name)
		}
	}
}

func TestScenePointCloudOverride(t *testing.T) {
	cfg := syntheticConfig(t)

	override := &loaders.PointCloud{
		Points: []core.Vec3{{X: 1}, {Y: 1}, {Z: 1}},
		Colors: []core.Vec3{{X: 1}, {Y: 1}, {Z: 1}},
	}
	cfg.LoadPointsPath = filepath.Join(t.TempDir(), "override.ply")
	if err := loaders.SavePLY(cfg.LoadPointsPath, override); err != nil {
		t.Fatalf("failed to write override cloud: %v", err)
	}

	model := &fakeModel{}
	if _, err := New(cfg, model); err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if model.createdCloud == nil {
		t.Fatal("Expected CreateFromPointCloud to be called with the override cloud")
	}
	if len(model.createdCloud.Points) != 3 {
		t.Fatalf("Expected 3 override points, got %d", len(model.createdCloud.Points))
	}
	for i, c := range model.createdCloud.Colors {
		if c.X > 1.0/255.0 || c.Y > 1.0/255.0 || c.Z > 1.0/255.0 {
			t.Errorf("override color %d = %v, expected near-zero seed colors", i, c)
		}
	}
	for i, n := range model.createdCloud.Normals {
		if n != (core.Vec3{}) {
			t.Errorf("override normal %d = %v, expected zero", i, n)
		}
	}
}

func TestSceneCheckpointLoad(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.LoadIteration = 7000

	model := &fakeModel{}
	s, err := New(cfg, model)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if s.LoadedIteration() != 7000 {
		t.Errorf("LoadedIteration = %d, expected 7000", s.LoadedIteration())
	}
	want := s.SnapshotPath(7000)
	if model.loadedSnapshot != want {
		t.Errorf("LoadSnapshot called with %q, expected %q", model.loadedSnapshot, want)
	}
	if model.createdCloud != nil {
		t.Error("CreateFromPointCloud must not run when resuming from a snapshot")
	}

	// Resumed runs must not rewrite first-run metadata
	if _, err := os.Stat(filepath.Join(cfg.ModelPath, "cameras.json")); !os.IsNotExist(err) {
		t.Error("cameras.json written on a resumed run")
	}
}

func TestSceneLoadLatest(t *testing.T) {
	cfg := syntheticConfig(t)
	for _, iter := range []int{30, 7000, 600} {
		dir := filepath.Join(cfg.ModelPath, "point_cloud", fmt.Sprintf("iteration_%d", iter))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	cfg.LoadIteration = LoadLatest

	s, err := New(cfg, &fakeModel{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.LoadedIteration() != 7000 {
		t.Errorf("LoadedIteration = %d, expected the highest saved iteration 7000", s.LoadedIteration())
	}
}

func TestSceneSave(t *testing.T) {
	cfg := syntheticConfig(t)
	model := &fakeModel{}
	s, err := New(cfg, model)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Save(123); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	want := filepath.Join(cfg.ModelPath, "point_cloud", "iteration_123", "point_cloud.ply")
	if model.savedSnapshot != want {
		t.Errorf("SaveSnapshot called with %q, expected %q", model.savedSnapshot, want)
	}
}

func TestSearchForMaxIterationEmpty(t *testing.T) {
	if _, err := searchForMaxIteration(t.TempDir()); err == nil {
		t.Error("Expected error for a directory with no saved iterations")
	}
}
