// Package splat provides a minimal radiance model satisfying the
// scene.RadianceModel contract: point-cloud storage with spherical harmonic
// degree escalation, a learning-rate schedule that is a pure function of the
// iteration, and PLY snapshot persistence. Densification and rasterization
// belong to heavier scene representations substituted behind the same
// interface.
package splat

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/loaders"
	"github.com/relight3d/go-relight/pkg/scene"
)

const defaultOpacity = 0.1

// Model is a point-based radiance model
type Model struct {
	points    []core.Vec3
	colors    []core.Vec3
	normals   []core.Vec3
	opacities []float64

	activeSHDegree int
	maxSHDegree    int
	extent         float64

	params    scene.OptimizationParams
	currentLR float64
}

// NewModel creates an empty model with the given maximum spherical harmonic
// degree. Degree escalation requests beyond the cap are no-ops.
func NewModel(maxSHDegree int) *Model {
	return &Model{maxSHDegree: maxSHDegree}
}

// CreateFromPointCloud initializes the model from a point cloud and the
// scene's normalization radius
func (m *Model) CreateFromPointCloud(cloud *loaders.PointCloud, extent float64) error {
	if len(cloud.Points) == 0 {
		return fmt.Errorf("cannot create model from empty point cloud")
	}

	n := len(cloud.Points)
	m.points = append([]core.Vec3(nil), cloud.Points...)
	m.normals = make([]core.Vec3, n)
	copy(m.normals, cloud.Normals)
	m.colors = make([]core.Vec3, n)
	if len(cloud.Colors) == n {
		copy(m.colors, cloud.Colors)
	}
	m.opacities = make([]float64, n)
	for i := range m.opacities {
		m.opacities[i] = defaultOpacity
	}
	m.extent = extent
	m.activeSHDegree = 0
	return nil
}

// LoadSnapshot restores the model's point state from a PLY snapshot
func (m *Model) LoadSnapshot(path string) error {
	cloud, err := loaders.LoadPLY(path)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	return m.CreateFromPointCloud(cloud, m.extent)
}

// SaveSnapshot persists the model's point state as a PLY snapshot. The write
// is whole-file: a failed save never leaves a readable partial snapshot
// behind an iteration directory that Scene would consider valid.
func (m *Model) SaveSnapshot(path string) error {
	cloud := &loaders.PointCloud{
		Points:  m.points,
		Colors:  m.colors,
		Normals: m.normals,
	}
	return loaders.SavePLY(path, cloud)
}

// SetupOptimizer installs the optimization schedule
func (m *Model) SetupOptimizer(params scene.OptimizationParams) {
	m.params = params
	m.currentLR = params.PositionLRInit
}

// checkpointState is the serialized (snapshot, iteration) pair
type checkpointState struct {
	Iteration      int         `json:"iteration"`
	ActiveSHDegree int         `json:"active_sh_degree"`
	MaxSHDegree    int         `json:"max_sh_degree"`
	Extent         float64     `json:"extent"`
	Points         []core.Vec3 `json:"points"`
	Colors         []core.Vec3 `json:"colors"`
	Normals        []core.Vec3 `json:"normals"`
	Opacities      []float64   `json:"opacities"`
}

// Capture serializes the model parameters together with the iteration
// counter as a whole-snapshot checkpoint
func (m *Model) Capture(iteration int) ([]byte, error) {
	state := checkpointState{
		Iteration:      iteration,
		ActiveSHDegree: m.activeSHDegree,
		MaxSHDegree:    m.maxSHDegree,
		Extent:         m.extent,
		Points:         m.points,
		Colors:         m.colors,
		Normals:        m.normals,
		Opacities:      m.opacities,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to capture model state: %w", err)
	}
	return data, nil
}

// Restore reinstates a captured checkpoint and returns the iteration it was
// taken at. Resuming at iteration+1 reproduces the schedule decisions of an
// uninterrupted run because the schedules are pure functions of the
// iteration counter.
func (m *Model) Restore(checkpoint []byte, params scene.OptimizationParams) (int, error) {
	var state checkpointState
	if err := json.Unmarshal(checkpoint, &state); err != nil {
		return 0, fmt.Errorf("failed to restore model state: %w", err)
	}

	m.points = state.Points
	m.colors = state.Colors
	m.normals = state.Normals
	m.opacities = state.Opacities
	m.activeSHDegree = state.ActiveSHDegree
	m.maxSHDegree = state.MaxSHDegree
	m.extent = state.Extent
	m.SetupOptimizer(params)
	return state.Iteration, nil
}

// AdvanceLearningRate updates the position learning rate for the given
// iteration using log-linear interpolation between the initial and final
// rates. Pure in the iteration: calling it out of order or twice is harmless.
func (m *Model) AdvanceLearningRate(iteration int) {
	if m.params.Iterations <= 0 || m.params.PositionLRInit <= 0 {
		return
	}
	t := float64(iteration) / float64(m.params.Iterations)
	t = max(0, min(1, t))
	logLR := (1-t)*math.Log(m.params.PositionLRInit) + t*math.Log(m.params.PositionLRFinal)
	m.currentLR = math.Exp(logLR)
}

// LearningRate returns the current position learning rate
func (m *Model) LearningRate() float64 {
	return m.currentLR
}

// IncreaseSHDegree raises the active spherical harmonic degree by one band,
// capped at the model's maximum
func (m *Model) IncreaseSHDegree() {
	if m.activeSHDegree < m.maxSHDegree {
		m.activeSHDegree++
	}
}

// ActiveSHDegree returns the current spherical harmonic degree
func (m *Model) ActiveSHDegree() int {
	return m.activeSHDegree
}

// Positions returns the model's current point positions
func (m *Model) Positions() []core.Vec3 {
	return m.points
}

// Opacities returns the model's current per-point opacities
func (m *Model) Opacities() []float64 {
	return m.opacities
}
