package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/relight3d/go-relight/pkg/core"
	"github.com/relight3d/go-relight/pkg/scene"
	"github.com/relight3d/go-relight/pkg/splat"
	"github.com/relight3d/go-relight/pkg/trainer"
)

// RunConfig is the YAML configuration for a training run
type RunConfig struct {
	RootPath   string `yaml:"root_path"`
	ObjectName string `yaml:"object_name"`
	OutputName string `yaml:"output_name"`

	DatasetType     string  `yaml:"dataset_type"`
	Scale           float64 `yaml:"scale"`
	NumPoints       int     `yaml:"num_points"`
	Radius          float64 `yaml:"radius"`
	WhiteBackground bool    `yaml:"white_background"`
	LightRigType    string  `yaml:"light_rig_type"`
	LoadPoints      string  `yaml:"load_points"`

	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	LambdaDSSIM float64 `yaml:"lambda_dssim"`
	Debug       bool    `yaml:"debug"`
}

func loadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RunConfig{
		DatasetType: scene.DatasetOLAT,
		Scale:       1.0,
		NumPoints:   100000,
		Radius:      1.0,
		Width:       100,
		Height:      100,
		LambdaDSSIM: 0.2,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// deriveModelPath picks the next version_<k> directory under the output
// path, or a fresh uuid-named directory when the config names no object
func deriveModelPath(cfg *RunConfig) (string, error) {
	if cfg.RootPath == "" || cfg.ObjectName == "" {
		unique := uuid.New().String()
		return filepath.Join("output", unique[0:10]), nil
	}

	outPath := filepath.Join(cfg.RootPath, cfg.ObjectName, "out", cfg.OutputName)
	if err := os.MkdirAll(outPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create output path: %w", err)
	}

	entries, err := os.ReadDir(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to scan output path: %w", err)
	}
	return filepath.Join(outPath, fmt.Sprintf("version_%d", len(entries))), nil
}

// parseIterationList parses a comma-separated iteration list flag
func parseIterationList(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	iterations := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid iteration %q: %w", part, err)
		}
		iterations = append(iterations, n)
	}
	return iterations, nil
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML run configuration (required)")
	iterations := flag.Int("iterations", 30000, "Total optimization iterations")
	testIterations := flag.String("test-iterations", "7000,30000", "Comma-separated validation iterations")
	saveIterations := flag.String("save-iterations", "7000,30000", "Comma-separated snapshot iterations")
	checkpointIterations := flag.String("checkpoint-iterations", "", "Comma-separated checkpoint iterations")
	startCheckpoint := flag.String("start-checkpoint", "", "Checkpoint file to resume from")
	quiet := flag.Bool("quiet", false, "Suppress progress output")
	help := flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *help || *configPath == "" {
		fmt.Println("OLAT light-transport training")
		fmt.Println("Usage: relight -config <run.yaml> [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Outputs are written to <root_path>/<object_name>/out/<output_name>/version_<k>")
		if *configPath == "" && !*help {
			os.Exit(2)
		}
		return
	}

	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	modelPath, err := deriveModelPath(cfg)
	if err != nil {
		fmt.Printf("Error deriving output directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(modelPath, 0755); err != nil {
		fmt.Printf("Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	// Keep a copy of the resolved configuration next to the outputs
	if resolved, err := yaml.Marshal(cfg); err == nil {
		if err := os.WriteFile(filepath.Join(modelPath, "config.yaml"), resolved, 0644); err != nil {
			fmt.Printf("Warning: failed to persist config copy: %v\n", err)
		}
	}

	fmt.Printf("Optimizing %s\n", modelPath)

	var logger core.Logger = core.NewDefaultLogger()
	if *quiet {
		logger = &core.SilentLogger{}
	}

	testIters, err := parseIterationList(*testIterations)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	saveIters, err := parseIterationList(*saveIterations)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	checkpointIters, err := parseIterationList(*checkpointIterations)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	// The final state is always saved
	saveIters = append(saveIters, *iterations)

	sceneCfg := scene.Config{
		SourcePath:       filepath.Join(cfg.RootPath, cfg.ObjectName),
		ModelPath:        modelPath,
		Shuffle:          true,
		ResolutionScale:  cfg.Scale,
		ResolutionScales: []float64{1.0},
		DatasetType:      cfg.DatasetType,
		NumPoints:        cfg.NumPoints,
		Radius:           cfg.Radius,
		WhiteBackground:  cfg.WhiteBackground,
		LightRigType:     cfg.LightRigType,
		LoadPointsPath:   cfg.LoadPoints,
		Eval:             true,
		Logger:           logger,
	}

	trainCfg := trainer.DefaultConfig()
	trainCfg.Iterations = *iterations
	trainCfg.TestIterations = testIters
	trainCfg.SaveIterations = saveIters
	trainCfg.CheckpointIterations = checkpointIters
	trainCfg.StartCheckpoint = *startCheckpoint
	trainCfg.LambdaDSSIM = cfg.LambdaDSSIM
	trainCfg.Width = cfg.Width
	trainCfg.Height = cfg.Height
	trainCfg.Debug = cfg.Debug
	trainCfg.DebugPath = filepath.Join(modelPath, "debug")

	model := splat.NewModel(3)
	t := trainer.New(sceneCfg, model, trainCfg, nil, logger)
	if err := t.Run(); err != nil {
		fmt.Printf("Training failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nTraining complete.")
}
