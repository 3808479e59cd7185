package loaders

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/relight3d/go-relight/pkg/core"
)

func TestSaveLoadPLYRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud", "points.ply")

	cloud := &PointCloud{
		Points: []core.Vec3{
			{X: 1.5, Y: -2.25, Z: 3.0},
			{X: 0, Y: 0.5, Z: -10},
		},
		Colors: []core.Vec3{
			{X: 1, Y: 0, Z: 0.5},
			{X: 0.2, Y: 0.4, Z: 0.6},
		},
		Normals: []core.Vec3{
			{X: 0, Y: 1, Z: 0},
			{X: 1, Y: 0, Z: 0},
		},
	}

	if err := SavePLY(path, cloud); err != nil {
		t.Fatalf("SavePLY failed: %v", err)
	}

	loaded, err := LoadPLY(path)
	if err != nil {
		t.Fatalf("LoadPLY failed: %v", err)
	}

	if len(loaded.Points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(loaded.Points))
	}
	for i := range cloud.Points {
		// Positions survive float32 quantization
		if loaded.Points[i].Subtract(cloud.Points[i]).Length() > 1e-6 {
			t.Errorf("point %d = %v, expected %v", i, loaded.Points[i], cloud.Points[i])
		}
		if loaded.Normals[i].Subtract(cloud.Normals[i]).Length() > 1e-6 {
			t.Errorf("normal %d = %v, expected %v", i, loaded.Normals[i], cloud.Normals[i])
		}
		// Colors are stored as 8-bit values
		if loaded.Colors[i].Subtract(cloud.Colors[i]).Length() > 1.0/255.0 {
			t.Errorf("color %d = %v, expected %v", i, loaded.Colors[i], cloud.Colors[i])
		}
	}
}

func TestLoadPLYASCII(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ascii.ply")
	content := `ply
format ascii 1.0
comment test cloud
element vertex 3
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
end_header
0 0 0 255 0 0
1 2 3 0 255 0
-1 -2 -3 0 0 255
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cloud, err := LoadPLY(path)
	if err != nil {
		t.Fatalf("LoadPLY failed: %v", err)
	}

	if len(cloud.Points) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(cloud.Points))
	}
	if cloud.Points[1] != (core.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("point 1 = %v, expected (1, 2, 3)", cloud.Points[1])
	}
	if math.Abs(cloud.Colors[0].X-1.0) > 1e-12 || cloud.Colors[0].Y != 0 {
		t.Errorf("color 0 = %v, expected red", cloud.Colors[0])
	}
	if cloud.Normals != nil {
		t.Errorf("Expected no normals, got %d", len(cloud.Normals))
	}
}

func TestLoadPLYUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.ply")
	content := "ply\nformat binary_big_endian 1.0\nelement vertex 0\nend_header\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := LoadPLY(path); err == nil {
		t.Error("Expected error for big-endian PLY, got none")
	}
}

func TestLoadPLYMissingFile(t *testing.T) {
	if _, err := LoadPLY(filepath.Join(t.TempDir(), "nope.ply")); err == nil {
		t.Error("Expected error for missing file, got none")
	}
}
