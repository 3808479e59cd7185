package loaders

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/relight3d/go-relight/pkg/core"
)

func TestSaveLoadPNGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "image.png")

	width, height := 4, 3
	pixels := make([]core.Vec3, width*height)
	for i := range pixels {
		pixels[i] = core.NewVec3(
			float64(i)/float64(len(pixels)),
			float64(len(pixels)-i)/float64(len(pixels)),
			0.5,
		)
	}

	if err := SavePNG(path, pixels, width, height); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}

	loaded, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}

	if loaded.Width != width || loaded.Height != height {
		t.Fatalf("Expected %dx%d, got %dx%d", width, height, loaded.Width, loaded.Height)
	}

	// 8-bit quantization limits precision to 1/255 per channel
	tolerance := 1.0 / 255.0
	for i := range pixels {
		diff := loaded.Pixels[i].Subtract(pixels[i]).Abs()
		if diff.X > tolerance || diff.Y > tolerance || diff.Z > tolerance {
			t.Errorf("pixel %d = %v, expected %v", i, loaded.Pixels[i], pixels[i])
		}
	}
}

func TestSavePNGSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	if err := SavePNG(path, make([]core.Vec3, 5), 2, 2); err == nil {
		t.Error("Expected error for mismatched pixel count, got none")
	}
}

func TestImageScaleHalves(t *testing.T) {
	src := &ImageData{
		Width:  8,
		Height: 6,
		Pixels: make([]core.Vec3, 48),
	}
	for i := range src.Pixels {
		src.Pixels[i] = core.NewVec3(0.25, 0.5, 0.75)
	}

	scaled := src.Scale(2.0)
	if scaled.Width != 4 || scaled.Height != 3 {
		t.Errorf("Expected 4x3, got %dx%d", scaled.Width, scaled.Height)
	}

	// Uniform image stays uniform under bilinear resampling
	for i, p := range scaled.Pixels {
		if math.Abs(p.X-0.25) > 1.0/255.0 || math.Abs(p.Y-0.5) > 1.0/255.0 || math.Abs(p.Z-0.75) > 1.0/255.0 {
			t.Errorf("scaled pixel %d = %v, expected (0.25, 0.5, 0.75)", i, p)
		}
	}
}

func TestImageScaleIdentityCopies(t *testing.T) {
	src := &ImageData{
		Width:  2,
		Height: 2,
		Pixels: []core.Vec3{{X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: 1, Z: 1}},
	}

	out := src.Scale(1.0)
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("Expected 2x2, got %dx%d", out.Width, out.Height)
	}
	for i := range src.Pixels {
		if out.Pixels[i] != src.Pixels[i] {
			t.Errorf("pixel %d = %v, expected %v", i, out.Pixels[i], src.Pixels[i])
		}
	}

	// Mutating the copy must not touch the source
	out.Pixels[0] = core.NewVec3(0.5, 0.5, 0.5)
	if src.Pixels[0] != (core.Vec3{X: 1}) {
		t.Error("Scale(1.0) shares pixel storage with the source image")
	}
}

func TestImageScaleMinimumDimension(t *testing.T) {
	src := &ImageData{Width: 2, Height: 2, Pixels: make([]core.Vec3, 4)}
	scaled := src.Scale(8.0)
	if scaled.Width != 1 || scaled.Height != 1 {
		t.Errorf("Expected 1x1, got %dx%d", scaled.Width, scaled.Height)
	}
}
