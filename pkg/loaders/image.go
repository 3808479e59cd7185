package loaders

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/relight3d/go-relight/pkg/core"
)

// ImageData contains decoded image data as a row-major Vec3 color array
type ImageData struct {
	Width  int
	Height int
	Pixels []core.Vec3
}

// LoadImage loads a PNG or JPEG image and converts it to a Vec3 color array
func LoadImage(filename string) (*ImageData, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	// Decode image (auto-detects PNG/JPEG from file header)
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return FromImage(img), nil
}

// FromImage converts a decoded image to a Vec3 color array
func FromImage(img image.Image) *ImageData {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	pixels := make([]core.Vec3, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			// RGBA returns uint32 in [0, 65535], convert to [0, 1]
			pixels[y*width+x] = core.NewVec3(
				float64(r)/65535.0,
				float64(g)/65535.0,
				float64(b)/65535.0,
			)
		}
	}

	return &ImageData{
		Width:  width,
		Height: height,
		Pixels: pixels,
	}
}

// Scale resizes the image by the inverse of the given resolution scale using
// bilinear interpolation. Scale 1.0 returns an independent copy; scale 2.0
// halves each dimension.
func (d *ImageData) Scale(resolutionScale float64) *ImageData {
	if resolutionScale == 1.0 {
		out := &ImageData{
			Width:  d.Width,
			Height: d.Height,
			Pixels: make([]core.Vec3, len(d.Pixels)),
		}
		copy(out.Pixels, d.Pixels)
		return out
	}

	dstW := max(1, int(float64(d.Width)/resolutionScale))
	dstH := max(1, int(float64(d.Height)/resolutionScale))

	src := d.ToRGBA()
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	return FromImage(dst)
}

// ToRGBA converts the float pixel array to an 8-bit RGBA image, clamping to [0, 1]
func (d *ImageData) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			c := d.Pixels[y*d.Width+x].Clamp(0, 1)
			img.Set(x, y, color.RGBA{
				R: uint8(c.X*255.0 + 0.5),
				G: uint8(c.Y*255.0 + 0.5),
				B: uint8(c.Z*255.0 + 0.5),
				A: 255,
			})
		}
	}
	return img
}

// SavePNG writes a row-major pixel array as a PNG file, creating parent
// directories as needed
func SavePNG(filename string, pixels []core.Vec3, width, height int) error {
	if len(pixels) != width*height {
		return fmt.Errorf("pixel count %d does not match %dx%d", len(pixels), width, height)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data := &ImageData{Width: width, Height: height, Pixels: pixels}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, data.ToRGBA()); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}
