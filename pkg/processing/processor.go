package processing

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/point-to-box/pkg/types"
)

// Processor handles image processing operations
type Processor struct {
	filter imaging.ResampleFilter
}

// NewProcessor creates a new image processor using Lanczos resampling
func NewProcessor() *Processor {
	return &Processor{filter: imaging.Lanczos}
}

// NewProcessorWithFilter creates a processor with a custom resampling filter
func NewProcessorWithFilter(filter imaging.ResampleFilter) *Processor {
	return &Processor{filter: filter}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.decodeImageFromBytes(data)
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func (p *Processor) decodeImageFromBytes(data []byte) (image.Image, error) {
	// Try standard image.Decode first
	reader := bytes.NewReader(data)
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}

	// Try WebP decode
	reader = bytes.NewReader(data)
	if img, err := webp.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// Crop cuts the pixels covered by a crop window out of img.
// Fractional window edges are rounded to the nearest pixel.
func (p *Processor) Crop(img image.Image, window types.CropWindow) (image.Image, error) {
	bounds := img.Bounds()
	rect := window.Rect().Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %v for image %v", window.Rect(), bounds)
	}
	return imaging.Crop(img, rect), nil
}

// Resize scales img to a size x size square and maps boxes by the same
// per-axis factors. Boxes are returned unclamped.
func (p *Processor) Resize(size int, img image.Image, boxes []types.Box) (image.Image, []types.Box, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("invalid resize target %d", size)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, nil, fmt.Errorf("invalid image dimensions")
	}

	resized := imaging.Resize(img, size, size, p.filter)

	sx := float64(resized.Bounds().Dx()) / float64(bounds.Dx())
	sy := float64(resized.Bounds().Dy()) / float64(bounds.Dy())
	out := make([]types.Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Scale(sx, sy)
	}
	return resized, out, nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// Extension returns the file extension written by SaveImage for format
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "webp":
		return "webp"
	case "png":
		return "png"
	default:
		return "jpg"
	}
}
