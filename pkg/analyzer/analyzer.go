// Package analyzer inspects a source COCO dataset before conversion and
// reports what the converter would skip, reject or filter.
package analyzer

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/menta2k/point-to-box/pkg/coco"
	"github.com/menta2k/point-to-box/pkg/cropper"
	"github.com/menta2k/point-to-box/pkg/diagnostics"
)

// ImageAnalyzer checks source images and annotations
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
	CropSize         int
	Oversize         cropper.OversizePolicy
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	crop := cropper.DefaultConfig()
	return &ImageAnalyzer{
		config: Config{
			SupportedFormats: []string{"jpeg", "png", "webp"},
			MinImageSize:     1,
			CropSize:         crop.CropSize,
			Oversize:         crop.Oversize,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	Format      string
	AspectRatio float64
	Area        int
}

// GetImageInfo reads the header of an image file without decoding pixels
func (a *ImageAnalyzer) GetImageInfo(path string) (ImageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}

	if !a.isFormatSupported(format) {
		return ImageInfo{}, fmt.Errorf("unsupported image format: %s", format)
	}

	info := ImageInfo{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Area:   cfg.Width * cfg.Height,
	}
	if cfg.Height > 0 {
		info.AspectRatio = float64(cfg.Width) / float64(cfg.Height)
	}
	return info, nil
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateImage checks if an image meets minimum requirements
func (a *ImageAnalyzer) ValidateImage(info ImageInfo) error {
	if info.Width < a.config.MinImageSize || info.Height < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			info.Width, info.Height, a.config.MinImageSize)
	}
	return nil
}

// Report summarizes a dataset check
type Report struct {
	Images          int
	UnreadableImage int
	Objects         int
	Crowd           int
	// objects whose box cannot fit any crop of the image
	Unfittable  int
	Diagnostics *diagnostics.Collector
}

// OK reports whether the check found nothing to warn about
func (r *Report) OK() bool {
	return r.Diagnostics.Len() == 0
}

// AnalyzeDataset checks every image of index under root: the file must be
// readable and match its recorded size, the crop size must fit, and every
// object needs a valid in-bounds box with its prompt inside.
func (a *ImageAnalyzer) AnalyzeDataset(ctx context.Context, root string, index *coco.Index, sink diagnostics.Sink) (*Report, error) {
	report := &Report{Diagnostics: diagnostics.New(sink)}
	diag := report.Diagnostics

	for _, id := range index.ImageIDs() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Images++
		entry, _ := index.Image(id)

		for _, ann := range index.Annotations(id) {
			if ann.IsCrowd != 0 {
				report.Crowd++
			}
		}
		objs := index.Objects(id)
		report.Objects += len(objs)

		info, err := a.GetImageInfo(filepath.Join(root, entry.FileName))
		if err == nil {
			err = a.ValidateImage(info)
		}
		if err != nil {
			report.UnreadableImage++
			diag.Add(diagnostics.SourceAssetMissing, id, "%s: %v", entry.FileName, err)
			continue
		}

		if entry.Width != 0 && entry.Height != 0 && (entry.Width != info.Width || entry.Height != info.Height) {
			diag.Add(diagnostics.GeometryInconsistency, id, "recorded size %dx%d, file is %dx%d",
				entry.Width, entry.Height, info.Width, info.Height)
		}

		short := math.Min(float64(info.Width), float64(info.Height))
		if float64(a.config.CropSize) >= short && a.config.Oversize != cropper.Clamp {
			diag.Add(diagnostics.CropExceedsImage, id, "crop size %d >= shorter side %.0f", a.config.CropSize, short)
		}

		for _, obj := range objs {
			if !obj.Box.Valid() {
				diag.Add(diagnostics.DegenerateBox, id, "box %+v", obj.Box)
				continue
			}
			if obj.Box.XMin < 0 || obj.Box.YMin < 0 || obj.Box.XMax > float64(info.Width) || obj.Box.YMax > float64(info.Height) {
				diag.Add(diagnostics.GeometryInconsistency, id, "box %+v outside %dx%d image", obj.Box, info.Width, info.Height)
			}
			if obj.Box.LongSide() > short {
				report.Unfittable++
				diag.Add(diagnostics.CropTooSmall, id, "box side %.1f exceeds shorter side %.0f", obj.Box.LongSide(), short)
			}
			if obj.HasPrompt && !obj.Box.Contains(obj.Prompt) {
				diag.Add(diagnostics.GeometryInconsistency, id, "prompt (%.1f,%.1f) outside box", obj.Prompt.X, obj.Prompt.Y)
			}
		}
	}
	return report, nil
}
