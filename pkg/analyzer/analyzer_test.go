package analyzer

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/point-to-box/pkg/coco"
	"github.com/menta2k/point-to-box/pkg/cropper"
	"github.com/menta2k/point-to-box/pkg/diagnostics"
	"github.com/menta2k/point-to-box/pkg/processing"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Fill with a gradient pattern
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			b := uint8(128)
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}

	return img
}

func writeImage(t *testing.T, path string, w, h int, format string) {
	t.Helper()
	if err := processing.NewProcessor().SaveImage(createTestImage(w, h), path, format, 90, false); err != nil {
		t.Fatal(err)
	}
}

func TestNew(t *testing.T) {
	analyzer := New()
	if analyzer.config.CropSize != 100 {
		t.Errorf("Expected default crop size 100, got %d", analyzer.config.CropSize)
	}
	if analyzer.config.Oversize != cropper.Reject {
		t.Errorf("Expected reject policy, got %s", analyzer.config.Oversize)
	}
}

func TestGetImageInfo(t *testing.T) {
	dir := t.TempDir()
	analyzer := New()

	for _, format := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "img."+format)
		writeImage(t, path, 400, 300, format)

		info, err := analyzer.GetImageInfo(path)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if info.Width != 400 || info.Height != 300 {
			t.Errorf("%s: expected 400x300, got %dx%d", format, info.Width, info.Height)
		}
		if info.Area != 120000 {
			t.Errorf("%s: expected area 120000, got %d", format, info.Area)
		}
		expectedRatio := 400.0 / 300.0
		if info.AspectRatio != expectedRatio {
			t.Errorf("%s: expected aspect ratio %f, got %f", format, expectedRatio, info.AspectRatio)
		}
	}
}

func TestIsFormatSupported(t *testing.T) {
	analyzer := NewWithConfig(Config{SupportedFormats: []string{"png"}})
	dir := t.TempDir()
	path := filepath.Join(dir, "img.jpg")
	writeImage(t, path, 10, 10, "jpg")

	if _, err := analyzer.GetImageInfo(path); err == nil {
		t.Error("Expected jpeg to be rejected")
	}
	if !analyzer.isFormatSupported("PNG") {
		t.Error("Format matching should be case-insensitive")
	}
}

func TestValidateImage(t *testing.T) {
	analyzer := NewWithConfig(Config{MinImageSize: 100})
	if err := analyzer.ValidateImage(ImageInfo{Width: 200, Height: 200}); err != nil {
		t.Errorf("Expected valid image, got %v", err)
	}
	if err := analyzer.ValidateImage(ImageInfo{Width: 50, Height: 200}); err == nil {
		t.Error("Expected too-small error")
	}
}

func TestAnalyzeDataset(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), 640, 480, "png")
	writeImage(t, filepath.Join(dir, "small.png"), 90, 90, "png")
	if err := os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	ds := &coco.Dataset{
		Images: []coco.Image{
			{ID: 1, FileName: "a.png", Width: 640, Height: 480},
			{ID: 2, FileName: "small.png", Width: 100, Height: 90},
			{ID: 3, FileName: "broken.png"},
			{ID: 4, FileName: "missing.png"},
		},
		Annotations: []coco.Annotation{
			{ID: 1, ImageID: 1, BBox: [4]float64{10, 10, 50, 50}, Prompt: &[2]float64{30, 30}},
			{ID: 2, ImageID: 1, BBox: [4]float64{10, 10, 0, 20}},
			{ID: 3, ImageID: 1, BBox: [4]float64{0, 0, 500, 100}},
			{ID: 4, ImageID: 1, BBox: [4]float64{600, 10, 60, 20}, Prompt: &[2]float64{5, 5}},
			{ID: 5, ImageID: 1, BBox: [4]float64{0, 0, 640, 480}, IsCrowd: 1},
			{ID: 6, ImageID: 2, BBox: [4]float64{1, 1, 5, 5}},
		},
	}

	report, err := New().AnalyzeDataset(context.Background(), dir, coco.NewIndex(ds), nil)
	if err != nil {
		t.Fatal(err)
	}

	if report.Images != 4 || report.Objects != 5 || report.Crowd != 1 {
		t.Errorf("Unexpected counts %+v", report)
	}
	if report.UnreadableImage != 2 {
		t.Errorf("Expected 2 unreadable images, got %d", report.UnreadableImage)
	}
	if report.Unfittable != 1 {
		t.Errorf("Expected 1 unfittable object, got %d", report.Unfittable)
	}

	d := report.Diagnostics
	checks := map[diagnostics.Kind]int{
		diagnostics.SourceAssetMissing:    2,
		diagnostics.DegenerateBox:         1,
		diagnostics.CropTooSmall:          1,
		diagnostics.CropExceedsImage:      1,
		diagnostics.GeometryInconsistency: 3,
	}
	for kind, want := range checks {
		if got := d.Count(kind); got != want {
			t.Errorf("%s: expected %d, got %d (%v)", kind, want, got, d.Entries())
		}
	}
	if report.OK() {
		t.Error("Report with warnings should not be OK")
	}
}

func TestAnalyzeDatasetClampPolicy(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "small.png"), 90, 90, "png")
	ds := &coco.Dataset{
		Images:      []coco.Image{{ID: 1, FileName: "small.png", Width: 90, Height: 90}},
		Annotations: []coco.Annotation{{ID: 1, ImageID: 1, BBox: [4]float64{1, 1, 5, 5}}},
	}

	a := NewWithConfig(Config{SupportedFormats: []string{"png"}, MinImageSize: 1, CropSize: 100, Oversize: cropper.Clamp})
	report, err := a.AnalyzeDataset(context.Background(), dir, coco.NewIndex(ds), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Errorf("Expected clean report, got %v", report.Diagnostics.Entries())
	}
}

func BenchmarkGetImageInfo(b *testing.B) {
	path := filepath.Join(b.TempDir(), "img.png")
	processing.NewProcessor().SaveImage(createTestImage(800, 600), path, "png", 90, false)
	analyzer := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analyzer.GetImageInfo(path)
	}
}
