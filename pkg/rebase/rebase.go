// Package rebase maps crop-local geometry into a fixed-size resized frame.
package rebase

import (
	"fmt"
	"image"

	"github.com/menta2k/point-to-box/pkg/diagnostics"
	"github.com/menta2k/point-to-box/pkg/types"
)

// Resizer is the external resize capability. It owns box remapping; callers
// must not assume the returned boxes are a naive linear scale.
type Resizer interface {
	Resize(size int, img image.Image, boxes []types.Box) (image.Image, []types.Box, error)
}

// Rebaser resizes crops to a square target and re-expresses box and prompt
type Rebaser struct {
	resizer Resizer
	size    int
	diag    *diagnostics.Collector
	imageID int
}

// New creates a Rebaser targeting size x size output
func New(resizer Resizer, size int) *Rebaser {
	return &Rebaser{resizer: resizer, size: size}
}

// SetDiagnostics routes warnings for the given source image to d
func (r *Rebaser) SetDiagnostics(d *diagnostics.Collector, imageID int) {
	r.diag = d
	r.imageID = imageID
}

// Size returns the output side length
func (r *Rebaser) Size() int {
	return r.size
}

// Result is a resized crop with its geometry in the resized frame
type Result struct {
	Image  image.Image
	Box    types.Box
	Prompt types.Point
}

// Rebase resizes img (a crop of side cropSize) and maps box and prompt into
// the resized frame. The box is clamped to [0, size]; the prompt is scaled
// independently and only flagged when it leaves the frame.
func (r *Rebaser) Rebase(img image.Image, cropSize float64, box types.Box, prompt types.Point) (Result, error) {
	if cropSize <= 0 {
		return Result{}, fmt.Errorf("invalid crop size %f", cropSize)
	}

	resized, boxes, err := r.resizer.Resize(r.size, img, []types.Box{box})
	if err != nil {
		return Result{}, fmt.Errorf("resize failed: %w", err)
	}
	if len(boxes) != 1 {
		return Result{}, fmt.Errorf("resize returned %d boxes, expected 1", len(boxes))
	}

	limit := float64(r.size)
	outBox := boxes[0].Clamp(0, limit)
	if !outBox.Valid() {
		r.diag.Add(diagnostics.DegenerateBox, r.imageID, "box %+v collapsed after resize", outBox)
		return Result{}, fmt.Errorf("%w: %+v", types.ErrDegenerateBox, outBox)
	}

	bounds := resized.Bounds()
	outPrompt := prompt.Scale(float64(bounds.Dx())/cropSize, float64(bounds.Dy())/cropSize)
	if !outPrompt.Within(0, limit) {
		r.diag.Add(diagnostics.GeometryInconsistency, r.imageID,
			"resized prompt (%.1f,%.1f) outside [0,%d]", outPrompt.X, outPrompt.Y, r.size)
	}

	return Result{Image: resized, Box: outBox, Prompt: outPrompt}, nil
}
