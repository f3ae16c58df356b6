package cropper

import (
	"errors"
	"fmt"
	"math"

	"github.com/menta2k/point-to-box/pkg/coords"
	"github.com/menta2k/point-to-box/pkg/diagnostics"
	"github.com/menta2k/point-to-box/pkg/noise"
	"github.com/menta2k/point-to-box/pkg/types"
)

var (
	// ErrCropTooSmall means the largest admissible crop cannot contain the box.
	// It is a filtering signal, not a failure.
	ErrCropTooSmall = errors.New("crop too small for object")
	// ErrCropExceedsImage is returned under the reject policy when the nominal
	// crop size is not smaller than the image's shorter side
	ErrCropExceedsImage = errors.New("crop size exceeds image")
	// ErrGeometryInconsistency is returned only when strict geometry is enabled
	ErrGeometryInconsistency = errors.New("prompt outside crop")
)

const (
	enlargeThreshold = 0.9
	minEnlarge       = 1.2
	maxEnlarge       = 1.4
)

// OversizePolicy decides what happens when the nominal crop size does not fit the image
type OversizePolicy string

const (
	// Reject refuses the object outright
	Reject OversizePolicy = "reject"
	// Clamp shrinks the nominal size to the image's shorter side
	Clamp OversizePolicy = "clamp"
)

// ParseOversizePolicy validates a policy name
func ParseOversizePolicy(s string) (OversizePolicy, error) {
	switch OversizePolicy(s) {
	case Reject, Clamp:
		return OversizePolicy(s), nil
	}
	return "", fmt.Errorf("unknown oversize policy %q (use reject or clamp)", s)
}

// CropConfig holds configuration for crop planning
type CropConfig struct {
	CropSize       int
	CropNoise      float64
	BoxNoise       float64
	Oversize       OversizePolicy
	StrictGeometry bool
}

// DefaultConfig returns the standard crop parameters
func DefaultConfig() CropConfig {
	return CropConfig{
		CropSize:  100,
		CropNoise: 0.1,
		BoxNoise:  0.2,
		Oversize:  Reject,
	}
}

// Planner computes randomized square crop windows around single objects
type Planner struct {
	config  CropConfig
	sampler *noise.Sampler
	diag    *diagnostics.Collector
	imageID int
}

// New creates a Planner with default configuration and a seed of 0
func New() *Planner {
	return &Planner{
		config:  DefaultConfig(),
		sampler: noise.New(0),
	}
}

// NewWithConfig creates a Planner with custom configuration and sampler
func NewWithConfig(config CropConfig, sampler *noise.Sampler) *Planner {
	if config.Oversize == "" {
		config.Oversize = Reject
	}
	return &Planner{
		config:  config,
		sampler: sampler,
	}
}

// SetDiagnostics routes warnings for the given source image to d
func (p *Planner) SetDiagnostics(d *diagnostics.Collector, imageID int) {
	p.diag = d
	p.imageID = imageID
}

// Config returns the planner configuration
func (p *Planner) Config() CropConfig {
	return p.config
}

// Plan is the result of planning one crop
type Plan struct {
	Window   types.CropWindow
	Box      types.Box   // crop-local
	Prompt   types.Point // crop-local
	Enlarged bool
}

// Size returns the side length of the planned crop
func (p Plan) Size() float64 {
	return p.Window.Size()
}

// Plan computes a crop window for box inside an imgW x imgH image and
// re-expresses box and prompt relative to the window's top-left corner.
// The window keeps fractional edges; the local frame starts at the pixel
// Window.Rect() actually crops from, so local coordinates match the image.
func (p *Planner) Plan(imgW, imgH int, box types.Box, prompt types.Point) (Plan, error) {
	if imgW <= 0 || imgH <= 0 {
		return Plan{}, fmt.Errorf("%w: %dx%d", coords.ErrInvalidDimensions, imgW, imgH)
	}
	if !box.Valid() {
		return Plan{}, fmt.Errorf("%w: %+v", types.ErrDegenerateBox, box)
	}

	fw, fh := float64(imgW), float64(imgH)
	shortSide := math.Min(fw, fh)

	nominal := float64(p.config.CropSize)
	if nominal >= shortSide {
		if p.config.Oversize != Clamp {
			return Plan{}, fmt.Errorf("%w: %d >= %d", ErrCropExceedsImage, p.config.CropSize, int(shortSide))
		}
		nominal = shortSide
	}

	size, enlarged := p.cropSize(nominal, box)
	if size > shortSide {
		size = shortSide
	}
	if size < box.LongSide() {
		return Plan{}, fmt.Errorf("%w: crop %.0f < box side %.1f", ErrCropTooSmall, size, box.LongSide())
	}

	window := p.position(size, box, fw, fh)
	origin := window.Rect().Min
	dx, dy := -float64(origin.X), -float64(origin.Y)

	local := Plan{
		Window:   window,
		Box:      box.Translate(dx, dy),
		Prompt:   prompt.Translate(dx, dy),
		Enlarged: enlarged,
	}

	if !local.Prompt.Within(0, size) {
		p.diag.Add(diagnostics.GeometryInconsistency, p.imageID,
			"prompt (%.1f,%.1f) outside crop of size %.0f", local.Prompt.X, local.Prompt.Y, size)
		if p.config.StrictGeometry {
			return Plan{}, fmt.Errorf("%w: (%.1f,%.1f)", ErrGeometryInconsistency, local.Prompt.X, local.Prompt.Y)
		}
	} else if !local.Box.Contains(local.Prompt) {
		p.diag.Add(diagnostics.GeometryInconsistency, p.imageID,
			"prompt (%.1f,%.1f) outside its box", local.Prompt.X, local.Prompt.Y)
	}

	return local, nil
}

// cropSize jitters the nominal size and enlarges it when the box would not
// leave a margin inside the crop
func (p *Planner) cropSize(nominal float64, box types.Box) (float64, bool) {
	size := p.sampler.Noise(nominal, nominal, p.config.CropNoise)

	if box.Width() > enlargeThreshold*size || box.Height() > enlargeThreshold*size {
		return math.Round(box.LongSide() * p.sampler.Uniform(minEnlarge, maxEnlarge)), true
	}
	return size, false
}

// position centers the window on the box, applies bounded offset jitter and
// shifts the whole window back inside the image
func (p *Planner) position(size float64, box types.Box, fw, fh float64) types.CropWindow {
	center := box.Center()
	naiveLeft := center.X - size/2
	naiveUpper := center.Y - size/2

	// furthest the window may move before an edge reaches the box
	maxWd := box.XMin - naiveLeft - 1
	maxHd := box.YMin - naiveUpper - 1

	left := naiveLeft + bound(p.sampler.Noise(naiveLeft, size, p.config.BoxNoise)-naiveLeft, maxWd)
	upper := naiveUpper + bound(p.sampler.Noise(naiveUpper, size, p.config.BoxNoise)-naiveUpper, maxHd)

	right := left + size
	lower := upper + size

	if left < 0 {
		left = 0
		right = size
	}
	if right > fw {
		right = fw
		left = fw - size
	}
	if upper < 0 {
		upper = 0
		lower = size
	}
	if lower > fh {
		lower = fh
		upper = fh - size
	}

	return types.CropWindow{Left: left, Upper: upper, Right: right, Lower: lower}
}

func bound(d, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	if d > limit {
		return limit
	}
	if d < -limit {
		return -limit
	}
	return d
}
