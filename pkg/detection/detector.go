// Package detection locates the object under a prompt point with a remote
// vision-language model. Localizer satisfies model.Localizer.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/point-to-box/pkg/client"
	"github.com/menta2k/point-to-box/pkg/dataset"
	"github.com/menta2k/point-to-box/pkg/types"
)

// ErrNoPrompt is returned when the input tensor has no prompt pixel
var ErrNoPrompt = errors.New("input has no prompt mask")

// DefaultPrompt asks for the box of the object under a point. The two
// verbs receive the normalized point coordinates.
const DefaultPrompt = `You are an object localizer.

The object of interest contains the point (x=%.3f, y=%.3f), given in coordinates
normalized to [0,1] from the top-left corner of the image.

Return JSON only:
{"label": "string", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}

HARD RULES
- box x, y is the top-left corner; w, h are width and height; all normalized to [0,1].
- The box must contain the given point and tightly enclose the whole object.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// fallbackSize is the side of the box returned when the reply is unusable
const fallbackSize = 0.5

// NormBox is a top-left anchored box in normalized image coordinates
type NormBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Result is a parsed model reply
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        NormBox `json:"box"`
	Fallback   bool    `json:"-"`
}

// Localizer queries a vision client for the box around a prompt point
type Localizer struct {
	client client.VisionClient
	model  string
	prompt string
}

// NewLocalizer creates a localizer using model on c
func NewLocalizer(c client.VisionClient, model string) *Localizer {
	return &Localizer{client: c, model: model, prompt: DefaultPrompt}
}

// SetPrompt replaces the instruction template; it must contain two %f verbs
func (l *Localizer) SetPrompt(prompt string) {
	l.prompt = prompt
}

// Predict implements model.Localizer. The result is in cntr_ofst_frac
// form: (cx, cy, w, h), normalized.
func (l *Localizer) Predict(ctx context.Context, input dataset.Tensor) ([4]float32, error) {
	px, py, ok := input.PromptPixel()
	if !ok {
		return [4]float32{}, ErrNoPrompt
	}
	point := types.Point{
		X: (float64(px) + 0.5) / float64(input.Width),
		Y: (float64(py) + 0.5) / float64(input.Height),
	}

	res, err := l.Locate(ctx, input.RGBImage(), point)
	if err != nil {
		return [4]float32{}, err
	}
	b := res.Box
	return [4]float32{
		float32(b.X + b.W/2),
		float32(b.Y + b.H/2),
		float32(b.W),
		float32(b.H),
	}, nil
}

// Locate sends img with the normalized prompt point and returns the
// clamped box. Replies that cannot be parsed yield a prompt-centered
// fallback box with Fallback set.
func (l *Localizer) Locate(ctx context.Context, img image.Image, point types.Point) (*Result, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	raw, err := l.client.Query(ctx, l.model, fmt.Sprintf(l.prompt, point.X, point.Y), buf.Bytes())
	if err != nil {
		return nil, err
	}

	res := parseResult(raw, point)
	b := img.Bounds()
	res.Box = normalizeBox(res.Box, b.Dx(), b.Dy())
	return res, nil
}

// parseResult parses the JSON reply of the vision model
func parseResult(raw string, point types.Point) *Result {
	raw = sanitizeModelJSON(raw)

	var result Result
	if !strings.HasPrefix(raw, "{") || json.Unmarshal([]byte(raw), &result) != nil {
		return fallback(point, "unparsable")
	}
	if result.Box.W <= 0 || result.Box.H <= 0 {
		return fallback(point, "empty box")
	}
	return &result
}

func fallback(point types.Point, label string) *Result {
	return &Result{
		Label: label,
		Box: NormBox{
			X: point.X - fallbackSize/2,
			Y: point.Y - fallbackSize/2,
			W: fallbackSize,
			H: fallbackSize,
		},
		Fallback: true,
	}
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox converts pixel replies to normalized coordinates and keeps
// the box inside the unit square
func normalizeBox(b NormBox, imgW, imgH int) NormBox {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		b = NormBox{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}

	x0 := clamp(b.X, 0, 1)
	y0 := clamp(b.Y, 0, 1)
	x1 := clamp(b.X+b.W, 0, 1)
	y1 := clamp(b.Y+b.H, 0, 1)
	return NormBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
