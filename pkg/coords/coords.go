// Package coords converts boxes between corner form and the offset encodings
// used as regression targets.
package coords

import (
	"errors"
	"fmt"

	"github.com/menta2k/point-to-box/pkg/types"
)

var (
	// ErrInvalidFormat is returned for an unrecognized format token
	ErrInvalidFormat = errors.New("invalid box format")
	// ErrInvalidDimensions is returned when image width or height is not positive
	ErrInvalidDimensions = errors.New("invalid image dimensions")
)

// Format is a box encoding
type Format string

// Supported encodings
const (
	COCO                 Format = "coco"             // x, y, w, h
	CenterOffset         Format = "cntr_ofst"        // cx, cy, w, h
	CenterOffsetFraction Format = "cntr_ofst_frac"   // cx/W, cy/H, w/W, h/H
	CornerOffsetFraction Format = "corner_ofst_frac" // xmin/W, ymin/H, w/W, h/H
)

// Formats lists every supported encoding
func Formats() []Format {
	return []Format{COCO, CenterOffset, CenterOffsetFraction, CornerOffsetFraction}
}

// ParseFormat validates a format token
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// ToCenterOffset returns (cx, cy, w, h)
func ToCenterOffset(b types.Box) [4]float64 {
	c := b.Center()
	return [4]float64{c.X, c.Y, b.Width(), b.Height()}
}

// ToCenterOffsetFraction returns (cx/W, cy/H, w/W, h/H)
func ToCenterOffsetFraction(b types.Box, imgW, imgH int) ([4]float64, error) {
	if err := checkDims(imgW, imgH); err != nil {
		return [4]float64{}, err
	}
	v := ToCenterOffset(b)
	fw, fh := float64(imgW), float64(imgH)
	return [4]float64{v[0] / fw, v[1] / fh, v[2] / fw, v[3] / fh}, nil
}

// ToCornerOffsetFraction returns (xmin/W, ymin/H, w/W, h/H)
func ToCornerOffsetFraction(b types.Box, imgW, imgH int) ([4]float64, error) {
	if err := checkDims(imgW, imgH); err != nil {
		return [4]float64{}, err
	}
	fw, fh := float64(imgW), float64(imgH)
	return [4]float64{b.XMin / fw, b.YMin / fh, b.Width() / fw, b.Height() / fh}, nil
}

// Convert encodes b in the given format
func Convert(b types.Box, f Format, imgW, imgH int) ([4]float64, error) {
	if err := checkDims(imgW, imgH); err != nil {
		return [4]float64{}, err
	}
	switch f {
	case COCO:
		return b.COCO(), nil
	case CenterOffset:
		return ToCenterOffset(b), nil
	case CenterOffsetFraction:
		return ToCenterOffsetFraction(b, imgW, imgH)
	case CornerOffsetFraction:
		return ToCornerOffsetFraction(b, imgW, imgH)
	}
	return [4]float64{}, fmt.Errorf("%w: %q", ErrInvalidFormat, f)
}

// Invert decodes v from the given format back to corner form
func Invert(v [4]float64, f Format, imgW, imgH int) (types.Box, error) {
	if err := checkDims(imgW, imgH); err != nil {
		return types.Box{}, err
	}
	fw, fh := float64(imgW), float64(imgH)
	switch f {
	case COCO:
		return types.FromCOCO(v), nil
	case CenterOffset:
		return fromCenter(v[0], v[1], v[2], v[3]), nil
	case CenterOffsetFraction:
		return fromCenter(v[0]*fw, v[1]*fh, v[2]*fw, v[3]*fh), nil
	case CornerOffsetFraction:
		return types.FromCOCO([4]float64{v[0] * fw, v[1] * fh, v[2] * fw, v[3] * fh}), nil
	}
	return types.Box{}, fmt.Errorf("%w: %q", ErrInvalidFormat, f)
}

func fromCenter(cx, cy, w, h float64) types.Box {
	return types.Box{XMin: cx - w/2, YMin: cy - h/2, XMax: cx + w/2, YMax: cy + h/2}
}

func checkDims(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	return nil
}
