package types

import (
	"errors"
	"image"
	"math"
)

// ErrDegenerateBox is returned when a box has no area
var ErrDegenerateBox = errors.New("degenerate box")

// CategoryID identifies an annotation category
type CategoryID int

// Box is an axis-aligned rectangle in corner form (xmin, ymin, xmax, ymax)
type Box struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// FromCOCO builds a corner-form box from a COCO [x, y, w, h] tuple
func FromCOCO(b [4]float64) Box {
	return Box{XMin: b[0], YMin: b[1], XMax: b[0] + b[2], YMax: b[1] + b[3]}
}

// COCO returns the box as [x, y, w, h]
func (b Box) COCO() [4]float64 {
	return [4]float64{b.XMin, b.YMin, b.Width(), b.Height()}
}

// Width returns the horizontal extent of the box
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height returns the vertical extent of the box
func (b Box) Height() float64 { return b.YMax - b.YMin }

// Area returns width * height
func (b Box) Area() float64 { return b.Width() * b.Height() }

// LongSide returns max(width, height)
func (b Box) LongSide() float64 { return math.Max(b.Width(), b.Height()) }

// Center returns the center point of the box
func (b Box) Center() Point {
	return Point{X: b.XMin + b.Width()/2, Y: b.YMin + b.Height()/2}
}

// Valid reports whether the box has positive width and height
func (b Box) Valid() bool {
	return b.XMax > b.XMin && b.YMax > b.YMin
}

// Translate shifts the box by (dx, dy)
func (b Box) Translate(dx, dy float64) Box {
	return Box{XMin: b.XMin + dx, YMin: b.YMin + dy, XMax: b.XMax + dx, YMax: b.YMax + dy}
}

// Scale multiplies x coordinates by sx and y coordinates by sy
func (b Box) Scale(sx, sy float64) Box {
	return Box{XMin: b.XMin * sx, YMin: b.YMin * sy, XMax: b.XMax * sx, YMax: b.YMax * sy}
}

// Clamp limits all four coordinates to [lo, hi]
func (b Box) Clamp(lo, hi float64) Box {
	return Box{
		XMin: Clamp(b.XMin, lo, hi),
		YMin: Clamp(b.YMin, lo, hi),
		XMax: Clamp(b.XMax, lo, hi),
		YMax: Clamp(b.YMax, lo, hi),
	}
}

// Contains reports whether p lies inside the box, edges included
func (b Box) Contains(p Point) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Point is a prompt location
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Translate shifts the point by (dx, dy)
func (p Point) Translate(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Scale multiplies the coordinates by (sx, sy)
func (p Point) Scale(sx, sy float64) Point {
	return Point{X: p.X * sx, Y: p.Y * sy}
}

// Within reports whether the point lies in [lo, hi] on both axes
func (p Point) Within(lo, hi float64) bool {
	return p.X >= lo && p.X <= hi && p.Y >= lo && p.Y <= hi
}

// ObjectRecord is one annotated object of a source image
type ObjectRecord struct {
	Box          Box
	Prompt       Point
	HasPrompt    bool
	Category     CategoryID
	CategoryName string
}

// CropWindow is a square window in source image pixel coordinates
type CropWindow struct {
	Left  float64 `json:"left"`
	Upper float64 `json:"upper"`
	Right float64 `json:"right"`
	Lower float64 `json:"lower"`
}

// Size returns the side length of the window
func (w CropWindow) Size() float64 { return w.Right - w.Left }

// Rect returns the pixel rectangle covered by the window
func (w CropWindow) Rect() image.Rectangle {
	x0 := int(math.Round(w.Left))
	y0 := int(math.Round(w.Upper))
	size := int(math.Round(w.Size()))
	return image.Rect(x0, y0, x0+size, y0+size)
}

// ConvertedSample is one output crop with its single object
type ConvertedSample struct {
	Image        image.Image
	Box          Box
	Prompt       Point
	Category     CategoryID
	CategoryName string
	License      int
}

// Clamp ensures v is within [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
