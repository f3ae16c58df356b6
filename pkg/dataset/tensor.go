package dataset

import (
	"fmt"
	"image"
	"image/color"
)

// Tensor is a dense channel-first float32 array (C, H, W)
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewTensor allocates a zeroed tensor
func NewTensor(channels, height, width int) Tensor {
	return Tensor{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

// Shape returns (C, H, W)
func (t Tensor) Shape() [3]int {
	return [3]int{t.Channels, t.Height, t.Width}
}

// Plane returns the backing slice of channel c
func (t Tensor) Plane(c int) []float32 {
	n := t.Height * t.Width
	return t.Data[c*n : (c+1)*n]
}

// At returns the value at channel c, row y, column x
func (t Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.Height+y)*t.Width+x]
}

// Set stores v at channel c, row y, column x
func (t Tensor) Set(c, y, x int, v float32) {
	t.Data[(c*t.Height+y)*t.Width+x] = v
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor(%d,%d,%d)", t.Channels, t.Height, t.Width)
}

// PromptPixel returns the column and row of the first non-zero value of
// the mask channel
func (t Tensor) PromptPixel() (x, y int, ok bool) {
	if t.Channels != InputChannels {
		return 0, 0, false
	}
	for i, v := range t.Plane(InputChannels - 1) {
		if v != 0 {
			return i % t.Width, i / t.Width, true
		}
	}
	return 0, 0, false
}

// RGBImage renders the first three channels as an 8-bit image. Values are
// taken to be in [0,1] and clamped.
func (t Tensor) RGBImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	if t.Channels < 3 {
		return img
	}
	r, g, b := t.Plane(0), t.Plane(1), t.Plane(2)
	for i := range r {
		x, y := i%t.Width, i/t.Width
		img.SetRGBA(x, y, color.RGBA{toByte(r[i]), toByte(g[i]), toByte(b[i]), 255})
	}
	return img
}

func toByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
