// Package loss implements the Complete-IoU box regression loss.
package loss

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// ErrBatchMismatch is returned when prediction and target batches differ in length
var ErrBatchMismatch = errors.New("prediction and target batch sizes differ")

var aspectScale = 4 / (math32.Pi * math32.Pi)

// CIoU returns sum(1 - ciou) over the batch. Both inputs are raw
// (cx, cy, w, h) activations: a sigmoid is applied to every component and
// widths and heights are then exponentiated.
func CIoU(pred, target [][4]float32) (float32, error) {
	if len(pred) != len(target) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrBatchMismatch, len(pred), len(target))
	}

	var total float32
	for i := range pred {
		total += 1 - Pair(pred[i], target[i])
	}
	return total, nil
}

// Pair returns the CIoU of two boxes, clamped to [-1, 1]
func Pair(a, b [4]float32) float32 {
	a, b = sigmoid4(a), sigmoid4(b)

	x1, y1, w1, h1 := a[0], a[1], math32.Exp(a[2]), math32.Exp(a[3])
	x2, y2, w2, h2 := b[0], b[1], math32.Exp(b[2]), math32.Exp(b[3])

	interL := math32.Max(x1-w1/2, x2-w2/2)
	interR := math32.Min(x1+w1/2, x2+w2/2)
	interT := math32.Max(y1-h1/2, y2-h2/2)
	interB := math32.Min(y1+h1/2, y2+h2/2)
	inter := math32.Max(interR-interL, 0) * math32.Max(interB-interT, 0)

	cL := math32.Min(x1-w1/2, x2-w2/2)
	cR := math32.Max(x1+w1/2, x2+w2/2)
	cT := math32.Min(y1-h1/2, y2-h2/2)
	cB := math32.Max(y1+h1/2, y2+h2/2)

	centerDist := (x2-x1)*(x2-x1) + (y2-y1)*(y2-y1)
	diag := sq(math32.Max(cR-cL, 0)) + sq(math32.Max(cB-cT, 0))

	union := w1*h1 + w2*h2 - inter
	iou := inter / union
	u := centerDist / diag
	v := aspectScale * sq(math32.Atan(w2/h2)-math32.Atan(w1/h1))

	// alpha only applies once the boxes overlap by more than half; identical
	// boxes give 0/0 here, which is taken as 0
	var alpha float32
	if iou > 0.5 {
		if d := 1 - iou + v; d > 0 {
			alpha = v / d
		}
	}

	return clamp(iou-u-alpha*v, -1, 1)
}

func sigmoid4(b [4]float32) [4]float32 {
	for i, v := range b {
		b[i] = 1 / (1 + math32.Exp(-v))
	}
	return b
}

func sq(v float32) float32 { return v * v }

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
