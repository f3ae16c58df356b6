package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/menta2k/point-to-box/pkg/dataset"
)

// ErrNoPrompt is returned when the input carries no prompt pixel
var ErrNoPrompt = errors.New("input has no prompt mask")

// PromptPrior is a baseline Localizer that places a fixed-size box on the
// prompt pixel. It predicts in cntr_ofst_frac form: (cx/W, cy/H, w/W, h/H).
type PromptPrior struct {
	Size float32
}

// Predict implements Localizer
func (p PromptPrior) Predict(ctx context.Context, input dataset.Tensor) ([4]float32, error) {
	if err := ctx.Err(); err != nil {
		return [4]float32{}, err
	}
	if input.Channels != dataset.InputChannels {
		return [4]float32{}, fmt.Errorf("%w: got %d", dataset.ErrInvalidChannels, input.Channels)
	}

	x, y, ok := input.PromptPixel()
	if !ok {
		return [4]float32{}, ErrNoPrompt
	}
	return [4]float32{
		(float32(x) + 0.5) / float32(input.Width),
		(float32(y) + 0.5) / float32(input.Height),
		p.Size,
		p.Size,
	}, nil
}
