// Package model describes the box localizer capability and evaluates
// localizers against a loaded dataset. Network internals are out of scope;
// any implementation of Localizer can be plugged in.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/menta2k/point-to-box/pkg/dataset"
	"github.com/menta2k/point-to-box/pkg/loss"
)

// ErrUnknownBackbone is returned for an unsupported backbone version
var ErrUnknownBackbone = errors.New("unknown backbone")

// Backbone names a feature-extractor variant
type Backbone string

const (
	EfficientNetB0 Backbone = "efficientnet-b0"
	EfficientNetB1 Backbone = "efficientnet-b1"
	EfficientNetB2 Backbone = "efficientnet-b2"
	EfficientNetB3 Backbone = "efficientnet-b3"
	EfficientNetB4 Backbone = "efficientnet-b4"
)

// feature width of each backbone's final stage
var backboneChannels = map[Backbone]int{
	EfficientNetB0: 1280,
	EfficientNetB1: 1280,
	EfficientNetB2: 1408,
	EfficientNetB3: 1536,
	EfficientNetB4: 1792,
}

// Backbones lists the supported versions
func Backbones() []Backbone {
	return []Backbone{EfficientNetB0, EfficientNetB1, EfficientNetB2, EfficientNetB3, EfficientNetB4}
}

// Channels returns the feature width feeding the regression head
func (b Backbone) Channels() (int, error) {
	c, ok := backboneChannels[b]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBackbone, string(b))
	}
	return c, nil
}

// Architecture describes a localizer: a backbone taking InChannels input
// planes, followed by dropout, a linear head of OutFeatures and a sigmoid
type Architecture struct {
	Backbone    Backbone `json:"base_arch"`
	InChannels  int      `json:"in_channels"`
	OutFeatures int      `json:"out_features"`
	Dropout     float64  `json:"dropout"`
}

// NewArchitecture returns the standard 4-in/4-out head for backbone
func NewArchitecture(backbone Backbone) (Architecture, error) {
	if _, err := backbone.Channels(); err != nil {
		return Architecture{}, err
	}
	return Architecture{
		Backbone:    backbone,
		InChannels:  dataset.InputChannels,
		OutFeatures: 4,
		Dropout:     0.2,
	}, nil
}

// HeadShape returns the (in, out) dimensions of the linear head
func (a Architecture) HeadShape() (int, int, error) {
	in, err := a.Backbone.Channels()
	if err != nil {
		return 0, 0, err
	}
	return in, a.OutFeatures, nil
}

// Localizer predicts one box from a 4-channel input
type Localizer interface {
	Predict(ctx context.Context, input dataset.Tensor) ([4]float32, error)
}

// SampleSource is a finite indexed sample collection; *dataset.Loader implements it
type SampleSource interface {
	Len() int
	Get(idx int) (dataset.Sample, error)
}

// Evaluation summarizes a pass over a sample source
type Evaluation struct {
	Samples   int
	TotalLoss float32
	MeanLoss  float32
}

// Evaluate runs loc over every sample of src in batches of batchSize and
// returns the CIoU loss summed and averaged per sample
func Evaluate(ctx context.Context, loc Localizer, src SampleSource, batchSize int) (Evaluation, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	var ev Evaluation
	preds := make([][4]float32, 0, batchSize)
	targets := make([][4]float32, 0, batchSize)

	flush := func() error {
		if len(preds) == 0 {
			return nil
		}
		l, err := loss.CIoU(preds, targets)
		if err != nil {
			return err
		}
		ev.TotalLoss += l
		ev.Samples += len(preds)
		preds, targets = preds[:0], targets[:0]
		return nil
	}

	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		s, err := src.Get(i)
		if err != nil {
			return ev, fmt.Errorf("sample %d: %w", i, err)
		}
		p, err := loc.Predict(ctx, s.Input)
		if err != nil {
			return ev, fmt.Errorf("predict sample %d: %w", i, err)
		}
		preds = append(preds, p)
		targets = append(targets, s.Target)

		if len(preds) == batchSize {
			if err := flush(); err != nil {
				return ev, err
			}
		}
	}
	if err := flush(); err != nil {
		return ev, err
	}

	if ev.Samples > 0 {
		ev.MeanLoss = ev.TotalLoss / float32(ev.Samples)
	}
	return ev, nil
}
