package model

import (
	"context"
	"errors"
	"testing"

	"github.com/chewxy/math32"

	"github.com/menta2k/point-to-box/pkg/dataset"
)

type memSource []dataset.Sample

func (m memSource) Len() int { return len(m) }

func (m memSource) Get(i int) (dataset.Sample, error) { return m[i], nil }

// echoLocalizer predicts the target stored for each input's first value
type echoLocalizer map[float32][4]float32

func (e echoLocalizer) Predict(_ context.Context, in dataset.Tensor) ([4]float32, error) {
	return e[in.Data[0]], nil
}

func createSamples(n int) (memSource, echoLocalizer) {
	src := make(memSource, n)
	loc := make(echoLocalizer)
	for i := range src {
		in := dataset.NewTensor(4, 2, 2)
		in.Data[0] = float32(i)
		target := [4]float32{float32(i) / 10, 0.5, 0.1, 0.2}
		src[i] = dataset.Sample{ImageID: i, Input: in, Target: target}
		loc[float32(i)] = target
	}
	return src, loc
}

func TestBackboneChannels(t *testing.T) {
	expected := map[Backbone]int{
		EfficientNetB0: 1280,
		EfficientNetB1: 1280,
		EfficientNetB2: 1408,
		EfficientNetB3: 1536,
		EfficientNetB4: 1792,
	}
	for _, b := range Backbones() {
		c, err := b.Channels()
		if err != nil {
			t.Fatalf("%s: %v", b, err)
		}
		if c != expected[b] {
			t.Errorf("%s: expected %d channels, got %d", b, expected[b], c)
		}
	}

	if _, err := Backbone("efficientnet-b7").Channels(); !errors.Is(err, ErrUnknownBackbone) {
		t.Errorf("Expected ErrUnknownBackbone, got %v", err)
	}
}

func TestNewArchitecture(t *testing.T) {
	a, err := NewArchitecture(EfficientNetB2)
	if err != nil {
		t.Fatal(err)
	}
	in, out, err := a.HeadShape()
	if err != nil {
		t.Fatal(err)
	}
	if in != 1408 || out != 4 || a.InChannels != 4 {
		t.Errorf("Unexpected architecture %+v head (%d,%d)", a, in, out)
	}
	if _, err := NewArchitecture("resnet"); err == nil {
		t.Error("Expected error for unknown backbone")
	}
}

func TestEvaluatePerfect(t *testing.T) {
	src, loc := createSamples(5)
	ev, err := Evaluate(context.Background(), loc, src, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Samples != 5 {
		t.Errorf("Expected 5 samples, got %d", ev.Samples)
	}
	if math32.Abs(ev.MeanLoss) > 1e-5 {
		t.Errorf("Expected zero loss for exact predictions, got %f", ev.MeanLoss)
	}
}

func TestEvaluateMean(t *testing.T) {
	src, _ := createSamples(4)
	prior := PromptPrior{Size: 0.3}
	for i := range src {
		src[i].Input.Set(3, 1, 1, 1)
	}

	ev, err := Evaluate(context.Background(), prior, src, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ev.MeanLoss <= 0 {
		t.Errorf("Expected positive loss, got %f", ev.MeanLoss)
	}
	if math32.Abs(ev.MeanLoss*4-ev.TotalLoss) > 1e-5 {
		t.Errorf("Mean %f inconsistent with total %f", ev.MeanLoss, ev.TotalLoss)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	src, loc := createSamples(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Evaluate(ctx, loc, src, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPromptPrior(t *testing.T) {
	in := dataset.NewTensor(4, 4, 8)
	in.Set(3, 1, 2, 1)

	p, err := PromptPrior{Size: 0.25}.Predict(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	want := [4]float32{2.5 / 8, 1.5 / 4, 0.25, 0.25}
	if p != want {
		t.Errorf("Expected %v, got %v", want, p)
	}

	if _, err := (PromptPrior{}).Predict(context.Background(), dataset.NewTensor(4, 2, 2)); !errors.Is(err, ErrNoPrompt) {
		t.Errorf("Expected ErrNoPrompt, got %v", err)
	}
	if _, err := (PromptPrior{}).Predict(context.Background(), dataset.NewTensor(3, 2, 2)); !errors.Is(err, dataset.ErrInvalidChannels) {
		t.Errorf("Expected ErrInvalidChannels, got %v", err)
	}
}
