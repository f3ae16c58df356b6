package dataset

import (
	"errors"
	"fmt"

	"github.com/ollama/ollama/model/imageproc"
)

// ErrInvalidChannels is returned for a transform stage other than 3 or 4
var ErrInvalidChannels = errors.New("transform stage must be 3 or 4 channels")

// ImageTransform is applied to the input tensor either before the prompt
// mask is attached (3 channels) or after (4 channels)
type ImageTransform interface {
	Apply(t Tensor, channels int) (Tensor, error)
}

// TransformFunc adapts a function to ImageTransform
type TransformFunc func(t Tensor, channels int) (Tensor, error)

func (f TransformFunc) Apply(t Tensor, channels int) (Tensor, error) {
	return f(t, channels)
}

// ValidStage reports whether channels names a transform stage
func ValidStage(channels int) error {
	if channels != 3 && channels != 4 {
		return fmt.Errorf("%w: got %d", ErrInvalidChannels, channels)
	}
	return nil
}

// Normalize subtracts a per-channel mean and divides by a per-channel std
type Normalize struct {
	Mean []float32
	Std  []float32
}

// ImageNetNormalize returns ImageNet statistics for the given stage. The
// mask channel of the 4-channel stage is left untouched.
func ImageNetNormalize(channels int) (Normalize, error) {
	if err := ValidStage(channels); err != nil {
		return Normalize{}, err
	}
	n := Normalize{
		Mean: append([]float32{}, imageproc.ImageNetDefaultMean[:]...),
		Std:  append([]float32{}, imageproc.ImageNetDefaultSTD[:]...),
	}
	if channels == 4 {
		n.Mean = append(n.Mean, 0)
		n.Std = append(n.Std, 1)
	}
	return n, nil
}

// Apply normalizes t in place and returns it
func (n Normalize) Apply(t Tensor, channels int) (Tensor, error) {
	if err := ValidStage(channels); err != nil {
		return t, err
	}
	if t.Channels != channels || len(n.Mean) != channels || len(n.Std) != channels {
		return t, fmt.Errorf("%w: tensor has %d channels, stats have %d/%d",
			ErrInvalidChannels, t.Channels, len(n.Mean), len(n.Std))
	}
	for c := 0; c < channels; c++ {
		if n.Std[c] == 0 {
			return t, fmt.Errorf("zero std for channel %d", c)
		}
		plane := t.Plane(c)
		for i, v := range plane {
			plane[i] = (v - n.Mean[c]) / n.Std[c]
		}
	}
	return t, nil
}
