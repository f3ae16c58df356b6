// Package dataset reads a converted point-to-box dataset as model inputs:
// a 4-channel tensor (RGB plus a one-pixel prompt mask) and a box target.
package dataset

import (
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/ollama/ollama/model/imageproc"

	"github.com/menta2k/point-to-box/pkg/coco"
	"github.com/menta2k/point-to-box/pkg/coords"
	"github.com/menta2k/point-to-box/pkg/processing"
	"github.com/menta2k/point-to-box/pkg/types"
)

// InputChannels is the channel count of every loaded sample
const InputChannels = 4

// ErrNoAnnotation is returned for an image without any annotation
var ErrNoAnnotation = errors.New("image has no annotation")

var (
	zeroMean = [3]float32{0, 0, 0}
	unitStd  = [3]float32{1, 1, 1}
)

// ImageLoader decodes an image file. *processing.Processor implements it.
type ImageLoader interface {
	LoadImage(path string) (image.Image, error)
}

// Options configures a Loader
type Options struct {
	Format    coords.Format
	Transform ImageTransform
	// Stage selects when Transform runs: 3 before the mask is attached, 4 after
	Stage  int
	Images ImageLoader
}

// Sample is one model input with its regression target
type Sample struct {
	ImageID int
	Input   Tensor
	Target  [4]float32
}

// Loader serves samples from an image root and its manifest
type Loader struct {
	root   string
	index  *coco.Index
	ids    []int
	opts   Options
	images ImageLoader
}

// Open loads the manifest at annotationsPath and serves images from root
func Open(root, annotationsPath string, opts Options) (*Loader, error) {
	ds, err := coco.Load(annotationsPath)
	if err != nil {
		return nil, err
	}
	return NewLoader(root, ds, opts)
}

// NewLoader creates a loader over manifest. Images are served in id order.
func NewLoader(root string, manifest *coco.Dataset, opts Options) (*Loader, error) {
	if opts.Format == "" {
		opts.Format = coords.COCO
	}
	if _, err := coords.ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	if opts.Transform != nil {
		if err := ValidStage(opts.Stage); err != nil {
			return nil, err
		}
	}

	images := opts.Images
	if images == nil {
		images = processing.NewProcessor()
	}

	index := coco.NewIndex(manifest)
	return &Loader{
		root:   root,
		index:  index,
		ids:    index.ImageIDs(),
		opts:   opts,
		images: images,
	}, nil
}

// Len returns the number of samples
func (l *Loader) Len() int {
	return len(l.ids)
}

// Get loads sample idx
func (l *Loader) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= len(l.ids) {
		return Sample{}, fmt.Errorf("index %d out of range [0,%d)", idx, len(l.ids))
	}
	id := l.ids[idx]
	entry, _ := l.index.Image(id)

	anns := l.index.Annotations(id)
	if len(anns) == 0 {
		return Sample{}, fmt.Errorf("%w: %d", ErrNoAnnotation, id)
	}
	ann := anns[0]

	img, err := l.images.LoadImage(filepath.Join(l.root, entry.FileName))
	if err != nil {
		return Sample{}, fmt.Errorf("failed to load %s: %w", entry.FileName, err)
	}

	rgb := toTensor(img)
	if l.opts.Transform != nil && l.opts.Stage == 3 {
		if rgb, err = l.opts.Transform.Apply(rgb, 3); err != nil {
			return Sample{}, err
		}
	}

	box := types.FromCOCO(ann.BBox)
	prompt, ok := ann.PromptPoint()
	if !ok {
		prompt = box.Center()
	}
	input := withMask(rgb, prompt)

	if l.opts.Transform != nil && l.opts.Stage == InputChannels {
		if input, err = l.opts.Transform.Apply(input, InputChannels); err != nil {
			return Sample{}, err
		}
	}

	vals, err := coords.Convert(box, l.opts.Format, rgb.Width, rgb.Height)
	if err != nil {
		return Sample{}, err
	}
	var target [4]float32
	for i, v := range vals {
		target[i] = float32(v)
	}

	return Sample{ImageID: id, Input: input, Target: target}, nil
}

// toTensor converts img to a 3xHxW tensor scaled to [0,1]; alpha is
// composited onto white
func toTensor(img image.Image) Tensor {
	b := img.Bounds()
	data := imageproc.Normalize(imageproc.Composite(img), zeroMean, unitStd, true, true)
	return Tensor{Channels: 3, Height: b.Dy(), Width: b.Dx(), Data: data}
}

// withMask appends a channel that is 1 at the prompt pixel and 0 elsewhere.
// The pixel is (int(y), int(x)), clamped to the image.
func withMask(rgb Tensor, prompt types.Point) Tensor {
	out := NewTensor(InputChannels, rgb.Height, rgb.Width)
	copy(out.Data, rgb.Data[:3*rgb.Height*rgb.Width])

	x := clampIndex(prompt.X, rgb.Width)
	y := clampIndex(prompt.Y, rgb.Height)
	out.Set(3, y, x, 1)
	return out
}

func clampIndex(v float64, n int) int {
	if math.IsNaN(v) {
		return 0
	}
	i := int(v)
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
