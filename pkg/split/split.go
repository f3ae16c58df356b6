// Package split partitions a converted dataset into train and val subsets
// and lays the files out on disk.
package split

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/menta2k/point-to-box/internal/utils"
	"github.com/menta2k/point-to-box/pkg/coco"
	"github.com/menta2k/point-to-box/pkg/noise"
)

const (
	TrainDir        = "train"
	ValDir          = "val"
	AnnotationsFile = "annotations.json"
)

var (
	// ErrInvalidFraction is returned for a validation fraction outside [0, 1]
	ErrInvalidFraction = errors.New("validation fraction must be within [0, 1]")
	// ErrMissingFile is returned when a manifest entry has no file on disk
	ErrMissingFile = errors.New("image file missing")
)

// Split shuffles the images of manifest with seed and assigns
// round(valPct*n) images to val and the rest to train. Annotations follow
// their image; info, licenses and categories are copied to both halves.
func Split(manifest *coco.Dataset, valPct float64, seed uint64) (train, val coco.Dataset, err error) {
	if math.IsNaN(valPct) || valPct < 0 || valPct > 1 {
		return train, val, fmt.Errorf("%w: %v", ErrInvalidFraction, valPct)
	}

	images := make([]coco.Image, len(manifest.Images))
	copy(images, manifest.Images)
	noise.New(seed).Shuffle(len(images), func(i, j int) {
		images[i], images[j] = images[j], images[i]
	})

	// 1-0.9 is not 0.1 in float64; count val first so the cut is exact
	cut := len(images) - int(math.Round(valPct*float64(len(images))))

	train = subset(manifest, images[:cut])
	val = subset(manifest, images[cut:])
	return train, val, nil
}

func subset(src *coco.Dataset, images []coco.Image) coco.Dataset {
	keep := make(map[int]bool, len(images))
	for _, img := range images {
		keep[img.ID] = true
	}

	out := coco.Dataset{
		Info:        src.Info,
		Licenses:    src.Licenses,
		Images:      append([]coco.Image{}, images...),
		Annotations: []coco.Annotation{},
		Categories:  src.Categories,
	}
	for _, ann := range src.Annotations {
		if keep[ann.ImageID] {
			out.Annotations = append(out.Annotations, ann)
		}
	}
	return out
}

// Logger receives progress messages
type Logger interface {
	Info(format string, v ...interface{})
}

// Writer moves converted images into train/ and val/ directories and
// writes one manifest per directory
type Writer struct {
	ValPct float64
	Seed   uint64
	log    Logger
}

// NewWriter creates a Writer with the given validation fraction and seed
func NewWriter(valPct float64, seed uint64) *Writer {
	return &Writer{ValPct: valPct, Seed: seed}
}

// SetLogger installs a logger
func (w *Writer) SetLogger(l Logger) {
	w.log = l
}

// Result describes a completed split
type Result struct {
	Train     coco.Dataset
	Val       coco.Dataset
	TrainPath string
	ValPath   string
}

// Write splits manifest, whose file names are relative to root, and
// relocates every image. It fails if a referenced file is absent before
// or after the move.
func (w *Writer) Write(root string, manifest *coco.Dataset) (*Result, error) {
	for _, img := range manifest.Images {
		if !utils.FileExists(filepath.Join(root, img.FileName)) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, img.FileName)
		}
	}

	train, val, err := Split(manifest, w.ValPct, w.Seed)
	if err != nil {
		return nil, err
	}

	res := &Result{Train: train, Val: val}
	for _, part := range []struct {
		dir  string
		data *coco.Dataset
		path *string
	}{
		{TrainDir, &res.Train, &res.TrainPath},
		{ValDir, &res.Val, &res.ValPath},
	} {
		dir := filepath.Join(root, part.dir)
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		if err := moveAll(root, dir, part.data.Images); err != nil {
			return nil, err
		}
		if err := verify(dir, part.data.Images); err != nil {
			return nil, err
		}

		*part.path = filepath.Join(dir, AnnotationsFile)
		if err := part.data.Save(*part.path); err != nil {
			return nil, err
		}
		if w.log != nil {
			w.log.Info("%s: %d images written to %s", part.dir, len(part.data.Images), dir)
		}
	}
	return res, nil
}

func moveAll(root, dir string, images []coco.Image) error {
	for _, img := range images {
		src := filepath.Join(root, img.FileName)
		dst := filepath.Join(dir, filepath.Base(img.FileName))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to move %s: %w", img.FileName, err)
		}
	}
	return nil
}

func verify(dir string, images []coco.Image) error {
	for _, img := range images {
		if !utils.FileExists(filepath.Join(dir, filepath.Base(img.FileName))) {
			return fmt.Errorf("%w after move: %s", ErrMissingFile, img.FileName)
		}
	}
	return nil
}
