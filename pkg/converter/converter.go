// Package converter turns a multi-object COCO dataset into a point-to-box
// dataset of square single-object crops.
package converter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/menta2k/point-to-box/internal/utils"
	"github.com/menta2k/point-to-box/pkg/coco"
	"github.com/menta2k/point-to-box/pkg/cropper"
	"github.com/menta2k/point-to-box/pkg/diagnostics"
	"github.com/menta2k/point-to-box/pkg/noise"
	"github.com/menta2k/point-to-box/pkg/processing"
	"github.com/menta2k/point-to-box/pkg/rebase"
	"github.com/menta2k/point-to-box/pkg/types"
)

var (
	// ErrSourceAssetMissing marks an image that could not be loaded; only that image is skipped
	ErrSourceAssetMissing = errors.New("source image missing")
	// ErrAlreadyRun is returned when Run is called on a converter that is not idle
	ErrAlreadyRun = errors.New("converter already run")
	// ErrNotDone is returned when the manifest is requested before a run completes
	ErrNotDone = errors.New("conversion not finished")
)

// State of a conversion run
type State int

const (
	Idle State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Store provides image I/O and the geometry primitives used by the pipeline.
// *processing.Processor implements it.
type Store interface {
	rebase.Resizer
	LoadImage(path string) (image.Image, error)
	Crop(img image.Image, window types.CropWindow) (image.Image, error)
	SaveImage(img image.Image, path, format string, quality int, lossless bool) error
}

// Logger receives progress and failure messages
type Logger interface {
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})    {}
func (nopLogger) Warning(string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{})   {}

// ProgressFunc is called after each source image is committed
type ProgressFunc func(done, total int)

// Config holds configuration for a conversion run
type Config struct {
	DataDir          string
	DestDir          string
	Crop             cropper.CropConfig
	Resize           bool
	ImgSize          int
	PromptsPerObject int
	PromptNoise      float64
	Seed             uint64
	Workers          int
	Format           string
	Quality          int
	Lossless         bool
}

// DefaultConfig returns the standard conversion parameters
func DefaultConfig() Config {
	return Config{
		Crop:             cropper.DefaultConfig(),
		Resize:           true,
		ImgSize:          512,
		PromptsPerObject: 1,
		PromptNoise:      0.1,
		Workers:          1,
		Format:           "jpg",
		Quality:          90,
	}
}

// Stats summarizes a run
type Stats struct {
	Images       int `json:"images"`
	FailedImages int `json:"failed_images"`
	Objects      int `json:"objects"`
	Samples      int `json:"samples"`
	Filtered     int `json:"filtered"`
}

// IdAllocator hands out sequential ids shared by image and annotation entries
type IdAllocator struct {
	next int
}

// NewIdAllocator starts allocation at start
func NewIdAllocator(start int) *IdAllocator {
	return &IdAllocator{next: start}
}

// Next returns the next id
func (a *IdAllocator) Next() int {
	id := a.next
	a.next++
	return id
}

// Peek returns the id Next would return without consuming it
func (a *IdAllocator) Peek() int {
	return a.next
}

// Converter runs one conversion over a source dataset
type Converter struct {
	config   Config
	index    *coco.Index
	store    Store
	log      Logger
	diag     *diagnostics.Collector
	ids      *IdAllocator
	progress ProgressFunc

	manifest coco.Dataset
	stats    Stats
	state    State
}

// New creates an idle converter over index using store for image work
func New(config Config, index *coco.Index, store Store) *Converter {
	if config.PromptsPerObject < 1 {
		config.PromptsPerObject = 1
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Format == "" {
		config.Format = "jpg"
	}
	return &Converter{
		config: config,
		index:  index,
		store:  store,
		log:    nopLogger{},
		diag:   diagnostics.New(nil),
		ids:    NewIdAllocator(0),
	}
}

// SetLogger routes progress messages and diagnostics to l
func (c *Converter) SetLogger(l Logger) {
	c.log = l
	c.diag = diagnostics.New(l)
}

// SetProgress installs a progress callback
func (c *Converter) SetProgress(fn ProgressFunc) {
	c.progress = fn
}

// State returns the current run state
func (c *Converter) State() State {
	return c.state
}

// Stats returns counters for the run so far
func (c *Converter) Stats() Stats {
	return c.stats
}

// Diagnostics returns the collected warnings
func (c *Converter) Diagnostics() *diagnostics.Collector {
	return c.diag
}

// Manifest returns the accumulated output dataset
func (c *Converter) Manifest() *coco.Dataset {
	return &c.manifest
}

// WriteManifest saves the output dataset to path once the run is done
func (c *Converter) WriteManifest(path string) error {
	if c.state != Done {
		return ErrNotDone
	}
	return c.manifest.Save(path)
}

// imageResult carries the samples of one source image from a worker to the writer
type imageResult struct {
	pos     int
	imageID int
	license int
	objects int
	prompts int
	samples []types.ConvertedSample
	err     error
}

// Run converts every source image. A failing source image is logged and
// skipped; output write failures and cancellation abort the run.
func (c *Converter) Run(ctx context.Context) error {
	if c.state != Idle {
		return ErrAlreadyRun
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.state = Running
	defer func() { c.state = Done }()

	if err := utils.EnsureDir(c.config.DestDir); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	src := c.index.Dataset()
	c.manifest = coco.Dataset{
		Info:        src.Info,
		Licenses:    src.Licenses,
		Images:      []coco.Image{},
		Annotations: []coco.Annotation{},
		Categories:  src.Categories,
	}

	ids := c.index.ImageIDs()
	c.log.Info("converting %d images with %d worker(s)", len(ids), c.config.Workers)

	var err error
	if c.config.Workers == 1 {
		err = c.runSequential(ctx, ids)
	} else {
		err = c.runParallel(ctx, ids)
	}
	if err != nil {
		return err
	}

	c.log.Info("wrote %d samples from %d images (%d failed, %d prompts filtered)",
		c.stats.Samples, c.stats.Images, c.stats.FailedImages, c.stats.Filtered)
	return nil
}

func (c *Converter) runSequential(ctx context.Context, ids []int) error {
	for pos, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := c.processImage(id)
		res.pos = pos
		if err := c.commit(res); err != nil {
			return err
		}
		c.report(pos+1, len(ids))
	}
	return nil
}

// runParallel fans image processing out to workers while a single writer
// commits results in source order, so ids do not depend on scheduling
func (c *Converter) runParallel(ctx context.Context, ids []int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := c.config.Workers
	jobs := make(chan int)
	results := make(chan imageResult, workers)
	// bounds how far workers may run ahead of the writer
	window := make(chan struct{}, 2*workers)

	go func() {
		defer close(jobs)
		for pos := range ids {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- pos:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range jobs {
				res := c.processImage(ids[pos])
				res.pos = pos
				results <- res
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var runErr error
	pending := make(map[int]imageResult)
	next := 0
	for res := range results {
		pending[res.pos] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if runErr == nil {
				if err := c.commit(r); err != nil {
					runErr = err
					cancel()
				} else {
					c.report(next, len(ids))
				}
			}
			<-window
		}
	}

	if runErr != nil {
		return runErr
	}
	if next < len(ids) {
		return ctx.Err()
	}
	return nil
}

func (c *Converter) report(done, total int) {
	if c.progress != nil {
		c.progress(done, total)
	}
}

// processImage loads one source image and plans every object/prompt pair.
// It touches no shared state besides the diagnostics collector.
func (c *Converter) processImage(imageID int) imageResult {
	entry, _ := c.index.Image(imageID)
	objs := c.index.Objects(imageID)
	res := imageResult{
		imageID: imageID,
		license: entry.License,
		objects: len(objs),
		prompts: len(objs) * c.config.PromptsPerObject,
	}

	path := filepath.Join(c.config.DataDir, entry.FileName)
	img, err := c.store.LoadImage(path)
	if err != nil {
		c.diag.Add(diagnostics.SourceAssetMissing, imageID, "cannot load %s: %v", path, err)
		res.err = fmt.Errorf("%w: %s: %v", ErrSourceAssetMissing, entry.FileName, err)
		return res
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	sampler := noise.New(noise.Derive(c.config.Seed, imageID))
	planner := cropper.NewWithConfig(c.config.Crop, sampler)
	planner.SetDiagnostics(c.diag, imageID)

	var rebaser *rebase.Rebaser
	if c.config.Resize {
		rebaser = rebase.New(c.store, c.config.ImgSize)
		rebaser.SetDiagnostics(c.diag, imageID)
	}

	for _, obj := range objs {
		if !obj.Box.Valid() {
			c.diag.Add(diagnostics.DegenerateBox, imageID, "skipping box %+v", obj.Box)
			continue
		}
		for _, prompt := range c.prompts(obj, sampler) {
			sample, err := c.sample(img, w, h, obj, prompt, planner, rebaser)
			switch {
			case err == nil:
				sample.License = res.license
				res.samples = append(res.samples, sample)
			case errors.Is(err, cropper.ErrCropExceedsImage):
				// same outcome for every object of this image
				c.diag.Add(diagnostics.CropExceedsImage, imageID, "%v", err)
				return res
			case errors.Is(err, cropper.ErrCropTooSmall):
				c.diag.Add(diagnostics.CropTooSmall, imageID, "%v", err)
			case errors.Is(err, cropper.ErrGeometryInconsistency), errors.Is(err, types.ErrDegenerateBox):
				// already recorded by the planner or rebaser
			default:
				c.log.Error("image %d: sample failed: %v", imageID, err)
				c.diag.Add(diagnostics.SampleFailed, imageID, "%v", err)
			}
		}
	}
	return res
}

// prompts returns the prompt points for one object. The first is the
// annotated prompt (or the box center); the rest jitter around the center
// and are clamped into the box.
func (c *Converter) prompts(obj types.ObjectRecord, sampler *noise.Sampler) []types.Point {
	center := obj.Box.Center()
	first := center
	if obj.HasPrompt {
		first = obj.Prompt
	}

	points := make([]types.Point, 0, c.config.PromptsPerObject)
	points = append(points, first)
	for len(points) < c.config.PromptsPerObject {
		x := sampler.Noise(center.X, obj.Box.Width(), c.config.PromptNoise)
		y := sampler.Noise(center.Y, obj.Box.Height(), c.config.PromptNoise)
		points = append(points, types.Point{
			X: types.Clamp(x, obj.Box.XMin, obj.Box.XMax),
			Y: types.Clamp(y, obj.Box.YMin, obj.Box.YMax),
		})
	}
	return points
}

func (c *Converter) sample(img image.Image, w, h int, obj types.ObjectRecord, prompt types.Point,
	planner *cropper.Planner, rebaser *rebase.Rebaser) (types.ConvertedSample, error) {

	plan, err := planner.Plan(w, h, obj.Box, prompt)
	if err != nil {
		return types.ConvertedSample{}, err
	}

	cropped, err := c.store.Crop(img, plan.Window)
	if err != nil {
		return types.ConvertedSample{}, err
	}

	sample := types.ConvertedSample{
		Image:        cropped,
		Box:          plan.Box,
		Prompt:       plan.Prompt,
		Category:     obj.Category,
		CategoryName: obj.CategoryName,
	}

	if rebaser != nil {
		// plan coordinates are relative to the pixel crop, so scale by its width
		resized, err := rebaser.Rebase(cropped, float64(cropped.Bounds().Dx()), plan.Box, plan.Prompt)
		if err != nil {
			return types.ConvertedSample{}, err
		}
		sample.Image = resized.Image
		sample.Box = resized.Box
		sample.Prompt = resized.Prompt
	}
	return sample, nil
}

// commit assigns ids, writes image files and appends manifest entries.
// Only the writer goroutine calls it.
func (c *Converter) commit(res imageResult) error {
	c.stats.Images++
	c.stats.Objects += res.objects

	if res.err != nil {
		c.stats.FailedImages++
		c.log.Warning("skipping image %d: %v", res.imageID, res.err)
		return nil
	}
	c.stats.Filtered += res.prompts - len(res.samples)

	ext := processing.Extension(c.config.Format)
	for _, s := range res.samples {
		id := c.ids.Next()
		name := utils.SampleFilename(id, s.CategoryName, id, ext)
		path := filepath.Join(c.config.DestDir, name)

		if err := c.store.SaveImage(s.Image, path, c.config.Format, c.config.Quality, c.config.Lossless); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}

		bounds := s.Image.Bounds()
		prompt := [2]float64{s.Prompt.X, s.Prompt.Y}
		center := prompt
		c.manifest.Images = append(c.manifest.Images, coco.Image{
			ID:       id,
			FileName: name,
			Width:    bounds.Dx(),
			Height:   bounds.Dy(),
			License:  s.License,
		})
		c.manifest.Annotations = append(c.manifest.Annotations, coco.Annotation{
			ID:         id,
			ImageID:    id,
			CategoryID: int(s.Category),
			BBox:       s.Box.COCO(),
			Area:       s.Box.Area(),
			Prompt:     &prompt,
			Center:     &center,
		})
		c.stats.Samples++
	}
	return nil
}
