// Package pointtobox prepares object-localization training data for a
// point-to-box model: given an image and one prompt point inside an object,
// predict that object's bounding box.
//
// A whole-image, multi-object COCO dataset is converted into square
// single-object crops. Each crop carries one bounding box and one prompt
// point re-projected through the crop and an optional resize. The result
// can be split into train/val directories, read back as 4-channel tensors
// and scored with the Complete-IoU loss.
//
// Basic usage:
//
//	cfg := config.Default()
//	cfg.Converter.DataDir = "coco/val2017"
//	cfg.Converter.Annotations = "coco/annotations/instances_val2017.json"
//	cfg.Output.OutputDir = "ptb"
//
//	p, err := pointtobox.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := p.Convert(context.Background())
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("%d samples, %d filtered\n", res.Stats.Samples, res.Stats.Filtered)
//
// The package consists of these components:
//
//  1. Cropper (pkg/cropper): plans randomized square crops around one object
//  2. Rebase (pkg/rebase): maps crop geometry into the resized frame
//  3. Converter (pkg/converter): drives the conversion and owns the manifest
//  4. Split (pkg/split): partitions and lays out train/val
//  5. Dataset, loss and model (pkg/dataset, pkg/loss, pkg/model): read
//     samples and evaluate localizers
package pointtobox

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/menta2k/point-to-box/internal/config"
	"github.com/menta2k/point-to-box/internal/utils"
	"github.com/menta2k/point-to-box/pkg/analyzer"
	"github.com/menta2k/point-to-box/pkg/coco"
	"github.com/menta2k/point-to-box/pkg/converter"
	"github.com/menta2k/point-to-box/pkg/coords"
	"github.com/menta2k/point-to-box/pkg/dataset"
	"github.com/menta2k/point-to-box/pkg/diagnostics"
	"github.com/menta2k/point-to-box/pkg/model"
	"github.com/menta2k/point-to-box/pkg/processing"
	"github.com/menta2k/point-to-box/pkg/split"
)

// Version of the point-to-box library
const Version = "1.0.0"

// Pipeline runs conversion, splitting and evaluation from one configuration
type Pipeline struct {
	config   *config.Config
	store    *processing.Processor
	log      converter.Logger
	progress converter.ProgressFunc
}

// New validates cfg and creates a pipeline
func New(cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Pipeline{
		config: cfg,
		store:  processing.NewProcessor(),
	}, nil
}

// SetLogger routes progress messages and diagnostics to l
func (p *Pipeline) SetLogger(l converter.Logger) {
	p.log = l
}

// SetProgress installs a per-image progress callback for Convert
func (p *Pipeline) SetProgress(fn converter.ProgressFunc) {
	p.progress = fn
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() *config.Config {
	return p.config
}

// Result describes a finished conversion
type Result struct {
	Stats        converter.Stats     `json:"stats"`
	Diagnostics  []diagnostics.Entry `json:"diagnostics,omitempty"`
	ManifestPath string              `json:"manifest_path,omitempty"`
	TrainPath    string              `json:"train_path,omitempty"`
	ValPath      string              `json:"val_path,omitempty"`
	TrainImages  int                 `json:"train_images"`
	ValImages    int                 `json:"val_images"`
}

func (p *Pipeline) loadSource() (*coco.Index, error) {
	ds, err := coco.Load(p.annotationsPath())
	if err != nil {
		return nil, err
	}
	return coco.NewIndex(ds), nil
}

// annotationsPath resolves a relative annotations file against the data dir
// when it is not found as given
func (p *Pipeline) annotationsPath() string {
	path := p.config.Converter.Annotations
	if filepath.IsAbs(path) || p.config.Converter.DataDir == "" || utils.FileExists(path) {
		return path
	}
	return filepath.Join(p.config.Converter.DataDir, path)
}

// Check inspects the source dataset without writing anything
func (p *Pipeline) Check(ctx context.Context) (*analyzer.Report, error) {
	index, err := p.loadSource()
	if err != nil {
		return nil, err
	}
	a := analyzer.NewWithConfig(analyzer.Config{
		SupportedFormats: []string{"jpeg", "png", "webp"},
		MinImageSize:     1,
		CropSize:         p.config.Converter.CropSize,
		Oversize:         p.config.CropConfig().Oversize,
	})
	var sink diagnostics.Sink
	if p.log != nil {
		sink = p.log
	}
	return a.AnalyzeDataset(ctx, p.config.Converter.DataDir, index, sink)
}

// Convert runs the conversion and, when enabled, the train/val split
func (p *Pipeline) Convert(ctx context.Context) (*Result, error) {
	index, err := p.loadSource()
	if err != nil {
		return nil, err
	}

	cfg := p.config
	conv := converter.New(converter.Config{
		DataDir:          cfg.Converter.DataDir,
		DestDir:          cfg.Output.OutputDir,
		Crop:             cfg.CropConfig(),
		Resize:           cfg.Converter.Resize,
		ImgSize:          cfg.Converter.ImgSize,
		PromptsPerObject: cfg.Converter.PromptsPerObject,
		PromptNoise:      cfg.Converter.PromptNoise,
		Seed:             cfg.Converter.Seed,
		Workers:          cfg.Converter.Workers,
		Format:           cfg.Output.Format,
		Quality:          cfg.Output.Quality,
		Lossless:         cfg.Output.Lossless,
	}, index, p.store)
	if p.log != nil {
		conv.SetLogger(p.log)
	}
	if p.progress != nil {
		conv.SetProgress(p.progress)
	}

	if err := conv.Run(ctx); err != nil {
		return nil, err
	}

	res := &Result{
		Stats:       conv.Stats(),
		Diagnostics: conv.Diagnostics().Entries(),
	}

	if !cfg.Split.Enabled {
		res.ManifestPath = filepath.Join(cfg.Output.OutputDir, split.AnnotationsFile)
		if err := conv.WriteManifest(res.ManifestPath); err != nil {
			return nil, err
		}
		return res, nil
	}

	w := split.NewWriter(cfg.Split.ValPct, cfg.Split.Seed)
	if p.log != nil {
		w.SetLogger(p.log)
	}
	sr, err := w.Write(cfg.Output.OutputDir, conv.Manifest())
	if err != nil {
		return nil, err
	}
	res.TrainPath, res.ValPath = sr.TrainPath, sr.ValPath
	res.TrainImages, res.ValImages = len(sr.Train.Images), len(sr.Val.Images)
	return res, nil
}

// OpenDataset opens a converted dataset whose manifest is annotations and
// whose images live next to it, producing targets in the configured box format
func (p *Pipeline) OpenDataset(annotations string, transform dataset.ImageTransform, stage int) (*dataset.Loader, error) {
	return dataset.Open(filepath.Dir(annotations), annotations, dataset.Options{
		Format:    coords.Format(p.config.Output.BoxFormat),
		Transform: transform,
		Stage:     stage,
		Images:    p.store,
	})
}

// Evaluate scores loc on the converted dataset at annotations
func (p *Pipeline) Evaluate(ctx context.Context, loc model.Localizer, annotations string, batchSize int) (model.Evaluation, error) {
	loader, err := p.OpenDataset(annotations, nil, 0)
	if err != nil {
		return model.Evaluation{}, err
	}
	return model.Evaluate(ctx, loc, loader, batchSize)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
