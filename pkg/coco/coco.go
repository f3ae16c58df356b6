// Package coco reads and writes COCO-style annotation manifests.
package coco

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/menta2k/point-to-box/pkg/types"
)

// Dataset mirrors the top-level COCO JSON document
type Dataset struct {
	Info        json.RawMessage `json:"info,omitempty"`
	Licenses    json.RawMessage `json:"licenses,omitempty"`
	Images      []Image         `json:"images"`
	Annotations []Annotation    `json:"annotations"`
	Categories  []Category      `json:"categories"`
}

// Image is one entry of the images list
type Image struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	License  int    `json:"license,omitempty"`
}

// Annotation is one entry of the annotations list.
// Prompt and Center are both accepted on input; Prompt wins.
type Annotation struct {
	ID           int             `json:"id"`
	ImageID      int             `json:"image_id"`
	CategoryID   int             `json:"category_id"`
	BBox         [4]float64      `json:"bbox"`
	Area         float64         `json:"area"`
	IsCrowd      int             `json:"iscrowd"`
	Prompt       *[2]float64     `json:"prompt,omitempty"`
	Center       *[2]float64     `json:"center,omitempty"`
	Segmentation json.RawMessage `json:"segmentation,omitempty"`
}

// PromptPoint returns the annotation's prompt, falling back to center
func (a Annotation) PromptPoint() (types.Point, bool) {
	switch {
	case a.Prompt != nil:
		return types.Point{X: a.Prompt[0], Y: a.Prompt[1]}, true
	case a.Center != nil:
		return types.Point{X: a.Center[0], Y: a.Center[1]}, true
	}
	return types.Point{}, false
}

// Category is one entry of the categories list
type Category struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// Load reads a COCO JSON file
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read annotations %s", path)
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, errors.Wrapf(err, "parse annotations %s", path)
	}
	return &ds, nil
}

// Save writes the dataset as indented JSON, creating parent directories
func (d *Dataset) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create annotation directory")
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal annotations")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write annotations %s", path)
	}
	return nil
}

// Index provides per-image lookups over a Dataset
type Index struct {
	dataset     *Dataset
	images      map[int]Image
	annotations map[int][]Annotation
	categories  map[int]Category
}

// NewIndex builds lookup tables for ds
func NewIndex(ds *Dataset) *Index {
	idx := &Index{
		dataset:     ds,
		images:      make(map[int]Image, len(ds.Images)),
		annotations: make(map[int][]Annotation),
		categories:  make(map[int]Category, len(ds.Categories)),
	}
	for _, img := range ds.Images {
		idx.images[img.ID] = img
	}
	for _, ann := range ds.Annotations {
		idx.annotations[ann.ImageID] = append(idx.annotations[ann.ImageID], ann)
	}
	for _, cat := range ds.Categories {
		idx.categories[cat.ID] = cat
	}
	return idx
}

// Dataset returns the indexed dataset
func (i *Index) Dataset() *Dataset {
	return i.dataset
}

// ImageIDs returns all image ids in ascending order
func (i *Index) ImageIDs() []int {
	ids := maps.Keys(i.images)
	slices.Sort(ids)
	return ids
}

// Image returns the image entry for id
func (i *Index) Image(id int) (Image, bool) {
	img, ok := i.images[id]
	return img, ok
}

// Annotations returns every annotation of an image in file order
func (i *Index) Annotations(imageID int) []Annotation {
	return i.annotations[imageID]
}

// Category returns the category entry for id
func (i *Index) Category(id int) (Category, bool) {
	cat, ok := i.categories[id]
	return cat, ok
}

// Objects returns the non-crowd objects of an image
func (i *Index) Objects(imageID int) []types.ObjectRecord {
	var objs []types.ObjectRecord
	for _, ann := range i.annotations[imageID] {
		if ann.IsCrowd != 0 {
			continue
		}
		prompt, ok := ann.PromptPoint()
		obj := types.ObjectRecord{
			Box:       types.FromCOCO(ann.BBox),
			Prompt:    prompt,
			HasPrompt: ok,
			Category:  types.CategoryID(ann.CategoryID),
		}
		if cat, found := i.categories[ann.CategoryID]; found {
			obj.CategoryName = cat.Name
		}
		objs = append(objs, obj)
	}
	return objs
}
