package coco

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/point-to-box/pkg/types"
)

const sample = `{
  "info": {"description": "test"},
  "licenses": [{"id": 1, "name": "cc"}],
  "images": [
    {"id": 7, "file_name": "b.jpg", "width": 640, "height": 480},
    {"id": 2, "file_name": "a.jpg", "width": 320, "height": 240}
  ],
  "annotations": [
    {"id": 1, "image_id": 7, "category_id": 3, "bbox": [100, 100, 50, 50], "area": 2500, "iscrowd": 0, "prompt": [120, 121]},
    {"id": 2, "image_id": 7, "category_id": 3, "bbox": [10, 20, 30, 40], "area": 1200, "iscrowd": 1},
    {"id": 3, "image_id": 7, "category_id": 4, "bbox": [200, 200, 20, 10], "area": 200, "iscrowd": 0, "center": [210, 205]},
    {"id": 4, "image_id": 2, "category_id": 4, "bbox": [5, 5, 10, 10], "area": 100, "iscrowd": 0}
  ],
  "categories": [{"id": 3, "name": "cat"}, {"id": 4, "name": "dog"}]
}`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "annotations.json")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	ds, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(ds.Images) != 2 || len(ds.Annotations) != 4 || len(ds.Categories) != 2 {
		t.Errorf("Unexpected counts: %d images, %d annotations, %d categories",
			len(ds.Images), len(ds.Annotations), len(ds.Categories))
	}
	if len(ds.Info) == 0 || len(ds.Licenses) == 0 {
		t.Error("Expected info and licenses to be preserved")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte("{"), 0644)
	if _, err := Load(bad); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestIndex(t *testing.T) {
	ds, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	idx := NewIndex(ds)

	ids := idx.ImageIDs()
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 7 {
		t.Errorf("Expected sorted ids [2 7], got %v", ids)
	}

	objs := idx.Objects(7)
	if len(objs) != 2 {
		t.Fatalf("Expected crowd annotation to be skipped, got %d objects", len(objs))
	}

	first := objs[0]
	if first.Box != (types.Box{XMin: 100, YMin: 100, XMax: 150, YMax: 150}) {
		t.Errorf("Unexpected box %+v", first.Box)
	}
	if !first.HasPrompt || first.Prompt != (types.Point{X: 120, Y: 121}) {
		t.Errorf("Expected prompt 120,121, got %+v", first.Prompt)
	}
	if first.CategoryName != "cat" {
		t.Errorf("Expected category cat, got %q", first.CategoryName)
	}

	if objs[1].Prompt != (types.Point{X: 210, Y: 205}) {
		t.Errorf("Expected center fallback, got %+v", objs[1].Prompt)
	}

	if other := idx.Objects(2); len(other) != 1 || other[0].HasPrompt {
		t.Errorf("Expected one object without prompt, got %+v", other)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	prompt := [2]float64{3, 4}
	ds := &Dataset{
		Images:      []Image{{ID: 0, FileName: "img_0_cat_0.jpg", Width: 512, Height: 512}},
		Annotations: []Annotation{{ID: 0, ImageID: 0, CategoryID: 1, BBox: [4]float64{1, 2, 3, 4}, Area: 12, Prompt: &prompt}},
		Categories:  []Category{{ID: 1, Name: "cat"}},
	}

	path := filepath.Join(t.TempDir(), "nested", "out.json")
	if err := ds.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Annotations[0].Prompt == nil || *loaded.Annotations[0].Prompt != prompt {
		t.Errorf("Prompt not preserved: %+v", loaded.Annotations[0])
	}
	if loaded.Images[0].FileName != "img_0_cat_0.jpg" {
		t.Errorf("Unexpected file name %q", loaded.Images[0].FileName)
	}
}
