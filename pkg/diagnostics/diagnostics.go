// Package diagnostics collects non-fatal conversion warnings so callers and
// tests can inspect them after a run.
package diagnostics

import (
	"fmt"
	"sync"
)

// Kind classifies a diagnostic
type Kind string

const (
	GeometryInconsistency Kind = "geometry_inconsistency"
	CropTooSmall          Kind = "crop_too_small"
	CropExceedsImage      Kind = "crop_exceeds_image"
	SourceAssetMissing    Kind = "source_asset_missing"
	DegenerateBox         Kind = "degenerate_box"
	SampleFailed          Kind = "sample_failed" // crop or resize error unrelated to geometry
)

// Entry is a single recorded warning
type Entry struct {
	Kind    Kind   `json:"kind"`
	ImageID int    `json:"image_id"`
	Message string `json:"message"`
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] image %d: %s", e.Kind, e.ImageID, e.Message)
}

// Sink receives every entry as it is recorded
type Sink interface {
	Warning(format string, v ...interface{})
}

// Collector accumulates entries; safe for concurrent use
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	sink    Sink
}

// New creates an empty Collector. sink may be nil.
func New(sink Sink) *Collector {
	return &Collector{sink: sink}
}

// Add records an entry. A nil Collector discards it.
func (c *Collector) Add(kind Kind, imageID int, format string, v ...interface{}) {
	if c == nil {
		return
	}
	e := Entry{Kind: kind, ImageID: imageID, Message: fmt.Sprintf(format, v...)}

	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Warning("%s", e)
	}
}

// Entries returns a copy of everything recorded so far
func (c *Collector) Entries() []Entry {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Count returns the number of entries of the given kind
func (c *Collector) Count(kind Kind) int {
	n := 0
	for _, e := range c.Entries() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Len returns the total number of entries
func (c *Collector) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
