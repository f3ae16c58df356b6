package diagnostics

import (
	"fmt"
	"sync"
	"testing"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSink) Warning(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func TestCollector(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink)

	c.Add(GeometryInconsistency, 3, "prompt (%d,%d) outside crop", -1, 4)
	c.Add(CropTooSmall, 4, "box 90x90 does not fit")

	if c.Len() != 2 {
		t.Fatalf("Expected 2 entries, got %d", c.Len())
	}
	if c.Count(GeometryInconsistency) != 1 {
		t.Errorf("Expected 1 geometry entry, got %d", c.Count(GeometryInconsistency))
	}

	e := c.Entries()[0]
	if e.ImageID != 3 || e.Message != "prompt (-1,4) outside crop" {
		t.Errorf("Unexpected entry %+v", e)
	}
	if len(sink.lines) != 2 {
		t.Errorf("Expected sink to receive 2 lines, got %d", len(sink.lines))
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Add(CropTooSmall, 1, "ignored")

	if c.Len() != 0 || c.Entries() != nil {
		t.Error("Nil collector should record nothing")
	}
}

func TestConcurrentAdd(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(SourceAssetMissing, i, "missing")
		}(i)
	}
	wg.Wait()

	if c.Count(SourceAssetMissing) != 50 {
		t.Errorf("Expected 50 entries, got %d", c.Count(SourceAssetMissing))
	}
}
