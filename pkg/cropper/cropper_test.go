package cropper

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/menta2k/point-to-box/pkg/diagnostics"
	"github.com/menta2k/point-to-box/pkg/noise"
	"github.com/menta2k/point-to-box/pkg/types"
)

// scriptedSource replays fixed draws
type scriptedSource struct {
	ints   []int
	floats []float64
}

func (s *scriptedSource) IntN(n int) int {
	if len(s.ints) == 0 {
		return n / 2
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	return v
}

func (s *scriptedSource) Float64() float64 {
	if len(s.floats) == 0 {
		return 0.5
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func newPlanner(cfg CropConfig, src noise.Source) *Planner {
	return NewWithConfig(cfg, noise.NewWithSource(src))
}

func TestNew(t *testing.T) {
	planner := New()
	if planner == nil {
		t.Fatal("New() returned nil")
	}

	if planner.config.CropSize != 100 {
		t.Errorf("Expected default crop size 100, got %d", planner.config.CropSize)
	}

	if planner.config.Oversize != Reject {
		t.Errorf("Expected reject policy by default, got %s", planner.config.Oversize)
	}
}

func TestParseOversizePolicy(t *testing.T) {
	if p, err := ParseOversizePolicy("clamp"); err != nil || p != Clamp {
		t.Errorf("Expected clamp, got %s, %v", p, err)
	}
	if _, err := ParseOversizePolicy("shrink"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestPlanEnlargedScenario(t *testing.T) {
	cfg := CropConfig{CropSize: 50, CropNoise: 0, BoxNoise: 0}
	planner := newPlanner(cfg, &scriptedSource{floats: []float64{0.5}})

	box := types.Box{XMin: 100, YMin: 100, XMax: 150, YMax: 150}
	plan, err := planner.Plan(640, 480, box, types.Point{X: 120, Y: 120})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if !plan.Enlarged {
		t.Error("Expected crop to be enlarged")
	}
	if plan.Size() != 65 {
		t.Errorf("Expected crop size 65, got %f", plan.Size())
	}

	expected := types.CropWindow{Left: 92.5, Upper: 92.5, Right: 157.5, Lower: 157.5}
	if plan.Window != expected {
		t.Errorf("Expected window %+v, got %+v", expected, plan.Window)
	}

	if plan.Box.Width() != 50 || plan.Box.Height() != 50 {
		t.Errorf("Expected re-based box 50x50, got %fx%f", plan.Box.Width(), plan.Box.Height())
	}
	// the pixel crop starts at round(92.5) = 93
	if plan.Box.XMin != 7 || plan.Box.YMin != 7 {
		t.Errorf("Expected re-based box at 7,7, got %f,%f", plan.Box.XMin, plan.Box.YMin)
	}
	if plan.Prompt != (types.Point{X: 27, Y: 27}) {
		t.Errorf("Expected re-based prompt 27,27, got %+v", plan.Prompt)
	}
}

func TestPlanNoEnlargement(t *testing.T) {
	cfg := CropConfig{CropSize: 100}
	planner := newPlanner(cfg, &scriptedSource{})

	box := types.Box{XMin: 100, YMin: 100, XMax: 150, YMax: 150}
	plan, err := planner.Plan(640, 480, box, types.Point{X: 125, Y: 125})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.Enlarged {
		t.Error("Box at 50% of crop should not enlarge it")
	}
	expected := types.CropWindow{Left: 75, Upper: 75, Right: 175, Lower: 175}
	if plan.Window != expected {
		t.Errorf("Expected window %+v, got %+v", expected, plan.Window)
	}
}

func TestPlanJitterIsBounded(t *testing.T) {
	// BoxNoise 0.5 on size 100 draws from IntN(101); 100 -> +50, 0 -> -50.
	// The box leaves 24px of slack on each side (75 -> 100 minus one pixel).
	cfg := CropConfig{CropSize: 100, BoxNoise: 0.5}
	planner := newPlanner(cfg, &scriptedSource{ints: []int{100, 0}})

	box := types.Box{XMin: 100, YMin: 100, XMax: 150, YMax: 150}
	plan, err := planner.Plan(640, 480, box, types.Point{X: 125, Y: 125})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.Window.Left != 99 {
		t.Errorf("Expected left clamped to 99, got %f", plan.Window.Left)
	}
	if plan.Window.Upper != 51 {
		t.Errorf("Expected upper clamped to 51, got %f", plan.Window.Upper)
	}
	if plan.Box.XMin <= 0 || plan.Box.YMax >= plan.Size() {
		t.Errorf("Box should not touch the crop edge: %+v", plan.Box)
	}
}

func TestPlanShiftsIntoImage(t *testing.T) {
	cfg := CropConfig{CropSize: 100}
	planner := newPlanner(cfg, &scriptedSource{})

	// top-left corner
	plan, err := planner.Plan(640, 480, types.Box{XMin: 0, YMin: 0, XMax: 30, YMax: 30}, types.Point{X: 10, Y: 10})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Window != (types.CropWindow{Left: 0, Upper: 0, Right: 100, Lower: 100}) {
		t.Errorf("Expected window shifted to origin, got %+v", plan.Window)
	}

	// bottom-right corner
	plan, err = planner.Plan(640, 480, types.Box{XMin: 620, YMin: 460, XMax: 640, YMax: 480}, types.Point{X: 630, Y: 470})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Window != (types.CropWindow{Left: 540, Upper: 380, Right: 640, Lower: 480}) {
		t.Errorf("Expected window shifted to far corner, got %+v", plan.Window)
	}
	if plan.Prompt != (types.Point{X: 90, Y: 90}) {
		t.Errorf("Expected prompt 90,90, got %+v", plan.Prompt)
	}
}

func TestPlanCropTooSmall(t *testing.T) {
	cfg := CropConfig{CropSize: 100}
	planner := newPlanner(cfg, &scriptedSource{})

	box := types.Box{XMin: 10, YMin: 10, XMax: 510, YMax: 100}
	_, err := planner.Plan(640, 480, box, types.Point{X: 200, Y: 50})
	if !errors.Is(err, ErrCropTooSmall) {
		t.Errorf("Expected ErrCropTooSmall, got %v", err)
	}
}

func TestPlanClampsToShortSide(t *testing.T) {
	cfg := CropConfig{CropSize: 100}
	planner := newPlanner(cfg, &scriptedSource{floats: []float64{1}})

	// 400 * 1.4 = 560 is clamped to 480, which still contains the box
	box := types.Box{XMin: 100, YMin: 40, XMax: 500, YMax: 440}
	plan, err := planner.Plan(640, 480, box, types.Point{X: 300, Y: 240})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Size() != 480 {
		t.Errorf("Expected crop clamped to 480, got %f", plan.Size())
	}
	if plan.Window.Upper != 0 || plan.Window.Lower != 480 {
		t.Errorf("Expected full-height window, got %+v", plan.Window)
	}
}

func TestOversizePolicy(t *testing.T) {
	box := types.Box{XMin: 10, YMin: 10, XMax: 40, YMax: 40}
	prompt := types.Point{X: 20, Y: 20}

	reject := newPlanner(CropConfig{CropSize: 200, Oversize: Reject}, &scriptedSource{})
	if _, err := reject.Plan(300, 200, box, prompt); !errors.Is(err, ErrCropExceedsImage) {
		t.Errorf("Expected ErrCropExceedsImage, got %v", err)
	}

	clamp := newPlanner(CropConfig{CropSize: 200, Oversize: Clamp}, &scriptedSource{})
	plan, err := clamp.Plan(300, 200, box, prompt)
	if err != nil {
		t.Fatalf("Clamp policy should plan: %v", err)
	}
	if plan.Size() != 200 {
		t.Errorf("Expected size 200, got %f", plan.Size())
	}
}

func TestPlanInvalidInput(t *testing.T) {
	planner := New()

	if _, err := planner.Plan(0, 100, types.Box{XMax: 1, YMax: 1}, types.Point{}); err == nil {
		t.Error("Expected error for zero width")
	}
	if _, err := planner.Plan(640, 480, types.Box{XMin: 5, YMin: 5, XMax: 5, YMax: 9}, types.Point{}); !errors.Is(err, types.ErrDegenerateBox) {
		t.Errorf("Expected ErrDegenerateBox, got %v", err)
	}
}

func TestPlanFlagsPromptOutsideCrop(t *testing.T) {
	diag := diagnostics.New(nil)
	planner := newPlanner(CropConfig{CropSize: 100}, &scriptedSource{})
	planner.SetDiagnostics(diag, 17)

	box := types.Box{XMin: 100, YMin: 100, XMax: 150, YMax: 150}
	plan, err := planner.Plan(640, 480, box, types.Point{X: 400, Y: 125})
	if err != nil {
		t.Fatalf("Non-strict planner should still emit: %v", err)
	}
	if plan.Prompt.X <= plan.Size() {
		t.Errorf("Expected prompt outside crop, got %+v", plan.Prompt)
	}

	entries := diag.Entries()
	if len(entries) != 1 || entries[0].Kind != diagnostics.GeometryInconsistency || entries[0].ImageID != 17 {
		t.Errorf("Expected one geometry diagnostic for image 17, got %+v", entries)
	}

	strict := newPlanner(CropConfig{CropSize: 100, StrictGeometry: true}, &scriptedSource{})
	if _, err := strict.Plan(640, 480, box, types.Point{X: 400, Y: 125}); !errors.Is(err, ErrGeometryInconsistency) {
		t.Errorf("Expected ErrGeometryInconsistency, got %v", err)
	}
}

func TestPlanInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	cfg := CropConfig{CropSize: 120, CropNoise: 0.3, BoxNoise: 0.4, Oversize: Clamp}
	planner := NewWithConfig(cfg, noise.New(5))

	for i := 0; i < 2000; i++ {
		w := 150 + rng.IntN(800)
		h := 150 + rng.IntN(800)
		bw := 1 + rng.Float64()*float64(w-1)*0.7
		bh := 1 + rng.Float64()*float64(h-1)*0.7
		x := rng.Float64() * (float64(w) - bw)
		y := rng.Float64() * (float64(h) - bh)
		box := types.Box{XMin: x, YMin: y, XMax: x + bw, YMax: y + bh}

		plan, err := planner.Plan(w, h, box, box.Center())
		if errors.Is(err, ErrCropTooSmall) {
			continue
		}
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}

		win := plan.Window
		if win.Left < 0 || win.Left >= win.Right || win.Right > float64(w) {
			t.Fatalf("Horizontal bounds violated: %+v in %dx%d", win, w, h)
		}
		if win.Upper < 0 || win.Upper >= win.Lower || win.Lower > float64(h) {
			t.Fatalf("Vertical bounds violated: %+v in %dx%d", win, w, h)
		}
		if math.Abs((win.Right-win.Left)-(win.Lower-win.Upper)) > 1e-9 {
			t.Fatalf("Window not square: %+v", win)
		}
		if plan.Size() < box.LongSide() {
			t.Fatalf("Window %f smaller than box %f", plan.Size(), box.LongSide())
		}
		if math.Abs(plan.Box.Width()-box.Width()) > 1e-9 || math.Abs(plan.Box.Height()-box.Height()) > 1e-9 {
			t.Fatalf("Cropping changed box size: %+v -> %+v", box, plan.Box)
		}
		origin := win.Rect().Min
		if math.Abs(plan.Box.XMin-(box.XMin-float64(origin.X))) > 1e-9 || math.Abs(plan.Box.YMin-(box.YMin-float64(origin.Y))) > 1e-9 {
			t.Fatalf("Box %+v not relative to pixel origin %v of %+v", plan.Box, origin, box)
		}
	}
}

func BenchmarkPlan(b *testing.B) {
	planner := NewWithConfig(DefaultConfig(), noise.New(1))
	box := types.Box{XMin: 200, YMin: 150, XMax: 260, YMax: 230}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		planner.Plan(1920, 1080, box, box.Center())
	}
}
