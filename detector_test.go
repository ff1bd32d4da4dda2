package gpuwaste

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/gpuwaste/capture"
)

type countingDetector struct {
	threshold int
	seen      []capture.EventID
}

func (d *countingDetector) Name() string { return "counting" }

func (d *countingDetector) Inspect(_ context.Context, _ capture.Session, draw *DrawCallRecord) ([]Finding, error) {
	d.seen = append(d.seen, draw.EventID)
	return nil, nil
}

func TestBuiltinDetectorsRegistered(t *testing.T) {
	want := []string{"bindings", "geometry", "memory", "overdraw", "passes", "stats", "vertex"}
	got := DetectorNames()
	for _, name := range want {
		if !slices.Contains(got, name) {
			t.Errorf("detector %q not registered (have %v)", name, got)
		}
	}
	if !slices.IsSorted(got) {
		t.Errorf("DetectorNames() not sorted: %v", got)
	}
}

func TestRegisterDetector(t *testing.T) {
	const name = "test-counting"
	t.Cleanup(func() { UnregisterDetector(name) })

	var made *countingDetector
	RegisterDetector(name, func(th Thresholds) Detector {
		made = &countingDetector{threshold: th.TopDraws}
		return made
	})
	if !IsDetectorRegistered(name) {
		t.Fatal("detector not registered")
	}

	d, err := NewDetector(name, Thresholds{})
	if err != nil {
		t.Fatal(err)
	}
	if d != Detector(made) || made.threshold != DefaultThresholds().TopDraws {
		t.Errorf("factory got thresholds without defaults: %d", made.threshold)
	}

	if _, err := Analyze(context.Background(), wasteFrame(3), WithDetectors(name)); err != nil {
		t.Fatal(err)
	}
	if len(made.seen) != 3 {
		t.Errorf("custom detector saw %v, want 3 draws", made.seen)
	}
}

func TestRegisterDetectorPanics(t *testing.T) {
	t.Run("nil factory", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("RegisterDetector(nil) should panic")
			}
		}()
		RegisterDetector("test-nil", nil)
	})

	t.Run("duplicate", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("duplicate RegisterDetector should panic")
			}
		}()
		RegisterDetector(DetectorBindings, func(Thresholds) Detector { return &countingDetector{} })
	})
}

func TestNewDetectorUnknown(t *testing.T) {
	_, err := NewDetector("mipmaps", Thresholds{})
	if err == nil || !strings.Contains(err.Error(), "forgotten import") {
		t.Errorf("err = %v, want a forgotten import hint", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustDetector should panic for unknown names")
		}
	}()
	MustDetector("mipmaps", Thresholds{})
}

func TestThresholdsWithDefaults(t *testing.T) {
	got := Thresholds{OverdrawRatio: 5, TopDraws: -1}.withDefaults()
	want := DefaultThresholds()
	want.OverdrawRatio = 5
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
}
