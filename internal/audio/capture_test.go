package audio

import (
	"errors"
	"testing"
	"time"
)

// ============================================================
// Level Reporting
// ============================================================

func TestCapture_LevelBeforeFirstSample(t *testing.T) {
	c := NewCapture(CaptureConfig{Name: "left", Device: "plughw:1,0"})

	if _, err := c.Level(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Level() error = %v, want ErrNotStarted", err)
	}
}

func TestCapture_LevelFreshSample(t *testing.T) {
	c := NewCapture(CaptureConfig{Name: "left", Device: "plughw:1,0"})

	c.mu.Lock()
	c.level = 640
	c.lastSample = time.Now()
	c.mu.Unlock()

	got, err := c.Level()
	if err != nil {
		t.Fatalf("Level() error = %v", err)
	}
	if got != 640 {
		t.Errorf("Level() = %v, want 640", got)
	}
}

func TestCapture_LevelStale(t *testing.T) {
	c := NewCapture(CaptureConfig{
		Name:       "left",
		Device:     "plughw:1,0",
		StaleAfter: 50 * time.Millisecond,
	})

	c.mu.Lock()
	c.level = 640
	c.lastSample = time.Now().Add(-time.Second)
	c.lastError = errors.New("arecord exited: exit status 1")
	c.mu.Unlock()

	got, err := c.Level()
	if !errors.Is(err, ErrStale) {
		t.Errorf("Level() error = %v, want ErrStale", err)
	}
	if got != 0 {
		t.Errorf("Level() = %v, want 0 while stale", got)
	}
}

// ============================================================
// Simulator
// ============================================================

func TestSimulator_CyclesBetweenActiveAndSilent(t *testing.T) {
	s := NewSimulator(1000, 10*time.Second, 0.4, 0)
	base := time.Now()
	s.start = base

	// Inside the active plateau.
	s.now = func() time.Time { return base.Add(1 * time.Second) }
	active, err := s.Level()
	if err != nil {
		t.Fatalf("Level() error = %v", err)
	}
	if active < 500 {
		t.Errorf("active level = %v, want well above the noise floor", active)
	}

	// Inside the silent part of the cycle.
	s.now = func() time.Time { return base.Add(7 * time.Second) }
	silent, err := s.Level()
	if err != nil {
		t.Fatalf("Level() error = %v", err)
	}
	if silent > 100 {
		t.Errorf("silent level = %v, want near zero", silent)
	}
}
