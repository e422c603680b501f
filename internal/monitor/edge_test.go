package monitor

import "testing"

// ============================================================
// Edge Trigger
// ============================================================

func TestEdgeTrigger_InitialSilenceSuppressed(t *testing.T) {
	var e EdgeTrigger

	// Initial state matches silence, so nothing to publish.
	if e.ShouldPublish(false) {
		t.Error("expected no publish for initial silence")
	}
}

func TestEdgeTrigger_RisingEdgePublishes(t *testing.T) {
	var e EdgeTrigger

	if !e.ShouldPublish(true) {
		t.Fatal("expected publish on rising edge")
	}
	e.MarkPublished(true)

	if got := e.LastPublished(); got != true {
		t.Errorf("LastPublished = %v, want true", got)
	}
}

func TestEdgeTrigger_ActiveRepublishesEveryTick(t *testing.T) {
	var e EdgeTrigger

	for i := 0; i < 3; i++ {
		if !e.ShouldPublish(true) {
			t.Fatalf("tick %d: expected publish while active", i)
		}
		e.MarkPublished(true)
	}
}

func TestEdgeTrigger_FallingEdgePublishesOnce(t *testing.T) {
	var e EdgeTrigger
	e.MarkPublished(true)

	if !e.ShouldPublish(false) {
		t.Fatal("expected publish on falling edge")
	}
	e.MarkPublished(false)

	if e.ShouldPublish(false) {
		t.Error("expected no publish while silent after falling edge")
	}
}

func TestEdgeTrigger_FailedPublishNotRetried(t *testing.T) {
	var e EdgeTrigger

	// The trigger is marked on every attempt, so a failed rising-edge
	// publish of silence->silence is not re-raised.
	if !e.ShouldPublish(true) {
		t.Fatal("expected publish on rising edge")
	}
	e.MarkPublished(true)

	if !e.ShouldPublish(false) {
		t.Fatal("expected publish on falling edge")
	}
	e.MarkPublished(false) // attempt failed at the transport, still marked

	if e.ShouldPublish(false) {
		t.Error("silence must not be re-published after a marked attempt")
	}
}

func TestEdgeTrigger_ThresholdScenario(t *testing.T) {
	// Readings against a threshold of 500: publishes are expected at the
	// rising edge, while active, and at the falling edge.
	const threshold = 500.0
	readings := []float64{100, 600, 600, 100}
	wantPublish := []bool{false, true, true, true}

	var e EdgeTrigger
	for i, level := range readings {
		active := level > threshold
		got := e.ShouldPublish(active)
		if got != wantPublish[i] {
			t.Errorf("reading %d (level %.0f): ShouldPublish = %v, want %v",
				i, level, got, wantPublish[i])
		}
		if got {
			e.MarkPublished(active)
		}
	}
}
