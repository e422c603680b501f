package audio

import (
	"math"
	"time"
)

// Simulator is a LevelSource that synthesises activity bursts without any
// audio hardware. Each instance cycles between silence and a noisy active
// plateau, phase-shifted so two simulators do not fire in lockstep.
type Simulator struct {
	peak   float64
	period time.Duration
	duty   float64
	phase  time.Duration
	start  time.Time
	now    func() time.Time
}

// NewSimulator creates a simulated source. peak is the plateau level,
// period the full on/off cycle, duty the active fraction of the cycle and
// phase a fixed offset into it.
func NewSimulator(peak float64, period time.Duration, duty float64, phase time.Duration) *Simulator {
	if period <= 0 {
		period = 10 * time.Second
	}
	if duty <= 0 || duty >= 1 {
		duty = 0.4
	}
	return &Simulator{
		peak:   peak,
		period: period,
		duty:   duty,
		phase:  phase,
		start:  time.Now(),
		now:    time.Now,
	}
}

// Level reports the synthetic amplitude for the current instant.
func (s *Simulator) Level() (float64, error) {
	elapsed := s.now().Sub(s.start) + s.phase
	pos := math.Mod(elapsed.Seconds(), s.period.Seconds()) / s.period.Seconds()

	if pos >= s.duty {
		// Silent part of the cycle, with a faint noise floor.
		return s.peak * 0.02 * (1 + math.Sin(elapsed.Seconds()*7)), nil
	}

	// Active plateau with a wobble so the meter visibly moves.
	wobble := 0.15 * math.Sin(elapsed.Seconds()*13)
	return s.peak * (0.85 + wobble), nil
}
