package motion

import "time"

// Phase is a blink state machine phase. Phases only ever advance in order
// Idle, Closing, Holding, Opening and back to Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseClosing
	PhaseHolding
	PhaseOpening
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseClosing:
		return "CLOSING"
	case PhaseHolding:
		return "HOLDING"
	case PhaseOpening:
		return "OPENING"
	default:
		return "UNKNOWN"
	}
}

// Next returns the phase that follows p.
func (p Phase) Next() Phase {
	return (p + 1) % 4
}

// BlinkState is the eye-open value and its phase. Value is 1 when open.
type BlinkState struct {
	Value       float64
	Phase       Phase
	PhaseStart  time.Time
	NextTrigger time.Time
}

// NewBlink returns an open, idle blink scheduled at a random future offset.
func NewBlink(now time.Time, tuning BlinkTuning, rnd Rand) BlinkState {
	return BlinkState{
		Value:       1,
		Phase:       PhaseIdle,
		PhaseStart:  now,
		NextTrigger: now.Add(uniformDuration(rnd, tuning.IntervalMin, tuning.IntervalMax)),
	}
}

// AdvanceBlink applies at most one phase transition for the given time.
func AdvanceBlink(s *BlinkState, now time.Time, tuning BlinkTuning, rnd Rand) {
	elapsed := now.Sub(s.PhaseStart)

	switch s.Phase {
	case PhaseIdle:
		if !now.Before(s.NextTrigger) {
			s.enter(PhaseClosing, now)
		}
	case PhaseClosing:
		v := 1 - halfProgress(elapsed, tuning.Close)
		if v < 0 {
			v = 0
		}
		// Never reopen mid-close, even if the clock steps backwards.
		if v > s.Value {
			v = s.Value
		}
		s.Value = v
		if s.Value <= 0 {
			s.Value = 0
			s.enter(PhaseHolding, now)
		}
	case PhaseHolding:
		s.Value = 0
		if elapsed >= tuning.Hold {
			s.enter(PhaseOpening, now)
		}
	case PhaseOpening:
		v := halfProgress(elapsed, tuning.Close)
		if v > 1 {
			v = 1
		}
		if v < s.Value {
			v = s.Value
		}
		s.Value = v
		if s.Value >= 1 {
			s.Value = 1
			s.enter(PhaseIdle, now)
			s.NextTrigger = now.Add(uniformDuration(rnd, tuning.IntervalMin, tuning.IntervalMax))
		}
	}
}

func (s *BlinkState) enter(p Phase, now time.Time) {
	s.Phase = p
	s.PhaseStart = now
}

// halfProgress is elapsed as a fraction of half the close duration.
func halfProgress(elapsed, closeDuration time.Duration) float64 {
	half := closeDuration / 2
	if half <= 0 {
		return 1
	}
	return elapsed.Seconds() / half.Seconds()
}
