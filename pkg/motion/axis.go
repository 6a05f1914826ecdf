package motion

import "time"

// AxisState is the wander state of one axis.
type AxisState struct {
	Name             string
	Current          float64
	Target           float64
	Min              float64
	Max              float64
	LastRetarget     time.Time
	RetargetInterval time.Duration
}

// NewAxis places the axis at a random point inside its bounds with a jittered
// first retarget interval, so axes created together do not retarget together.
func NewAxis(cfg AxisConfig, now time.Time, tuning AxisTuning, rnd Rand) AxisState {
	lo, hi := cfg.Min, cfg.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	start := uniform(rnd, lo, hi)
	return AxisState{
		Name:             cfg.Name,
		Current:          start,
		Target:           start,
		Min:              lo,
		Max:              hi,
		LastRetarget:     now,
		RetargetInterval: nextRetargetInterval(tuning, rnd),
	}
}

// AdvanceAxis moves the axis one tick toward its target, picking a new target
// first when the retarget interval has elapsed.
func AdvanceAxis(s *AxisState, now time.Time, tuning AxisTuning, rnd Rand) {
	if now.Sub(s.LastRetarget) > s.RetargetInterval {
		s.Target = uniform(rnd, s.Min, s.Max)
		s.LastRetarget = now
		s.RetargetInterval = nextRetargetInterval(tuning, rnd)
	}

	s.Current += (s.Target - s.Current) * tuning.Ease
	s.Current += uniform(rnd, -tuning.Noise, tuning.Noise) * tuning.Ease
	s.Current = clamp(s.Current, s.Min, s.Max)
}

func nextRetargetInterval(tuning AxisTuning, rnd Rand) time.Duration {
	jitter := 1 + uniform(rnd, -tuning.RetargetJitter, tuning.RetargetJitter)
	interval := time.Duration(float64(tuning.RetargetInterval) * jitter)
	if interval < MinRetargetInterval {
		return MinRetargetInterval
	}
	return interval
}
