// Package motion synthesizes idle avatar motion: a set of independently
// wandering axes plus an eye blink, advanced by wall-clock time.
//
// Nothing in this package performs I/O or reads the clock. Callers pass the
// current time and an explicit random source, so a fixed seed replays the
// exact same frames.
package motion

import (
	"math/rand/v2"
	"time"
)

// MinRetargetInterval is the floor applied to every jittered retarget interval.
const MinRetargetInterval = 800 * time.Millisecond

// Rand is the random source consumed by the model. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// NewRand returns a deterministic source for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// AxisConfig names one animated parameter and its bounds.
type AxisConfig struct {
	Name string
	Min  float64
	Max  float64
}

// AxisTuning controls how axes wander.
type AxisTuning struct {
	Ease             float64
	Noise            float64
	RetargetInterval time.Duration
	RetargetJitter   float64
}

// BlinkTuning controls the blink state machine.
type BlinkTuning struct {
	IntervalMin time.Duration
	IntervalMax time.Duration
	// Close is the full close+open time; each half takes Close/2.
	Close time.Duration
	Hold  time.Duration
}

// Config is the full model configuration.
type Config struct {
	Axes  []AxisConfig
	Axis  AxisTuning
	Blink BlinkTuning
}

// DefaultAxes are the head angles driven when nothing else is configured.
func DefaultAxes() []AxisConfig {
	return []AxisConfig{
		{Name: "FaceAngleX", Min: -15, Max: 15},
		{Name: "FaceAngleY", Min: -10, Max: 10},
		{Name: "FaceAngleZ", Min: -20, Max: 20},
	}
}

// DefaultAxisTuning eases 10% per tick toward a target redrawn about every 3s.
func DefaultAxisTuning() AxisTuning {
	return AxisTuning{
		Ease:             0.1,
		Noise:            0.25,
		RetargetInterval: 3 * time.Second,
		RetargetJitter:   0.3,
	}
}

// DefaultBlinkTuning blinks every 2-6s with a 140ms close/open and a 30ms hold.
func DefaultBlinkTuning() BlinkTuning {
	return BlinkTuning{
		IntervalMin: 2 * time.Second,
		IntervalMax: 6 * time.Second,
		Close:       140 * time.Millisecond,
		Hold:        30 * time.Millisecond,
	}
}

// DefaultConfig drives the three head angles with the default tunings.
func DefaultConfig() Config {
	return Config{
		Axes:  DefaultAxes(),
		Axis:  DefaultAxisTuning(),
		Blink: DefaultBlinkTuning(),
	}
}

func uniform(rnd Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rnd.Float64()
}

func uniformDuration(rnd Rand, lo, hi time.Duration) time.Duration {
	return time.Duration(uniform(rnd, float64(lo), float64(hi)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
