package motion

import "time"

// AxisValue is one axis sample in a frame.
type AxisValue struct {
	Name  string
	Value float64
}

// Frame is the output of one model tick.
type Frame struct {
	Axes  []AxisValue
	Blink float64
}

// Model owns the state of every axis and the blink. It is not safe for
// concurrent use; a single goroutine advances it.
type Model struct {
	cfg   Config
	rnd   Rand
	axes  []AxisState
	blink BlinkState
}

// New initializes fresh motion state. Every session starts from a new model
// since the host keeps no memory of earlier animation phase.
func New(cfg Config, rnd Rand, now time.Time) *Model {
	m := &Model{
		cfg:  cfg,
		rnd:  rnd,
		axes: make([]AxisState, 0, len(cfg.Axes)),
	}
	for _, axis := range cfg.Axes {
		m.axes = append(m.axes, NewAxis(axis, now, cfg.Axis, rnd))
	}
	m.blink = NewBlink(now, cfg.Blink, rnd)
	return m
}

// Advance moves every axis in configured order, then the blink, and returns
// the resulting values.
func (m *Model) Advance(now time.Time) Frame {
	frame := Frame{Axes: make([]AxisValue, 0, len(m.axes))}
	for i := range m.axes {
		AdvanceAxis(&m.axes[i], now, m.cfg.Axis, m.rnd)
		frame.Axes = append(frame.Axes, AxisValue{Name: m.axes[i].Name, Value: m.axes[i].Current})
	}
	AdvanceBlink(&m.blink, now, m.cfg.Blink, m.rnd)
	frame.Blink = m.blink.Value
	return frame
}

// Axes returns a copy of the axis states.
func (m *Model) Axes() []AxisState {
	out := make([]AxisState, len(m.axes))
	copy(out, m.axes)
	return out
}

// Blink returns a copy of the blink state.
func (m *Model) Blink() BlinkState {
	return m.blink
}
