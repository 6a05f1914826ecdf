// Package stream runs the two per-connection duties of a live session: the
// parameter sender and the heartbeat.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vts-motion/pkg/core"
	"github.com/vango-go/vts-motion/pkg/motion"
	"github.com/vango-go/vts-motion/pkg/protocol"
	"github.com/vango-go/vts-motion/pkg/transport"
)

const (
	LoopSender    = "sender"
	LoopHeartbeat = "heartbeat"
)

var errConnectionLost = errors.New("connection lost")

// Config paces the two loops.
type Config struct {
	Interval          time.Duration
	Jitter            time.Duration
	HeartbeatInterval time.Duration
	// BlinkParams receive the blink value, one copy per name.
	BlinkParams []string
}

// DefaultConfig sends every 100ms plus up to 20ms of jitter and pings every 15s.
func DefaultConfig() Config {
	return Config{
		Interval:          100 * time.Millisecond,
		Jitter:            20 * time.Millisecond,
		HeartbeatInterval: 15 * time.Second,
		BlinkParams:       []string{"EyeOpenLeft", "EyeOpenRight"},
	}
}

// LoopError is the outcome of the loop that failed first.
type LoopError struct {
	Loop string
	Err  error
}

func (e *LoopError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s loop: %v", e.Loop, e.Err)
}

func (e *LoopError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Scheduler drives one connection. The model and the random source belong to
// the sender goroutine alone; the heartbeat only touches the transport.
type Scheduler struct {
	conn   transport.Conn
	model  *motion.Model
	codec  *protocol.Codec
	cfg    Config
	rnd    motion.Rand
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for the sender loop.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(conn transport.Conn, model *motion.Model, codec *protocol.Codec, cfg Config, rnd motion.Rand, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if codec == nil {
		codec = protocol.NewCodec()
	}
	s := &Scheduler{
		conn:   conn,
		model:  model,
		codec:  codec,
		cfg:    cfg,
		rnd:    rnd,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "stream")
	return s
}

// Run blocks until one loop fails or ctx is cancelled. The first failure
// cancels the other loop and is returned as *LoopError; cancellation of ctx
// returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runSender(gctx) })
	g.Go(func() error { return s.runHeartbeat(gctx) })

	if err := g.Wait(); err != nil {
		var loopErr *LoopError
		if errors.As(err, &loopErr) {
			s.logger.Warn("streaming stopped", "loop", loopErr.Loop, "error", loopErr.Err)
		}
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) runSender(ctx context.Context) error {
	var sent int
	defer func() {
		s.logger.Debug("sender loop exited", "frames", sent)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame := s.model.Advance(s.now())
		raw, _, err := s.codec.Encode(protocol.MessageTypeInjectRequest, InjectPayload(frame, s.cfg.BlinkParams))
		if err != nil {
			return &LoopError{Loop: LoopSender, Err: err}
		}
		// Fire-and-forget: the write being flushed is the success condition.
		if err := s.conn.Send(ctx, raw); err != nil {
			return &LoopError{Loop: LoopSender, Err: err}
		}
		sent++

		if !sleepCtx(ctx, s.nextDelay()) {
			return nil
		}
	}
}

func (s *Scheduler) runHeartbeat(ctx context.Context) error {
	// Probe right away so a session that died during authentication is
	// caught before the first tick.
	if err := s.conn.Ping(ctx); err != nil {
		return &LoopError{Loop: LoopHeartbeat, Err: err}
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.conn.Done():
			err := s.conn.Err()
			if err == nil {
				err = &core.TransportError{Op: "read", Err: errConnectionLost}
			}
			return &LoopError{Loop: LoopHeartbeat, Err: err}
		case <-ticker.C:
			if err := s.conn.Ping(ctx); err != nil {
				return &LoopError{Loop: LoopHeartbeat, Err: err}
			}
		}
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	d := s.cfg.Interval
	if s.cfg.Jitter > 0 && s.rnd != nil {
		d += time.Duration(s.rnd.Float64() * float64(s.cfg.Jitter))
	}
	return d
}

// InjectPayload flattens a frame into one injection request: every axis in
// order, then the blink value once per blink parameter name.
func InjectPayload(frame motion.Frame, blinkParams []string) protocol.InjectRequest {
	values := make([]protocol.ParameterValue, 0, len(frame.Axes)+len(blinkParams))
	for _, axis := range frame.Axes {
		values = append(values, protocol.ParameterValue{ID: axis.Name, Value: axis.Value})
	}
	for _, name := range blinkParams {
		values = append(values, protocol.ParameterValue{ID: name, Value: frame.Blink})
	}
	return protocol.InjectRequest{
		FaceFound:       false,
		Mode:            protocol.InjectModeSet,
		ParameterValues: values,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
