// Package supervisor keeps one authenticated streaming session alive for the
// lifetime of the process.
package supervisor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vts-motion/pkg/auth"
	"github.com/vango-go/vts-motion/pkg/core"
	"github.com/vango-go/vts-motion/pkg/lifecycle"
	"github.com/vango-go/vts-motion/pkg/motion"
	"github.com/vango-go/vts-motion/pkg/protocol"
	"github.com/vango-go/vts-motion/pkg/stream"
	"github.com/vango-go/vts-motion/pkg/transport"
)

const DefaultURL = "ws://localhost:8001"

type Config struct {
	URL         string
	Motion      motion.Config
	Stream      stream.Config
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Supervisor walks Connecting -> Authenticating -> Streaming -> Closing and
// back, forever, until its context is cancelled.
type Supervisor struct {
	cfg     Config
	dialer  transport.Dialer
	auth    *auth.Manager
	codec   *protocol.Codec
	backoff *Backoff
	tracker *lifecycle.Tracker
	base    *slog.Logger
	logger  *slog.Logger

	now     func() time.Time
	newRand func() motion.Rand
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.base = l
		}
	}
}

// WithTracker publishes every state transition to t.
func WithTracker(t *lifecycle.Tracker) Option {
	return func(s *Supervisor) {
		if t != nil {
			s.tracker = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandSource sets the per-session random source factory.
func WithRandSource(fn func() motion.Rand) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.newRand = fn
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

func WithCodec(c *protocol.Codec) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.codec = c
		}
	}
}

func New(cfg Config, dialer transport.Dialer, authMgr *auth.Manager, opts ...Option) (*Supervisor, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if dialer == nil {
		return nil, core.NewConfigurationError("dialer", "must not be nil")
	}
	if authMgr == nil {
		return nil, core.NewConfigurationError("auth manager", "must not be nil")
	}
	if len(cfg.Motion.Axes) == 0 {
		cfg.Motion = motion.DefaultConfig()
	}
	if len(cfg.Stream.BlinkParams) == 0 && cfg.Stream.Interval == 0 {
		cfg.Stream = stream.DefaultConfig()
	}

	s := &Supervisor{
		cfg:     cfg,
		dialer:  dialer,
		auth:    authMgr,
		codec:   protocol.NewCodec(),
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		tracker: &lifecycle.Tracker{},
		base:    slog.Default(),
		now:     time.Now,
		newRand: func() motion.Rand { return motion.NewRand(uint64(time.Now().UnixNano())) },
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.base.With("component", "supervisor")
	return s, nil
}

func (s *Supervisor) Tracker() *lifecycle.Tracker {
	return s.tracker
}

// Run blocks until ctx is cancelled, which is a clean shutdown and returns
// nil. Every failure in between is logged and retried after a backoff.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started", "url", s.cfg.URL)
	for {
		if ctx.Err() != nil {
			return s.shutdown()
		}

		streamed, err := s.session(ctx)
		if ctx.Err() != nil {
			return s.shutdown()
		}
		if streamed {
			s.backoff.Reset()
		}
		if err != nil && !core.IsRetryable(err) {
			s.logger.Error("session failed permanently", "error", err)
			return err
		}

		delay := s.backoff.Next()
		s.logger.Warn("session ended; reconnecting",
			"error", err,
			"error_type", core.TypeOf(err),
			"delay", delay,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return s.shutdown()
		}
	}
}

// session runs one connection from dial to close. streamed reports whether
// Streaming was reached.
func (s *Supervisor) session(ctx context.Context) (streamed bool, err error) {
	s.transition(lifecycle.StateConnecting)
	conn, err := s.dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		return false, err
	}
	defer func() {
		s.transition(lifecycle.StateClosing)
		_ = conn.Close()
	}()

	s.transition(lifecycle.StateAuthenticating)
	if err := s.auth.Authenticate(ctx, conn); err != nil {
		return false, err
	}

	s.transition(lifecycle.StateStreaming)
	rnd := s.newRand()
	model := motion.New(s.cfg.Motion, rnd, s.now())
	sched := stream.New(conn, model, s.codec, s.cfg.Stream, rnd,
		stream.WithClock(s.now),
		stream.WithLogger(s.base),
	)
	return true, sched.Run(ctx)
}

func (s *Supervisor) transition(to lifecycle.State) {
	from := s.tracker.Current()
	s.tracker.Set(to)
	s.logger.Info("state", "from", from.String(), "to", to.String())
}

func (s *Supervisor) shutdown() error {
	s.tracker.SetDraining(true)
	s.tracker.Set(lifecycle.StateClosing)
	s.logger.Info("supervisor stopped")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
