package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vts-motion/pkg/auth"
	"github.com/vango-go/vts-motion/pkg/core"
	"github.com/vango-go/vts-motion/pkg/motion"
	"github.com/vango-go/vts-motion/pkg/stream"
	"github.com/vango-go/vts-motion/pkg/supervisor"
	"github.com/vango-go/vts-motion/pkg/transport"
)

const envPrefix = "VTS_MOTION_"

type Config struct {
	URL             string
	PluginName      string
	PluginDeveloper string
	TokenPath       string

	Axes        []motion.AxisConfig
	BlinkParams []string

	// Streaming cadence.
	UpdateInterval    time.Duration
	UpdateJitter      time.Duration
	HeartbeatInterval time.Duration

	// Request/response and pairing.
	CallTimeout  time.Duration
	PairingGrace time.Duration

	// Socket.
	OpenTimeout  time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	CloseTimeout time.Duration

	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Motion tuning.
	EaseFactor       float64
	NoiseMagnitude   float64
	RetargetInterval time.Duration
	RetargetJitter   float64
	BlinkIntervalMin time.Duration
	BlinkIntervalMax time.Duration
	BlinkClose       time.Duration
	BlinkHold        time.Duration

	LogLevel  string
	LogFormat string
}

func LoadFromEnv() (Config, error) {
	r := &envReader{}
	axisDef := motion.DefaultAxisTuning()
	blinkDef := motion.DefaultBlinkTuning()
	streamDef := stream.DefaultConfig()
	sockDef := transport.DefaultOptions()
	authDef := auth.DefaultOptions()

	cfg := Config{
		URL:               r.str("URL", supervisor.DefaultURL),
		PluginName:        r.str("PLUGIN_NAME", "NaturalBodyMover"),
		PluginDeveloper:   r.str("PLUGIN_DEVELOPER", "kmtkzy"),
		TokenPath:         r.str("TOKEN_PATH", auth.DefaultTokenPath),
		UpdateInterval:    r.duration("UPDATE_INTERVAL", streamDef.Interval),
		UpdateJitter:      r.duration("UPDATE_JITTER", streamDef.Jitter),
		HeartbeatInterval: r.duration("HEARTBEAT_INTERVAL", streamDef.HeartbeatInterval),
		CallTimeout:       r.duration("CALL_TIMEOUT", authDef.CallTimeout),
		PairingGrace:      r.duration("PAIRING_GRACE", authDef.PairingGrace),
		OpenTimeout:       r.duration("OPEN_TIMEOUT", sockDef.OpenTimeout),
		PingInterval:      r.duration("PING_INTERVAL", sockDef.PingInterval),
		PongTimeout:       r.duration("PONG_TIMEOUT", sockDef.PongTimeout),
		CloseTimeout:      r.duration("CLOSE_TIMEOUT", sockDef.CloseTimeout),
		BackoffBase:       r.duration("BACKOFF_BASE", supervisor.DefaultBackoffBase),
		BackoffMax:        r.duration("BACKOFF_MAX", supervisor.DefaultBackoffMax),
		EaseFactor:        r.number("EASE_FACTOR", axisDef.Ease),
		NoiseMagnitude:    r.number("NOISE_MAGNITUDE", axisDef.Noise),
		RetargetInterval:  r.duration("RETARGET_INTERVAL", axisDef.RetargetInterval),
		RetargetJitter:    r.number("RETARGET_JITTER", axisDef.RetargetJitter),
		BlinkIntervalMin:  r.duration("BLINK_INTERVAL_MIN", blinkDef.IntervalMin),
		BlinkIntervalMax:  r.duration("BLINK_INTERVAL_MAX", blinkDef.IntervalMax),
		BlinkClose:        r.duration("BLINK_CLOSE", blinkDef.Close),
		BlinkHold:         r.duration("BLINK_HOLD", blinkDef.Hold),
		LogLevel:          strings.ToLower(r.str("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(r.str("LOG_FORMAT", "text")),
	}
	cfg.Axes = r.axes("AXES", motion.DefaultAxes())
	cfg.BlinkParams = splitCSV(r.str("BLINK_PARAMS", strings.Join(streamDef.BlinkParams, ",")))
	if r.err != nil {
		return Config{}, r.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field as *core.ConfigurationError.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return invalid("URL", "must be a ws:// or wss:// URL")
	}
	if strings.TrimSpace(c.PluginName) == "" {
		return invalid("PLUGIN_NAME", "must not be empty")
	}
	if strings.TrimSpace(c.PluginDeveloper) == "" {
		return invalid("PLUGIN_DEVELOPER", "must not be empty")
	}
	if strings.TrimSpace(c.TokenPath) == "" {
		return invalid("TOKEN_PATH", "must not be empty")
	}

	if len(c.Axes) == 0 {
		return invalid("AXES", "must name at least one axis")
	}
	seen := make(map[string]struct{}, len(c.Axes)+len(c.BlinkParams))
	for _, a := range c.Axes {
		if !finite(a.Min) || !finite(a.Max) {
			return invalid("AXES", fmt.Sprintf("parameter %q needs finite bounds", a.Name))
		}
		if _, dup := seen[a.Name]; dup {
			return invalid("AXES", fmt.Sprintf("parameter %q listed twice", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	for _, name := range c.BlinkParams {
		if _, dup := seen[name]; dup {
			return invalid("BLINK_PARAMS", fmt.Sprintf("parameter %q listed twice", name))
		}
		seen[name] = struct{}{}
	}

	positive := []struct {
		field string
		v     time.Duration
	}{
		{"UPDATE_INTERVAL", c.UpdateInterval},
		{"HEARTBEAT_INTERVAL", c.HeartbeatInterval},
		{"CALL_TIMEOUT", c.CallTimeout},
		{"OPEN_TIMEOUT", c.OpenTimeout},
		{"PING_INTERVAL", c.PingInterval},
		{"PONG_TIMEOUT", c.PongTimeout},
		{"CLOSE_TIMEOUT", c.CloseTimeout},
		{"BACKOFF_BASE", c.BackoffBase},
		{"RETARGET_INTERVAL", c.RetargetInterval},
		{"BLINK_INTERVAL_MIN", c.BlinkIntervalMin},
		{"BLINK_CLOSE", c.BlinkClose},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return invalid(p.field, "must be > 0")
		}
	}
	if c.UpdateJitter < 0 {
		return invalid("UPDATE_JITTER", "must be >= 0")
	}
	if c.PairingGrace < 0 {
		return invalid("PAIRING_GRACE", "must be >= 0")
	}
	if c.BlinkHold < 0 {
		return invalid("BLINK_HOLD", "must be >= 0")
	}
	if c.BackoffMax < c.BackoffBase {
		return invalid("BACKOFF_MAX", "must be >= BACKOFF_BASE")
	}
	if c.BlinkIntervalMax < c.BlinkIntervalMin {
		return invalid("BLINK_INTERVAL_MAX", "must be >= BLINK_INTERVAL_MIN")
	}
	if !finite(c.EaseFactor) || c.EaseFactor <= 0 || c.EaseFactor > 1 {
		return invalid("EASE_FACTOR", "must be in (0, 1]")
	}
	if !finite(c.NoiseMagnitude) || c.NoiseMagnitude < 0 {
		return invalid("NOISE_MAGNITUDE", "must be >= 0")
	}
	if !finite(c.RetargetJitter) || c.RetargetJitter < 0 || c.RetargetJitter >= 1 {
		return invalid("RETARGET_JITTER", "must be in [0, 1)")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("LOG_LEVEL", "must be one of debug|info|warn|error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("LOG_FORMAT", "must be one of text|json")
	}
	return nil
}

func (c Config) Identity() auth.Identity {
	return auth.Identity{PluginName: c.PluginName, PluginDeveloper: c.PluginDeveloper}
}

func (c Config) AuthOptions() auth.Options {
	return auth.Options{CallTimeout: c.CallTimeout, PairingGrace: c.PairingGrace}
}

func (c Config) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()
	opts.OpenTimeout = c.OpenTimeout
	opts.PingInterval = c.PingInterval
	opts.PongTimeout = c.PongTimeout
	opts.CloseTimeout = c.CloseTimeout
	opts.WriteTimeout = c.CallTimeout
	return opts
}

func (c Config) MotionConfig() motion.Config {
	return motion.Config{
		Axes: append([]motion.AxisConfig(nil), c.Axes...),
		Axis: motion.AxisTuning{
			Ease:             c.EaseFactor,
			Noise:            c.NoiseMagnitude,
			RetargetInterval: c.RetargetInterval,
			RetargetJitter:   c.RetargetJitter,
		},
		Blink: motion.BlinkTuning{
			IntervalMin: c.BlinkIntervalMin,
			IntervalMax: c.BlinkIntervalMax,
			Close:       c.BlinkClose,
			Hold:        c.BlinkHold,
		},
	}
}

func (c Config) StreamConfig() stream.Config {
	return stream.Config{
		Interval:          c.UpdateInterval,
		Jitter:            c.UpdateJitter,
		HeartbeatInterval: c.HeartbeatInterval,
		BlinkParams:       append([]string(nil), c.BlinkParams...),
	}
}

func (c Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		URL:         c.URL,
		Motion:      c.MotionConfig(),
		Stream:      c.StreamConfig(),
		BackoffBase: c.BackoffBase,
		BackoffMax:  c.BackoffMax,
	}
}

func invalid(field, msg string) error {
	return core.NewConfigurationError(envPrefix+field, msg)
}

// envReader reads prefixed variables and remembers the first parse failure.
type envReader struct {
	err error
}

func (r *envReader) raw(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func (r *envReader) fail(key, msg string) {
	if r.err == nil {
		r.err = invalid(key, msg)
	}
}

func (r *envReader) str(key, def string) string {
	if v := r.raw(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	raw := r.raw(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, fmt.Sprintf("invalid duration %q", raw))
		return def
	}
	return d
}

func (r *envReader) number(key string, def float64) float64 {
	raw := r.raw(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || !finite(n) {
		r.fail(key, fmt.Sprintf("invalid number %q", raw))
		return def
	}
	return n
}

// axes parses "Name:min:max,Name:min:max".
func (r *envReader) axes(key string, def []motion.AxisConfig) []motion.AxisConfig {
	raw := r.raw(key)
	if raw == "" {
		return def
	}
	var out []motion.AxisConfig
	for _, item := range splitCSV(raw) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
			r.fail(key, fmt.Sprintf("entry %q must be Name:min:max", item))
			return def
		}
		lo, errLo := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		hi, errHi := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if errLo != nil || errHi != nil || !finite(lo) || !finite(hi) {
			r.fail(key, fmt.Sprintf("entry %q needs finite numeric bounds", item))
			return def
		}
		out = append(out, motion.AxisConfig{Name: strings.TrimSpace(parts[0]), Min: lo, Max: hi})
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
