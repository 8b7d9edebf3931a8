package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "BLUETRACE_LOG_LEVEL"
	EnvLogTimestamp = "BLUETRACE_LOG_TIMESTAMP"
	EnvLogNoColor   = "BLUETRACE_LOG_NOCOLOR"
	EnvLogFile      = "BLUETRACE_LOG_FILE"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config controls the process-wide logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// File, when set, receives one sensor log line per event.
	File string
	// Out overrides the console writer. Used by tests.
	Out io.Writer
}

var (
	configureOnce sync.Once
	base          atomic.Pointer[zerolog.Logger]
	logFile       atomic.Pointer[os.File]
)

func init() {
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == zerolog.ErrorLevel {
			return LevelFault
		}
		return l.String()
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()
	base.Store(&l)
}

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure applies the profile defaults plus environment overrides once per process.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile)
		applyEnvOverrides(&cfg)
		if err := Apply(cfg); err != nil {
			Errorf("logging.Configure apply failed err=%v", err)
		}
	})
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// Apply replaces the process-wide logger.
func Apply(cfg Config) error {
	out := cfg.Out
	if out == nil {
		out = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: cfg.NoColor, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{out}
	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file (%s): %w", path, err)
		}
		writers = append(writers, NewLineWriter(f))
		if prev := logFile.Swap(f); prev != nil {
			_ = prev.Close()
		}
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	l := ctx.Logger()
	base.Store(&l)
	return nil
}

// Base returns the current process-wide logger.
func Base() zerolog.Logger {
	return *base.Load()
}

func Debugf(format string, args ...any) {
	l := Base()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	l := Base()
	l.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	l := Base()
	l.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	l := Base()
	l.Error().Msgf(format, args...)
}

// envOverrides mirrors the BLUETRACE_LOG_* variables. Unset variables leave
// the profile default in place.
type envOverrides struct {
	Level     string `env:"BLUETRACE_LOG_LEVEL"`
	Timestamp *bool  `env:"BLUETRACE_LOG_TIMESTAMP"`
	NoColor   *bool  `env:"BLUETRACE_LOG_NOCOLOR"`
	File      string `env:"BLUETRACE_LOG_FILE"`
}

func applyEnvOverrides(cfg *Config) {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		Warnf("logging.applyEnvOverrides ignored err=%v", err)
		return
	}
	if lvl, ok := ParseLevel(o.Level); ok {
		cfg.Level = lvl
	}
	if o.Timestamp != nil {
		cfg.Timestamp = *o.Timestamp
	}
	if o.NoColor != nil {
		cfg.NoColor = *o.NoColor
	}
	if v := strings.TrimSpace(o.File); v != "" {
		cfg.File = v
	}
}

// ParseLevel accepts zerolog level names plus the sensor level names.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error", "fault":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
