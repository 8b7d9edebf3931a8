package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/danmuck/bluetrace/internal/node"
)

const envPrefix = "BLUETRACE_"

// envConfig lists the settings that may be overridden from the environment
// or a .env file. Unset variables keep the file or default value.
type envConfig struct {
	NodeID             *string        `env:"NODE_ID"`
	ListenAddr         *string        `env:"LISTEN_ADDR"`
	IdentityURL        *string        `env:"IDENTITY_URL"`
	StorePath          *string        `env:"STORE_PATH"`
	InstrumentationDir *string        `env:"INSTRUMENTATION_DIR"`
	TestMode           *bool          `env:"TEST_MODE"`
	RefreshInterval    *time.Duration `env:"REFRESH_INTERVAL"`
	RateLimitPerMinute *int           `env:"RATE_LIMIT_PER_MINUTE"`
}

func applyEnv(cfg *node.ServiceConfig) error {
	var e envConfig
	if err := env.ParseWithOptions(&e, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if e.NodeID != nil && strings.TrimSpace(*e.NodeID) != "" {
		cfg.NodeID = strings.TrimSpace(*e.NodeID)
	}
	if e.ListenAddr != nil && strings.TrimSpace(*e.ListenAddr) != "" {
		cfg.ListenAddr = strings.TrimSpace(*e.ListenAddr)
	}
	if e.IdentityURL != nil {
		cfg.IdentityURL = strings.TrimSpace(*e.IdentityURL)
	}
	if e.StorePath != nil {
		cfg.StorePath = strings.TrimSpace(*e.StorePath)
	}
	if e.InstrumentationDir != nil {
		cfg.InstrumentationDir = strings.TrimSpace(*e.InstrumentationDir)
	}
	if e.TestMode != nil {
		cfg.TestMode = *e.TestMode
	}
	if e.RefreshInterval != nil {
		cfg.RefreshInterval = *e.RefreshInterval
	}
	if e.RateLimitPerMinute != nil {
		cfg.RateLimitPerMinute = *e.RateLimitPerMinute
	}
	return nil
}
