package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DashboardConfig configures the votewatch terminal dashboard.
type DashboardConfig struct {
	AggregatorURL string        `env:"AGGREGATOR_URL" envDefault:"http://localhost:8080"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	AdminToken    string        `env:"ADMIN_TOKEN"`
	Debug         bool          `env:"DEBUG"`
}

func LoadDashboard() (DashboardConfig, error) {
	var cfg DashboardConfig
	if err := env.Parse(&cfg); err != nil {
		return DashboardConfig{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AggregatorURL = strings.TrimSuffix(strings.TrimSpace(cfg.AggregatorURL), "/")
	if cfg.AggregatorURL == "" {
		return DashboardConfig{}, fmt.Errorf("AGGREGATOR_URL is required")
	}
	if cfg.PollInterval <= 0 {
		return DashboardConfig{}, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return cfg, nil
}
