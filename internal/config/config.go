// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "SIMFLOW_"

type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	Monitor   Monitor   `envPrefix:"MONITOR_"`
	Detection Detection `envPrefix:"DETECTION_"`
	Runtime   Runtime   `envPrefix:"RUNTIME_"`
}

// Monitor holds the rule telemetry thresholds and ring sizes.
type Monitor struct {
	SlowThreshold          time.Duration `env:"SLOW_THRESHOLD" envDefault:"1s"`
	ErrorRateAlarm         float64       `env:"ERROR_RATE_ALARM" envDefault:"0.1"`
	ErrorRateMinExecutions int64         `env:"ERROR_RATE_MIN_EXECUTIONS" envDefault:"10"`
	ErrorRing              int           `env:"ERROR_RING" envDefault:"10"`
	HistoryRing            int           `env:"HISTORY_RING" envDefault:"100"`
	ErrorProneMinExecs     int64         `env:"ERROR_PRONE_MIN_EXECUTIONS" envDefault:"5"`
	TopN                   int           `env:"TOP_N" envDefault:"5"`
	RecentErrors           int           `env:"RECENT_ERRORS" envDefault:"10"`
}

type Detection struct {
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"0s"`
}

type Runtime struct {
	// GateCacheTTL keeps built node gates per simulation; 0 disables caching.
	GateCacheTTL time.Duration `env:"GATE_CACHE_TTL" envDefault:"10m"`
}

// DefaultMonitor returns the monitor settings used when nothing is configured.
func DefaultMonitor() Monitor {
	return Monitor{
		SlowThreshold:          time.Second,
		ErrorRateAlarm:         0.1,
		ErrorRateMinExecutions: 10,
		ErrorRing:              10,
		HistoryRing:            100,
		ErrorProneMinExecs:     5,
		TopN:                   5,
		RecentErrors:           10,
	}
}

// WithDefaults returns m with every zero-valued field replaced by the
// corresponding DefaultMonitor value. Monitor settings built in code rather
// than through Load would otherwise alarm on every execution.
func (m Monitor) WithDefaults() Monitor {
	d := DefaultMonitor()
	if m.SlowThreshold <= 0 {
		m.SlowThreshold = d.SlowThreshold
	}
	if m.ErrorRateAlarm <= 0 {
		m.ErrorRateAlarm = d.ErrorRateAlarm
	}
	if m.ErrorRateMinExecutions <= 0 {
		m.ErrorRateMinExecutions = d.ErrorRateMinExecutions
	}
	if m.ErrorRing <= 0 {
		m.ErrorRing = d.ErrorRing
	}
	if m.HistoryRing <= 0 {
		m.HistoryRing = d.HistoryRing
	}
	if m.ErrorProneMinExecs <= 0 {
		m.ErrorProneMinExecs = d.ErrorProneMinExecs
	}
	if m.TopN <= 0 {
		m.TopN = d.TopN
	}
	if m.RecentErrors <= 0 {
		m.RecentErrors = d.RecentErrors
	}
	return m
}

// Load reads an optional dotenv file and then the SIMFLOW_ environment.
// A missing dotenv file is not an error.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) > 0 {
		if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load dotenv: %w", err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
