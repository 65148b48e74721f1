/*
Package config loads process configuration.

PURPOSE:
  Layers defaults, an optional YAML file and MARKET_* environment
  variables into one Config. Keys are flat so every field maps to a
  single env var (MARKET_LIQUIDITY_FEE -> liquidity_fee).

PRECEDENCE (low -> high):
  1. Default()
  2. YAML file: the path passed to Load, else $MARKET_CONFIG
  3. Environment: MARKET_<KEY>

SEE ALSO:
  - cmd/server/main.go: --config flag
  - quests/quests.toml: Quest definitions (separate file, TOML)
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/market-engine/generic"
)

const (
	EnvPrefix = "MARKET_"
	EnvFile   = "MARKET_CONFIG"
)

type Config struct {
	// Addr is the HTTP listen address.
	Addr string `koanf:"addr"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is json or console.
	LogFormat string `koanf:"log_format"`

	// CORSOrigins may call the API from a browser. Reports allow any origin.
	CORSOrigins []string `koanf:"cors_origins"`

	// Domain is the public site host used in links.
	Domain string `koanf:"domain"`
	// LiquidityFee is the fraction of a subsidy kept as a fee, in [0, 1).
	LiquidityFee float64 `koanf:"liquidity_fee"`
	// Timezone anchors quest periods.
	Timezone string `koanf:"timezone"`
	// QuestFile overrides the embedded quest definitions.
	QuestFile string `koanf:"quest_file"`

	DocumentDBPath   string `koanf:"document_db_path"`
	RelationalDriver string `koanf:"relational_driver"`
	RelationalDSN    string `koanf:"relational_dsn"`

	RetryMaxAttempts int           `koanf:"retry_max_attempts"`
	RetryBaseBackoff time.Duration `koanf:"retry_base_backoff"`
	RetryMaxBackoff  time.Duration `koanf:"retry_max_backoff"`
	TxTimeout        time.Duration `koanf:"tx_timeout"`

	ReportLimit       int `koanf:"report_limit"`
	ReportConcurrency int `koanf:"report_concurrency"`

	TriggerPollInterval time.Duration `koanf:"trigger_poll_interval"`
	TriggerBatchSize    int           `koanf:"trigger_batch_size"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

func Default() Config {
	retry := generic.DefaultRetryPolicy()
	return Config{
		Addr:                ":8080",
		LogLevel:            "info",
		LogFormat:           "json",
		CORSOrigins:         []string{"https://manifold.markets"},
		Domain:              "manifold.markets",
		LiquidityFee:        0,
		Timezone:            "America/Los_Angeles",
		DocumentDBPath:      "market.db",
		RelationalDriver:    "sqlite",
		RelationalDSN:       "market-relational.db",
		RetryMaxAttempts:    retry.MaxAttempts,
		RetryBaseBackoff:    retry.BaseBackoff,
		RetryMaxBackoff:     retry.MaxBackoff,
		TxTimeout:           retry.Timeout,
		ReportLimit:         100,
		ReportConcurrency:   8,
		TriggerPollInterval: 5 * time.Second,
		TriggerBatchSize:    50,
		ShutdownTimeout:     10 * time.Second,
	}
}

// Load builds a Config. path may be empty.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		if s == EnvFile {
			return ""
		}
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.LiquidityFee < 0 || c.LiquidityFee >= 1 {
		errs = append(errs, fmt.Errorf("liquidity_fee %v must be in [0, 1)", c.LiquidityFee))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format %q must be json or console", c.LogFormat))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry_max_attempts must be at least 1"))
	}
	if c.TriggerPollInterval <= 0 {
		errs = append(errs, errors.New("trigger_poll_interval must be positive"))
	}
	return errors.Join(errs...)
}

// Location returns the quest timezone. Call after Validate.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) Fee() decimal.Decimal {
	return decimal.NewFromFloat(c.LiquidityFee)
}

func (c Config) RetryPolicy() generic.RetryPolicy {
	return generic.RetryPolicy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseBackoff: c.RetryBaseBackoff,
		MaxBackoff:  c.RetryMaxBackoff,
		Timeout:     c.TxTimeout,
	}
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
