package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateExpr mirrors ratelimiter.RateExpr in YAML-friendly form. Pointer
// fields distinguish "not set" from "set to zero", the same distinction
// ratelimiter.normalize relies on.
type RateExpr struct {
	PerSecond *int64 `yaml:"per_second"`
	PerMinute *int64 `yaml:"per_minute"`
	PerHour   *int64 `yaml:"per_hour"`
	PerDay    *int64 `yaml:"per_day"`

	Interval    *int64 `yaml:"interval_ms"`
	PerInterval *int64 `yaml:"per_interval"`

	Size       *int64 `yaml:"size"`
	Unlimited  bool   `yaml:"unlimited"`
	SkipNCalls *int64 `yaml:"skip_n_calls"`

	ERLActivationPeriodSeconds *int64    `yaml:"erl_activation_period_seconds"`
	Elevated                   *RateExpr `yaml:"elevated"`
}

// Override mirrors ratelimiter.OverrideDef.
type Override struct {
	RateExpr `yaml:",inline"`

	Key   *string `yaml:"key"`
	Match *string `yaml:"match"`
	Until *string `yaml:"until"` // RFC3339; parsed by BucketType
}

// BucketType mirrors ratelimiter.BucketTypeDef.
type BucketType struct {
	RateExpr  `yaml:",inline"`
	Overrides []Override `yaml:"overrides"`
}

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
}

type Redis struct {
	Addrs    []string `yaml:"addrs"`
	Cluster  bool     `yaml:"cluster"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`
	PrometheusPath string `yaml:"prometheus_path"`
}

type Root struct {
	Server        Server                `yaml:"server"`
	Redis         Redis                 `yaml:"redis"`
	Observability Observability         `yaml:"observability"`
	Prefix        string                `yaml:"prefix"`
	TimeoutMS     int                   `yaml:"timeout_ms"`
	Buckets       map[string]BucketType `yaml:"buckets"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

// Load reads and defaults a Root config from a YAML file at path.
func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit:"
	}
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = 125
	}
	if len(cfg.Redis.Addrs) == 0 {
		cfg.Redis.Addrs = []string{"127.0.0.1:6379"}
	}

	return &cfg, nil
}
