package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/markethub/admission-gateway/internal/admission"
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Redis       RedisConfig       `json:"redis"`
	Postgres    PostgresConfig    `json:"postgres"`
	Auth        AuthConfig        `json:"auth"`
	Admission   AdmissionConfig   `json:"admission"`
	DecisionLog DecisionLogConfig `json:"decision_log"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type AuthConfig struct {
	JWTSecret      string `json:"-"`
	JWTExpiryHours int    `json:"jwt_expiry_hours"`
}

type DecisionLogConfig struct {
	BufferSize    int `json:"buffer_size"`
	RetentionDays int `json:"retention_days"`
}

// AdmissionConfig is the engine's tuning surface as it appears in the
// config file. Durations are milliseconds to match the admin API.
type AdmissionConfig struct {
	FallbackLimit int `json:"fallback_limit"`

	Throttle struct {
		Enabled       bool     `json:"enabled"`
		QueueCapacity int      `json:"queue_capacity"`
		MaxWaitMs     int64    `json:"max_wait_ms"`
		PriorityTiers []string `json:"priority_tiers"`
		BackoffBaseMs int64    `json:"backoff_base_ms"`
	} `json:"throttle"`

	Burst struct {
		Enabled        bool  `json:"enabled"`
		RefillRate     int   `json:"refill_rate"`
		RefillWindowMs int64 `json:"refill_window_ms"`
	} `json:"burst"`

	Adaptive struct {
		Enabled         bool    `json:"enabled"`
		LowThreshold    float64 `json:"low_threshold"`
		MediumThreshold float64 `json:"medium_threshold"`
		LowFactor       float64 `json:"low_factor"`
		MediumFactor    float64 `json:"medium_factor"`
		HighFactor      float64 `json:"high_factor"`
	} `json:"adaptive"`
}

// Engine converts the file representation into the engine's config.
func (a AdmissionConfig) Engine() admission.Config {
	return admission.Config{
		FallbackLimit: a.FallbackLimit,
		Throttle: admission.ThrottleConfig{
			Enabled:       a.Throttle.Enabled,
			QueueCapacity: a.Throttle.QueueCapacity,
			MaxWait:       time.Duration(a.Throttle.MaxWaitMs) * time.Millisecond,
			PriorityTiers: a.Throttle.PriorityTiers,
			BackoffBase:   time.Duration(a.Throttle.BackoffBaseMs) * time.Millisecond,
		},
		Burst: admission.BurstConfig{
			Enabled:      a.Burst.Enabled,
			RefillRate:   a.Burst.RefillRate,
			RefillWindow: time.Duration(a.Burst.RefillWindowMs) * time.Millisecond,
		},
		Adaptive: admission.AdaptiveConfig{
			Enabled:         a.Adaptive.Enabled,
			LowThreshold:    a.Adaptive.LowThreshold,
			MediumThreshold: a.Adaptive.MediumThreshold,
			LowFactor:       a.Adaptive.LowFactor,
			MediumFactor:    a.Adaptive.MediumFactor,
			HighFactor:      a.Adaptive.HighFactor,
		},
	}
}

// Load reads the JSON config file. Secrets come from the environment,
// not the file.
func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = "info"
	}

	// Environment overrides
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		config.Postgres.DSN = dsn
	}

	return &config, nil
}
