// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/GetStream/direct-messaging/api/validator"
	"github.com/GetStream/direct-messaging/auth"
)

// Config holds the server settings. Fields are tagged with the environment
// variable they are read from.
type Config struct {
	Addr           string        `json:"ADDR" validate:"required"`
	DatabaseURL    string        `json:"DATABASE_URL" validate:"required"`
	RedisAddr      string        `json:"REDIS_ADDR"`
	JWTSecret      string        `json:"JWT_SECRET" validate:"required,min=16"`
	TokenTTL       time.Duration `json:"TOKEN_TTL" validate:"gt=0"`
	AllowedOrigin  string        `json:"ALLOWED_ORIGIN"`
	UploadDir      string        `json:"UPLOAD_DIR" validate:"required"`
	RateLimitRPS   float64       `json:"RATE_LIMIT_RPS" validate:"gte=0"`
	RateLimitBurst int           `json:"RATE_LIMIT_BURST" validate:"gte=0"`
	LogLevel       slog.Level    `json:"LOG_LEVEL"`
}

// Default returns the configuration used for unset variables.
func Default() Config {
	return Config{
		Addr:           ":8080",
		TokenTTL:       auth.DefaultTTL,
		UploadDir:      "uploads",
		RateLimitRPS:   5,
		RateLimitBurst: 10,
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads the given dotenv files, .env when none are given, into the
// process environment and returns the resulting configuration. Missing files
// are ignored and variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from lookup and validates it.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	parse := func(key string, fn func(string) error) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := fn(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	str("ADDR", &cfg.Addr)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("ALLOWED_ORIGIN", &cfg.AllowedOrigin)
	str("UPLOAD_DIR", &cfg.UploadDir)
	parse("TOKEN_TTL", func(s string) (err error) {
		cfg.TokenTTL, err = time.ParseDuration(s)
		return err
	})
	parse("RATE_LIMIT_RPS", func(s string) (err error) {
		cfg.RateLimitRPS, err = strconv.ParseFloat(s, 64)
		return err
	})
	parse("RATE_LIMIT_BURST", func(s string) (err error) {
		cfg.RateLimitBurst, err = strconv.Atoi(s)
		return err
	})
	parse("LOG_LEVEL", func(s string) error {
		return cfg.LogLevel.UnmarshalText([]byte(s))
	})

	for _, e := range validator.New().ValidateStruct(cfg) {
		errs = append(errs, e)
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
