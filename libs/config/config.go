package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once sync.Once
	v    *viper.Viper
)

// env returns the process-wide viper instance. Values come from the environment,
// with an optional .env file in the working directory as a fallback.
func env() *viper.Viper {
	once.Do(func() {
		v = viper.New()
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		v.AutomaticEnv()
		_ = v.ReadInConfig()
	})
	return v
}

func raw(key string) string {
	return strings.TrimSpace(env().GetString(key))
}

func String(key, fallback string) string {
	val := raw(key)
	if val == "" {
		return fallback
	}
	return val
}

func RequiredString(key string) (string, error) {
	val := raw(key)
	if val == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return val, nil
}

func Port(key, fallback string) (string, error) {
	val := String(key, fallback)
	p, err := strconv.Atoi(val)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, val)
	}
	return val, nil
}

func Int(key string, fallback int) (int, error) {
	val := raw(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, val)
	}
	return n, nil
}

// Float parses a float and requires it to be within [min, max].
func Float(key string, fallback, min, max float64) (float64, error) {
	val := raw(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < min || f > max {
		return 0, fmt.Errorf("%s must be a number in [%g, %g] (got %q)", key, min, max, val)
	}
	return f, nil
}

func Bool(key string, fallback bool) bool {
	val := raw(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

// Duration accepts Go duration syntax ("90s", "15m", "24h").
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	val := raw(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration (got %q)", key, val)
	}
	return d, nil
}
