package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrNilConfig is returned when Load receives a nil pointer.
var ErrNilConfig = errors.New("config must not be nil")

var (
	dotenvOnce sync.Once

	mu    sync.RWMutex
	cache = make(map[reflect.Type]any)
)

// Load parses environment variables into cfg. The first call for any type
// triggers .env file loading; each type is parsed once and cached, so
// subsequent calls for the same type return the cached value.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilConfig
	}

	// Missing .env files are expected in production where real environment
	// variables are set by the platform.
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})

	key := reflect.TypeOf(*cfg)

	mu.RLock()
	cached, ok := cache[key]
	mu.RUnlock()
	if ok {
		*cfg = cached.(T)
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", key, err)
	}

	mu.Lock()
	cache[key] = *cfg
	mu.Unlock()

	return nil
}

// MustLoad parses environment variables into cfg and panics on failure.
// Useful during application startup where a missing required variable
// should prevent the service from starting.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
