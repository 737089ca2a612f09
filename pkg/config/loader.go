package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]any)

	defaultEnvLoaded sync.Once
)

// Load populates the configuration struct from environment variables using
// the field tags understood by caarlos0/env. A default .env file is read once
// per process if present; its absence is not an error.
//
// Each configuration type is parsed at most once; later calls for the same
// type return the cached copy, so every component sharing a Config sees
// identical values.
//
// Example:
//
//	type BusConfig struct {
//		Channel string `env:"EVENTBUS_CHANNEL" envDefault:"events"`
//		Workers int    `env:"EVENTBUS_WORKERS" envDefault:"5"`
//	}
//
//	var cfg BusConfig
//	if err := config.Load(&cfg); err != nil {
//		// handle error
//	}
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	key := typeName[T]()

	cacheMu.RLock()
	cached, ok := cache[key]
	cacheMu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cached, ok := cache[key]; ok {
		// Another goroutine parsed the same type first; keep its copy so
		// all callers agree.
		*v = cached.(T)
		return nil
	}
	cache[key] = *v

	return nil
}

// MustLoad works like Load but panics on failure, for configuration the
// process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// typeName returns a string identifier for the generic type T.
func typeName[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		// Interface types carry no concrete type until instantiated.
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
