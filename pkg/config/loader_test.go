package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgebus/pkg/config"
)

type loaderTestConfig struct {
	Name    string `env:"LOADER_TEST_NAME" envDefault:"fallback"`
	Workers int    `env:"LOADER_TEST_WORKERS" envDefault:"5"`
}

type requiredTestConfig struct {
	Token string `env:"LOADER_TEST_REQUIRED_TOKEN,required"`
}

func TestLoad(t *testing.T) {
	// No t.Parallel: t.Setenv and the package-level cache are process-global.

	t.Run("reads environment values", func(t *testing.T) {
		t.Setenv("LOADER_TEST_NAME", "from-env")
		t.Setenv("LOADER_TEST_WORKERS", "9")

		var cfg loaderTestConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "from-env", cfg.Name)
		assert.Equal(t, 9, cfg.Workers)
	})

	t.Run("same type is served from cache", func(t *testing.T) {
		t.Setenv("LOADER_TEST_NAME", "changed-later")

		var cfg loaderTestConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "from-env", cfg.Name, "cached copy wins over a changed environment")
	})

	t.Run("missing required variable fails", func(t *testing.T) {
		var cfg requiredTestConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer fails", func(t *testing.T) {
		var cfg *loaderTestConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredTestConfig
			config.MustLoad(&cfg)
		})
	})
}
