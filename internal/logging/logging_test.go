package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_File(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	path := filepath.Join(t.TempDir(), "ecfan.log")
	closer := Init(zerolog.InfoLevel, path)

	log.Debug().Msg("hidden")
	log.Info().Str("fan", "CPU").Msg("Fan step changed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Fan step changed"`)
	assert.Contains(t, string(data), `"fan":"CPU"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestInit_BadPathPanics(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	assert.Panics(t, func() {
		Init(zerolog.InfoLevel, filepath.Join(t.TempDir(), "missing", "ecfan.log"))
	})
}
