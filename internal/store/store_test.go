package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/ec-fan-controller/internal/fanconfig"
)

func TestLoad_Missing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "current.xml"))
	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "current.xml")
	s := New(path)

	want := fanconfig.Template()
	require.NoError(t, want.SelectCurve(0, 1))
	require.NoError(t, s.Save(want))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, got)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<FanControlConfig version="2"></FanControlConfig>`), 0644))

	_, err := New(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, fanconfig.ErrVersionMismatch)
}
