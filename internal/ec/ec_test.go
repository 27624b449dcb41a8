package ec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWord(t *testing.T) {
	sim := NewSim()
	sim.Set(0xC8, 0x01)
	sim.Set(0xC9, 0xF4)

	be, err := ReadWord(sim, 0xC8, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x01F4), be)

	le, err := ReadWord(sim, 0xC8, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xF401), le)

	sim.FailReadsFrom(0xC9, true)
	_, err = ReadWord(sim, 0xC8, true)
	assert.ErrorIs(t, err, ErrInjected)
}

func TestSim_FailNthWrite(t *testing.T) {
	sim := NewSim()
	sim.FailNthWrite(2)

	require.NoError(t, sim.Write(0x10, 1))
	assert.ErrorIs(t, sim.Write(0x11, 2), ErrInjected)
	require.NoError(t, sim.Write(0x12, 3))

	assert.Equal(t, []Write{{0x10, 1}, {0x12, 3}}, sim.Writes())
	assert.Equal(t, byte(0), sim.Get(0x11))
}

func TestSim_FailWritesTo(t *testing.T) {
	sim := NewSim()
	sim.FailWritesTo(0x98, true)
	assert.ErrorIs(t, sim.Write(0x98, 0x80), ErrInjected)
	assert.ErrorIs(t, sim.Write(0x98, 0x80), ErrInjected)

	sim.FailWritesTo(0x98, false)
	assert.NoError(t, sim.Write(0x98, 0x80))
	assert.Equal(t, byte(0x80), sim.Get(0x98))
}

func TestSafeMode_ShadowsWrites(t *testing.T) {
	sim := NewSim()
	sim.Set(0x68, 45)
	sm := NewSafeMode(sim)

	require.NoError(t, sm.Write(0x72, 90))
	assert.Empty(t, sim.Writes())
	assert.Equal(t, byte(0), sim.Get(0x72))

	v, err := sm.Read(0x72)
	require.NoError(t, err)
	assert.Equal(t, byte(90), v)

	v, err = sm.Read(0x68)
	require.NoError(t, err)
	assert.Equal(t, byte(45), v)
}

func TestOpen(t *testing.T) {
	dev, err := Open(BackendSim)
	require.NoError(t, err)
	assert.IsType(t, &Sim{}, dev)
	assert.NoError(t, dev.Close())

	_, err = Open("parallel-port")
	assert.Error(t, err)
}
