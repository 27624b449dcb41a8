package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/ec-fan-controller/internal/notifications"
)

func TestEvaluateGuard_Disabled(t *testing.T) {
	action := evaluateGuard([]reading{{fan: "CPU Fan", temp: 120}}, 0, false)
	assert.Equal(t, guardAction{}, action)

	action = evaluateGuard(nil, 90, true)
	assert.Equal(t, guardAction{}, action)
}

func TestEvaluateGuard_BoundaryConditions(t *testing.T) {
	// critical 90, release at 85 or below
	tests := []struct {
		name          string
		temp          int
		active        bool
		expectEngage  bool
		expectRelease bool
	}{
		{"Just below critical", 89, false, false, false},
		{"Exactly at critical", 90, false, true, false},
		{"Above critical", 97, false, true, false},
		{"Active and still hot", 90, true, false, false},
		{"Active, just above release", 86, true, false, false},
		{"Active, exactly at release", 85, true, false, true},
		{"Active, well below", 60, true, false, true},
		{"Inactive and cool", 60, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := evaluateGuard([]reading{{fan: "CPU Fan", temp: tt.temp}}, 90, tt.active)
			assert.Equal(t, tt.expectEngage, action.Engage)
			assert.Equal(t, tt.expectRelease, action.Release)
		})
	}
}

func TestEvaluateGuard_HottestFanDecides(t *testing.T) {
	readings := []reading{
		{fan: "CPU Fan", temp: 70},
		{fan: "GPU Fan", temp: 93},
	}
	action := evaluateGuard(readings, 90, false)
	assert.True(t, action.Engage)
	assert.Equal(t, "GPU Fan", action.Fan)
	assert.Equal(t, 93, action.Temp)

	// one cool fan does not release while another is still hot
	readings[1].temp = 88
	action = evaluateGuard(readings, 90, true)
	assert.False(t, action.Release)
}

func TestOverride_CanRelease(t *testing.T) {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	o := override{active: true, lastChanged: start, minOn: 30 * time.Second}

	assert.False(t, o.canRelease(start.Add(29*time.Second)))
	assert.True(t, o.canRelease(start.Add(30*time.Second)))

	o.active = false
	assert.False(t, o.canRelease(start.Add(time.Hour)))
}

func TestTick_CriticalGuard(t *testing.T) {
	h := installed(t, 90)

	h.sim.Set(cpuTemp, 92)
	h.ctl.Tick()

	assert.Equal(t, byte(0x80), h.sim.Get(boostReg)&0x80)
	status := h.ctl.Status()
	assert.True(t, status.CriticalGuard)
	assert.False(t, status.FullBlast, "guard does not count as a client request")
	require.Len(t, h.notices, 1)
	assert.Equal(t, notifications.Alert{
		Kind: notifications.CriticalEngaged, Fan: "CPU Fan", Temp: 92, Limit: 90,
	}, h.notices[0])

	// stays engaged without re-notifying
	h.ctl.Tick()
	assert.Len(t, h.notices, 1)

	// cool enough but inside the hold time
	h.sim.Set(cpuTemp, 80)
	h.now = h.now.Add(10 * time.Second)
	h.ctl.Tick()
	assert.True(t, h.ctl.Status().CriticalGuard)
	assert.Equal(t, byte(0x80), h.sim.Get(boostReg)&0x80)

	h.now = h.now.Add(30 * time.Second)
	h.ctl.Tick()
	assert.False(t, h.ctl.Status().CriticalGuard)
	assert.Equal(t, byte(0x00), h.sim.Get(boostReg)&0x80)

	assert.Equal(t, []string{"critical_engaged", "critical_released"}, h.history.events)
	require.Len(t, h.notices, 2)
	assert.Equal(t, notifications.CriticalReleased, h.notices[1].Kind)
	assert.Equal(t, "CPU Fan", h.notices[1].Fan)
}

func TestTick_CriticalGuardKeepsClientFullBlast(t *testing.T) {
	h := installed(t, 90)
	h.ctl.Handle(setFullBlastOn)

	h.sim.Set(cpuTemp, 95)
	h.ctl.Tick()
	h.sim.Set(cpuTemp, 50)
	h.now = h.now.Add(time.Minute)
	h.ctl.Tick()

	assert.False(t, h.ctl.Status().CriticalGuard)
	assert.Equal(t, byte(0x80), h.sim.Get(boostReg)&0x80, "client still wants full blast")
}

func TestSetFullBlast_OffWhileGuardActive(t *testing.T) {
	h := installed(t, 90)
	h.sim.Set(cpuTemp, 95)
	h.ctl.Tick()

	h.ctl.Handle(setFullBlastOff)
	assert.Equal(t, byte(0x80), h.sim.Get(boostReg)&0x80, "guard holds full blast")
}
