package controller

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/internal/apply"
	"github.com/thatsimonsguy/ec-fan-controller/internal/metrics"
	"github.com/thatsimonsguy/ec-fan-controller/internal/notifications"
)

// guardRelease is how far below the critical temperature the hottest fan must
// fall before the guard lets go.
const guardRelease = 5

// override is a forced full-blast state with a minimum hold time.
type override struct {
	name        string
	active      bool
	lastChanged time.Time
	minOn       time.Duration
}

func (o *override) canRelease(now time.Time) bool {
	return o.active && now.Sub(o.lastChanged) >= o.minOn
}

type reading struct {
	fan  string
	temp int
}

type guardAction struct {
	Engage  bool
	Release bool
	Fan     string
	Temp    int
}

func evaluateGuard(readings []reading, critical int, active bool) guardAction {
	var action guardAction
	if critical <= 0 || len(readings) == 0 {
		return action
	}

	hottest := readings[0]
	for _, r := range readings[1:] {
		if r.temp > hottest.temp {
			hottest = r
		}
	}
	action.Fan = hottest.fan
	action.Temp = hottest.temp

	switch {
	case !active && hottest.temp >= critical:
		action.Engage = true
	case active && hottest.temp <= critical-guardRelease:
		action.Release = true
	}
	return action
}

func (c *Controller) executeGuard(now time.Time, action guardAction) {
	fb := c.cfg.FullBlast

	switch {
	case action.Engage:
		log.Warn().
			Str("override", c.guard.name).
			Str("fan", action.Fan).
			Int("temp", action.Temp).
			Int("critical", c.opts.CriticalTemp).
			Msg("Critical temperature reached, forcing full blast")

		if fb == nil {
			log.Error().Msg("Fan config has no full blast setting, cannot force fans")
		} else if err := apply.SetBits(c.hw, fb.Reg.Byte(), fb.Mask, true); err != nil {
			c.tickFailures++
			log.Error().Err(err).Msg("Failed to force full blast")
			return
		}
		c.guard.active = true
		c.guard.lastChanged = now
		metrics.FullBlast.Set(1)
		c.recordEvent("critical_engaged", fmt.Sprintf("%s at %d°C", action.Fan, action.Temp))
		c.notify(notifications.Alert{
			Kind:  notifications.CriticalEngaged,
			Fan:   action.Fan,
			Temp:  action.Temp,
			Limit: c.opts.CriticalTemp,
		})

	case action.Release:
		if !c.guard.canRelease(now) {
			return
		}
		if fb != nil && !c.fullBlast {
			if err := apply.SetBits(c.hw, fb.Reg.Byte(), fb.Mask, false); err != nil {
				c.tickFailures++
				log.Error().Err(err).Msg("Failed to release full blast")
				return
			}
		}
		c.guard.active = false
		c.guard.lastChanged = now
		metrics.FullBlast.Set(boolGauge(c.fullBlast))
		c.recordEvent("critical_released", fmt.Sprintf("%s at %d°C", action.Fan, action.Temp))
		c.notify(notifications.Alert{Kind: notifications.CriticalReleased, Fan: action.Fan, Temp: action.Temp})
		log.Info().
			Str("fan", action.Fan).
			Int("temp", action.Temp).
			Msg("Temperature back to normal, returning fans to curve")
	}
}
