// Package curve implements the per-fan hysteresis state machine that turns a
// temperature sample into a fan-speed decision.
package curve

import "github.com/thatsimonsguy/ec-fan-controller/internal/fanconfig"

// Engine walks a list of thresholds one sample at a time. The thresholds are
// used in the order given and never re-sorted.
type Engine struct {
	thresholds []fanconfig.TempThreshold
	step       int
}

// New returns an engine positioned on the first step. An engine built from an
// empty list always decides 0.
func New(thresholds []fanconfig.TempThreshold) *Engine {
	return &Engine{thresholds: append([]fanconfig.TempThreshold(nil), thresholds...)}
}

// Update feeds one temperature sample and returns the resulting fan speed.
// Rising past several Up thresholds (or falling past several Down
// thresholds) in one sample moves several steps at once.
func (e *Engine) Update(temp int) byte {
	if len(e.thresholds) == 0 {
		return 0
	}

	last := len(e.thresholds) - 1
	if e.step < last && temp >= int(e.thresholds[e.step].Up) {
		for e.step < last && temp >= int(e.thresholds[e.step].Up) {
			e.step++
		}
	} else {
		for e.step > 0 && temp <= int(e.thresholds[e.step].Down) {
			e.step--
		}
	}
	return e.thresholds[e.step].FanSpeed
}

// Step is the current index into the thresholds.
func (e *Engine) Step() int { return e.step }

// Speed is the decision for the current step without consuming a sample.
func (e *Engine) Speed() byte {
	if len(e.thresholds) == 0 {
		return 0
	}
	return e.thresholds[e.step].FanSpeed
}

func (e *Engine) Reset() { e.step = 0 }

// Len is the number of steps.
func (e *Engine) Len() int { return len(e.thresholds) }
