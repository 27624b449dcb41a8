package controller

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/db"
	"github.com/thatsimonsguy/ec-fan-controller/internal/apply"
	"github.com/thatsimonsguy/ec-fan-controller/internal/datadog"
	"github.com/thatsimonsguy/ec-fan-controller/internal/ec"
	"github.com/thatsimonsguy/ec-fan-controller/internal/ipc"
	"github.com/thatsimonsguy/ec-fan-controller/internal/metrics"
)

// rpmConstant converts a tachometer count into revolutions per minute.
const rpmConstant = 478000

// Tick samples every fan, advances its engine and writes the decision when
// it differs from the last value written. Write failures are logged and the
// decision is retried on the next tick.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg == nil {
		return
	}
	now := c.opts.Now()

	samples := make([]db.Sample, 0, len(c.fans))
	readings := make([]reading, 0, len(c.fans))

	for _, f := range c.fans {
		name := f.profile.Name

		temp, err := c.readTemp(f)
		if err != nil {
			if !errors.Is(err, ErrNoRegister) {
				c.tickFailures++
				log.Warn().Err(err).Str("fan", name).Msg("Failed to read fan temperature")
			}
			continue
		}
		f.temp, f.haveTemp = temp, true

		prevStep := f.engine.Step()
		decision := f.engine.Update(temp)
		if step := f.engine.Step(); step != prevStep {
			log.Debug().
				Str("fan", name).
				Int("temp", temp).
				Int("from", prevStep).
				Int("to", step).
				Uint8("speed", decision).
				Msg("Fan curve step changed")
			datadog.Incr("fan.step_change", "fan:"+name)
		}

		written := false
		if int(decision) != f.lastApplied {
			reg := f.profile.DriveRegister().Byte()
			if err := c.applier.ApplyStep(reg, decision); err != nil {
				c.tickFailures++
				metrics.RegisterWrites.WithLabelValues("tick", "error").Inc()
				log.Error().
					Err(err).
					Str("fan", name).
					Str("reg", fmt.Sprintf("0x%02X", reg)).
					Uint8("speed", decision).
					Msg("Failed to write fan speed")
			} else {
				f.lastApplied = int(decision)
				written = true
				metrics.RegisterWrites.WithLabelValues("tick", "ok").Inc()
			}
		}

		rpm, err := c.readRPM(f)
		if err != nil {
			rpm = ipc.RPMUnavailable
		}

		metrics.Temperature.WithLabelValues(name).Set(float64(temp))
		metrics.FanSpeed.WithLabelValues(name).Set(float64(decision))
		metrics.FanRPM.WithLabelValues(name).Set(float64(rpm))
		metrics.CurveStep.WithLabelValues(name).Set(float64(f.engine.Step()))
		datadog.Gauge("fan.temperature", float64(temp), "fan:"+name)
		datadog.Gauge("fan.speed", float64(decision), "fan:"+name)
		if rpm != ipc.RPMUnavailable {
			datadog.Gauge("fan.rpm", float64(rpm), "fan:"+name)
		}

		samples = append(samples, db.Sample{
			TakenAt:     now,
			Fan:         f.index,
			FanName:     name,
			Temperature: temp,
			Step:        f.engine.Step(),
			Speed:       int(decision),
			RPM:         rpm,
			Written:     written,
		})
		readings = append(readings, reading{fan: name, temp: temp})
	}

	c.executeGuard(now, evaluateGuard(readings, c.opts.CriticalTemp, c.guard.active))

	if c.opts.History != nil {
		if err := c.opts.History.RecordSamples(samples); err != nil {
			log.Warn().Err(err).Msg("Failed to record tick samples")
		}
	}
}

func (c *Controller) readTemp(f *fan) (int, error) {
	if f.profile.TempReadReg == nil {
		return 0, fmt.Errorf("%w: %s temperature", ErrNoRegister, f.profile.Name)
	}
	reg := f.profile.TempReadReg.Byte()
	v, err := c.hw.Read(reg)
	if err != nil {
		return 0, &apply.HardwareError{Op: apply.OpRead, Reg: reg, Err: err}
	}
	return int(v), nil
}

// readSpeed returns the fan speed as a percentage of the profile's range.
func (c *Controller) readSpeed(f *fan) (int, error) {
	reg := f.profile.DriveRegister().Byte()
	if f.profile.SpeedReadReg != nil {
		reg = f.profile.SpeedReadReg.Byte()
	}
	v, err := c.hw.Read(reg)
	if err != nil {
		return 0, &apply.HardwareError{Op: apply.OpRead, Reg: reg, Err: err}
	}
	return speedPercent(v, f.profile.MinSpeed, f.profile.MaxSpeed), nil
}

// readRPM returns ipc.RPMUnavailable when the profile has no tachometer or
// the fan is stopped.
func (c *Controller) readRPM(f *fan) (int, error) {
	if f.profile.RPMReadReg == nil {
		return ipc.RPMUnavailable, nil
	}
	reg := f.profile.RPMReadReg.Byte()
	count, err := ec.ReadWord(c.hw, reg, f.profile.RPMBigEndian)
	if err != nil {
		return 0, &apply.HardwareError{Op: apply.OpRead, Reg: reg, Err: err}
	}
	if count == 0 {
		return ipc.RPMUnavailable, nil
	}
	return rpmConstant / int(count), nil
}

func speedPercent(raw byte, min, max int) int {
	if max == min {
		return int(raw)
	}
	pct := (int(raw) - min) * 100 / (max - min)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

type FanStatus struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Curve       string `json:"curve"`
	Temperature int    `json:"temperature"`
	HaveTemp    bool   `json:"have_temperature"`
	Step        int    `json:"step"`
	Speed       int    `json:"speed"`
	LastApplied int    `json:"last_applied"`
}

type Status struct {
	Loaded        bool        `json:"loaded"`
	Model         string      `json:"model,omitempty"`
	Author        string      `json:"author,omitempty"`
	FullBlast     bool        `json:"full_blast"`
	CriticalGuard bool        `json:"critical_guard"`
	TickFailures  int         `json:"tick_failures"`
	Fans          []FanStatus `json:"fans"`
}

// Status reports the state seen by the last tick. It never touches the EC.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Loaded:        c.cfg != nil,
		FullBlast:     c.fullBlast,
		CriticalGuard: c.guard.active,
		TickFailures:  c.tickFailures,
		Fans:          make([]FanStatus, 0, len(c.fans)),
	}
	if c.cfg != nil {
		s.Model = c.cfg.Model
		s.Author = c.cfg.Author
	}
	for _, f := range c.fans {
		s.Fans = append(s.Fans, f.status())
	}
	return s
}

func (c *Controller) FanStatus(i int) (FanStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.fan(i)
	if err != nil {
		return FanStatus{}, err
	}
	return f.status(), nil
}

func (f *fan) status() FanStatus {
	return FanStatus{
		Index:       f.index,
		Name:        f.profile.Name,
		Curve:       f.profile.SelectedCurve().Name,
		Temperature: f.temp,
		HaveTemp:    f.haveTemp,
		Step:        f.engine.Step(),
		Speed:       int(f.engine.Speed()),
		LastApplied: f.lastApplied,
	}
}
