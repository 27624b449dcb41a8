// Package apply programs a validated configuration into the embedded
// controller as an ordered list of register writes.
package apply

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/internal/ec"
	"github.com/thatsimonsguy/ec-fan-controller/internal/fanconfig"
)

var (
	ErrWriteFailed = errors.New("register write failed")
	ErrReadFailed  = errors.New("register read failed")
)

type Op string

const (
	OpWrite Op = "write"
	OpRead  Op = "read"
)

// HardwareError names the register that failed. After a failed write the
// hardware state is undefined: earlier writes of the same apply are not
// rolled back.
type HardwareError struct {
	Op  Op
	Reg byte
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s 0x%02X failed: %v", e.Op, e.Reg, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

func (e *HardwareError) Is(target error) bool {
	switch target {
	case ErrWriteFailed:
		return e.Op == OpWrite
	case ErrReadFailed:
		return e.Op == OpRead
	}
	return false
}

// Write is one planned register write.
type Write struct {
	Reg   byte
	Value byte
	What  string
}

type Applier struct {
	ec ec.Writer
}

func New(w ec.Writer) *Applier {
	return &Applier{ec: w}
}

// Plan lists the writes ApplyFull issues for profile idx, in order.
func Plan(cfg *fanconfig.Config, idx int) ([]Write, error) {
	if idx < 0 || idx >= len(cfg.FanProfiles) {
		return nil, fmt.Errorf("fan profile %d out of range", idx)
	}
	plan := registerSettings(cfg)
	return append(plan, profileWrites(&cfg.FanProfiles[idx])...), nil
}

// PlanAll lists the writes ApplyAll issues, in order.
func PlanAll(cfg *fanconfig.Config) []Write {
	plan := registerSettings(cfg)
	for i := range cfg.FanProfiles {
		plan = append(plan, profileWrites(&cfg.FanProfiles[i])...)
	}
	if cl := cfg.ChargeLimit; cl != nil {
		plan = append(plan, Write{Reg: cl.Reg.Byte(), Value: ChargeLimitValue(cl, cl.Value), What: "charge limit"})
	}
	if pm := cfg.PerformanceMode; pm != nil && pm.ModeSel >= 0 && pm.ModeSel < len(pm.Modes) {
		plan = append(plan, Write{Reg: pm.Reg.Byte(), Value: pm.Modes[pm.ModeSel].Value, What: "performance mode " + pm.Modes[pm.ModeSel].Name})
	}
	if ks := cfg.KeySwap; ks != nil {
		plan = append(plan, Write{Reg: ks.Reg.Byte(), Value: KeySwapValue(ks, ks.Enabled), What: "key swap"})
	}
	return plan
}

func registerSettings(cfg *fanconfig.Config) []Write {
	var plan []Write
	for _, rs := range cfg.RegisterSettings {
		plan = append(plan, Write{Reg: rs.Reg.Byte(), Value: rs.Value, What: rs.Name})
	}
	return plan
}

// profileWrites programs the selected curve: one speed per curve register,
// then the rising and falling edge of every step boundary, then the initial
// engine decision to the drive register.
func profileWrites(p *fanconfig.FanProfile) []Write {
	c := p.SelectedCurve()
	if c == nil {
		return nil
	}
	ts := c.Thresholds

	var plan []Write
	for k, reg := range p.FanCurveRegs {
		if k >= len(ts) {
			break
		}
		plan = append(plan, Write{Reg: reg.Byte(), Value: ts[k].FanSpeed, What: fmt.Sprintf("%s speed %d", p.Name, k)})
	}
	for k, reg := range p.UpThresholdRegs {
		if k+1 >= len(ts) {
			break
		}
		plan = append(plan, Write{Reg: reg.Byte(), Value: ts[k].Up, What: fmt.Sprintf("%s up %d", p.Name, k)})
	}
	for k, reg := range p.DownThresholdRegs {
		if k+1 >= len(ts) {
			break
		}
		plan = append(plan, Write{Reg: reg.Byte(), Value: ts[k+1].Down, What: fmt.Sprintf("%s down %d", p.Name, k)})
	}
	if len(ts) > 0 {
		plan = append(plan, Write{Reg: p.DriveRegister().Byte(), Value: ts[0].FanSpeed, What: p.Name + " initial speed"})
	}
	return plan
}

// ApplyFull writes the register settings and profile idx's selected curve.
// The first failing write aborts the rest.
func (a *Applier) ApplyFull(cfg *fanconfig.Config, idx int) error {
	plan, err := Plan(cfg, idx)
	if err != nil {
		return err
	}
	return a.run(plan)
}

// ApplyAll writes the register settings once, every profile, then the charge
// limit, performance mode and key swap when the config carries them.
func (a *Applier) ApplyAll(cfg *fanconfig.Config) error {
	return a.run(PlanAll(cfg))
}

// ApplyStep writes a single engine decision.
func (a *Applier) ApplyStep(reg byte, value byte) error {
	if err := a.ec.Write(reg, value); err != nil {
		return &HardwareError{Op: OpWrite, Reg: reg, Err: err}
	}
	return nil
}

func (a *Applier) run(plan []Write) error {
	for i, w := range plan {
		if err := a.ec.Write(w.Reg, w.Value); err != nil {
			log.Error().
				Err(err).
				Str("reg", fmt.Sprintf("0x%02X", w.Reg)).
				Str("what", w.What).
				Int("written", i).
				Int("planned", len(plan)).
				Msg("Apply aborted, hardware state undefined")
			return &HardwareError{Op: OpWrite, Reg: w.Reg, Err: err}
		}
	}
	log.Debug().Int("writes", len(plan)).Msg("Apply complete")
	return nil
}

// ChargeLimitValue is the raw register value for a charge limit of value.
func ChargeLimitValue(cl *fanconfig.ChargeLimitSetting, value uint8) byte {
	return byte((int(cl.MinValue) + int(value)) & 0xFF)
}

func KeySwapValue(ks *fanconfig.KeySwapSetting, enabled bool) byte {
	if enabled {
		return ks.OnValue
	}
	return ks.OffValue
}

// SetBits ORs mask into reg (set) or clears it (!set) with a read-modify-write.
// The caller must hold whatever lock keeps the two accesses together.
func SetBits(rw ec.ReadWriter, reg byte, mask byte, set bool) error {
	cur, err := rw.Read(reg)
	if err != nil {
		return &HardwareError{Op: OpRead, Reg: reg, Err: err}
	}
	next := cur &^ mask
	if set {
		next = cur | mask
	}
	if next == cur {
		return nil
	}
	if err := rw.Write(reg, next); err != nil {
		return &HardwareError{Op: OpWrite, Reg: reg, Err: err}
	}
	return nil
}
