package fanconfig

import "fmt"

// Clone returns a deep copy of c. Editors work on a clone so nothing they
// change is aliased with a config that is being applied or persisted.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.FanProfiles != nil {
		out.FanProfiles = make([]FanProfile, len(c.FanProfiles))
		for i := range c.FanProfiles {
			out.FanProfiles[i] = c.FanProfiles[i].clone()
		}
	}
	if c.FullBlast != nil {
		fb := *c.FullBlast
		out.FullBlast = &fb
	}
	if c.ChargeLimit != nil {
		cl := *c.ChargeLimit
		out.ChargeLimit = &cl
	}
	if c.PerformanceMode != nil {
		pm := *c.PerformanceMode
		pm.Modes = append([]PerformanceMode(nil), c.PerformanceMode.Modes...)
		out.PerformanceMode = &pm
	}
	if c.KeySwap != nil {
		ks := *c.KeySwap
		out.KeySwap = &ks
	}
	if c.RegisterSettings != nil {
		out.RegisterSettings = append(make([]RegisterSetting, 0, len(c.RegisterSettings)), c.RegisterSettings...)
	}
	return &out
}

func (p FanProfile) clone() FanProfile {
	out := p
	out.UpThresholdRegs = cloneRegs(p.UpThresholdRegs)
	out.DownThresholdRegs = cloneRegs(p.DownThresholdRegs)
	out.FanCurveRegs = cloneRegs(p.FanCurveRegs)
	out.TempReadReg = cloneReg(p.TempReadReg)
	out.SpeedReadReg = cloneReg(p.SpeedReadReg)
	out.SpeedWriteReg = cloneReg(p.SpeedWriteReg)
	out.RPMReadReg = cloneReg(p.RPMReadReg)
	if p.Curves != nil {
		out.Curves = make([]FanCurve, len(p.Curves))
		for i, c := range p.Curves {
			c.Thresholds = append([]TempThreshold(nil), c.Thresholds...)
			out.Curves[i] = c
		}
	}
	return out
}

func cloneRegs(in []Register) []Register {
	if in == nil {
		return nil
	}
	return append(make([]Register, 0, len(in)), in...)
}

func cloneReg(r *Register) *Register {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

func (c *Config) threshold(fan, curve, step int) (*TempThreshold, error) {
	if fan < 0 || fan >= len(c.FanProfiles) {
		return nil, fmt.Errorf("fan %d out of range", fan)
	}
	p := &c.FanProfiles[fan]
	if curve < 0 || curve >= len(p.Curves) {
		return nil, fmt.Errorf("curve %d out of range for fan %q", curve, p.Name)
	}
	ts := p.Curves[curve].Thresholds
	if step < 0 || step >= len(ts) {
		return nil, fmt.Errorf("step %d out of range for curve %q", step, p.Curves[curve].Name)
	}
	return &ts[step], nil
}

func (c *Config) SetFanSpeed(fan, curve, step int, speed uint8) error {
	t, err := c.threshold(fan, curve, step)
	if err != nil {
		return err
	}
	t.FanSpeed = speed
	return nil
}

// SetUpThreshold changes the rising threshold out of step and shifts the
// falling threshold back into it by the same amount, keeping the hysteresis
// gap of that boundary.
func (c *Config) SetUpThreshold(fan, curve, step int, up uint8) error {
	t, err := c.threshold(fan, curve, step)
	if err != nil {
		return err
	}
	delta := int(up) - int(t.Up)
	t.Up = up

	next, err := c.threshold(fan, curve, step+1)
	if err != nil {
		return nil
	}
	down := int(next.Down) + delta
	if down < 0 {
		down = 0
	}
	if down > 255 {
		down = 255
	}
	next.Down = uint8(down)
	return nil
}

func (c *Config) SetDownThreshold(fan, curve, step int, down uint8) error {
	t, err := c.threshold(fan, curve, step)
	if err != nil {
		return err
	}
	t.Down = down
	return nil
}

func (c *Config) SelectCurve(fan, curve int) error {
	if fan < 0 || fan >= len(c.FanProfiles) {
		return fmt.Errorf("fan %d out of range", fan)
	}
	p := &c.FanProfiles[fan]
	if curve < 0 || curve >= len(p.Curves) {
		return fmt.Errorf("curve %d out of range for fan %q", curve, p.Name)
	}
	p.CurveSel = curve
	return nil
}

func (c *Config) SetChargeLimit(value uint8) error {
	if c.ChargeLimit == nil {
		return fmt.Errorf("charge limit not supported by config for %q", c.Model)
	}
	if value > c.ChargeLimit.Range() {
		return fmt.Errorf("charge limit %d exceeds maximum %d", value, c.ChargeLimit.Range())
	}
	c.ChargeLimit.Value = value
	return nil
}
