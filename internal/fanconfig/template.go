package fanconfig

// Template returns a complete, valid config modelled on a two-fan MSI laptop.
// It is the starting point for `debug -cmd template` and a fixture for tests.
func Template() *Config {
	return &Config{
		Version: ExpectedVersion,
		Model:   "MSI GF63 Thin 9SC",
		Author:  "ec-fan-controller",
		FanProfiles: []FanProfile{
			{
				Name:              "CPU Fan",
				UpThresholdRegs:   regs(0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F),
				DownThresholdRegs: regs(0x7A, 0x7B, 0x7C, 0x7D, 0x7E, 0x7F),
				FanCurveRegs:      regs(0x72, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78),
				Curves: []FanCurve{
					{
						Name:        "Default",
						Description: "Firmware default curve",
						Thresholds: []TempThreshold{
							{Up: 55, Down: 0, FanSpeed: 0},
							{Up: 61, Down: 48, FanSpeed: 40},
							{Up: 67, Down: 55, FanSpeed: 48},
							{Up: 73, Down: 61, FanSpeed: 56},
							{Up: 79, Down: 67, FanSpeed: 64},
							{Up: 85, Down: 73, FanSpeed: 72},
							{Up: 0, Down: 79, FanSpeed: 150},
						},
					},
					{
						Name:        "Silent",
						Description: "Lower speeds at the cost of higher temperatures",
						Thresholds: []TempThreshold{
							{Up: 60, Down: 0, FanSpeed: 0},
							{Up: 66, Down: 52, FanSpeed: 30},
							{Up: 72, Down: 60, FanSpeed: 38},
							{Up: 78, Down: 66, FanSpeed: 46},
							{Up: 84, Down: 72, FanSpeed: 54},
							{Up: 90, Down: 78, FanSpeed: 62},
							{Up: 0, Down: 84, FanSpeed: 150},
						},
					},
				},
				CurveSel:      0,
				MinSpeed:      0,
				MaxSpeed:      150,
				TempReadReg:   Reg(0x68),
				SpeedReadReg:  Reg(0x71),
				SpeedWriteReg: Reg(0x72),
				RPMReadReg:    Reg(0xC8),
				RPMBigEndian:  true,
			},
			{
				Name:              "GPU Fan",
				UpThresholdRegs:   regs(0x82, 0x83, 0x84, 0x85, 0x86, 0x87),
				DownThresholdRegs: regs(0x92, 0x93, 0x94, 0x95, 0x96, 0x97),
				FanCurveRegs:      regs(0x8A, 0x8B, 0x8C, 0x8D, 0x8E, 0x8F, 0x90),
				Curves: []FanCurve{
					{
						Name:        "Default",
						Description: "Firmware default curve",
						Thresholds: []TempThreshold{
							{Up: 55, Down: 0, FanSpeed: 0},
							{Up: 61, Down: 48, FanSpeed: 40},
							{Up: 67, Down: 55, FanSpeed: 48},
							{Up: 73, Down: 61, FanSpeed: 56},
							{Up: 79, Down: 67, FanSpeed: 64},
							{Up: 85, Down: 73, FanSpeed: 72},
							{Up: 0, Down: 79, FanSpeed: 150},
						},
					},
				},
				MinSpeed:     0,
				MaxSpeed:     150,
				TempReadReg:  Reg(0x80),
				SpeedReadReg: Reg(0x89),
				RPMReadReg:   Reg(0xCA),
				RPMBigEndian: true,
			},
		},
		FullBlast: &FullBlastSetting{Reg: 0x98, Mask: 0x80},
		ChargeLimit: &ChargeLimitSetting{
			Reg:      0xEF,
			MinValue: 0x80,
			MaxValue: 0xE4,
			Value:    0,
		},
		PerformanceMode: &PerformanceModeSetting{
			Reg:     0xF2,
			ModeSel: 1,
			Modes: []PerformanceMode{
				{Name: "Silent", Description: "Quietest operation", Value: 0xC2},
				{Name: "Balanced", Description: "Default behaviour", Value: 0xC1},
				{Name: "Performance", Description: "Highest power limits", Value: 0xC4},
			},
		},
		KeySwap: &KeySwapSetting{Reg: 0xE8, Enabled: false, OnValue: 0x10, OffValue: 0x00},
		RegisterSettings: []RegisterSetting{
			{Name: "Fan mode", Description: "Switch the EC to advanced fan mode", Reg: 0xF4, Value: 0x8C},
			{Name: "Curve control", Description: "Enable custom fan curve registers", Reg: 0xD4, Value: 0x0D},
		},
	}
}

func regs(rs ...int) []Register {
	out := make([]Register, len(rs))
	for i, r := range rs {
		out[i] = Register(r)
	}
	return out
}
