package fanconfig

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_TemplateRoundTripXML(t *testing.T) {
	cfg := Template()

	data, err := Save(cfg)
	require.NoError(t, err)
	assert.Equal(t, FormatXML, DetectFormat(data))

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	again, err := Save(loaded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestLoad_TemplateRoundTripYAML(t *testing.T) {
	cfg := Template()

	data, err := SaveYAML(cfg)
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, DetectFormat(data))

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_VersionMismatch(t *testing.T) {
	for _, version := range []int{0, 2, -1, 99} {
		cfg := Template()
		cfg.Version = version
		data, err := Save(cfg)
		require.NoError(t, err)

		loaded, err := Load(data)
		assert.Nil(t, loaded, "version %d", version)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrVersionMismatch), "version %d", version)
		assert.False(t, errors.Is(err, ErrInvalidStructure))

		var cerr *ConfigError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, VersionMismatch, cerr.Kind)
	}
}

func TestLoad_VersionCheckedBeforeStructure(t *testing.T) {
	cfg := &Config{Version: 3}
	data, err := Save(cfg)
	require.NoError(t, err)

	_, err = Load(data)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"broken xml", `<FanControlConfig version="1"><Model>x</Mod`},
		{"broken yaml", "version: [1\nmodel: x"},
		{"unknown yaml field", "version: 1\nmodel: x\nauthor: y\nfanProfilez: []\n"},
		{"bad register", "<FanControlConfig version=\"1\"><FanProfiles><FanProfile><FanCurveRegs><Reg>zz</Reg></FanCurveRegs></FanProfile></FanProfiles></FanControlConfig>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load([]byte(tt.doc))
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, ErrMalformedDocument)
		})
	}
}

func TestLoad_YAMLDocument(t *testing.T) {
	doc := `
version: 1
model: Test Book 14
author: tester
fanProfiles:
  - name: CPU
    upThresholdRegs: [0x6A]
    downThresholdRegs: ["0x7A"]
    fanCurveRegs: [0x72, 0x73]
    curves:
      - name: Default
        description: two steps
        thresholds:
          - {up: 0, down: 0, fanSpeed: 10}
          - {up: 60, down: 50, fanSpeed: 90}
    minSpeed: 0
    maxSpeed: 150
    tempReadReg: 0x68
`
	cfg, err := Load([]byte(doc))
	require.NoError(t, err)
	require.Len(t, cfg.FanProfiles, 1)

	p := cfg.FanProfiles[0]
	assert.Equal(t, []Register{0x6A}, p.UpThresholdRegs)
	assert.Equal(t, []Register{0x7A}, p.DownThresholdRegs)
	assert.Equal(t, []Register{0x72, 0x73}, p.FanCurveRegs)
	require.NotNil(t, p.TempReadReg)
	assert.Equal(t, Register(0x68), *p.TempReadReg)
	assert.Nil(t, cfg.RegisterSettings)
	assert.Nil(t, cfg.FullBlast)
}

func TestLoad_ThresholdCountMismatchCitesProfile(t *testing.T) {
	cfg := Template()
	cfg.FanProfiles[1].Curves[0].Thresholds = cfg.FanProfiles[1].Curves[0].Thresholds[:6]
	data, err := Save(cfg)
	require.NoError(t, err)

	loaded, err := Load(data)
	assert.Nil(t, loaded)
	require.ErrorIs(t, err, ErrInvalidStructure)

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, RuleThresholdCount, cerr.Rule)
	assert.True(t, strings.HasPrefix(cerr.Path, "fanProfiles[1]"), cerr.Path)
	assert.False(t, cfg.IsValid())
}

func TestLoad_RegisterSettingsPresentButEmpty(t *testing.T) {
	cfg := Template()
	cfg.RegisterSettings = nil
	data, err := Save(cfg)
	require.NoError(t, err)

	_, err = Load(data)
	require.NoError(t, err, "absent register settings must be accepted")

	withEmpty := strings.Replace(string(data), "</FanControlConfig>", "<RegisterSettings></RegisterSettings></FanControlConfig>", 1)
	_, err = Load([]byte(withEmpty))
	require.ErrorIs(t, err, ErrInvalidStructure)

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, RuleRegisterSettingsNotEmpty, cerr.Rule)

	yamlDoc, err := SaveYAML(cfg)
	require.NoError(t, err)
	_, err = Load(append(yamlDoc, []byte("registerSettings: []\n")...))
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestValidate_RuleOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		rule   Rule
	}{
		{"missing model", func(c *Config) { c.Model = "" }, RuleModel},
		{"missing author", func(c *Config) { c.Author = "" }, RuleAuthor},
		{"model checked before author", func(c *Config) { c.Model = ""; c.Author = "" }, RuleModel},
		{"no profiles", func(c *Config) { c.FanProfiles = nil }, RuleFanProfiles},
		{"empty profile name", func(c *Config) { c.FanProfiles[0].Name = "" }, RuleProfileName},
		{"no up regs", func(c *Config) { c.FanProfiles[0].UpThresholdRegs = nil }, RuleUpThresholdRegs},
		{"no down regs", func(c *Config) { c.FanProfiles[0].DownThresholdRegs = []Register{} }, RuleDownThresholdRegs},
		{"one curve reg", func(c *Config) { c.FanProfiles[0].FanCurveRegs = regs(0x72) }, RuleFanCurveRegs},
		{"no curves", func(c *Config) { c.FanProfiles[0].Curves = nil }, RuleCurves},
		{"empty curve name", func(c *Config) { c.FanProfiles[0].Curves[1].Name = "" }, RuleCurveName},
		{"empty description", func(c *Config) { c.FanProfiles[0].Curves[0].Description = "" }, RuleCurveDescription},
		{"too many thresholds", func(c *Config) {
			c.FanProfiles[0].Curves[0].Thresholds = append(c.FanProfiles[0].Curves[0].Thresholds, TempThreshold{})
		}, RuleThresholdCount},
		{"first profile fails first", func(c *Config) {
			c.FanProfiles[0].Curves = nil
			c.FanProfiles[1].Name = ""
		}, RuleCurves},
		{"empty register settings", func(c *Config) { c.RegisterSettings = []RegisterSetting{} }, RuleRegisterSettingsNotEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Template()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.ErrorIs(t, err, ErrInvalidStructure)
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.rule, cerr.Rule)
		})
	}
}

func TestValidate_DoesNotRepair(t *testing.T) {
	cfg := Template()
	cfg.FanProfiles[0].FanCurveRegs = regs(0x72)
	before := cfg.Clone()

	assert.Error(t, Validate(cfg))
	assert.Equal(t, before, cfg)
}

func TestSaveFile_PicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	cfg := Template()

	for _, name := range []string{"current.xml", "current.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveFile(cfg, path))
		loaded, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, cfg, loaded)
	}

	_, err := LoadFile(filepath.Join(dir, "missing.xml"))
	assert.Error(t, err)
}

func TestRegister_Text(t *testing.T) {
	var r Register
	require.NoError(t, r.UnmarshalText([]byte(" 0x9A ")))
	assert.Equal(t, Register(0x9A), r)
	require.NoError(t, r.UnmarshalText([]byte("114")))
	assert.Equal(t, Register(114), r)
	assert.Error(t, r.UnmarshalText([]byte("reg")))

	text, err := Register(0x7).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0x07", string(text))
	assert.Equal(t, byte(0x34), Register(0x1234).Byte())
}

func TestClone_IsIndependent(t *testing.T) {
	cfg := Template()
	draft := cfg.Clone()
	require.Equal(t, cfg, draft)

	require.NoError(t, draft.SetFanSpeed(0, 0, 3, 99))
	*draft.FanProfiles[0].TempReadReg = 0x11
	draft.FanProfiles[1].FanCurveRegs[0] = 0x01
	draft.RegisterSettings[0].Value = 0
	draft.FullBlast.Mask = 0x01

	assert.Equal(t, uint8(56), cfg.FanProfiles[0].Curves[0].Thresholds[3].FanSpeed)
	assert.Equal(t, Register(0x68), *cfg.FanProfiles[0].TempReadReg)
	assert.Equal(t, Register(0x8A), cfg.FanProfiles[1].FanCurveRegs[0])
	assert.Equal(t, uint8(0x8C), cfg.RegisterSettings[0].Value)
	assert.Equal(t, uint8(0x80), cfg.FullBlast.Mask)
}

func TestSetUpThreshold_ShiftsPairedDown(t *testing.T) {
	tests := []struct {
		name     string
		step     int
		up       uint8
		wantDown uint8
	}{
		{"raise", 1, 64, 58},
		{"lower", 1, 50, 44},
		{"clamped at zero", 1, 0, 0},
		{"last step has no pair", 6, 99, 79},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Template()
			require.NoError(t, cfg.SetUpThreshold(0, 0, tt.step, tt.up))

			ts := cfg.FanProfiles[0].Curves[0].Thresholds
			assert.Equal(t, tt.up, ts[tt.step].Up)
			if tt.step+1 < len(ts) {
				assert.Equal(t, tt.wantDown, ts[tt.step+1].Down)
			} else {
				assert.Equal(t, tt.wantDown, ts[tt.step].Down)
			}
		})
	}
}

func TestDraftEdits_OutOfRange(t *testing.T) {
	cfg := Template()

	assert.Error(t, cfg.SetFanSpeed(2, 0, 0, 1))
	assert.Error(t, cfg.SetFanSpeed(0, 2, 0, 1))
	assert.Error(t, cfg.SetDownThreshold(0, 0, 7, 1))
	assert.Error(t, cfg.SetUpThreshold(-1, 0, 0, 1))
	assert.Error(t, cfg.SelectCurve(1, 1))
	assert.Equal(t, Template(), cfg)

	require.NoError(t, cfg.SelectCurve(0, 1))
	assert.Equal(t, "Silent", cfg.FanProfiles[0].SelectedCurve().Name)
	require.NoError(t, cfg.SetDownThreshold(0, 1, 2, 57))
	assert.Equal(t, uint8(57), cfg.FanProfiles[0].Curves[1].Thresholds[2].Down)
}

func TestSetChargeLimit(t *testing.T) {
	cfg := Template()
	require.NoError(t, cfg.SetChargeLimit(80))
	assert.Equal(t, uint8(80), cfg.ChargeLimit.Value)
	assert.Equal(t, uint8(0x64), cfg.ChargeLimit.Range())
	assert.Error(t, cfg.SetChargeLimit(101))

	cfg.ChargeLimit = nil
	assert.Error(t, cfg.SetChargeLimit(50))
}

func TestDriveRegister(t *testing.T) {
	cfg := Template()
	assert.Equal(t, Register(0x72), cfg.FanProfiles[0].DriveRegister())
	assert.Equal(t, Register(0x8A), cfg.FanProfiles[1].DriveRegister())
}
