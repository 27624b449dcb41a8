// Package fanconfig holds the fan-control configuration document: the typed
// model, its XML/YAML encodings and the structural validation that decides
// whether a document is accepted as a whole.
package fanconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpectedVersion is the only document version Load accepts.
const ExpectedVersion = 1

// Register is an EC register address. It is encoded as a hex string ("0x72")
// in documents but decimal input is accepted too.
type Register int

func (r Register) Byte() byte { return byte(r & 0xFF) }

func (r Register) String() string { return fmt.Sprintf("0x%02X", int(r)) }

func (r Register) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Register) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid register %q: %w", s, err)
	}
	*r = Register(v)
	return nil
}

// Reg is shorthand for building optional register fields.
func Reg(r int) *Register {
	v := Register(r)
	return &v
}

type Config struct {
	Version         int                     `xml:"version,attr" yaml:"version"`
	Model           string                  `xml:"Model" yaml:"model"`
	Author          string                  `xml:"Author" yaml:"author"`
	FanProfiles     []FanProfile            `xml:"FanProfiles>FanProfile" yaml:"fanProfiles"`
	FullBlast       *FullBlastSetting       `xml:"FullBlast,omitempty" yaml:"fullBlast,omitempty"`
	ChargeLimit     *ChargeLimitSetting     `xml:"ChargeLimit,omitempty" yaml:"chargeLimit,omitempty"`
	PerformanceMode *PerformanceModeSetting `xml:"PerformanceMode,omitempty" yaml:"performanceMode,omitempty"`
	KeySwap         *KeySwapSetting         `xml:"KeySwap,omitempty" yaml:"keySwap,omitempty"`

	// RegisterSettings is nil when the document omits the list. A present but
	// empty list is a validation error.
	RegisterSettings []RegisterSetting `xml:"-" yaml:"registerSettings,omitempty"`
}

type FanProfile struct {
	Name              string     `xml:"Name" yaml:"name"`
	UpThresholdRegs   []Register `xml:"UpThresholdRegs>Reg" yaml:"upThresholdRegs"`
	DownThresholdRegs []Register `xml:"DownThresholdRegs>Reg" yaml:"downThresholdRegs"`
	FanCurveRegs      []Register `xml:"FanCurveRegs>Reg" yaml:"fanCurveRegs"`
	Curves            []FanCurve `xml:"Curves>FanCurve" yaml:"curves"`
	CurveSel          int        `xml:"CurveSel" yaml:"curveSel"`
	MinSpeed          int        `xml:"MinSpeed" yaml:"minSpeed"`
	MaxSpeed          int        `xml:"MaxSpeed" yaml:"maxSpeed"`

	TempReadReg   *Register `xml:"TempReadReg,omitempty" yaml:"tempReadReg,omitempty"`
	SpeedReadReg  *Register `xml:"SpeedReadReg,omitempty" yaml:"speedReadReg,omitempty"`
	SpeedWriteReg *Register `xml:"SpeedWriteReg,omitempty" yaml:"speedWriteReg,omitempty"`
	RPMReadReg    *Register `xml:"RPMReadReg,omitempty" yaml:"rpmReadReg,omitempty"`
	RPMBigEndian  bool      `xml:"RPMBigEndian,omitempty" yaml:"rpmBigEndian,omitempty"`
}

// SelectedCurve returns the curve picked by CurveSel, falling back to the
// first curve when the index is out of range.
func (p *FanProfile) SelectedCurve() *FanCurve {
	if len(p.Curves) == 0 {
		return nil
	}
	if p.CurveSel < 0 || p.CurveSel >= len(p.Curves) {
		return &p.Curves[0]
	}
	return &p.Curves[p.CurveSel]
}

// DriveRegister is the register the tick loop writes engine decisions to.
func (p *FanProfile) DriveRegister() Register {
	if p.SpeedWriteReg != nil {
		return *p.SpeedWriteReg
	}
	return p.FanCurveRegs[0]
}

type FanCurve struct {
	Name        string          `xml:"Name" yaml:"name"`
	Description string          `xml:"Description" yaml:"description"`
	Thresholds  []TempThreshold `xml:"Thresholds>Threshold" yaml:"thresholds"`
}

// TempThreshold is one step of a fan curve. Up is the temperature at which the
// curve leaves this step upward and Down the temperature at which it falls back
// to the previous step. Up is ignored on the last step and Down on the first.
type TempThreshold struct {
	Up       uint8 `xml:"Up" yaml:"up"`
	Down     uint8 `xml:"Down" yaml:"down"`
	FanSpeed uint8 `xml:"FanSpeed" yaml:"fanSpeed"`
}

type RegisterSetting struct {
	Name        string   `xml:"Name,omitempty" yaml:"name,omitempty"`
	Description string   `xml:"Description,omitempty" yaml:"description,omitempty"`
	Reg         Register `xml:"Reg" yaml:"reg"`
	Value       uint8    `xml:"Value" yaml:"value"`
}

// FullBlastSetting describes Cooler Boost: Mask bits are set in Reg to force
// maximum fan speed and cleared to return to the curve.
type FullBlastSetting struct {
	Reg  Register `xml:"Reg" yaml:"reg"`
	Mask uint8    `xml:"Mask" yaml:"mask"`
}

// ChargeLimitSetting stores the battery charge limit as an offset from
// MinValue. A Value of 0 disables the limit.
type ChargeLimitSetting struct {
	Reg      Register `xml:"Reg" yaml:"reg"`
	MinValue uint8    `xml:"MinValue" yaml:"minValue"`
	MaxValue uint8    `xml:"MaxValue" yaml:"maxValue"`
	Value    uint8    `xml:"Value" yaml:"value"`
}

// Range is the largest Value accepted for this setting.
func (c *ChargeLimitSetting) Range() uint8 {
	if c.MaxValue < c.MinValue {
		return c.MinValue - c.MaxValue
	}
	return c.MaxValue - c.MinValue
}

type PerformanceModeSetting struct {
	Reg     Register          `xml:"Reg" yaml:"reg"`
	ModeSel int               `xml:"ModeSel" yaml:"modeSel"`
	Modes   []PerformanceMode `xml:"Modes>Mode" yaml:"modes"`
}

type PerformanceMode struct {
	Name        string `xml:"Name" yaml:"name"`
	Description string `xml:"Description" yaml:"description"`
	Value       uint8  `xml:"Value" yaml:"value"`
}

type KeySwapSetting struct {
	Reg      Register `xml:"Reg" yaml:"reg"`
	Enabled  bool     `xml:"Enabled" yaml:"enabled"`
	OnValue  uint8    `xml:"OnValue" yaml:"onValue"`
	OffValue uint8    `xml:"OffValue" yaml:"offValue"`
}
