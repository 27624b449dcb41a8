package fanconfig

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	VersionMismatch ErrorKind = iota + 1
	MalformedDocument
	InvalidStructure
)

func (k ErrorKind) String() string {
	switch k {
	case VersionMismatch:
		return "version mismatch"
	case MalformedDocument:
		return "malformed document"
	case InvalidStructure:
		return "invalid structure"
	default:
		return "unknown"
	}
}

var (
	ErrVersionMismatch   = errors.New("config version mismatch")
	ErrMalformedDocument = errors.New("malformed config document")
	ErrInvalidStructure  = errors.New("invalid config structure")
)

// Rule names a single structural check, in the order Validate runs them.
type Rule string

const (
	RuleVersion                  Rule = "version"
	RuleModel                    Rule = "model_required"
	RuleAuthor                   Rule = "author_required"
	RuleFanProfiles              Rule = "fan_profiles_required"
	RuleProfileName              Rule = "profile_name_required"
	RuleUpThresholdRegs          Rule = "up_threshold_regs_required"
	RuleDownThresholdRegs        Rule = "down_threshold_regs_required"
	RuleFanCurveRegs             Rule = "fan_curve_regs_min_two"
	RuleCurves                   Rule = "curves_required"
	RuleCurveName                Rule = "curve_name_required"
	RuleCurveDescription         Rule = "curve_description_required"
	RuleThresholdCount           Rule = "threshold_count_matches_curve_regs"
	RuleRegisterSettingsNotEmpty Rule = "register_settings_not_empty"
)

// ConfigError is returned by Load and Validate. Rule and Path are only set for
// InvalidStructure.
type ConfigError struct {
	Kind ErrorKind
	Rule Rule
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	switch e.Kind {
	case VersionMismatch:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case MalformedDocument:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		if e.Path != "" {
			return fmt.Sprintf("%s: %s at %s", e.Kind, e.Rule, e.Path)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Rule)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool {
	switch target {
	case ErrVersionMismatch:
		return e.Kind == VersionMismatch
	case ErrMalformedDocument:
		return e.Kind == MalformedDocument
	case ErrInvalidStructure:
		return e.Kind == InvalidStructure
	}
	return false
}

func invalid(rule Rule, path string) *ConfigError {
	return &ConfigError{Kind: InvalidStructure, Rule: rule, Path: path}
}

// Validate runs the structural rules in order and returns the first failure.
// It never modifies cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid(RuleVersion, "")
	}
	if cfg.Version != ExpectedVersion {
		return &ConfigError{
			Kind: VersionMismatch,
			Rule: RuleVersion,
			Err:  fmt.Errorf("got version %d, expected %d", cfg.Version, ExpectedVersion),
		}
	}
	if cfg.Model == "" {
		return invalid(RuleModel, "model")
	}
	if cfg.Author == "" {
		return invalid(RuleAuthor, "author")
	}
	if len(cfg.FanProfiles) == 0 {
		return invalid(RuleFanProfiles, "fanProfiles")
	}

	for i := range cfg.FanProfiles {
		if err := validateProfile(&cfg.FanProfiles[i], fmt.Sprintf("fanProfiles[%d]", i)); err != nil {
			return err
		}
	}

	if cfg.RegisterSettings != nil && len(cfg.RegisterSettings) == 0 {
		return invalid(RuleRegisterSettingsNotEmpty, "registerSettings")
	}
	return nil
}

func validateProfile(p *FanProfile, path string) error {
	switch {
	case p.Name == "":
		return invalid(RuleProfileName, path)
	case len(p.UpThresholdRegs) == 0:
		return invalid(RuleUpThresholdRegs, path)
	case len(p.DownThresholdRegs) == 0:
		return invalid(RuleDownThresholdRegs, path)
	case len(p.FanCurveRegs) < 2:
		return invalid(RuleFanCurveRegs, path)
	case len(p.Curves) == 0:
		return invalid(RuleCurves, path)
	}

	for j, c := range p.Curves {
		cpath := fmt.Sprintf("%s.curves[%d]", path, j)
		switch {
		case c.Name == "":
			return invalid(RuleCurveName, cpath)
		case c.Description == "":
			return invalid(RuleCurveDescription, cpath)
		case len(c.Thresholds) != len(p.FanCurveRegs):
			return invalid(RuleThresholdCount, cpath)
		}
	}
	return nil
}

// IsValid reports whether Validate accepts the config.
func (c *Config) IsValid() bool {
	return Validate(c) == nil
}
