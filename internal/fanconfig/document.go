package fanconfig

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatXML Format = iota
	FormatYAML
)

// xmlDocument wraps Config so that an empty <RegisterSettings/> element can be
// told apart from a missing one.
type xmlDocument struct {
	XMLName xml.Name `xml:"FanControlConfig"`
	Config
	RegisterSettings *xmlRegisterSettings `xml:"RegisterSettings"`
}

type xmlRegisterSettings struct {
	Items []RegisterSetting `xml:"RegisterSetting"`
}

// DetectFormat treats anything starting with '<' as XML and everything else
// as YAML.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatXML
	}
	return FormatYAML
}

// Load parses and validates a config document. A config is only returned when
// every rule passes.
func Load(data []byte) (*Config, error) {
	cfg, err := Decode(data, DetectFormat(data))
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Load(data)
}

// Decode parses a document without validating it.
func Decode(data []byte, format Format) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{Kind: MalformedDocument, Err: errors.New("empty document")}
	}

	switch format {
	case FormatXML:
		var doc xmlDocument
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, &ConfigError{Kind: MalformedDocument, Err: err}
		}
		cfg := doc.Config
		if doc.RegisterSettings != nil {
			cfg.RegisterSettings = doc.RegisterSettings.Items
			if cfg.RegisterSettings == nil {
				cfg.RegisterSettings = []RegisterSetting{}
			}
		}
		return &cfg, nil
	case FormatYAML:
		var cfg Config
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, &ConfigError{Kind: MalformedDocument, Err: err}
		}
		return &cfg, nil
	default:
		return nil, &ConfigError{Kind: MalformedDocument, Err: fmt.Errorf("unknown format %d", format)}
	}
}

// Save encodes cfg as XML. It does not validate.
func Save(cfg *Config) ([]byte, error) {
	doc := xmlDocument{Config: *cfg}
	if cfg.RegisterSettings != nil {
		doc.RegisterSettings = &xmlRegisterSettings{Items: cfg.RegisterSettings}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// SaveYAML encodes cfg as YAML. It does not validate.
func SaveYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveFile writes cfg to path, choosing YAML for .yaml/.yml and XML otherwise.
func SaveFile(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = SaveYAML(cfg)
	default:
		data, err = Save(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
