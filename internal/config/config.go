package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the daemon settings. Fan curves live in the config document
// handled by fanconfig, not here.
type Config struct {
	ConfigFile string
	StateDir   string
	LogLevel   zerolog.Level
	SafeMode   bool

	LogFile        string `json:"log_file"`
	ListenAddr     string `json:"listen_addr"`
	PollIntervalMs int    `json:"poll_interval_ms"`
	ECBackend      string `json:"ec_backend"`
	DBPath         string `json:"db_path"`
	CriticalTemp   int    `json:"critical_temp"`
	HistoryDays    int    `json:"history_days"`

	NtfyTopic     string   `json:"ntfy_topic"`
	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`
}

func Load() Config {
	return load(flag.CommandLine, os.Args[1:])
}

func load(fset *flag.FlagSet, args []string) Config {
	var cfg Config
	var logLevel string

	fset.StringVar(&cfg.ConfigFile, "config-file", "/etc/ecfan/settings.json", "Path to daemon settings file")
	fset.StringVar(&cfg.StateDir, "state-dir", "/var/lib/ecfan", "Directory for the active fan config and history database")
	fset.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fset.BoolVar(&cfg.SafeMode, "safe-mode", false, "Log EC writes instead of performing them")
	if err := fset.Parse(args); err != nil {
		panic("Failed to parse flags: " + err.Error())
	}

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		panic("Failed to load config file: " + err.Error())
	default:
		defer file.Close()
		dec := json.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			panic("Failed to parse config file: " + err.Error())
		}
	}

	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:2961"
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = 1000
	}
	if cfg.ECBackend == "" {
		cfg.ECBackend = "ecsys"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.StateDir, "history.db")
	}
	if cfg.HistoryDays == 0 {
		cfg.HistoryDays = 7
	}
	if cfg.DDAgentAddr == "" {
		cfg.DDAgentAddr = "127.0.0.1:8125"
	}
	if cfg.DDNamespace == "" {
		cfg.DDNamespace = "ecfan."
	}
}

func (cfg *Config) validate() {
	var problems []string

	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		problems = append(problems, fmt.Sprintf("listen_addr %q: %v", cfg.ListenAddr, err))
	}
	if cfg.PollIntervalMs < 100 {
		problems = append(problems, fmt.Sprintf("poll_interval_ms must be at least 100, got %d", cfg.PollIntervalMs))
	}
	switch cfg.ECBackend {
	case "ecsys", "inpout", "sim":
	default:
		problems = append(problems, fmt.Sprintf("ec_backend must be ecsys, inpout or sim, got %q", cfg.ECBackend))
	}
	if cfg.CriticalTemp != 0 && (cfg.CriticalTemp < 50 || cfg.CriticalTemp > 110) {
		problems = append(problems, fmt.Sprintf("critical_temp must be 0 (off) or 50-110, got %d", cfg.CriticalTemp))
	}
	if cfg.HistoryDays < 0 {
		problems = append(problems, "history_days must not be negative")
	}

	if len(problems) > 0 {
		panic("Invalid settings: " + strings.Join(problems, "; "))
	}
}

func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollIntervalMs) * time.Millisecond
}

// ActiveConfigPath is where the last applied fan config document is kept.
func (cfg *Config) ActiveConfigPath() string {
	return filepath.Join(cfg.StateDir, "current.xml")
}
