package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the kerntune configuration file
// (~/.config/kerntune/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	Arch     string `yaml:"arch"`
	UserDb   string `yaml:"user_db"`
	SystemDb string `yaml:"system_db"`

	// Tuning defaults
	MaxCandidates *int   `yaml:"max_candidates"`
	TimeBudget    string `yaml:"time_budget"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kerntune", "config.yaml")
}

// applyCommonConfig applies config file defaults shared by every command
// when the corresponding CLI flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Arch != "" && !c.IsSet("arch") {
		arch = cfg.Arch
	}
	if cfg.UserDb != "" && !c.IsSet("user-db") {
		userDbPath = cfg.UserDb
	}
	if cfg.SystemDb != "" && !c.IsSet("system-db") {
		systemDbPath = cfg.SystemDb
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyTuneConfig applies config file defaults to tune command variables.
func applyTuneConfig(c *cli.Command, cfg Config, maxCandidates *int, timeBudget *time.Duration) {
	if cfg.MaxCandidates != nil && !c.IsSet("max-candidates") {
		*maxCandidates = *cfg.MaxCandidates
	}
	if cfg.TimeBudget != "" && !c.IsSet("time-budget") {
		if d, err := time.ParseDuration(cfg.TimeBudget); err == nil {
			*timeBudget = d
		}
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or doesn't parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
