package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the anvil configuration file (~/.config/anvil/config.yaml).
// Optional fields are pointers so "not set" is distinguishable from a
// zero value.
type Config struct {
	// Lowering defaults
	Validate  *bool  `yaml:"validate"`
	Offload   *bool  `yaml:"offload_graph_io_quantization"`
	Precision string `yaml:"precision"`

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
	return filepath.Join(dir, "anvil", "config.yaml")
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

// applyLoggingConfig applies config file defaults when the
// corresponding CLI flag was not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyLowerConfig(c *cli.Command, cfg Config, validate, offload *bool, precision *string) {
	if cfg.Validate != nil && !c.IsSet("validate") {
		*validate = *cfg.Validate
	}
	if cfg.Offload != nil && !c.IsSet("offload") {
		*offload = *cfg.Offload
	}
	if cfg.Precision != "" && !c.IsSet("precision") {
		*precision = cfg.Precision
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
