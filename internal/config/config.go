package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Aeron trace analyzer.
type Config struct {
	Input    InputConfig    `yaml:"input"    mapstructure:"input"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
	Stats    StatsConfig    `yaml:"stats"    mapstructure:"stats"`
	Store    StoreConfig    `yaml:"store"    mapstructure:"store"`
	Metrics  MetricsConfig  `yaml:"metrics"  mapstructure:"metrics"`
}

type InputConfig struct {
	PcapFile string `yaml:"pcap_file" mapstructure:"pcap_file"`
	Ports    []int  `yaml:"ports"     mapstructure:"ports"`
}

// AnalysisConfig switches the individual analysis passes on or off.
type AnalysisConfig struct {
	Sequence   bool `yaml:"sequence"   mapstructure:"sequence"`
	Stream     bool `yaml:"stream"     mapstructure:"stream"`
	Reassembly bool `yaml:"reassembly" mapstructure:"reassembly"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file"  mapstructure:"file"`
}

type StatsConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ReportIntervalSec int    `yaml:"report_interval_sec" mapstructure:"report_interval_sec"`
	ExportFile        string `yaml:"export_file"         mapstructure:"export_file"`
}

type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type MetricsConfig struct {
	TextFile string `yaml:"textfile" mapstructure:"textfile"`
	Listen   string `yaml:"listen"   mapstructure:"listen"`
}

// DefaultPorts are the UDP ports Aeron samples and media drivers use out of the box.
var DefaultPorts = []int{40123, 40124, 40456}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input.ports", DefaultPorts)
	v.SetDefault("analysis.sequence", true)
	v.SetDefault("analysis.stream", true)
	v.SetDefault("analysis.reassembly", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.report_interval_sec", 0)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  PCAP:          %s\n", c.Input.PcapFile))
	sb.WriteString(fmt.Sprintf("  Ports:         %v\n", c.Input.Ports))
	sb.WriteString(fmt.Sprintf("  Analysis:      sequence=%v stream=%v reassembly=%v\n",
		c.Analysis.Sequence, c.Analysis.Stream, c.Analysis.Reassembly))
	sb.WriteString(fmt.Sprintf("  Stats:         enabled=%v export=%s\n", c.Stats.Enabled, c.Stats.ExportFile))
	sb.WriteString(fmt.Sprintf("  Store:         %s\n", c.Store.Path))
	sb.WriteString(fmt.Sprintf("  Metrics:       textfile=%s listen=%s\n", c.Metrics.TextFile, c.Metrics.Listen))
	return sb.String()
}
