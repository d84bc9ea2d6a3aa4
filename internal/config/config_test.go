package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPorts, cfg.Input.Ports)
	assert.True(t, cfg.Analysis.Sequence)
	assert.True(t, cfg.Analysis.Stream)
	assert.True(t, cfg.Analysis.Reassembly)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Stats.Enabled)
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
input:
  pcap_file: trace.pcap
  ports: [20121]
analysis:
  reassembly: false
logging:
  level: debug
store:
  path: out.db
metrics:
  textfile: out.prom
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trace.pcap", cfg.Input.PcapFile)
	assert.Equal(t, []int{20121}, cfg.Input.Ports)
	assert.False(t, cfg.Analysis.Reassembly)
	assert.True(t, cfg.Analysis.Sequence)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "out.db", cfg.Store.Path)
	assert.Equal(t, "out.prom", cfg.Metrics.TextFile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWithViper_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("analysis.stream", false)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.False(t, cfg.Analysis.Stream)
}

func TestValidate_OK(t *testing.T) {
	pcap := writeFile(t, "trace.pcap", "x")
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Input.PcapFile = pcap
	cfg.Metrics.Listen = "127.0.0.1:9108"

	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Input:   InputConfig{Ports: []int{0, 70000}},
		Stats:   StatsConfig{ReportIntervalSec: -1},
		Metrics: MetricsConfig{Listen: "no-port"},
		Logging: LoggingConfig{Level: "verbose"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "input.pcap_file must be specified")
	assert.Contains(t, msg, "got 0")
	assert.Contains(t, msg, "got 70000")
	assert.Contains(t, msg, "stats.report_interval_sec")
	assert.Contains(t, msg, "metrics.listen")
	assert.Contains(t, msg, "logging.level")
}

func TestValidate_PcapNotFound(t *testing.T) {
	cfg := &Config{
		Input:   InputConfig{PcapFile: filepath.Join(t.TempDir(), "missing.pcap")},
		Logging: LoggingConfig{Level: "info"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pcap file not found")
}

func TestSummary_ListsSections(t *testing.T) {
	cfg := &Config{Input: InputConfig{PcapFile: "a.pcap"}}
	s := cfg.Summary()
	assert.Contains(t, s, "a.pcap")
	assert.Contains(t, s, "Analysis:")
}
