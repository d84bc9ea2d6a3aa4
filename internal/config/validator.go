package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// PCAP file must exist
	if c.Input.PcapFile == "" {
		errs = append(errs, "input.pcap_file must be specified")
	} else if _, err := os.Stat(c.Input.PcapFile); os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("pcap file not found: %s", c.Input.PcapFile))
	}

	for _, port := range c.Input.Ports {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Sprintf("input.ports entries must be between 1 and 65535, got %d", port))
		}
	}

	if c.Stats.ReportIntervalSec < 0 {
		errs = append(errs, "stats.report_interval_sec must be >= 0")
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("invalid metrics.listen address %q: %v", c.Metrics.Listen, err))
		}
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
