// Package config loads and validates the YAML configuration file shared
// by every component (spec.md §6): logging, system, cluster, minimega,
// grpc, ssh, vm_resource_manager, and attribute_defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Logging holds the `logging` configuration block.
type Logging struct {
	Level        string `yaml:"level"`
	RootDir      string `yaml:"root_dir"`
	VMRLogDir    string `yaml:"vmr_log_dir"`
	FirewheelLog string `yaml:"firewheel_log"`
	CLILog       string `yaml:"cli_log"`
}

// System holds the `system` configuration block.
type System struct {
	Umask            string `yaml:"umask"`
	DefaultGroup     string `yaml:"default_group"`
	DefaultOutputDir string `yaml:"default_output_dir"`
}

// UmaskValue parses Umask as an octal number, with or without a leading
// zero (e.g. "0022", "022" and "22" all give 0o22), per spec.md §6.
func (s System) UmaskValue() (int, error) {
	v := strings.TrimSpace(s.Umask)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 8, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing system.umask %q as octal", s.Umask)
	}
	return int(n), nil
}

// Cluster holds the `cluster` configuration block: the control and
// compute host lists.
type Cluster struct {
	Control []string `yaml:"control"`
	Compute []string `yaml:"compute"`
}

// Minimega holds the `minimega` configuration block.
type Minimega struct {
	BaseDir    string `yaml:"base_dir"`
	FilesDir   string `yaml:"files_dir"`
	InstallDir string `yaml:"install_dir"`
	Degree     int    `yaml:"degree"`
	Namespace  string `yaml:"namespace"`
}

// GRPC holds the `grpc` configuration block (the Coordination Service's
// listen address and storage settings).
type GRPC struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
	Threads  int    `yaml:"threads"`
	RootDir  string `yaml:"root_dir"`
	CacheDir string `yaml:"cache_dir"`
}

// SSH holds the `ssh` configuration block.
type SSH struct {
	User string `yaml:"user"`
}

// VMResourceManager holds the `vm_resource_manager` configuration block.
type VMResourceManager struct {
	DefaultState string `yaml:"default_state"`
}

// Config is the fully parsed, validated configuration file.
type Config struct {
	Logging           Logging           `yaml:"logging"`
	System            System            `yaml:"system"`
	Cluster           Cluster           `yaml:"cluster"`
	Minimega          Minimega          `yaml:"minimega"`
	GRPC              GRPC              `yaml:"grpc"`
	SSH               SSH               `yaml:"ssh"`
	VMResourceManager VMResourceManager `yaml:"vm_resource_manager"`
	// AttributeDefaults maps an attribute name to the component name that
	// should satisfy it when more than one installed component provides it.
	AttributeDefaults map[string]string `yaml:"attribute_defaults"`
}

var validLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Load reads and validates the configuration file at path, applying the
// load-time invariants from spec.md §6: the logging level is normalized
// to an upper-case name (or left as a bare integer), minimega.degree is
// auto-corrected to the number of configured cluster nodes, and exactly
// one control node is recommended (a warning, not a load failure).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "malformed configuration file")
	}

	if err := normalizeLoggingLevel(&cfg.Logging); err != nil {
		return nil, err
	}

	if len(cfg.Cluster.Control) != 1 {
		fmt.Fprintf(os.Stderr, "warning: recommend exactly one control node, got %d\n", len(cfg.Cluster.Control))
	}

	cfg.Minimega.Degree = len(cfg.Cluster.Control) + len(cfg.Cluster.Compute)

	return &cfg, nil
}

// normalizeLoggingLevel upper-cases a string logging level and rejects
// anything that is neither a known level name nor a bare integer.
func normalizeLoggingLevel(l *Logging) error {
	level := strings.TrimSpace(l.Level)
	if level == "" {
		l.Level = "INFO"
		return nil
	}
	if _, err := strconv.Atoi(level); err == nil {
		l.Level = level
		return nil
	}
	upper := strings.ToUpper(level)
	if !validLevels[upper] {
		return errors.Errorf("unknown logging level %q: must be an integer or one of DEBUG, INFO, WARNING, ERROR, CRITICAL", l.Level)
	}
	l.Level = upper
	return nil
}
