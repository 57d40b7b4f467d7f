// ///////////////////////////////////////////////////////////////////////////
//
// # RECON - Migration Data Reconciliation
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrIncompleteConfig is returned when a database section lacks a required
// setting.
var ErrIncompleteConfig = errors.New("incomplete database configuration")

type Config struct {
	Source     DatabaseConfig   `yaml:"source" envPrefix:"SRC_"`
	Target     DatabaseConfig   `yaml:"target" envPrefix:"TGT_"`
	Validation ValidationConfig `yaml:"validation"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Server     ServerConfig     `yaml:"server"`

	ScheduleJobs   []JobDef   `yaml:"schedule_jobs"`
	ScheduleConfig []SchedDef `yaml:"schedule_config"`

	DebugMode bool `yaml:"debug_mode" env:"RECON_DEBUG"`
}

// DatabaseConfig is the opaque credential bundle for one side of the
// comparison. Every field can be overridden from the environment, e.g.
// SRC_HOST or TGT_PWD.
type DatabaseConfig struct {
	Engine   string            `yaml:"engine" env:"DB_ENGINE"`
	Host     string            `yaml:"host" env:"HOST"`
	Port     int               `yaml:"port" env:"PORT"`
	Database string            `yaml:"database" env:"DB"`
	User     string            `yaml:"user" env:"USER"`
	Password string            `yaml:"password" env:"PWD"`
	Options  map[string]string `yaml:"options"`
}

type ValidationConfig struct {
	SampleSize     int    `yaml:"sample_size" env:"RECON_SAMPLE_SIZE"`
	Parallelism    int    `yaml:"parallelism" env:"RECON_PARALLELISM"`
	SchedulingMode string `yaml:"scheduling_mode"`
	JobTimeout     string `yaml:"job_timeout"`
	LogDir         string `yaml:"log_dir"`
	ReportDir      string `yaml:"report_dir"`
	WriteDetails   *bool  `yaml:"write_details"`
	Handoff        string `yaml:"handoff"`
	TablesFile     string `yaml:"tables_file"`
}

type BreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ConsecutiveFails uint32 `yaml:"consecutive_failures"`
	OpenTimeout      string `yaml:"open_timeout"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	TaskStorePath string `yaml:"taskstore_path"`

	// ClientCAFile turns on mutual TLS. AllowedCNs and ClientCRLFile only
	// apply when it is set.
	ClientCAFile  string   `yaml:"client_ca_file"`
	AllowedCNs    []string `yaml:"allowed_common_names"`
	ClientCRLFile string   `yaml:"client_crl_file"`
}

type JobDef struct {
	Name       string         `yaml:"name"`
	TablesFile string         `yaml:"tables_file,omitempty"`
	Tables     []string       `yaml:"tables,omitempty"`
	Args       map[string]any `yaml:"args,omitempty"`
}

type SchedDef struct {
	JobName         string `yaml:"job_name"`
	CrontabSchedule string `yaml:"crontab_schedule,omitempty"`
	RunFrequency    string `yaml:"run_frequency,omitempty"`
	Enabled         bool   `yaml:"enabled"`
}

const (
	DefaultSampleSize  = 1000
	DefaultParallelism = 50
	DefaultJobTimeout  = 10 * time.Minute
	DefaultLogDir      = "logs"
	DefaultReportDir   = "data_validation_reports"
	DefaultTablesFile  = "tables.txt"
)

// Cfg holds the loaded config for the whole app.
var Cfg *Config

// Load reads and parses path into a Config, then overlays credentials found
// in the environment (and an optional .env file next to the process).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv builds a Config from the environment alone, for runs without a
// config file.
func FromEnv() (*Config, error) {
	var c Config
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Init loads the config and assigns it to the package variable.
func Init(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	Cfg = c
	return nil
}

// ApplyEnv overlays SRC_* / TGT_* and RECON_* variables on c. A .env file in
// the working directory is loaded first if present; variables already set
// in the environment win.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate performs the presence checks on one database section.
func (d DatabaseConfig) Validate(side string) error {
	var missing []string
	if strings.TrimSpace(d.Engine) == "" {
		missing = append(missing, "engine")
	}
	if strings.TrimSpace(d.Database) == "" {
		missing = append(missing, "database")
	}
	// sqlite only needs a file path in database
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(d.Engine)), "sqlite") {
		if strings.TrimSpace(d.Host) == "" {
			missing = append(missing, "host")
		}
		if strings.TrimSpace(d.User) == "" {
			missing = append(missing, "user")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing %s", ErrIncompleteConfig, side, strings.Join(missing, ", "))
	}
	return nil
}

// CheckDatabases validates both sides.
func (c *Config) CheckDatabases() error {
	if c == nil {
		return fmt.Errorf("%w: configuration is not loaded", ErrIncompleteConfig)
	}
	if err := c.Source.Validate("source"); err != nil {
		return err
	}
	return c.Target.Validate("target")
}

func (v ValidationConfig) EffectiveSampleSize() int {
	if v.SampleSize > 0 {
		return v.SampleSize
	}
	return DefaultSampleSize
}

func (v ValidationConfig) EffectiveParallelism() int {
	if v.Parallelism > 0 {
		return v.Parallelism
	}
	return DefaultParallelism
}

// EffectiveJobTimeout parses job_timeout. "0" disables the timeout.
func (v ValidationConfig) EffectiveJobTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(v.JobTimeout)
	if raw == "" {
		return DefaultJobTimeout, nil
	}
	if raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid validation.job_timeout %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("validation.job_timeout must not be negative: %s", raw)
	}
	return d, nil
}

func (v ValidationConfig) EffectiveLogDir() string {
	if strings.TrimSpace(v.LogDir) != "" {
		return v.LogDir
	}
	return DefaultLogDir
}

func (v ValidationConfig) EffectiveReportDir() string {
	if strings.TrimSpace(v.ReportDir) != "" {
		return v.ReportDir
	}
	return DefaultReportDir
}

func (v ValidationConfig) EffectiveTablesFile() string {
	if strings.TrimSpace(v.TablesFile) != "" {
		return v.TablesFile
	}
	return DefaultTablesFile
}

func (v ValidationConfig) DetailsEnabled() bool {
	if v.WriteDetails == nil {
		return true
	}
	return *v.WriteDetails
}
