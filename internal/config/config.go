// Package config loads and validates the schedcore configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the complete configuration of a schedcore run.
type Config struct {
	Topology   TopologyConfig   `yaml:"topology" mapstructure:"topology"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Simulation SimulationConfig `yaml:"simulation" mapstructure:"simulation"`
}

// TopologyConfig describes the simulated machine as a symmetric
// package / core / SMT tree.
type TopologyConfig struct {
	Packages        int32 `yaml:"packages" mapstructure:"packages"`
	CoresPerPackage int32 `yaml:"cores_per_package" mapstructure:"cores_per_package"`
	SMTPerCore      int32 `yaml:"smt_per_core" mapstructure:"smt_per_core"`
}

// CPUCount returns the number of logical CPUs the topology describes.
func (t TopologyConfig) CPUCount() int32 {
	return t.Packages * t.CoresPerPackage * t.SMTPerCore
}

// SchedulerConfig holds scheduler options.
type SchedulerConfig struct {
	// Mode is the initial operation mode: "low_latency" or
	// "power_saving".
	Mode string `yaml:"mode" mapstructure:"mode"`
}

// MetricsConfig holds the Prometheus exporter options.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// LoggingConfig holds logging options.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SimulationConfig describes the synthetic workload.
type SimulationConfig struct {
	Threads    int     `yaml:"threads" mapstructure:"threads"`
	Priorities []int32 `yaml:"priorities" mapstructure:"priorities"`
	BurstMin   int64   `yaml:"burst_min_us" mapstructure:"burst_min_us"`
	BurstMax   int64   `yaml:"burst_max_us" mapstructure:"burst_max_us"`
	SleepMin   int64   `yaml:"sleep_min_us" mapstructure:"sleep_min_us"`
	SleepMax   int64   `yaml:"sleep_max_us" mapstructure:"sleep_max_us"`
	Duration   int64   `yaml:"duration_us" mapstructure:"duration_us"`
	Seed       int64   `yaml:"seed" mapstructure:"seed"`
}

// DefaultConfig returns the configuration used when no file is given:
// a 2-package, 4-core machine running a mixed workload for one virtual
// second.
func DefaultConfig() *Config {
	return &Config{
		Topology: TopologyConfig{
			Packages:        2,
			CoresPerPackage: 2,
			SMTPerCore:      2,
		},
		Scheduler: SchedulerConfig{
			Mode: "low_latency",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Simulation: SimulationConfig{
			Threads:    16,
			Priorities: []int32{5, 10, 10, 10, 15, 20},
			BurstMin:   200,
			BurstMax:   4000,
			SleepMin:   100,
			SleepMax:   10000,
			Duration:   1000000,
			Seed:       1,
		},
	}
}

// Load reads the configuration from a file, falling back to defaults
// when the file is absent. Environment variables prefixed with
// SCHEDCORE override file values.
func Load(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("schedcore")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.schedcore")
		viper.AddConfigPath("/etc/schedcore")
	}

	viper.SetEnvPrefix("SCHEDCORE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
