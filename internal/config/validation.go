package config

import "fmt"

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Topology.Packages <= 0 {
		return fmt.Errorf("topology: packages must be positive, got %d",
			c.Topology.Packages)
	}
	if c.Topology.CoresPerPackage <= 0 {
		return fmt.Errorf("topology: cores_per_package must be positive, got %d",
			c.Topology.CoresPerPackage)
	}
	if c.Topology.SMTPerCore <= 0 {
		return fmt.Errorf("topology: smt_per_core must be positive, got %d",
			c.Topology.SMTPerCore)
	}
	if c.Topology.CPUCount() > 512 {
		return fmt.Errorf("topology: %d CPUs exceed the supported maximum of 512",
			c.Topology.CPUCount())
	}

	switch c.Scheduler.Mode {
	case "low_latency", "power_saving":
	default:
		return fmt.Errorf("scheduler: unknown mode %q", c.Scheduler.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	sim := c.Simulation
	if sim.Threads < 0 {
		return fmt.Errorf("simulation: threads must not be negative, got %d", sim.Threads)
	}
	if len(sim.Priorities) == 0 {
		return fmt.Errorf("simulation: priorities must not be empty")
	}
	for _, priority := range sim.Priorities {
		if priority < 1 || priority > 120 {
			return fmt.Errorf("simulation: priority %d out of range 1..120", priority)
		}
	}
	if sim.BurstMin <= 0 || sim.BurstMax < sim.BurstMin {
		return fmt.Errorf("simulation: invalid burst range [%d, %d]",
			sim.BurstMin, sim.BurstMax)
	}
	if sim.SleepMin <= 0 || sim.SleepMax < sim.SleepMin {
		return fmt.Errorf("simulation: invalid sleep range [%d, %d]",
			sim.SleepMin, sim.SleepMax)
	}
	if sim.Duration <= 0 {
		return fmt.Errorf("simulation: duration must be positive, got %d", sim.Duration)
	}

	return nil
}
