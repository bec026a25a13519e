package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int32(8), cfg.Topology.CPUCount())
	assert.Equal(t, "low_latency", cfg.Scheduler.Mode)
}

func TestValidateRejectsBadTopology(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topology.Packages = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Topology.SMTPerCore = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Topology.Packages = 64
	cfg.Topology.CoresPerPackage = 64
	cfg.Topology.SMTPerCore = 64
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.Mode = "turbo"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSimulation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulation.Priorities = []int32{0}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Simulation.BurstMax = cfg.Simulation.BurstMin - 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Simulation.Duration = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topology.Packages = 4
	cfg.Scheduler.Mode = "power_saving"

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "schedcore.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int32(4), loaded.Topology.Packages)
	assert.Equal(t, "power_saving", loaded.Scheduler.Mode)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topology:\n  packages: -3\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
