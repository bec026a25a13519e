package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/schedcore/pkg/sched"
	"github.com/khryptorgraphics/schedcore/pkg/sim"
	"github.com/khryptorgraphics/schedcore/pkg/topology"
)

func TestCollectorEmitsPerCoreMetrics(t *testing.T) {
	topo, err := topology.Build(topology.NewUniform(1, 2, 1), 2)
	require.NoError(t, err)

	machine, err := sim.NewMachine(topo, sched.ModeLowLatency, zerolog.Nop())
	require.NoError(t, err)

	collector := NewCollector(machine.Scheduler())

	// Two cores, three gauges each, plus the three global series and
	// the three loadavg windows.
	assert.Equal(t, 2*3+3+3, testutil.CollectAndCount(collector))
}

func TestExporterRegistry(t *testing.T) {
	topo, err := topology.Build(topology.NewUniform(1, 1, 1), 1)
	require.NoError(t, err)

	machine, err := sim.NewMachine(topo, sched.ModeLowLatency, zerolog.Nop())
	require.NoError(t, err)

	exporter := NewExporter(machine.Scheduler(), ":0")
	families, err := exporter.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
