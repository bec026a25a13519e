package loadtrack

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestMeasurementFirstUpdateOpensWindow(t *testing.T) {
	var m Measurement

	assert.Equal(t, int32(NoUpdate), m.Update(5000))
	assert.Equal(t, int64(5000), m.MeasureTime)
	assert.Equal(t, int32(0), m.Load)
}

func TestMeasurementWindowNotClosed(t *testing.T) {
	m := Measurement{MeasureTime: 1000}
	m.Add(400)

	assert.Equal(t, int32(NoUpdate), m.Update(1000+Window-1))
	assert.Equal(t, int64(400), m.MeasureActiveTime)
	assert.Equal(t, int32(0), m.Load)
}

func TestMeasurementComputesFraction(t *testing.T) {
	m := Measurement{MeasureTime: 1000}
	m.Add(500)

	old := m.Update(1000 + Window)
	assert.Equal(t, int32(0), old)
	assert.Equal(t, int32(MaxLoad/2), m.Load)
	assert.Equal(t, int64(0), m.MeasureActiveTime)
	assert.Equal(t, int64(1000+Window), m.MeasureTime)
}

func TestMeasurementFullyActive(t *testing.T) {
	m := Measurement{MeasureTime: 0}
	m.Update(1)
	m.Add(2 * Window)

	m.Update(1 + 2*Window)
	assert.Equal(t, int32(MaxLoad), m.Load)
}

func TestMeasurementClampsOverflow(t *testing.T) {
	m := Measurement{MeasureTime: 1000}
	m.Add(10 * Window)

	m.Update(1000 + Window)
	assert.Equal(t, int32(MaxLoad), m.Load)
}

func TestMeasurementReset(t *testing.T) {
	m := Measurement{MeasureTime: 1000, MeasureActiveTime: 50, Load: 700}
	m.Reset()

	assert.Equal(t, Measurement{}, m)
}

func TestThresholdOrdering(t *testing.T) {
	assert.Less(t, int32(LowLoad), int32(MediumLoad))
	assert.Less(t, int32(MediumLoad), int32(TargetLoad))
	assert.Less(t, int32(TargetLoad), int32(HighLoad))
	assert.Less(t, int32(HighLoad), int32(VeryHighLoad))
	assert.Less(t, int32(VeryHighLoad), int32(MaxLoad))
}

// Load bounds law: whatever the activity pattern, the computed load
// stays within 0..MaxLoad.
func TestLoadBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)

	properties.Property("LoadStaysBounded", prop.ForAll(
		func(activities []int64) bool {
			var m Measurement
			now := int64(1)
			m.Update(now)
			for _, active := range activities {
				m.Add(active % (4 * Window))
				now += Window / 2
				m.Update(now)
				if m.Load < 0 || m.Load > MaxLoad {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 1<<40)),
	))

	properties.TestingRun(t)
}

func TestAveragerConvergesToOne(t *testing.T) {
	var a Averager

	// One runnable thread for five minutes of 5-second updates; the
	// 1-minute average must converge to 1*FScale within 2%.
	for i := 0; i < 60; i++ {
		a.Update(1)
	}

	avg := a.Get()
	assert.Equal(t, int64(FScale), avg.FScale)
	assert.InDelta(t, float64(FScale), float64(avg.Ldavg[0]), 0.02*FScale)

	// The 15-minute average trails behind.
	assert.Less(t, avg.Ldavg[2], avg.Ldavg[0])
}

func TestAveragerDecaysToZero(t *testing.T) {
	var a Averager

	for i := 0; i < 60; i++ {
		a.Update(8)
	}
	before := a.Get().Ldavg[0]

	for i := 0; i < 120; i++ {
		a.Update(0)
	}
	after := a.Get().Ldavg[0]

	assert.Greater(t, before, after)
	assert.Less(t, after, uint64(FScale/100))
}
