// Package loadtrack provides sliding-window load measurement for
// scheduler entities (threads, CPUs, cores) and the exponentially
// weighted load averages exposed to userland.
//
// A load is the fraction of a measurement window during which the
// entity was active, in fixed point 0..MaxLoad.
package loadtrack

// MaxLoad is the fixed-point scale of all load values.
const MaxLoad = 1000

// Window is the length, in microseconds, of one measurement window.
const Window = 1000

// Load thresholds, as fractions of MaxLoad. VeryHighLoad sits halfway
// between HighLoad and saturation.
const (
	LowLoad      = MaxLoad * 20 / 100
	MediumLoad   = MaxLoad * 40 / 100
	TargetLoad   = MaxLoad * 55 / 100
	HighLoad     = MaxLoad * 70 / 100
	VeryHighLoad = (MaxLoad + HighLoad) / 2
)

// LoadDifference is the hysteresis applied before rebalancing moves a
// thread between cores.
const LoadDifference = MaxLoad * 20 / 100

// NoUpdate is returned by Measurement.Update when the current window
// has not closed yet.
const NoUpdate = -1

// Measurement is the sliding measurement window of one entity. Callers
// accumulate active time with Add and periodically close the window
// with Update.
type Measurement struct {
	MeasureTime       int64
	MeasureActiveTime int64
	Load              int32
}

// Add accumulates active time, in microseconds, into the current
// window.
func (m *Measurement) Add(active int64) {
	m.MeasureActiveTime += active
}

// Update closes the window if at least Window microseconds have passed
// since it was opened, recomputing Load from the accumulated active
// time. It returns the previous load when an update took place and
// NoUpdate otherwise.
func (m *Measurement) Update(now int64) int32 {
	if m.MeasureTime == 0 {
		m.MeasureTime = now
		return NoUpdate
	}

	delta := now - m.MeasureTime
	if delta < Window {
		return NoUpdate
	}

	oldLoad := m.Load

	newLoad := m.MeasureActiveTime * MaxLoad / delta
	if newLoad < 0 {
		newLoad = 0
	} else if newLoad > MaxLoad {
		newLoad = MaxLoad
	}

	m.Load = int32(newLoad)
	m.MeasureActiveTime = 0
	m.MeasureTime = now

	return oldLoad
}

// Reset discards the current window and load estimate.
func (m *Measurement) Reset() {
	m.MeasureTime = 0
	m.MeasureActiveTime = 0
	m.Load = 0
}
