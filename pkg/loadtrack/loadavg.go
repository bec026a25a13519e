package loadtrack

import (
	"math"
	"sync"
)

// Load average bookkeeping, following the FreeBSD algorithm: three
// exponentially weighted moving averages of the runnable thread count
// with 1, 5 and 15 minute decay, updated every five seconds.

// FShift is the fixed-point shift of the load averages; FScale the
// corresponding scale.
const (
	FShift = 11
	FScale = 1 << FShift
)

// UpdateInterval is the microseconds between loadavg updates.
const UpdateInterval = 5000000

var cExp = [3]uint64{
	uint64(math.Trunc(0.9200444146293232 * float64(FScale))),
	uint64(math.Trunc(0.9834714538216174 * float64(FScale))),
	uint64(math.Trunc(0.9944598480048967 * float64(FScale))),
}

// LoadAvg is a snapshot of the three load averages. FScale is the
// fixed-point scale the averages are expressed in.
type LoadAvg struct {
	Ldavg  [3]uint64 `json:"ldavg"`
	FScale int64     `json:"fscale"`
}

// Averager maintains the decaying load averages. The zero value is
// ready to use.
type Averager struct {
	mu    sync.Mutex
	ldavg [3]uint64
}

// Update folds the current runnable thread count into the averages.
// Call it once per UpdateInterval.
func (a *Averager) Update(threadCount uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < 3; i++ {
		a.ldavg[i] = (cExp[i]*a.ldavg[i] +
			threadCount*FScale*(FScale-cExp[i])) >> FShift
	}
}

// Get returns the current averages.
func (a *Averager) Get() LoadAvg {
	a.mu.Lock()
	defer a.mu.Unlock()

	return LoadAvg{
		Ldavg:  a.ldavg,
		FScale: FScale,
	}
}
