package sched

// Thread priority bands. Real-time threads start at
// FirstRealTimePriority and are dispatched strictly by priority;
// everything between LowestActivePriority and FirstRealTimePriority is
// subject to the dynamic penalty model.
const (
	IdlePriority            = 0
	LowestActivePriority    = 1
	LowPriority             = 5
	NormalPriority          = 10
	DisplayPriority         = 15
	UrgentDisplayPriority   = 20
	FirstRealTimePriority   = 100
	RealTimeDisplayPriority = 100
	UrgentPriority          = 110
	RealTimePriority        = 120

	// MaxPriority is the highest settable priority and the top band of
	// every run queue.
	MaxPriority = RealTimePriority
)

// CacheExpire is the amount of active time, in microseconds, after
// which a sleeping thread's working set is assumed to have been evicted
// from its previous core's cache.
const CacheExpire = 100000

// quantumCountPerCore bounds the thread-count index into the
// per-mode maximum quantum table.
const quantumCountPerCore = 20

// penaltyDivisor derives the penalty floor from the base priority.
const penaltyDivisor = 5

// maxPenaltyFloor caps the penalty floor for high-priority threads.
const maxPenaltyFloor = 25
