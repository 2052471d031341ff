package eta

import (
	"sync"
	"time"
)

// DailyBudget is the mutex-guarded external-call counter bounding how many
// road-network calls the oracle may issue per day. It resets when the
// current local date differs from the last reset date — no wall-clock
// scheduler required.
type DailyBudget struct {
	mu            sync.Mutex
	limit         int
	used          int
	lastResetDate string
}

// NewDailyBudget builds a counter with the given daily limit.
func NewDailyBudget(limit int) *DailyBudget {
	return &DailyBudget{limit: limit, lastResetDate: today()}
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// TryConsume reports whether one more external call may be issued, and if
// so, counts it immediately (the caller must not double-decrement on
// failure; a failed external call still consumed its budget slot, matching
// the teacher's per-process counters in internal/redis/pool.go).
func (b *DailyBudget) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetIfNewDayLocked()
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Remaining reports how many external calls are left for today.
func (b *DailyBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfNewDayLocked()
	return b.limit - b.used
}

func (b *DailyBudget) resetIfNewDayLocked() {
	d := today()
	if d != b.lastResetDate {
		b.used = 0
		b.lastResetDate = d
	}
}
