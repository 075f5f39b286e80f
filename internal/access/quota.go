package access

import "sync"

// FreeQuota hands out a fixed number of free completions per user to people
// without access. Counters live in memory only.
type FreeQuota struct {
	mu    sync.Mutex
	limit int
	used  map[int64]int
}

// NewFreeQuota returns a quota of limit messages per user; limit <= 0 disables it.
func NewFreeQuota(limit int) *FreeQuota {
	return &FreeQuota{
		limit: limit,
		used:  make(map[int64]int),
	}
}

// Enabled reports whether any free messages are handed out.
func (q *FreeQuota) Enabled() bool {
	return q != nil && q.limit > 0
}

// Consume takes one free message for userID and reports how many remain.
// ok is false once the allowance is exhausted.
func (q *FreeQuota) Consume(userID int64) (remaining int, ok bool) {
	if !q.Enabled() {
		return 0, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.used[userID] >= q.limit {
		return 0, false
	}
	q.used[userID]++
	return q.limit - q.used[userID], true
}
