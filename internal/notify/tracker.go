package notify

import "sync/atomic"

// Tracker remembers the last alert a notification was fired for.
type Tracker struct {
	last atomic.Pointer[string]
}

// DefaultTracker is shared by every Notifier in the process unless one is
// given its own.
var DefaultTracker = &Tracker{}

// Claim records id as the last notified alert. It returns false when id is
// already the last one, so only one caller wins a given alert.
func (t *Tracker) Claim(id string) bool {
	for {
		cur := t.last.Load()
		if cur != nil && *cur == id {
			return false
		}
		if t.last.CompareAndSwap(cur, &id) {
			return true
		}
	}
}

// Last returns the last claimed alert ID.
func (t *Tracker) Last() string {
	if p := t.last.Load(); p != nil {
		return *p
	}
	return ""
}
