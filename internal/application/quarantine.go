package application

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// QuarantineStatus is the cooldown state of a pull request.
type QuarantineStatus int

const (
	// NotInQuarantine means the pull request may be processed normally.
	NotInQuarantine QuarantineStatus = iota
	// InQuarantine means processing must wait until the quarantine ends.
	InQuarantine
	// JustReleased is reported exactly once after a quarantine ends, so the
	// pull request gets one more pass even without new activity.
	JustReleased
)

// String returns a human-readable name for the status.
func (s QuarantineStatus) String() string {
	switch s {
	case NotInQuarantine:
		return "not_in_quarantine"
	case InQuarantine:
		return "in_quarantine"
	case JustReleased:
		return "just_released"
	default:
		return "unknown"
	}
}

// QuarantineEntry is an exported view of one quarantined pull request.
type QuarantineEntry struct {
	Key string
	End time.Time
}

// Quarantine tracks cooldown windows per pull request key.
type Quarantine struct {
	mu   sync.Mutex
	ends map[string]time.Time
	now  func() time.Time
}

// NewQuarantine creates an empty quarantine using the wall clock.
func NewQuarantine() *Quarantine {
	return &Quarantine{
		ends: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Status reports the state of key. A JustReleased result consumes the
// release, so the next call reports NotInQuarantine.
func (q *Quarantine) Status(key string) QuarantineStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	end, ok := q.ends[key]
	if !ok {
		return NotInQuarantine
	}
	if q.now().Before(end) {
		return InQuarantine
	}
	delete(q.ends, key)
	return JustReleased
}

// Extend moves the end of the quarantine for key to until. An existing later
// end is kept.
func (q *Quarantine) Extend(key string, until time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if end, ok := q.ends[key]; ok && end.After(until) {
		return
	}
	q.ends[key] = until
}

// Len returns the number of pull requests currently tracked.
func (q *Quarantine) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ends)
}

// List returns all tracked entries ordered by key.
func (q *Quarantine) List() []QuarantineEntry {
	q.mu.Lock()
	entries := make([]QuarantineEntry, 0, len(q.ends))
	for key, end := range q.ends {
		entries = append(entries, QuarantineEntry{Key: key, End: end})
	}
	q.mu.Unlock()

	slices.SortFunc(entries, func(a, b QuarantineEntry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return entries
}
