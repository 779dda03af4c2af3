package notify

import (
	"context"
	"sync"
	"time"
)

// MarkerStore records that an arrival notification was already sent for a
// (subject, schedule) pair, suppressing repeats within the cooldown window.
// A marker older than the cooldown no longer suppresses; the pair re-arms.
// That means a bus lingering inside the arrival window for longer than the
// cooldown notifies the same subject again. Product has not decided whether
// that repeat is wanted; see DESIGN.md before changing it.
type MarkerStore interface {
	// MarkIfAbsent sets the marker unless a live one exists. Returns true
	// when the marker was set (the caller may notify).
	MarkIfAbsent(ctx context.Context, subjectID, scheduleID string) (bool, error)

	// Sweep drops expired markers. The tracking loop calls it
	// opportunistically on each tick; stores with native expiry may no-op.
	Sweep(ctx context.Context)

	// Active returns the number of live markers.
	Active(ctx context.Context) int
}

// MemoryMarkers is the in-process marker store. Cleanup is lazy: expired
// entries are dropped on Sweep, and an expired entry found by MarkIfAbsent
// is overwritten rather than honored.
type MemoryMarkers struct {
	mu       sync.Mutex
	cooldown time.Duration
	sent     map[string]time.Time
	now      func() time.Time
}

// NewMemoryMarkers creates an in-memory marker store.
func NewMemoryMarkers(cooldown time.Duration) *MemoryMarkers {
	return &MemoryMarkers{
		cooldown: cooldown,
		sent:     make(map[string]time.Time),
		now:      time.Now,
	}
}

func markerKey(subjectID, scheduleID string) string {
	return subjectID + "|" + scheduleID
}

// MarkIfAbsent sets the marker unless a live one exists.
func (m *MemoryMarkers) MarkIfAbsent(ctx context.Context, subjectID, scheduleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := markerKey(subjectID, scheduleID)
	now := m.now()
	if sentAt, ok := m.sent[key]; ok && now.Sub(sentAt) < m.cooldown {
		return false, nil
	}

	m.sent[key] = now
	return true, nil
}

// Sweep drops markers older than the cooldown.
func (m *MemoryMarkers) Sweep(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cooldown)
	for key, sentAt := range m.sent {
		if sentAt.Before(cutoff) {
			delete(m.sent, key)
		}
	}
}

// Active returns the number of markers currently held, expired or not;
// Sweep keeps the two in step.
func (m *MemoryMarkers) Active(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
