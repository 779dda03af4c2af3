package tracking

import (
	"sync"
	"time"

	"github.com/transitlk/tracking/internal/schedules"
)

// Snapshot is the last-known live state of one tracked schedule. It is
// written only by the coordinator's poll loop and read by the dispatcher
// and ETA calculations.
type Snapshot struct {
	ScheduleID              string             `json:"scheduleId"`
	RouteID                 string             `json:"routeId"`
	VehicleNumber           string             `json:"vehicleNumber,omitempty"`
	Position                schedules.Position `json:"position"`
	Heading                 float64            `json:"heading"`
	Speed                   float64            `json:"speed"`
	Status                  schedules.Status   `json:"status"`
	Capacity                int                `json:"capacity"`
	CurrentOccupancy        int                `json:"currentOccupancy"`
	NextStopName            string             `json:"nextStopName,omitempty"`
	EstimatedArrivalMinutes float64            `json:"estimatedArrivalMinutes"`
	LastUpdate              time.Time          `json:"lastUpdate"`
}

// snapshotStore holds one snapshot per actively tracked schedule, keyed by
// schedule id, with a per-schedule commit sequence so a fetch result that
// resolves late cannot overwrite a strictly newer snapshot.
type snapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
	seqs  map[string]uint64
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{
		snaps: make(map[string]Snapshot),
		seqs:  make(map[string]uint64),
	}
}

// commit stores the snapshot unless a newer sequence was already
// committed for this schedule. Returns false when the result is stale.
func (s *snapshotStore) commit(snap Snapshot, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.seqs[snap.ScheduleID]; ok && prev >= seq {
		return false
	}

	s.snaps[snap.ScheduleID] = snap
	s.seqs[snap.ScheduleID] = seq
	return true
}

func (s *snapshotStore) get(scheduleID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[scheduleID]
	return snap, ok
}

func (s *snapshotStore) evict(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snaps, scheduleID)
	delete(s.seqs, scheduleID)
}

// all returns a copy of the current snapshots.
func (s *snapshotStore) all() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap)
	}
	return out
}

func (s *snapshotStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}
