// Package schedules defines the schedule data source boundary: the query
// interface the tracking loop polls, and the record shape it returns.
package schedules

import (
	"context"
	"time"
)

// Status is the lifecycle state of a schedule as reported upstream.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDelayed   Status = "delayed"
)

// Position is a WGS84 coordinate pair.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Record is the current live state of one schedule.
// Position is nil when the vehicle has not reported a location yet.
type Record struct {
	ID                      string    `json:"id"`
	RouteID                 string    `json:"routeId"`
	VehicleNumber           string    `json:"vehicleNumber,omitempty"`
	Status                  Status    `json:"status"`
	Position                *Position `json:"position"`
	Heading                 float64   `json:"heading"`
	Speed                   float64   `json:"speed"`
	Capacity                int       `json:"capacity"`
	CurrentOccupancy        int       `json:"currentOccupancy"`
	NextStopName            string    `json:"nextStopName,omitempty"`
	LastUpdate              time.Time `json:"lastUpdate"`
	EstimatedArrivalMinutes float64   `json:"estimatedArrivalMinutes"`
}

// HasPosition reports whether the record carries usable location data.
func (r *Record) HasPosition() bool {
	return r.Position != nil
}

// Query filters the schedules returned by a Source.
// Zero-value fields are not applied.
type Query struct {
	ScheduleID string
	RouteID    string
	ActiveOnly bool
}

// Source is the upstream schedule data query interface. Implementations
// must honor the context deadline; the tracking loop passes a bounded one.
type Source interface {
	// Schedules returns zero or more records matching the query.
	Schedules(ctx context.Context, q Query) ([]Record, error)
}

// ByID fetches a single schedule record, or nil if the upstream does not
// know the id.
func ByID(ctx context.Context, src Source, scheduleID string) (*Record, error) {
	recs, err := src.Schedules(ctx, Query{ScheduleID: scheduleID})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}
