// Package notify is the notification emitter boundary. The tracking loop
// decides when an arrival notification fires and with what payload; actual
// push/SMS/email delivery belongs to the downstream delivery service.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/transitlk/tracking/internal/bus"
)

// Notification is the payload handed to the delivery service.
type Notification struct {
	Type          string  `json:"type"`
	SubjectID     string  `json:"subjectId"`
	ScheduleID    string  `json:"scheduleId"`
	RouteName     string  `json:"routeName,omitempty"`
	VehicleNumber string  `json:"vehicleNumber,omitempty"`
	StopName      string  `json:"stopName,omitempty"`
	EtaMinutes    float64 `json:"etaMinutes"`
}

// TypeBusArrival is the arrival-imminent notification type.
const TypeBusArrival = "bus_arrival"

// Emitter delivers notifications to the outside world.
type Emitter interface {
	Emit(ctx context.Context, n Notification) error
}

// BusEmitter publishes notifications on the event bus, where the delivery
// worker picks them up.
type BusEmitter struct {
	bus bus.Bus
}

// NewBusEmitter creates an emitter backed by the event bus.
func NewBusEmitter(b bus.Bus) *BusEmitter {
	return &BusEmitter{bus: b}
}

// Emit publishes the notification event.
func (e *BusEmitter) Emit(ctx context.Context, n Notification) error {
	return e.bus.Publish(ctx, bus.TopicBusArrival, bus.Event{
		ID:        uuid.NewString(),
		Type:      bus.TopicBusArrival,
		Source:    "tracking-service",
		Timestamp: time.Now().Unix(),
		Payload:   n,
	})
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, n Notification) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
