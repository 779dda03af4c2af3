package ws

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/transitlk/tracking/internal/metrics"
	"github.com/transitlk/tracking/internal/pkg/logger"
	"github.com/transitlk/tracking/internal/registry"
	"github.com/transitlk/tracking/internal/tracking"
)

// Inbound event names.
const (
	EventAuthenticate      = "authenticate"
	EventSubscribeRoute    = "subscribe-route"
	EventUnsubscribeRoute  = "unsubscribe-route"
	EventSubscribeSchedule = "subscribe-schedule"
	EventUnsubscribeSched  = "unsubscribe-schedule"
	EventPassengerLocation = "passenger-location-update"
)

// Outbound event names: acks, replies, and server-pushed updates.
const (
	EventAuthenticated      = "authenticated"
	EventRouteSubscribed    = "route-subscribed"
	EventRouteUnsubbed      = "route-unsubscribed"
	EventSchedSubscribed    = "schedule-subscribed"
	EventSchedUnsubbed      = "schedule-unsubscribed"
	EventLiveBuses          = "live-buses-update"
	EventScheduleLocation   = "schedule-location-update"
	EventRouteLocation      = "route-location-update"
	EventEtaUpdate          = "eta-update"
	EventNotification       = "notification"
	EventSystemAnnouncement = "system-announcement"
	EventRouteDisruption    = "route-disruption"
	EventError              = "error"
)

// ErrorPayload is the error reply body.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Tracker is the slice of the tracking coordinator the handlers read from.
type Tracker interface {
	Snapshot(scheduleID string) (tracking.Snapshot, bool)
	SnapshotsForRoute(routeID string) []tracking.Snapshot
	EstimateArrival(scheduleID string, lat, lng float64) (tracking.ETA, bool)
}

// Session is one client's side of a handler invocation: its connection id
// and a way to reply to it alone.
type Session interface {
	ID() string
	Reply(event string, payload any)
}

type authenticatePayload struct {
	SubjectID string `json:"userId" validate:"required"`
}

type routePayload struct {
	RouteID string `json:"routeId" validate:"required"`
}

type schedulePayload struct {
	ScheduleID string `json:"scheduleId" validate:"required"`
}

type passengerLocationPayload struct {
	ScheduleID string  `json:"scheduleId" validate:"required"`
	Lat        float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// HandlerFunc handles one inbound event for one session.
type HandlerFunc func(ctx context.Context, s Session, data json.RawMessage)

// Handlers is the inbound event dispatch table. Every handler is a
// function of the registry plus its payload; no handler blocks on
// upstream I/O.
type Handlers struct {
	reg      *registry.Registry
	tracker  Tracker
	validate *validator.Validate
	met      *metrics.Metrics
	log      *logger.Logger
	table    map[string]HandlerFunc
}

// NewHandlers builds the dispatch table.
func NewHandlers(reg *registry.Registry, tracker Tracker, met *metrics.Metrics, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	h := &Handlers{
		reg:      reg,
		tracker:  tracker,
		validate: validator.New(),
		met:      met,
		log:      log,
	}
	h.table = map[string]HandlerFunc{
		EventAuthenticate:      h.authenticate,
		EventSubscribeRoute:    h.subscribeRoute,
		EventUnsubscribeRoute:  h.unsubscribeRoute,
		EventSubscribeSchedule: h.subscribeSchedule,
		EventUnsubscribeSched:  h.unsubscribeSchedule,
		EventPassengerLocation: h.passengerLocation,
	}
	return h
}

// Dispatch routes one decoded message to its handler. Unknown events get
// an error reply; they are a client bug, not a server state change.
func (h *Handlers) Dispatch(ctx context.Context, s Session, msg Message) {
	handler, ok := h.table[msg.Event]
	if !ok {
		s.Reply(EventError, ErrorPayload{Message: "unknown event: " + msg.Event})
		return
	}
	handler(ctx, s, msg.Data)
}

// decode unmarshals and validates an inbound payload. On failure the
// session gets an error reply and the handler must not proceed.
func (h *Handlers) decode(s Session, data json.RawMessage, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		s.Reply(EventError, ErrorPayload{Message: "invalid payload"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		s.Reply(EventError, ErrorPayload{Message: "invalid payload: " + err.Error()})
		return false
	}
	return true
}

func (h *Handlers) authenticate(ctx context.Context, s Session, data json.RawMessage) {
	var p authenticatePayload
	if !h.decode(s, data, &p) {
		return
	}

	h.reg.Authenticate(s.ID(), p.SubjectID)
	s.Reply(EventAuthenticated, map[string]any{"success": true, "userId": p.SubjectID})
}

func (h *Handlers) subscribeRoute(ctx context.Context, s Session, data json.RawMessage) {
	var p routePayload
	if !h.decode(s, data, &p) {
		return
	}

	if !h.reg.Subscribe(s.ID(), registry.RouteTopic(p.RouteID)) {
		s.Reply(EventError, ErrorPayload{Message: "connection not registered"})
		return
	}
	h.met.Subscriptions.WithLabels("route").Inc()
	s.Reply(EventRouteSubscribed, map[string]any{"routeId": p.RouteID})

	// Late joiners get the current picture immediately rather than
	// waiting out the rest of the poll interval.
	if buses := h.tracker.SnapshotsForRoute(p.RouteID); len(buses) > 0 {
		s.Reply(EventLiveBuses, map[string]any{"routeId": p.RouteID, "buses": buses})
	}
}

func (h *Handlers) unsubscribeRoute(ctx context.Context, s Session, data json.RawMessage) {
	var p routePayload
	if !h.decode(s, data, &p) {
		return
	}

	h.reg.Unsubscribe(s.ID(), registry.RouteTopic(p.RouteID))
	s.Reply(EventRouteUnsubbed, map[string]any{"routeId": p.RouteID})
}

func (h *Handlers) subscribeSchedule(ctx context.Context, s Session, data json.RawMessage) {
	var p schedulePayload
	if !h.decode(s, data, &p) {
		return
	}

	if !h.reg.Subscribe(s.ID(), registry.ScheduleTopic(p.ScheduleID)) {
		s.Reply(EventError, ErrorPayload{Message: "connection not registered"})
		return
	}
	h.met.Subscriptions.WithLabels("schedule").Inc()
	s.Reply(EventSchedSubscribed, map[string]any{"scheduleId": p.ScheduleID})

	if snap, ok := h.tracker.Snapshot(p.ScheduleID); ok {
		s.Reply(EventScheduleLocation, snap)
	}
}

func (h *Handlers) unsubscribeSchedule(ctx context.Context, s Session, data json.RawMessage) {
	var p schedulePayload
	if !h.decode(s, data, &p) {
		return
	}

	h.reg.Unsubscribe(s.ID(), registry.ScheduleTopic(p.ScheduleID))
	s.Reply(EventSchedUnsubbed, map[string]any{"scheduleId": p.ScheduleID})
}

// passengerLocation answers a client position report with a point-to-bus
// ETA. It deliberately does not store the client position; the live
// channel is not a passenger tracking system.
func (h *Handlers) passengerLocation(ctx context.Context, s Session, data json.RawMessage) {
	var p passengerLocationPayload
	if !h.decode(s, data, &p) {
		return
	}

	eta, ok := h.tracker.EstimateArrival(p.ScheduleID, p.Lat, p.Lng)
	if !ok {
		s.Reply(EventError, ErrorPayload{Message: "schedule not tracked: " + p.ScheduleID})
		return
	}
	s.Reply(EventEtaUpdate, eta)
}
