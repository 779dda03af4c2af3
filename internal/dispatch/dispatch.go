// Package dispatch fans committed tracking state out to subscribed client
// connections. It sits between the tracking loop and the transport: the
// loop hands it snapshots, it asks the registry who cares, and pushes one
// message per interested connection through the Sender.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/transitlk/tracking/internal/bus"
	"github.com/transitlk/tracking/internal/metrics"
	"github.com/transitlk/tracking/internal/notify"
	"github.com/transitlk/tracking/internal/pkg/logger"
	"github.com/transitlk/tracking/internal/registry"
	"github.com/transitlk/tracking/internal/tracking"
	"github.com/transitlk/tracking/internal/ws"
)

// Sender pushes one event to one connection. Implemented by the websocket
// hub; a failed send is that connection's problem only.
type Sender interface {
	Send(connID, event string, payload any) error
}

// Dispatcher routes outbound messages by consulting the registry's topic
// index. All sends are fire-and-forget: a slow or dead connection never
// blocks the tracking loop or starves its siblings.
type Dispatcher struct {
	reg    *registry.Registry
	sender Sender
	met    *metrics.Metrics
	log    *logger.Logger
}

// New creates a dispatcher.
func New(reg *registry.Registry, sender Sender, met *metrics.Metrics, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Dispatcher{reg: reg, sender: sender, met: met, log: log}
}

// Broadcast delivers a snapshot to every connection subscribed to the
// schedule or its route. A connection subscribed to both gets exactly one
// message; the direct schedule subscription wins the event name.
func (d *Dispatcher) Broadcast(snap tracking.Snapshot) {
	sent := make(map[string]struct{})

	for _, connID := range d.reg.SubscribersOf(registry.ScheduleTopic(snap.ScheduleID)) {
		sent[connID] = struct{}{}
		d.send(connID, ws.EventScheduleLocation, snap)
	}

	for _, connID := range d.reg.SubscribersOf(registry.RouteTopic(snap.RouteID)) {
		if _, dup := sent[connID]; dup {
			continue
		}
		d.send(connID, ws.EventRouteLocation, snap)
	}
}

// NotifySubject pushes a notification to every live connection of a
// subject. A subject with no open connection gets nothing here; delivery
// retries are the notification service's job, not the live channel's.
func (d *Dispatcher) NotifySubject(subjectID string, n notify.Notification) {
	for _, connID := range d.reg.SubscribersOf(registry.SubjectTopic(subjectID)) {
		d.send(connID, ws.EventNotification, n)
	}
}

// Announce pushes a system announcement to every registered connection.
func (d *Dispatcher) Announce(payload any) {
	for _, connID := range d.reg.ConnIDs() {
		d.send(connID, ws.EventSystemAnnouncement, payload)
	}
}

// AnnounceRouteDisruption pushes a disruption notice to the route's
// subscribers.
func (d *Dispatcher) AnnounceRouteDisruption(routeID string, payload any) {
	for _, connID := range d.reg.SubscribersOf(registry.RouteTopic(routeID)) {
		d.send(connID, ws.EventRouteDisruption, payload)
	}
}

// AttachBus subscribes the dispatcher to arrival notification events so
// bus-emitted notifications also reach the subject's live connections.
func (d *Dispatcher) AttachBus(ctx context.Context, b bus.Bus) error {
	return b.Subscribe(ctx, bus.TopicBusArrival, func(ctx context.Context, evt bus.Event) error {
		n, err := decodeNotification(evt.Payload)
		if err != nil {
			d.log.WithError(err).Warn("undecodable notification event", "event_id", evt.ID)
			return nil
		}
		d.NotifySubject(n.SubjectID, n)
		return nil
	})
}

// decodeNotification recovers the notification from an event payload. Over
// the in-process bus the payload is the struct itself; off the wire it is
// a decoded JSON map. Round-tripping through JSON covers both.
func decodeNotification(payload any) (notify.Notification, error) {
	if n, ok := payload.(notify.Notification); ok {
		return n, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return notify.Notification{}, err
	}
	var n notify.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return notify.Notification{}, err
	}
	return n, nil
}

func (d *Dispatcher) send(connID, event string, payload any) {
	if err := d.sender.Send(connID, event, payload); err != nil {
		d.met.SendFailures.Inc()
		d.log.WithError(err).WithConn(connID).Debug("send failed", "event", event)
		return
	}
	d.met.BroadcastsSent.Inc()
}
