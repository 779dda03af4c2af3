package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/transitlk/tracking/internal/registry"
	"github.com/transitlk/tracking/internal/schedules"
	"github.com/transitlk/tracking/internal/tracking"
)

type fakeTracker struct {
	snaps map[string]tracking.Snapshot
}

func (f *fakeTracker) Snapshot(scheduleID string) (tracking.Snapshot, bool) {
	snap, ok := f.snaps[scheduleID]
	return snap, ok
}

func (f *fakeTracker) SnapshotsForRoute(routeID string) []tracking.Snapshot {
	var out []tracking.Snapshot
	for _, snap := range f.snaps {
		if snap.RouteID == routeID {
			out = append(out, snap)
		}
	}
	return out
}

func (f *fakeTracker) EstimateArrival(scheduleID string, lat, lng float64) (tracking.ETA, bool) {
	if _, ok := f.snaps[scheduleID]; !ok {
		return tracking.ETA{}, false
	}
	return tracking.ETA{ScheduleID: scheduleID, DistanceKm: 2.5, EstimatedMinutes: 5}, true
}

type reply struct {
	event   string
	payload any
}

type fakeSession struct {
	id      string
	replies []reply
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Reply(event string, payload any) {
	s.replies = append(s.replies, reply{event: event, payload: payload})
}

func (s *fakeSession) events() []string {
	out := make([]string, 0, len(s.replies))
	for _, r := range s.replies {
		out = append(out, r.event)
	}
	return out
}

type handlerFixture struct {
	reg     *registry.Registry
	tracker *fakeTracker
	h       *Handlers
	sess    *fakeSession
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		reg:     registry.New(nil),
		tracker: &fakeTracker{snaps: make(map[string]tracking.Snapshot)},
		sess:    &fakeSession{id: "c1"},
	}
	f.h = NewHandlers(f.reg, f.tracker, nil, nil)
	f.reg.Register("c1")
	return f
}

func (f *handlerFixture) dispatch(event string, payload any) {
	data, _ := json.Marshal(payload)
	f.h.Dispatch(context.Background(), f.sess, Message{Event: event, Data: data})
}

func TestAuthenticate(t *testing.T) {
	f := newHandlerFixture(t)

	f.dispatch(EventAuthenticate, map[string]string{"userId": "user-7"})

	if got := f.sess.events(); len(got) != 1 || got[0] != EventAuthenticated {
		t.Fatalf("replies = %v, want [%s]", got, EventAuthenticated)
	}
	if subject, ok := f.reg.SubjectOf("c1"); !ok || subject != "user-7" {
		t.Errorf("SubjectOf = %q, %v; want user-7 bound", subject, ok)
	}
}

func TestAuthenticateMissingSubject(t *testing.T) {
	f := newHandlerFixture(t)

	f.dispatch(EventAuthenticate, map[string]string{})

	if got := f.sess.events(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("replies = %v, want [%s]", got, EventError)
	}
	if _, ok := f.reg.SubjectOf("c1"); ok {
		t.Error("malformed authenticate must not bind a subject")
	}
}

func TestSubscribeRoute(t *testing.T) {
	f := newHandlerFixture(t)

	f.dispatch(EventSubscribeRoute, map[string]string{"routeId": "R1"})

	if got := f.sess.events(); len(got) != 1 || got[0] != EventRouteSubscribed {
		t.Fatalf("replies = %v, want [%s]", got, EventRouteSubscribed)
	}
	if !f.reg.HasSubscribers(registry.RouteTopic("R1")) {
		t.Error("route topic has no subscriber after subscribe")
	}
}

func TestSubscribeRoutePushesLiveBuses(t *testing.T) {
	f := newHandlerFixture(t)
	f.tracker.snaps["S1"] = tracking.Snapshot{
		ScheduleID: "S1",
		RouteID:    "R1",
		Position:   schedules.Position{Lat: 6.9, Lng: 79.8},
	}

	f.dispatch(EventSubscribeRoute, map[string]string{"routeId": "R1"})

	got := f.sess.events()
	if len(got) != 2 || got[0] != EventRouteSubscribed || got[1] != EventLiveBuses {
		t.Fatalf("replies = %v, want ack then %s", got, EventLiveBuses)
	}
}

func TestSubscribeScheduleLateJoinerGetsSnapshot(t *testing.T) {
	f := newHandlerFixture(t)
	f.tracker.snaps["S1"] = tracking.Snapshot{
		ScheduleID: "S1",
		RouteID:    "R1",
		Position:   schedules.Position{Lat: 6.9, Lng: 79.8},
	}

	f.dispatch(EventSubscribeSchedule, map[string]string{"scheduleId": "S1"})

	got := f.sess.events()
	if len(got) != 2 || got[0] != EventSchedSubscribed || got[1] != EventScheduleLocation {
		t.Fatalf("replies = %v, want ack then immediate snapshot", got)
	}
	snap, ok := f.sess.replies[1].payload.(tracking.Snapshot)
	if !ok || snap.ScheduleID != "S1" {
		t.Errorf("snapshot payload = %+v", f.sess.replies[1].payload)
	}
}

func TestSubscribeScheduleNoSnapshotYet(t *testing.T) {
	f := newHandlerFixture(t)

	f.dispatch(EventSubscribeSchedule, map[string]string{"scheduleId": "S9"})

	got := f.sess.events()
	if len(got) != 1 || got[0] != EventSchedSubscribed {
		t.Fatalf("replies = %v, want ack only when nothing is tracked yet", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newHandlerFixture(t)
	f.dispatch(EventSubscribeRoute, map[string]string{"routeId": "R1"})
	f.dispatch(EventSubscribeSchedule, map[string]string{"scheduleId": "S1"})
	f.sess.replies = nil

	f.dispatch(EventUnsubscribeRoute, map[string]string{"routeId": "R1"})
	f.dispatch(EventUnsubscribeSched, map[string]string{"scheduleId": "S1"})

	got := f.sess.events()
	if len(got) != 2 || got[0] != EventRouteUnsubbed || got[1] != EventSchedUnsubbed {
		t.Fatalf("replies = %v", got)
	}
	if f.reg.HasSubscribers(registry.RouteTopic("R1")) {
		t.Error("route subscription survived unsubscribe")
	}
	if f.reg.HasSubscribers(registry.ScheduleTopic("S1")) {
		t.Error("schedule subscription survived unsubscribe")
	}
}

func TestPassengerLocationReturnsEta(t *testing.T) {
	f := newHandlerFixture(t)
	f.tracker.snaps["S1"] = tracking.Snapshot{ScheduleID: "S1", RouteID: "R1"}

	f.dispatch(EventPassengerLocation, map[string]any{
		"scheduleId": "S1", "lat": 6.93, "lng": 79.85,
	})

	got := f.sess.events()
	if len(got) != 1 || got[0] != EventEtaUpdate {
		t.Fatalf("replies = %v, want [%s]", got, EventEtaUpdate)
	}
	eta, ok := f.sess.replies[0].payload.(tracking.ETA)
	if !ok || eta.ScheduleID != "S1" {
		t.Errorf("eta payload = %+v", f.sess.replies[0].payload)
	}
}

func TestPassengerLocationUntrackedSchedule(t *testing.T) {
	f := newHandlerFixture(t)

	f.dispatch(EventPassengerLocation, map[string]any{
		"scheduleId": "S9", "lat": 6.93, "lng": 79.85,
	})

	if got := f.sess.events(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("replies = %v, want [%s]", got, EventError)
	}
}

func TestPassengerLocationRejectsBadCoordinates(t *testing.T) {
	f := newHandlerFixture(t)
	f.tracker.snaps["S1"] = tracking.Snapshot{ScheduleID: "S1"}

	f.dispatch(EventPassengerLocation, map[string]any{
		"scheduleId": "S1", "lat": 123.0, "lng": 79.85,
	})

	if got := f.sess.events(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("replies = %v, want [%s]", got, EventError)
	}
}

func TestUnknownEvent(t *testing.T) {
	f := newHandlerFixture(t)

	f.dispatch("self-destruct", nil)

	if got := f.sess.events(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("replies = %v, want [%s]", got, EventError)
	}
}

func TestMalformedPayloadLeavesStateUntouched(t *testing.T) {
	f := newHandlerFixture(t)

	f.h.Dispatch(context.Background(), f.sess, Message{
		Event: EventSubscribeRoute,
		Data:  json.RawMessage(`"not an object"`),
	})

	if got := f.sess.events(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("replies = %v, want [%s]", got, EventError)
	}
	if got := f.reg.Stats().RouteTopics; got != 0 {
		t.Errorf("route topics = %d, want 0 after malformed subscribe", got)
	}
}

func TestSubscribeUnregisteredConnection(t *testing.T) {
	f := newHandlerFixture(t)
	stranger := &fakeSession{id: "ghost"}

	data, _ := json.Marshal(map[string]string{"routeId": "R1"})
	f.h.Dispatch(context.Background(), stranger, Message{Event: EventSubscribeRoute, Data: data})

	if got := stranger.events(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("replies = %v, want [%s]", got, EventError)
	}
}

func TestSubscribeCountsByKind(t *testing.T) {
	f := newHandlerFixture(t)

	f.dispatch(EventSubscribeRoute, map[string]string{"routeId": "R1"})
	f.dispatch(EventSubscribeSchedule, map[string]string{"scheduleId": "S1"})
	f.dispatch(EventSubscribeSchedule, map[string]string{"scheduleId": "S2"})

	if got := f.h.met.Subscriptions.WithLabels("route").Value(); got != 1 {
		t.Errorf("route subscriptions = %d, want 1", got)
	}
	if got := f.h.met.Subscriptions.WithLabels("schedule").Value(); got != 2 {
		t.Errorf("schedule subscriptions = %d, want 2", got)
	}
}
