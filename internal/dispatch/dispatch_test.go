package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/transitlk/tracking/internal/bus"
	"github.com/transitlk/tracking/internal/notify"
	"github.com/transitlk/tracking/internal/registry"
	"github.com/transitlk/tracking/internal/schedules"
	"github.com/transitlk/tracking/internal/tracking"
	"github.com/transitlk/tracking/internal/ws"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type sentMsg struct {
	connID  string
	event   string
	payload any
}

type captureSender struct {
	mu    sync.Mutex
	msgs  []sentMsg
	fails map[string]bool
}

func newCaptureSender() *captureSender {
	return &captureSender{fails: make(map[string]bool)}
}

func (s *captureSender) Send(connID, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails[connID] {
		return errors.New("connection gone")
	}
	s.msgs = append(s.msgs, sentMsg{connID: connID, event: event, payload: payload})
	return nil
}

func (s *captureSender) all() []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMsg(nil), s.msgs...)
}

func (s *captureSender) forConn(connID string) []sentMsg {
	var out []sentMsg
	for _, m := range s.all() {
		if m.connID == connID {
			out = append(out, m)
		}
	}
	return out
}

func testSnapshot() tracking.Snapshot {
	return tracking.Snapshot{
		ScheduleID: "S1",
		RouteID:    "R1",
		Position:   schedules.Position{Lat: 6.9271, Lng: 79.8612},
		Status:     schedules.StatusActive,
	}
}

func TestBroadcastRoutesByTopic(t *testing.T) {
	reg := registry.New(nil)
	sender := newCaptureSender()
	d := New(reg, sender, nil, nil)

	reg.Register("sched-sub")
	reg.Subscribe("sched-sub", registry.ScheduleTopic("S1"))
	reg.Register("route-sub")
	reg.Subscribe("route-sub", registry.RouteTopic("R1"))
	reg.Register("bystander")
	reg.Subscribe("bystander", registry.RouteTopic("R9"))

	d.Broadcast(testSnapshot())

	if msgs := sender.forConn("sched-sub"); len(msgs) != 1 || msgs[0].event != ws.EventScheduleLocation {
		t.Errorf("sched-sub got %+v, want one %s", msgs, ws.EventScheduleLocation)
	}
	if msgs := sender.forConn("route-sub"); len(msgs) != 1 || msgs[0].event != ws.EventRouteLocation {
		t.Errorf("route-sub got %+v, want one %s", msgs, ws.EventRouteLocation)
	}
	if msgs := sender.forConn("bystander"); len(msgs) != 0 {
		t.Errorf("bystander got %+v, want nothing", msgs)
	}
}

func TestBroadcastDedupesDualSubscription(t *testing.T) {
	reg := registry.New(nil)
	sender := newCaptureSender()
	d := New(reg, sender, nil, nil)

	reg.Register("both")
	reg.Subscribe("both", registry.ScheduleTopic("S1"))
	reg.Subscribe("both", registry.RouteTopic("R1"))

	d.Broadcast(testSnapshot())

	msgs := sender.forConn("both")
	if len(msgs) != 1 {
		t.Fatalf("dual subscriber got %d messages, want exactly 1", len(msgs))
	}
	if msgs[0].event != ws.EventScheduleLocation {
		t.Errorf("event = %s, want the direct subscription to win", msgs[0].event)
	}
}

func TestBroadcastFailureIsolated(t *testing.T) {
	reg := registry.New(nil)
	sender := newCaptureSender()
	d := New(reg, sender, nil, nil)

	reg.Register("dead")
	reg.Subscribe("dead", registry.ScheduleTopic("S1"))
	reg.Register("alive")
	reg.Subscribe("alive", registry.ScheduleTopic("S1"))
	sender.fails["dead"] = true

	d.Broadcast(testSnapshot())

	if msgs := sender.forConn("alive"); len(msgs) != 1 {
		t.Errorf("healthy connection got %d messages, want 1", len(msgs))
	}
	if got := d.met.SendFailures.Value(); got != 1 {
		t.Errorf("send failures = %d, want 1", got)
	}
}

func TestNotifySubject(t *testing.T) {
	reg := registry.New(nil)
	sender := newCaptureSender()
	d := New(reg, sender, nil, nil)

	reg.Register("c1")
	reg.Authenticate("c1", "user-7")
	reg.Register("c2")
	reg.Authenticate("c2", "user-7")
	reg.Register("c3")
	reg.Authenticate("c3", "user-8")

	n := notify.Notification{Type: notify.TypeBusArrival, SubjectID: "user-7", ScheduleID: "S1"}
	d.NotifySubject("user-7", n)

	if len(sender.forConn("c1")) != 1 || len(sender.forConn("c2")) != 1 {
		t.Error("both connections of the subject should receive the notification")
	}
	if len(sender.forConn("c3")) != 0 {
		t.Error("other subjects must not receive the notification")
	}
}

func TestAnnounce(t *testing.T) {
	reg := registry.New(nil)
	sender := newCaptureSender()
	d := New(reg, sender, nil, nil)

	reg.Register("c1")
	reg.Register("c2")

	d.Announce(map[string]string{"message": "service resuming"})

	if got := len(sender.all()); got != 2 {
		t.Errorf("announcement reached %d connections, want 2", got)
	}
	for _, m := range sender.all() {
		if m.event != ws.EventSystemAnnouncement {
			t.Errorf("event = %s, want %s", m.event, ws.EventSystemAnnouncement)
		}
	}
}

func TestAnnounceRouteDisruption(t *testing.T) {
	reg := registry.New(nil)
	sender := newCaptureSender()
	d := New(reg, sender, nil, nil)

	reg.Register("on-route")
	reg.Subscribe("on-route", registry.RouteTopic("R1"))
	reg.Register("elsewhere")
	reg.Subscribe("elsewhere", registry.RouteTopic("R2"))

	d.AnnounceRouteDisruption("R1", map[string]string{"reason": "road closed"})

	if len(sender.forConn("on-route")) != 1 {
		t.Error("route subscriber missed the disruption notice")
	}
	if len(sender.forConn("elsewhere")) != 0 {
		t.Error("unrelated subscriber received the disruption notice")
	}
}

func TestAttachBusDeliversNotifications(t *testing.T) {
	reg := registry.New(nil)
	sender := newCaptureSender()
	d := New(reg, sender, nil, nil)

	reg.Register("c1")
	reg.Authenticate("c1", "user-7")

	b := bus.NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	if err := d.AttachBus(ctx, b); err != nil {
		t.Fatalf("AttachBus() error = %v", err)
	}

	em := notify.NewBusEmitter(b)
	n := notify.Notification{Type: notify.TypeBusArrival, SubjectID: "user-7", ScheduleID: "S1", EtaMinutes: 3}
	if err := em.Emit(ctx, n); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	waitFor(t, func() bool { return len(sender.forConn("c1")) == 1 })
	msg := sender.forConn("c1")[0]
	if msg.event != ws.EventNotification {
		t.Errorf("event = %s, want %s", msg.event, ws.EventNotification)
	}
	got, ok := msg.payload.(notify.Notification)
	if !ok || got.ScheduleID != "S1" || got.EtaMinutes != 3 {
		t.Errorf("payload = %+v, want the emitted notification", msg.payload)
	}
}

func TestDecodeNotificationFromMap(t *testing.T) {
	n, err := decodeNotification(map[string]any{
		"type":       "bus_arrival",
		"subjectId":  "user-7",
		"scheduleId": "S1",
		"etaMinutes": 4.0,
	})
	if err != nil {
		t.Fatalf("decodeNotification() error = %v", err)
	}
	if n.SubjectID != "user-7" || n.ScheduleID != "S1" || n.EtaMinutes != 4 {
		t.Errorf("decoded = %+v", n)
	}
}
