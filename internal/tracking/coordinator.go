// Package tracking implements the polling loop that keeps live schedule
// snapshots fresh, fans deltas out to subscribers, and fires arrival
// notifications.
package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/transitlk/tracking/internal/bus"
	"github.com/transitlk/tracking/internal/config"
	"github.com/transitlk/tracking/internal/metrics"
	"github.com/transitlk/tracking/internal/notify"
	"github.com/transitlk/tracking/internal/pkg/logger"
	"github.com/transitlk/tracking/internal/registry"
	"github.com/transitlk/tracking/internal/schedules"
)

// Broadcaster delivers a committed snapshot to every subscribed client.
// Implemented by the dispatch layer; the coordinator never touches
// individual connections.
type Broadcaster interface {
	Broadcast(snap Snapshot)
}

// Coordinator owns the poll loop. Demand is demand-driven: only schedules
// someone subscribed to, directly or through their route, are fetched.
type Coordinator struct {
	cfg     config.TrackingConfig
	reg     *registry.Registry
	source  schedules.Source
	caster  Broadcaster
	emitter notify.Emitter
	markers notify.MarkerStore
	events  bus.Bus
	met     *metrics.Metrics
	log     *logger.Logger

	store *snapshotStore

	// tick is a monotonic sequence stamped on every commit so results
	// from a slow fetch cannot clobber a newer snapshot.
	tick uint64

	// inFlight guards against overlapping ticks when a poll round runs
	// longer than the interval.
	inFlight atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// NewCoordinator wires the poll loop to its collaborators. The events bus
// may be nil; snapshot lifecycle events are then not published.
func NewCoordinator(
	cfg config.TrackingConfig,
	reg *registry.Registry,
	source schedules.Source,
	caster Broadcaster,
	emitter notify.Emitter,
	markers notify.MarkerStore,
	events bus.Bus,
	met *metrics.Metrics,
	log *logger.Logger,
) *Coordinator {
	if log == nil {
		log = logger.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Coordinator{
		cfg:     cfg,
		reg:     reg,
		source:  source,
		caster:  caster,
		emitter: emitter,
		markers: markers,
		events:  events,
		met:     met,
		log:     log,
		store:   newSnapshotStore(),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// SetBroadcaster wires the fan-out sink. The dispatcher needs the
// transport and the transport's handlers need the coordinator, so the
// sink is attached after construction. Must be called before Start.
func (c *Coordinator) SetBroadcaster(b Broadcaster) {
	c.caster = b
}

// Start launches the poll loop. It returns immediately; call Stop to end
// the loop and wait for the in-flight tick to finish.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(ctx)

	c.log.Info("tracking loop started",
		"interval", c.cfg.PollInterval,
		"fetch_timeout", c.cfg.FetchTimeout,
		"fetch_concurrency", c.cfg.FetchConcurrency)
}

// Stop cancels the loop and blocks until it has exited.
func (c *Coordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.log.Info("tracking loop stopped")
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PollOnce(ctx)
		}
	}
}

// PollOnce runs one poll round: gather demand from the registry, fetch the
// wanted schedules, commit and broadcast fresh snapshots, fire arrival
// notifications, and drop state nobody wants anymore. If the previous round
// is still running the tick is skipped, never queued.
func (c *Coordinator) PollOnce(ctx context.Context) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.met.PollTicksSkipped.Inc()
		c.log.Warn("poll tick skipped, previous round still running")
		return
	}
	defer c.inFlight.Store(false)

	seq := atomic.AddUint64(&c.tick, 1)

	directIDs := c.reg.SubscribedScheduleIDs()
	routeIDs := c.reg.SubscribedRouteIDs()

	records := c.fetch(ctx, directIDs, routeIDs)

	for _, rec := range records {
		c.applyRecord(ctx, rec, seq)
	}

	c.evictUnwanted(ctx)
	c.markers.Sweep(ctx)

	c.met.PollTicks.Inc()
	c.met.TrackedSchedules.Set(float64(c.store.len()))
}

// fetch resolves the demand set against the upstream. One fetch per route
// plus one per directly subscribed schedule not already covered, each with
// its own timeout, bounded by the concurrency cap. A failed fetch is
// logged and dropped; it never fails the round.
func (c *Coordinator) fetch(ctx context.Context, directIDs, routeIDs []string) map[string]schedules.Record {
	var mu sync.Mutex
	records := make(map[string]schedules.Record)

	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.FetchConcurrency > 0 {
		g.SetLimit(c.cfg.FetchConcurrency)
	}

	for _, routeID := range routeIDs {
		routeID := routeID
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, c.cfg.FetchTimeout)
			defer cancel()

			recs, err := c.source.Schedules(fctx, schedules.Query{RouteID: routeID, ActiveOnly: true})
			if err != nil {
				c.met.FetchErrors.WithLabels("route").Inc()
				c.log.WithError(err).Warn("route fetch failed", "route", routeID)
				return nil
			}

			mu.Lock()
			for _, rec := range recs {
				records[rec.ID] = rec
			}
			mu.Unlock()
			return nil
		})
	}

	for _, scheduleID := range directIDs {
		scheduleID := scheduleID
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, c.cfg.FetchTimeout)
			defer cancel()

			rec, err := schedules.ByID(fctx, c.source, scheduleID)
			if err != nil {
				c.met.FetchErrors.WithLabels("schedule").Inc()
				c.log.WithError(err).WithSchedule(scheduleID).Warn("schedule fetch failed")
				return nil
			}
			if rec == nil {
				return nil
			}

			mu.Lock()
			records[rec.ID] = *rec
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return records
}

// applyRecord folds one upstream record into the live state: evict
// terminal schedules, commit and broadcast fresh snapshots, and check the
// arrival trigger.
func (c *Coordinator) applyRecord(ctx context.Context, rec schedules.Record, seq uint64) {
	if rec.Status == schedules.StatusCompleted || rec.Status == schedules.StatusCancelled {
		c.evictSchedule(ctx, rec.ID, string(rec.Status))
		return
	}
	if rec.Status != schedules.StatusActive || !rec.HasPosition() {
		return
	}

	snap := Snapshot{
		ScheduleID:              rec.ID,
		RouteID:                 rec.RouteID,
		VehicleNumber:           rec.VehicleNumber,
		Position:                *rec.Position,
		Heading:                 rec.Heading,
		Speed:                   rec.Speed,
		Status:                  rec.Status,
		Capacity:                rec.Capacity,
		CurrentOccupancy:        rec.CurrentOccupancy,
		NextStopName:            rec.NextStopName,
		EstimatedArrivalMinutes: rec.EstimatedArrivalMinutes,
		LastUpdate:              rec.LastUpdate,
	}
	if snap.LastUpdate.IsZero() {
		snap.LastUpdate = c.now()
	}

	if !c.store.commit(snap, seq) {
		c.met.StaleDiscards.Inc()
		c.log.WithSchedule(rec.ID).Debug("stale snapshot discarded")
		return
	}
	c.met.SnapshotsCommitted.Inc()

	if c.caster != nil {
		c.caster.Broadcast(snap)
	}
	c.publishEvent(ctx, bus.TopicScheduleUpdate, snap)

	c.maybeNotify(ctx, snap)
}

// maybeNotify fires the arrival notification when the upstream ETA is
// inside the (0, window] minutes band. Every subject subscribed to the
// schedule or its route is a candidate; the marker store enforces the
// per-pair cooldown. Emit failures are logged and the marker stands, so a
// flapping emitter cannot spam a subject within the cooldown.
func (c *Coordinator) maybeNotify(ctx context.Context, snap Snapshot) {
	eta := snap.EstimatedArrivalMinutes
	if eta <= 0 || eta > c.cfg.ArrivalWindowMinutes {
		return
	}

	subjects := c.reg.SubjectsSubscribedTo(
		registry.ScheduleTopic(snap.ScheduleID),
		registry.RouteTopic(snap.RouteID),
	)

	for _, subjectID := range subjects {
		fresh, err := c.markers.MarkIfAbsent(ctx, subjectID, snap.ScheduleID)
		if err != nil {
			c.log.WithError(err).Warn("marker store failed", "subject", subjectID)
			continue
		}
		if !fresh {
			c.met.NotificationsSuppressed.Inc()
			continue
		}

		n := notify.Notification{
			Type:          notify.TypeBusArrival,
			SubjectID:     subjectID,
			ScheduleID:    snap.ScheduleID,
			RouteName:     snap.RouteID,
			VehicleNumber: snap.VehicleNumber,
			StopName:      snap.NextStopName,
			EtaMinutes:    eta,
		}
		if err := c.emitter.Emit(ctx, n); err != nil {
			c.met.EmitFailures.Inc()
			c.log.WithError(err).WithSchedule(snap.ScheduleID).
				Error("arrival notification emit failed", "subject", subjectID)
			continue
		}
		c.met.NotificationsEmitted.Inc()
		c.log.WithSchedule(snap.ScheduleID).Info("arrival notification emitted",
			"subject", subjectID, "eta_minutes", eta)
	}
}

// evictUnwanted drops snapshots for schedules nobody subscribes to anymore,
// directly or through their route.
func (c *Coordinator) evictUnwanted(ctx context.Context) {
	for _, snap := range c.store.all() {
		if c.reg.HasSubscribers(registry.ScheduleTopic(snap.ScheduleID)) {
			continue
		}
		if c.reg.HasSubscribers(registry.RouteTopic(snap.RouteID)) {
			continue
		}
		c.evictSchedule(ctx, snap.ScheduleID, "unsubscribed")
	}
}

func (c *Coordinator) evictSchedule(ctx context.Context, scheduleID, reason string) {
	if _, ok := c.store.get(scheduleID); !ok {
		return
	}
	c.store.evict(scheduleID)
	c.met.SchedulesEvicted.Inc()
	c.log.WithSchedule(scheduleID).Debug("schedule evicted", "reason", reason)

	c.publishEvent(ctx, bus.TopicScheduleEvicted, map[string]string{
		"scheduleId": scheduleID,
		"reason":     reason,
	})
}

func (c *Coordinator) publishEvent(ctx context.Context, topic string, payload any) {
	if c.events == nil {
		return
	}
	evt := bus.Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    "tracking-service",
		Timestamp: c.now().Unix(),
		Payload:   payload,
	}
	if err := c.events.Publish(ctx, topic, evt); err != nil {
		c.log.WithError(err).Warn("event publish failed", "topic", topic)
	}
}

// Snapshot returns the live snapshot for a schedule, if tracked.
func (c *Coordinator) Snapshot(scheduleID string) (Snapshot, bool) {
	return c.store.get(scheduleID)
}

// SnapshotsForRoute returns the live snapshots of every tracked schedule
// on the route.
func (c *Coordinator) SnapshotsForRoute(routeID string) []Snapshot {
	var out []Snapshot
	for _, snap := range c.store.all() {
		if snap.RouteID == routeID {
			out = append(out, snap)
		}
	}
	return out
}

// ETA is a point-to-vehicle arrival estimate.
type ETA struct {
	ScheduleID       string             `json:"scheduleId"`
	DistanceKm       float64            `json:"distanceKm"`
	EstimatedMinutes int                `json:"estimatedMinutes"`
	VehiclePosition  schedules.Position `json:"vehiclePosition"`
	LastUpdate       time.Time          `json:"lastUpdate"`
}

// EstimateArrival computes the straight-line ETA from a client position to
// the tracked vehicle. Returns false when the schedule has no live snapshot.
func (c *Coordinator) EstimateArrival(scheduleID string, lat, lng float64) (ETA, bool) {
	snap, ok := c.store.get(scheduleID)
	if !ok {
		return ETA{}, false
	}

	dist := Haversine(lat, lng, snap.Position.Lat, snap.Position.Lng)
	speed := c.cfg.AverageSpeedKmh
	if snap.Speed > 0 {
		speed = snap.Speed
	}

	return ETA{
		ScheduleID:       scheduleID,
		DistanceKm:       dist,
		EstimatedMinutes: EtaMinutes(dist, speed),
		VehiclePosition:  snap.Position,
		LastUpdate:       snap.LastUpdate,
	}, true
}

// Stats describes the coordinator's live state for the stats endpoint.
type Stats struct {
	TrackedSchedules int `json:"trackedSchedules"`
	ActiveMarkers    int `json:"activeMarkers"`
}

// Stats returns a point-in-time view of the tracked state.
func (c *Coordinator) Stats(ctx context.Context) Stats {
	return Stats{
		TrackedSchedules: c.store.len(),
		ActiveMarkers:    c.markers.Active(ctx),
	}
}
