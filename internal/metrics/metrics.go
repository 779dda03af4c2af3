package metrics

// Metrics holds the metrics exposed by the tracking service.
type Metrics struct {
	// Connection registry
	ActiveConnections *Gauge
	ConnectionsTotal  *Counter
	Subscriptions     *CounterVec // by topic kind

	// Tracking coordinator
	PollTicks          *Counter
	PollTicksSkipped   *Counter
	FetchErrors        *CounterVec // by source kind
	SnapshotsCommitted *Counter
	StaleDiscards      *Counter
	SchedulesEvicted   *Counter
	TrackedSchedules   *Gauge

	// Broadcast dispatcher
	BroadcastsSent *Counter
	SendFailures   *Counter

	// Arrival notifications
	NotificationsEmitted    *Counter
	NotificationsSuppressed *Counter
	EmitFailures            *Counter
}

// New creates the full metric set with zeroed values.
func New() *Metrics {
	return &Metrics{
		ActiveConnections: NewGauge("tracking_active_connections",
			"Number of currently open client connections", nil),
		ConnectionsTotal: NewCounter("tracking_connections_total",
			"Total client connections accepted since start", nil),
		Subscriptions: NewCounterVec("tracking_subscriptions_total",
			"Total subscriptions by topic kind", []string{"kind"}),

		PollTicks: NewCounter("tracking_poll_ticks_total",
			"Total completed poll ticks", nil),
		PollTicksSkipped: NewCounter("tracking_poll_ticks_skipped_total",
			"Poll ticks skipped because the previous tick was still running", nil),
		FetchErrors: NewCounterVec("tracking_fetch_errors_total",
			"Upstream schedule fetch failures by kind", []string{"kind"}),
		SnapshotsCommitted: NewCounter("tracking_snapshots_committed_total",
			"Snapshots accepted into the live state", nil),
		StaleDiscards: NewCounter("tracking_stale_discards_total",
			"Snapshots discarded because a newer tick already committed", nil),
		SchedulesEvicted: NewCounter("tracking_schedules_evicted_total",
			"Schedules evicted from the live state", nil),
		TrackedSchedules: NewGauge("tracking_tracked_schedules",
			"Number of schedules with a live snapshot", nil),

		BroadcastsSent: NewCounter("tracking_broadcasts_sent_total",
			"Messages delivered to subscribed connections", nil),
		SendFailures: NewCounter("tracking_send_failures_total",
			"Per-connection delivery failures", nil),

		NotificationsEmitted: NewCounter("tracking_notifications_emitted_total",
			"Arrival notifications emitted", nil),
		NotificationsSuppressed: NewCounter("tracking_notifications_suppressed_total",
			"Arrival notifications suppressed by the cooldown", nil),
		EmitFailures: NewCounter("tracking_emit_failures_total",
			"Arrival notification emit failures", nil),
	}
}
