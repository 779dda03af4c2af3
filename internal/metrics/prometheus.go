package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WritePrometheus writes all metrics in Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	counters := []*Counter{
		m.ConnectionsTotal,
		m.PollTicks,
		m.PollTicksSkipped,
		m.SnapshotsCommitted,
		m.StaleDiscards,
		m.SchedulesEvicted,
		m.BroadcastsSent,
		m.SendFailures,
		m.NotificationsEmitted,
		m.NotificationsSuppressed,
		m.EmitFailures,
	}
	for _, c := range counters {
		if err := writeCounter(w, c); err != nil {
			return err
		}
	}

	gauges := []*Gauge{
		m.ActiveConnections,
		m.TrackedSchedules,
	}
	for _, g := range gauges {
		if err := writeGauge(w, g); err != nil {
			return err
		}
	}

	vecs := []*CounterVec{
		m.Subscriptions,
		m.FetchErrors,
	}
	for _, cv := range vecs {
		if err := writeCounterVec(w, cv); err != nil {
			return err
		}
	}
	return nil
}

func writeCounter(w io.Writer, c *Counter) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.Name(), c.Help()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.Name()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s%s %d\n", c.Name(), formatLabels(c.Labels()), c.Value())
	return err
}

func writeGauge(w io.Writer, g *Gauge) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", g.Name(), g.Help()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s gauge\n", g.Name()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s%s %g\n", g.Name(), formatLabels(g.Labels()), g.Value())
	return err
}

func writeCounterVec(w io.Writer, cv *CounterVec) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", cv.Name(), cv.Help()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", cv.Name()); err != nil {
		return err
	}
	for _, c := range cv.GetAll() {
		if _, err := fmt.Fprintf(w, "%s%s %d\n", c.Name(), formatLabels(c.Labels()), c.Value()); err != nil {
			return err
		}
	}
	return nil
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("%s=%q", k, labels[k]))
	}
	sb.WriteString("}")
	return sb.String()
}
