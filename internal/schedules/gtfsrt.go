package schedules

import (
	"context"
	"io"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/transitlk/tracking/internal/pkg/errors"
)

// GTFSRTSource adapts a GTFS-Realtime vehicle positions feed onto the
// Source interface. Trip IDs double as schedule IDs and arrival estimates
// come from the earliest onward StopTimeUpdate when the feed carries
// trip updates alongside vehicle positions.
type GTFSRTSource struct {
	feedURL string
	client  *http.Client
	now     func() time.Time
}

// GTFSRTSourceConfig configures the GTFS-RT source.
type GTFSRTSourceConfig struct {
	FeedURL string
	Timeout time.Duration
}

// NewGTFSRTSource creates a schedule source backed by a GTFS-RT feed.
func NewGTFSRTSource(cfg GTFSRTSourceConfig) (*GTFSRTSource, error) {
	if cfg.FeedURL == "" {
		return nil, errors.ValidationError("GTFS-RT feed URL cannot be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &GTFSRTSource{
		feedURL: cfg.FeedURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
	}, nil
}

// Schedules fetches the feed and converts matching entities to records.
func (s *GTFSRTSource) Schedules(ctx context.Context, q Query) ([]Record, error) {
	feed, err := s.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	// Index arrival estimates by trip from trip updates first.
	arrivals := map[string]float64{}
	stops := map[string]string{}
	now := s.now()
	for _, ent := range feed.GetEntity() {
		tu := ent.GetTripUpdate()
		if tu == nil {
			continue
		}
		tripID := tu.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}
		for _, stu := range tu.GetStopTimeUpdate() {
			arr := stu.GetArrival()
			if arr == nil || arr.GetTime() == 0 {
				continue
			}
			mins := time.Unix(arr.GetTime(), 0).Sub(now).Minutes()
			if prev, ok := arrivals[tripID]; !ok || mins < prev {
				arrivals[tripID] = mins
				stops[tripID] = stu.GetStopId()
			}
		}
	}

	var out []Record
	for _, ent := range feed.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil {
			continue
		}

		tripID := vp.GetTrip().GetTripId()
		routeID := vp.GetTrip().GetRouteId()
		if q.ScheduleID != "" && tripID != q.ScheduleID {
			continue
		}
		if q.RouteID != "" && routeID != q.RouteID {
			continue
		}

		rec := Record{
			ID:            tripID,
			RouteID:       routeID,
			VehicleNumber: vp.GetVehicle().GetLabel(),
			// A trip with a live vehicle position is active by definition.
			Status:       StatusActive,
			Heading:      float64(vp.GetPosition().GetBearing()),
			Speed:        float64(vp.GetPosition().GetSpeed()) * 3.6, // m/s to km/h
			NextStopName: stops[tripID],
		}
		// Feeds may omit the vehicle timestamp. Leave LastUpdate zero in
		// that case so the consumer stamps receipt time instead of the
		// Unix epoch.
		if ts := vp.GetTimestamp(); ts != 0 {
			rec.LastUpdate = time.Unix(int64(ts), 0)
		}

		if pos := vp.GetPosition(); pos != nil {
			rec.Position = &Position{
				Lat: float64(pos.GetLatitude()),
				Lng: float64(pos.GetLongitude()),
			}
		}

		if mins, ok := arrivals[tripID]; ok {
			rec.EstimatedArrivalMinutes = mins
		}

		out = append(out, rec)
	}

	return out, nil
}

func (s *GTFSRTSource) fetchFeed(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "building feed request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.TimeoutError("GTFS-RT fetch")
		}
		return nil, errors.UpstreamError("fetching GTFS-RT feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.UpstreamError("GTFS-RT feed returned non-OK status", nil)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.UpstreamError("reading GTFS-RT feed", err)
	}

	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, errors.UpstreamError("decoding GTFS-RT feed", err)
	}

	return &fm, nil
}
