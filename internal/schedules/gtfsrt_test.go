package schedules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

func feedServer(t *testing.T, fm *gtfsrtpb.FeedMessage) *httptest.Server {
	t.Helper()
	raw, err := proto.Marshal(fm)
	if err != nil {
		t.Fatalf("marshaling feed: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(raw)
	}))
}

func vehicleEntity(id, tripID, routeID string, lat, lng, speedMS float32) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String(id),
		Vehicle: &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{
				TripId:  proto.String(tripID),
				RouteId: proto.String(routeID),
			},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Label: proto.String("NB-" + id),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(lat),
				Longitude: proto.Float32(lng),
				Bearing:   proto.Float32(90),
				Speed:     proto.Float32(speedMS),
			},
			Timestamp: proto.Uint64(uint64(time.Now().Unix())),
		},
	}
}

func TestGTFSRTSourceVehiclePositions(t *testing.T) {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
		},
		Entity: []*gtfsrtpb.FeedEntity{
			vehicleEntity("1", "trip-1", "R1", 6.9271, 79.8612, 10),
			vehicleEntity("2", "trip-2", "R2", 7.2906, 80.6337, 5),
		},
	}
	srv := feedServer(t, fm)
	defer srv.Close()

	src, err := NewGTFSRTSource(GTFSRTSourceConfig{FeedURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewGTFSRTSource() error = %v", err)
	}

	recs, err := src.Schedules(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Schedules() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}

	byID := map[string]Record{}
	for _, r := range recs {
		byID[r.ID] = r
	}
	rec := byID["trip-1"]
	if rec.RouteID != "R1" || rec.Status != StatusActive {
		t.Errorf("record = %+v", rec)
	}
	if !rec.HasPosition() || rec.Position.Lat < 6.92 || rec.Position.Lat > 6.93 {
		t.Errorf("position = %+v", rec.Position)
	}
	if rec.Speed < 35.9 || rec.Speed > 36.1 { // 10 m/s = 36 km/h
		t.Errorf("speed = %f km/h, want 36", rec.Speed)
	}
	if rec.VehicleNumber != "NB-1" {
		t.Errorf("vehicle = %q", rec.VehicleNumber)
	}
}

func TestGTFSRTSourceFiltersByQuery(t *testing.T) {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrtpb.FeedEntity{
			vehicleEntity("1", "trip-1", "R1", 6.9, 79.8, 10),
			vehicleEntity("2", "trip-2", "R2", 7.2, 80.6, 5),
		},
	}
	srv := feedServer(t, fm)
	defer srv.Close()

	src, _ := NewGTFSRTSource(GTFSRTSourceConfig{FeedURL: srv.URL, Timeout: time.Second})

	recs, err := src.Schedules(context.Background(), Query{RouteID: "R2"})
	if err != nil {
		t.Fatalf("Schedules() error = %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "trip-2" {
		t.Errorf("records = %+v, want only trip-2", recs)
	}

	recs, err = src.Schedules(context.Background(), Query{ScheduleID: "trip-1"})
	if err != nil {
		t.Fatalf("Schedules() error = %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "trip-1" {
		t.Errorf("records = %+v, want only trip-1", recs)
	}
}

func TestGTFSRTSourceArrivalFromTripUpdate(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	arrival := now.Add(4 * time.Minute)

	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrtpb.FeedEntity{
			{
				Id: proto.String("tu-1"),
				TripUpdate: &gtfsrtpb.TripUpdate{
					Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("trip-1")},
					StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{
						{
							StopId: proto.String("stop-7"),
							Arrival: &gtfsrtpb.TripUpdate_StopTimeEvent{
								Time: proto.Int64(arrival.Unix()),
							},
						},
					},
				},
			},
			vehicleEntity("1", "trip-1", "R1", 6.9, 79.8, 10),
		},
	}
	srv := feedServer(t, fm)
	defer srv.Close()

	src, _ := NewGTFSRTSource(GTFSRTSourceConfig{FeedURL: srv.URL, Timeout: time.Second})
	src.now = func() time.Time { return now }

	recs, err := src.Schedules(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Schedules() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if got := recs[0].EstimatedArrivalMinutes; got < 3.9 || got > 4.1 {
		t.Errorf("EstimatedArrivalMinutes = %f, want ~4", got)
	}
	if recs[0].NextStopName != "stop-7" {
		t.Errorf("NextStopName = %q, want stop-7", recs[0].NextStopName)
	}
}

func TestGTFSRTSourceMissingTimestamp(t *testing.T) {
	ent := vehicleEntity("1", "trip-1", "R1", 6.9, 79.8, 10)
	ent.Vehicle.Timestamp = nil

	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrtpb.FeedEntity{ent},
	}
	srv := feedServer(t, fm)
	defer srv.Close()

	src, _ := NewGTFSRTSource(GTFSRTSourceConfig{FeedURL: srv.URL, Timeout: time.Second})

	recs, err := src.Schedules(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Schedules() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	// No feed timestamp must not turn into the Unix epoch; a zero value
	// tells the consumer to stamp receipt time.
	if !recs[0].LastUpdate.IsZero() {
		t.Errorf("LastUpdate = %v, want zero", recs[0].LastUpdate)
	}
}

func TestGTFSRTSourceUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	src, _ := NewGTFSRTSource(GTFSRTSourceConfig{FeedURL: srv.URL, Timeout: time.Second})

	if _, err := src.Schedules(context.Background(), Query{}); err == nil {
		t.Fatal("expected error for HTTP 502")
	}
}
