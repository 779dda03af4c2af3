package tracking

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		wantKm                 float64
		tolKm                  float64
	}{
		{
			name: "same point",
			lat1: 6.9271, lng1: 79.8612,
			lat2: 6.9271, lng2: 79.8612,
			wantKm: 0, tolKm: 0.000001,
		},
		{
			name: "quarter meridian",
			lat1: 0, lng1: 0,
			lat2: 90, lng2: 0,
			wantKm: 10007.5, tolKm: 1.0,
		},
		{
			name: "colombo fort to pettah",
			lat1: 6.9344, lng1: 79.8428,
			lat2: 6.9355, lng2: 79.8500,
			wantKm: 0.80, tolKm: 0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolKm {
				t.Errorf("Haversine() = %f km, want %f±%f", got, tt.wantKm, tt.tolKm)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	ab := Haversine(6.9271, 79.8612, 7.2906, 80.6337)
	ba := Haversine(7.2906, 80.6337, 6.9271, 79.8612)
	if math.Abs(ab-ba) > 0.000001 {
		t.Errorf("Haversine not symmetric: %f vs %f", ab, ba)
	}
}

func TestEtaMinutes(t *testing.T) {
	tests := []struct {
		name     string
		distKm   float64
		speedKmh float64
		want     int
	}{
		{"ten km at default speed", 10, 30, 20},
		{"rounds to nearest minute", 1, 30, 2},
		{"zero distance", 0, 30, 0},
		{"zero speed guards division", 10, 0, 0},
		{"negative speed guards division", 10, -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EtaMinutes(tt.distKm, tt.speedKmh); got != tt.want {
				t.Errorf("EtaMinutes(%f, %f) = %d, want %d", tt.distKm, tt.speedKmh, got, tt.want)
			}
		})
	}
}
