package tracking

import "math"

const earthRadiusKm = 6371

// Haversine calculates the great-circle distance between two points in
// kilometers.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// EtaMinutes derives a coarse arrival estimate from straight-line distance
// and an assumed average speed, rounded to the nearest whole minute. This
// is an approximation, not road-network routing: good enough for "bus is
// a few minutes out", useless for turn-by-turn.
func EtaMinutes(distanceKm, averageSpeedKmh float64) int {
	if averageSpeedKmh <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / averageSpeedKmh * 60))
}
