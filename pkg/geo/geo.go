// Package geo provides distance and spatial-bucketing helpers.
package geo

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance between two coordinates in kilometers.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Proximity converts a distance to a 0..1 closeness value, linear to 0 at cutoffKm.
func Proximity(distanceKm, cutoffKm float64) float64 {
	if cutoffKm <= 0 {
		return 0
	}
	v := 1 - distanceKm/cutoffKm
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CellKey buckets a coordinate into a grid cell of cellDegrees per side.
// Businesses in the same cell are candidate pairs for similarity blocking.
func CellKey(lat, lon, cellDegrees float64) string {
	if cellDegrees <= 0 {
		cellDegrees = 0.1
	}
	return fmt.Sprintf("%d:%d",
		int(math.Floor(lat/cellDegrees)),
		int(math.Floor(lon/cellDegrees)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
