package georank

import (
	"fmt"
	"math"

	"github.com/veepo/veeposync/internal/domain"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371008.8

type Point struct {
	Latitude  float64
	Longitude float64
}

func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %v", p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %v", p.Longitude)
	}

	return nil
}

// Distance is the great-circle distance in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, h)

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ProviderPoint returns the provider's location, if it has one.
func ProviderPoint(p domain.Provider) (Point, bool) {
	if !p.HasLocation() {
		return Point{}, false
	}

	return Point{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
