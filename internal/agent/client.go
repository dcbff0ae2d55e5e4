// Package agent evaluates aid requests against known disaster zones and
// runs the persona debate that decides whether aid is dispatched.
package agent

import (
	"context"
	"math"

	"github.com/youmna-rabie/aegis/internal/types"
)

// Client evaluates an aid request. The HTTP client in package api and the
// in-process Swarm both implement it.
type Client interface {
	Evaluate(ctx context.Context, req types.AidRequest) (types.EvaluationResult, error)
}

const earthRadiusKM = 6371.0088

// DefaultDisasters returns the demo disaster zones.
func DefaultDisasters() []types.Disaster {
	return []types.Disaster{
		{ID: "d1", Name: "Valencia Flood", Lat: 39.4699, Lon: -0.3763, RadiusKM: 30},
		{ID: "d2", Name: "California Wildfire", Lat: 34.0522, Lon: -118.2437, RadiusKM: 50},
		{ID: "d3", Name: "Oxford Flash Flood", Lat: 51.7534, Lon: -1.2540, RadiusKM: 100},
	}
}

// DistanceKM is the great-circle distance between a user and a disaster
// centre.
func DistanceKM(loc types.UserLocation, d types.Disaster) float64 {
	lat1, lat2 := radians(loc.Lat), radians(d.Lat)
	dLat := lat2 - lat1
	dLon := radians(d.Lon - loc.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
