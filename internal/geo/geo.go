// Package geo implements the coordinate math for the fleet engine:
// great-circle distances over position history and the bounded random
// perturbation that drives simulated movement.
package geo

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/fleetmon/fleet-engine/internal/model"
)

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// MaxMoveDelta bounds a single simulated move: each axis changes by a
// uniform delta in [-MaxMoveDelta, +MaxMoveDelta] degrees.
const MaxMoveDelta = 0.005

// Coordinate precision matches the NUMERIC(9,6) database columns.
const coordinatePlaces = 6

// HaversineKm returns the great-circle distance in kilometers between two
// points given in decimal degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// PathDistanceKm sums the haversine distance between consecutive records.
// The records must already be ordered by time ascending. Fewer than two
// records yields 0.
func PathDistanceKm(records []model.PositionRecord) float64 {
	var total float64
	for i := 1; i < len(records); i++ {
		prev, curr := records[i-1], records[i]
		total += HaversineKm(
			prev.Lat.InexactFloat64(), prev.Lon.InexactFloat64(),
			curr.Lat.InexactFloat64(), curr.Lon.InexactFloat64(),
		)
	}
	return total
}

// Perturb returns a new coordinate within MaxMoveDelta degrees of the given
// one on each axis, clamped to valid latitude/longitude ranges. Deltas are
// rounded to the storage precision before adding so the bound holds exactly.
func Perturb(rng *rand.Rand, lat, lon decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	newLat := lat.Add(randomDelta(rng))
	newLon := lon.Add(randomDelta(rng))
	return clamp(newLat, -90, 90), clamp(newLon, -180, 180)
}

func randomDelta(rng *rand.Rand) decimal.Decimal {
	delta := (rng.Float64() - 0.5) * 2 * MaxMoveDelta
	return decimal.NewFromFloat(delta).Round(coordinatePlaces)
}

func clamp(v decimal.Decimal, min, max int64) decimal.Decimal {
	if lo := decimal.NewFromInt(min); v.LessThan(lo) {
		return lo
	}
	if hi := decimal.NewFromInt(max); v.GreaterThan(hi) {
		return hi
	}
	return v
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
