// Package geo computes great-circle distances and ranks candidates by proximity.
package geo

import (
	"math"
	"sort"
)

const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate. A nil *Point means the location is unknown.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p is inside the latitude/longitude ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

// DistanceKm returns the haversine distance rounded to one decimal. ok is false when either
// point is missing or out of range; the distance is then unknown, not zero.
func DistanceKm(a, b *Point) (km float64, ok bool) {
	if a == nil || b == nil || !a.Valid() || !b.Valid() {
		return 0, false
	}
	return math.Round(haversine(*a, *b)*10) / 10, true
}

func haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// clamp rounding noise on antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Candidate is anything with an id and an optional location.
type Candidate struct {
	ID       string
	Location *Point
}

// Ranked is a candidate with its distance from the origin. Known is false when the distance
// could not be computed.
type Ranked struct {
	ID         string   `json:"id"`
	DistanceKm *float64 `json:"distanceKm"`
	Known      bool     `json:"-"`
}

// Rank orders candidates by ascending distance from origin. Ties break by id; candidates with
// unknown distance go last, ordered by id.
func Rank(origin *Point, candidates []Candidate) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		r := Ranked{ID: c.ID}
		if d, ok := DistanceKm(origin, c.Location); ok {
			d := d
			r.DistanceKm = &d
			r.Known = true
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Known != b.Known {
			return a.Known
		}
		if a.Known && *a.DistanceKm != *b.DistanceKm {
			return *a.DistanceKm < *b.DistanceKm
		}
		return a.ID < b.ID
	})
	return out
}

// TravelMinutes estimates travel time at speedKmh, rounded up to whole minutes.
func TravelMinutes(km, speedKmh float64) int {
	if speedKmh <= 0 {
		return 0
	}
	return int(math.Ceil(km / speedKmh * 60))
}
