// Package geofence decides whether a reported coordinate lies inside a
// polygonal boundary. The test is planar (lat/lng treated as x/y), which is
// fine for single-campus extents.
package geofence

import "errors"

// ErrDegenerateGeometry is returned when a boundary has fewer than three
// distinct vertices. Callers must refuse the check rather than default to a
// verdict.
var ErrDegenerateGeometry = errors.New("boundary has fewer than 3 vertices")

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Contains reports whether p lies inside the simple polygon described by
// ring, using the even-odd ray-casting rule. The ring may be given open
// (first != last) or explicitly closed; both forms are accepted.
//
// Points exactly on an edge resolve via half-open interval checks, so any
// fixed input always yields the same answer.
func Contains(p Point, ring []Point) (bool, error) {
	ring = normalize(ring)
	if len(ring) < 3 {
		return false, ErrDegenerateGeometry
	}

	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		crosses := (a.Lat > p.Lat) != (b.Lat > p.Lat)
		if crosses && p.Lng < (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat)+a.Lng {
			inside = !inside
		}
	}
	return inside, nil
}

// normalize strips an explicit closing vertex so both ring forms share one
// code path.
func normalize(ring []Point) []Point {
	if len(ring) >= 2 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}
