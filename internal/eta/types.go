package eta

import "time"

// Source is the provenance tag on every ETA result (glossary: ETA source).
type Source string

const (
	SourceEstimated Source = "ESTIMATED"
	SourceCached    Source = "CACHED"
	SourceExternal  Source = "EXTERNAL"
)

// Request carries the origin/destination pair and the hour bucket the
// lookup is keyed on.
type Request struct {
	Origin      LatLng
	Destination LatLng
	At          time.Time
}

// LatLng is a plain coordinate pair, kept distinct from geo.Point so this
// package has no dependency on the geo package's Point type directly in
// its public contract (callers convert at the boundary).
type LatLng struct {
	Lat float64
	Lng float64
}

// Result is the hybrid oracle's contract response: duration, distance,
// and which strategy produced them.
type Result struct {
	DurationS int64
	DistanceM int64
	Source    Source
}

// RoadNetworkPair is one origin/destination leg in a batch external call.
type RoadNetworkPair struct {
	Origin      LatLng
	Destination LatLng
}

// RoadNetworkResult is the external oracle's per-pair response.
type RoadNetworkResult struct {
	DistanceM int64
	DurationS int64
	OK        bool
}
