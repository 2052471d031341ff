package hotzone

import (
	"sort"

	"github.com/uber/h3-go/v4"

	"github.com/ubi-africa/dispatch-core/internal/geo"
)

// zoneH3Resolution indexes zone centers at a coarse-enough cell that a
// single ring-1 disk covers any realistic zone radius in this system's
// target cities, narrowing the match candidate set before the exact
// haversine check runs. Grounded on the teacher's H3Resolution=7 usage
// in internal/surge/service.go, generalized from "surge heat" lookups to
// zone-candidate indexing.
const zoneH3Resolution = 7

// ZoneIndex holds the configured zones plus an H3-cell index over their
// centers, replacing the teacher's own mock H3Cell/H3Neighbors.
type ZoneIndex struct {
	zones    []Zone
	byCell   map[h3.Cell][]Zone
}

// NewZoneIndex builds an index over zones, sorted by descending
// priority so Match can return the first eligible hit.
func NewZoneIndex(zones []Zone) *ZoneIndex {
	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	byCell := make(map[h3.Cell][]Zone)
	for _, z := range sorted {
		if !z.Active {
			continue
		}
		cell := h3.LatLngToCell(h3.LatLng{Lat: z.CenterLat, Lng: z.CenterLng}, zoneH3Resolution)
		byCell[cell] = append(byCell[cell], z)
	}

	return &ZoneIndex{zones: sorted, byCell: byCell}
}

// Match returns the highest-priority active zone whose haversine
// distance from pickup to its center is within radius_km, or false if
// none match. The H3 ring lookup is a candidate-narrowing optimization;
// the admission decision itself always re-checks with exact haversine.
func (idx *ZoneIndex) Match(pickup geo.Point) (Zone, bool) {
	pickupCell := h3.LatLngToCell(h3.LatLng{Lat: pickup.Lat, Lng: pickup.Lng}, zoneH3Resolution)
	ring := h3.GridDisk(pickupCell, 1)

	seen := make(map[string]bool)
	var candidates []Zone
	for _, cell := range ring {
		for _, z := range idx.byCell[cell] {
			if seen[z.ZoneID] {
				continue
			}
			seen[z.ZoneID] = true
			candidates = append(candidates, z)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })

	var best Zone
	found := false
	for _, z := range candidates {
		center := geo.Point{Lat: z.CenterLat, Lng: z.CenterLng}
		if geo.HaversineKm(pickup, center) <= z.RadiusKm {
			best, found = z, true
			break
		}
	}

	// The H3 ring is a one-cell optimization and can miss a wide-radius
	// zone whose center sits just outside it; scan the full,
	// priority-ordered zone list for any higher-priority match so
	// matching is always exact.
	for _, z := range idx.zones {
		if found && z.Priority <= best.Priority {
			break
		}
		if !z.Active {
			continue
		}
		center := geo.Point{Lat: z.CenterLat, Lng: z.CenterLng}
		if geo.HaversineKm(pickup, center) <= z.RadiusKm {
			return z, true
		}
	}
	return best, found
}
