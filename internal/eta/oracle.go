package eta

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/geo"
)

const (
	geodesicThresholdKm = 3.0
	distanceFactor       = 1.3
	cacheTTL             = 1 * time.Hour
	sweepInterval        = 10 * time.Minute
	minDurationS         = 180
)

var peakHours = map[int]bool{7: true, 8: true, 17: true, 18: true, 19: true}
var nightHours = map[int]bool{23: true, 0: true, 1: true, 2: true, 3: true, 4: true, 5: true}

func speedKmhForHour(hour int) float64 {
	switch {
	case peakHours[hour]:
		return 18.0
	case nightHours[hour]:
		return 35.0
	default:
		return 25.0
	}
}

// Oracle is the hybrid ETA strategy: estimate short hops geometrically,
// otherwise consult the two-tier cache before spending external-call
// budget on a road-network provider.
type Oracle struct {
	mem        *memCache
	persistent PersistentCache
	external   RoadNetworkOracle
	budget     *DailyBudget
}

func NewOracle(persistent PersistentCache, external RoadNetworkOracle, dailyLimit int) *Oracle {
	o := &Oracle{
		mem:        newMemCache(cacheTTL),
		persistent: persistent,
		external:   external,
		budget:     NewDailyBudget(dailyLimit),
	}
	return o
}

// RunSweeper evicts expired in-process cache rows until ctx is cancelled.
// Intended to run as a background goroutine from cmd/dispatchd.
func (o *Oracle) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mem.sweep(time.Now())
		}
	}
}

// Estimate resolves a single origin/destination/time request to an ETA
// result, trying geodesic estimation, then the cache tiers, then an
// external call if budget allows.
func (o *Oracle) Estimate(ctx context.Context, req Request) (Result, error) {
	origin := geo.Point{Lat: req.Origin.Lat, Lng: req.Origin.Lng}
	dest := geo.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng}
	dGeo := geo.HaversineKm(origin, dest)

	if dGeo < geodesicThresholdKm {
		return estimateFormula(dGeo, req.At), nil
	}

	key := cacheKeyFor(origin, dest, req.At)
	now := time.Now()

	if row, ok := o.mem.get(key, now); ok {
		o.persistHit(key, row)
		return Result{DurationS: row.DurationS, DistanceM: row.DistanceM, Source: SourceCached}, nil
	}

	if o.persistent != nil {
		if row, err := o.persistent.Get(ctx, key); err == nil && row != nil && now.Before(row.ExpiresAt) {
			o.mem.put(key, *row)
			bumped := o.mem.bump(key)
			o.persistHit(key, bumped)
			return Result{DurationS: bumped.DurationS, DistanceM: bumped.DistanceM, Source: SourceCached}, nil
		}
	}

	if o.external == nil || !o.budget.TryConsume() {
		return estimateFormula(dGeo, req.At), nil
	}

	pair := RoadNetworkPair{Origin: req.Origin, Destination: req.Destination}
	extResult, err := o.external.Route(ctx, pair, req.At)
	if err != nil || !extResult.OK {
		return estimateFormula(dGeo, req.At), nil
	}

	row := CacheRow{
		DistanceM: extResult.DistanceM,
		DurationS: extResult.DurationS,
		CachedAt:  now,
		ExpiresAt: now.Add(cacheTTL),
		HitCount:  0,
	}
	o.mem.put(key, row)
	if o.persistent != nil {
		_ = o.persistent.Upsert(ctx, key, row)
	}

	return Result{DurationS: extResult.DurationS, DistanceM: extResult.DistanceM, Source: SourceExternal}, nil
}

// EstimateBatch partitions origins into estimable/cached/external groups
// and issues at most one batched external call, capped at maxBatchPairs
// legs, for the legs that need it.
func (o *Oracle) EstimateBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	var externalIdx []int
	var externalPairs []RoadNetworkPair
	now := time.Now()

	for i, req := range reqs {
		origin := geo.Point{Lat: req.Origin.Lat, Lng: req.Origin.Lng}
		dest := geo.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng}
		dGeo := geo.HaversineKm(origin, dest)

		if dGeo < geodesicThresholdKm {
			results[i] = estimateFormula(dGeo, req.At)
			continue
		}

		key := cacheKeyFor(origin, dest, req.At)
		if row, ok := o.mem.get(key, now); ok {
			o.persistHit(key, row)
			results[i] = Result{DurationS: row.DurationS, DistanceM: row.DistanceM, Source: SourceCached}
			continue
		}
		if o.persistent != nil {
			if row, err := o.persistent.Get(ctx, key); err == nil && row != nil && now.Before(row.ExpiresAt) {
				o.mem.put(key, *row)
				bumped := o.mem.bump(key)
				o.persistHit(key, bumped)
				results[i] = Result{DurationS: bumped.DurationS, DistanceM: bumped.DistanceM, Source: SourceCached}
				continue
			}
		}

		if o.external == nil || len(externalPairs) >= maxBatchPairs || !o.budget.TryConsume() {
			results[i] = estimateFormula(dGeo, req.At)
			continue
		}

		externalIdx = append(externalIdx, i)
		externalPairs = append(externalPairs, RoadNetworkPair{Origin: req.Origin, Destination: req.Destination})
	}

	if len(externalPairs) == 0 {
		return results, nil
	}

	extResults, err := o.external.RouteBatch(ctx, externalPairs, now)
	if err != nil {
		for _, idx := range externalIdx {
			req := reqs[idx]
			dGeo := geo.HaversineKm(geo.Point{Lat: req.Origin.Lat, Lng: req.Origin.Lng}, geo.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng})
			results[idx] = estimateFormula(dGeo, req.At)
		}
		return results, nil
	}

	for j, idx := range externalIdx {
		req := reqs[idx]
		if j >= len(extResults) || !extResults[j].OK {
			dGeo := geo.HaversineKm(geo.Point{Lat: req.Origin.Lat, Lng: req.Origin.Lng}, geo.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng})
			results[idx] = estimateFormula(dGeo, req.At)
			continue
		}

		res := extResults[j]
		origin := geo.Point{Lat: req.Origin.Lat, Lng: req.Origin.Lng}
		dest := geo.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng}
		key := cacheKeyFor(origin, dest, req.At)
		row := CacheRow{DistanceM: res.DistanceM, DurationS: res.DurationS, CachedAt: now, ExpiresAt: now.Add(cacheTTL)}
		o.mem.put(key, row)
		if o.persistent != nil {
			_ = o.persistent.Upsert(ctx, key, row)
		}
		results[idx] = Result{DurationS: res.DurationS, DistanceM: res.DistanceM, Source: SourceExternal}
	}

	return results, nil
}

// persistHit mirrors a cache hit's bumped hit_count into the persistent
// tier. Fire-and-forget: a lost hit count is a metrics gap, not a
// correctness problem, and the estimate path shouldn't wait on it.
func (o *Oracle) persistHit(key CacheKey, row CacheRow) {
	if o.persistent == nil {
		return
	}
	go func() {
		if err := o.persistent.Upsert(context.Background(), key, row); err != nil {
			log.Debug().Err(err).Str("key", key.String()).Msg("failed to persist eta cache hit count")
		}
	}()
}

func cacheKeyFor(origin, dest geo.Point, at time.Time) CacheKey {
	qo := geo.QuantizeDefault(origin)
	qd := geo.QuantizeDefault(dest)
	return CacheKey{OriginLatQ: qo.Lat, OriginLngQ: qo.Lng, DestLatQ: qd.Lat, DestLngQ: qd.Lng, Hour: at.Hour()}
}

func estimateFormula(dGeoKm float64, at time.Time) Result {
	distanceM := int64(math.Round(dGeoKm * distanceFactor * 1000))
	speed := speedKmhForHour(at.Hour())
	durationS := int64(math.Ceil(dGeoKm * distanceFactor / speed * 3600))
	if durationS < minDurationS {
		durationS = minDurationS
	}
	return Result{DurationS: durationS, DistanceM: distanceM, Source: SourceEstimated}
}
