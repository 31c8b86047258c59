// Package discovery computes the viewer-independent 0-100 discoverability
// score for businesses and attractions.
package discovery

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/store"
)

// Scorer combines extracted features into a discovery score and persists it.
type Scorer struct {
	store     store.Store
	extractor *Extractor
	cfg       config.DiscoveryConfig
}

// NewScorer creates a discovery scorer. Zeroed weights fall back to the
// documented defaults (30/25/20/15/10).
func NewScorer(s store.Store, cfg config.DiscoveryConfig) *Scorer {
	if cfg.DistanceWeight+cfg.RatingWeight+cfg.ActivityWeight+cfg.BonusWeight+cfg.BaseWeight == 0 {
		cfg.DistanceWeight = 30
		cfg.RatingWeight = 25
		cfg.ActivityWeight = 20
		cfg.BonusWeight = 15
		cfg.BaseWeight = 10
	}
	return &Scorer{
		store:     s,
		extractor: NewExtractor(s, cfg),
		cfg:       cfg,
	}
}

// Score computes the discovery score for one entity and persists it onto the
// business row. Calling twice with identical inputs stores the identical value.
// Aggregate-query failures degrade to a score without the activity signal
// rather than failing the caller.
func (sc *Scorer) Score(ctx context.Context, b *store.Business, viewerLat, viewerLon *float64) (float64, error) {
	f, err := sc.extractor.Extract(ctx, b, viewerLat, viewerLon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  feature extraction for %d: %v\n", b.ID, err)
	}

	score := sc.Compute(f)

	if err := sc.store.SetDiscoveryScore(ctx, b.ID, score); err != nil {
		return score, fmt.Errorf("persist discovery score %d: %w", b.ID, err)
	}
	b.DiscoveryScore = score
	return score, nil
}

// Compute turns features into a 0-100 score. When the distance feature is
// absent the remaining weights are renormalized, so an entity scored without a
// viewer location is neither penalized nor inflated.
func (sc *Scorer) Compute(f Features) float64 {
	type term struct {
		weight  float64
		value   float64
		present bool
	}

	terms := []term{
		{sc.cfg.DistanceWeight, f.Distance01, f.HasDistance},
		{sc.cfg.RatingWeight, f.Rating01, true},
		{sc.cfg.ActivityWeight, f.Activity01, true},
		{sc.cfg.BonusWeight, f.Bonus01, true},
		{sc.cfg.BaseWeight, 1, true},
	}

	var total, sumW, sum float64
	for _, t := range terms {
		total += t.weight
		if !t.present {
			continue
		}
		sumW += t.weight
		sum += t.weight * t.value
	}
	if sumW <= 0 || total <= 0 {
		return 0
	}

	score := sum * (total / sumW)
	score = math.Round(score*10) / 10
	return clamp(score, 0, 100)
}

// ScoreAll recomputes discovery scores for every entity of the given type.
// Failures are logged per item; the batch continues.
func (sc *Scorer) ScoreAll(ctx context.Context, entityType store.EntityType) (int, error) {
	businesses, err := sc.store.ListBusinesses(ctx, store.BusinessListOpts{EntityType: entityType, Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("list entities: %w", err)
	}

	scored := 0
	for i := range businesses {
		if _, err := sc.Score(ctx, &businesses[i], nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "  discovery score error for %d: %v\n", businesses[i].ID, err)
			continue
		}
		scored++
	}
	return scored, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
