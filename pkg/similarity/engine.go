// Package similarity computes and persists pairwise business-to-business
// similarity edges.
package similarity

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/store"
	"github.com/lumipark/localpulse/pkg/geo"
)

// Factors are the independently computed inputs to a similarity score.
// All values are in [0,1].
type Factors struct {
	CategoryMatch     float64 `json:"category_match"`
	LocationProximity float64 `json:"location_proximity"`
	ReviewSentiment   float64 `json:"review_sentiment"`
	FeatureOverlap    float64 `json:"feature_overlap"`
	UserOverlap       float64 `json:"user_overlap"`
}

// Engine scores business pairs and upserts them min-id-first.
type Engine struct {
	store store.Store
	cfg   config.SimilarityConfig
}

// NewEngine creates a similarity engine. Zeroed factor weights fall back to
// category 0.30 / location 0.25 / sentiment 0.15 / features 0.15 / users 0.15.
func NewEngine(s store.Store, cfg config.SimilarityConfig) *Engine {
	if cfg.CategoryWeight+cfg.LocationWeight+cfg.SentimentWeight+cfg.FeatureWeight+cfg.UserWeight == 0 {
		cfg.CategoryWeight = 0.30
		cfg.LocationWeight = 0.25
		cfg.SentimentWeight = 0.15
		cfg.FeatureWeight = 0.15
		cfg.UserWeight = 0.15
	}
	if cfg.LocationCutoff <= 0 {
		cfg.LocationCutoff = 10
	}
	if cfg.GridCellDegrees <= 0 {
		cfg.GridCellDegrees = 0.1
	}
	return &Engine{store: s, cfg: cfg}
}

// Score is the weighted factor sum, rounded to 4 decimals.
func (e *Engine) Score(f Factors) float64 {
	s := e.cfg.CategoryWeight*f.CategoryMatch +
		e.cfg.LocationWeight*f.LocationProximity +
		e.cfg.SentimentWeight*f.ReviewSentiment +
		e.cfg.FeatureWeight*f.FeatureOverlap +
		e.cfg.UserWeight*f.UserOverlap
	return math.Round(clamp01(s)*10000) / 10000
}

// Classify labels the pair by its dominant factor, in priority order.
func (e *Engine) Classify(f Factors) string {
	switch {
	case f.CategoryMatch > 0.8:
		return "category_similar"
	case f.LocationProximity > 0.8:
		return "location_similar"
	case f.UserOverlap > 0.6:
		return "audience_similar"
	case f.FeatureOverlap > 0.6:
		return "feature_similar"
	default:
		return "general"
	}
}

// CalculateAndStore scores the pair and upserts the canonical row.
func (e *Engine) CalculateAndStore(ctx context.Context, aID, bID int64, f Factors) (*store.BusinessSimilarity, error) {
	if aID == bID {
		return nil, fmt.Errorf("similarity: identical pair %d", aID)
	}

	sim := &store.BusinessSimilarity{
		BusinessAID:    aID,
		BusinessBID:    bID,
		SimilarityType: e.Classify(f),
		Score:          e.Score(f),
		Factors: map[string]float64{
			"category_match":     f.CategoryMatch,
			"location_proximity": f.LocationProximity,
			"review_sentiment":   f.ReviewSentiment,
			"feature_overlap":    f.FeatureOverlap,
			"user_overlap":       f.UserOverlap,
		},
	}
	if err := e.store.UpsertSimilarity(ctx, sim); err != nil {
		return nil, err
	}
	return sim, nil
}

// ComputeFactors derives the factor record for a loaded pair.
func (e *Engine) ComputeFactors(ctx context.Context, a, b *store.Business) (Factors, error) {
	var f Factors

	if a.Category != "" && strings.EqualFold(a.Category, b.Category) {
		f.CategoryMatch = 1
	}

	dist := geo.DistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	f.LocationProximity = geo.Proximity(dist, e.cfg.LocationCutoff)

	if a.ReviewCount > 0 && b.ReviewCount > 0 {
		f.ReviewSentiment = clamp01(1 - math.Abs(a.AvgRating-b.AvgRating)/5)
	}

	f.FeatureOverlap = featureOverlap(a, b)

	overlap, err := e.userOverlap(ctx, a.ID, b.ID)
	if err != nil {
		return f, err
	}
	f.UserOverlap = overlap

	return f, nil
}

func (e *Engine) userOverlap(ctx context.Context, aID, bID int64) (float64, error) {
	co, err := e.store.CoInteractionUserCount(ctx, aID, bID)
	if err != nil {
		return 0, err
	}
	if co == 0 {
		return 0, nil
	}

	usersA, err := e.store.DistinctUserCount(ctx, aID)
	if err != nil {
		return 0, err
	}
	usersB, err := e.store.DistinctUserCount(ctx, bID)
	if err != nil {
		return 0, err
	}

	smaller := usersA
	if usersB < smaller {
		smaller = usersB
	}
	if smaller == 0 {
		return 0, nil
	}
	return clamp01(float64(co) / float64(smaller)), nil
}

// featureOverlap is the Jaccard index of the boolean amenity flags.
func featureOverlap(a, b *store.Business) float64 {
	flags := func(x *store.Business) []bool {
		return []bool{x.Verified, x.Featured, x.ActiveOffers > 0}
	}
	fa, fb := flags(a), flags(b)

	inter, union := 0, 0
	for i := range fa {
		if fa[i] || fb[i] {
			union++
		}
		if fa[i] && fb[i] {
			inter++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// RunBatch recomputes similarity for candidate pairs. Pairs are generated per
// category bucket and per geographic grid cell rather than all-pairs, keeping
// a full-corpus run O(n*k). Per-pair failures are logged and the batch
// continues; each upsert is independent so partial completion is safe.
func (e *Engine) RunBatch(ctx context.Context) (int, error) {
	businesses, err := e.store.ListBusinesses(ctx, store.BusinessListOpts{Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("list businesses: %w", err)
	}

	byID := make(map[int64]*store.Business, len(businesses))
	blocks := make(map[string][]int64)
	for i := range businesses {
		b := &businesses[i]
		byID[b.ID] = b
		if b.Category != "" {
			key := "cat:" + string(b.EntityType) + ":" + strings.ToLower(b.Category)
			blocks[key] = append(blocks[key], b.ID)
		}
		cell := "cell:" + string(b.EntityType) + ":" + geo.CellKey(b.Latitude, b.Longitude, e.cfg.GridCellDegrees)
		blocks[cell] = append(blocks[cell], b.ID)
	}

	seen := make(map[[2]int64]bool)
	stored := 0

	for _, ids := range blocks {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				aID, bID := ids[i], ids[j]
				if aID > bID {
					aID, bID = bID, aID
				}
				pair := [2]int64{aID, bID}
				if seen[pair] {
					continue
				}
				seen[pair] = true

				f, err := e.ComputeFactors(ctx, byID[aID], byID[bID])
				if err != nil {
					fmt.Fprintf(os.Stderr, "  similarity factors error (%d,%d): %v\n", aID, bID, err)
					continue
				}
				if e.Score(f) < e.cfg.MinScore {
					continue
				}
				if _, err := e.CalculateAndStore(ctx, aID, bID, f); err != nil {
					fmt.Fprintf(os.Stderr, "  similarity store error (%d,%d): %v\n", aID, bID, err)
					continue
				}
				stored++
			}
		}
	}
	return stored, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
