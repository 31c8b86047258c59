// Package recommend blends content-based, collaborative, and location filters
// into ranked per-user recommendation lists.
package recommend

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/lumipark/localpulse/internal/cache"
	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/store"
	"github.com/lumipark/localpulse/pkg/geo"
)

// Candidate is one ranked recommendation.
type Candidate struct {
	BusinessID int64   `json:"business_id"`
	Score      float64 `json:"composite_score"`
	Algorithm  string  `json:"contributing_algorithm"`
}

// Result is a ranked candidate list with an aggregate confidence.
// Confidence is the mean composite score; 0 when the list is empty.
type Result struct {
	Candidates []Candidate `json:"candidates"`
	Confidence float64     `json:"confidence"`
}

// Blender combines filter outputs into a ranked list. Every internal failure
// degrades to a smaller candidate set; Recommend never returns an error.
type Blender struct {
	store    store.Store
	cfg      config.RecommendConfig
	provider EmbeddingProvider // optional, nil = disabled
	cache    *cache.Cache
}

// NewBlender creates a recommendation blender. Zeroed filter weights fall
// back to content 0.40 / collaborative 0.35 / location 0.25.
func NewBlender(s store.Store, cfg config.RecommendConfig, provider EmbeddingProvider, c *cache.Cache) *Blender {
	if cfg.ContentWeight+cfg.CollabWeight+cfg.LocationWeight == 0 {
		cfg.ContentWeight = 0.40
		cfg.CollabWeight = 0.35
		cfg.LocationWeight = 0.25
	}
	if cfg.NeuralWeight <= 0 {
		cfg.NeuralWeight = 0.15
	}
	if cfg.DefaultRadius <= 0 {
		cfg.DefaultRadius = 10
	}
	if c == nil {
		c = cache.New(0)
	}
	return &Blender{store: s, cfg: cfg, provider: provider, cache: c}
}

// Recommend returns at most count ranked candidates for the user.
func (bl *Blender) Recommend(ctx context.Context, userID int64, viewerLat, viewerLon *float64, count int) Result {
	if count <= 0 {
		count = 10
	}

	seeds, err := bl.store.UserBusinessIDs(ctx, userID, 25)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  recommend: user history for %d: %v\n", userID, err)
	}
	seedSet := make(map[int64]bool, len(seeds))
	for _, id := range seeds {
		seedSet[id] = true
	}

	pref, err := bl.store.GetUserPreference(ctx, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  recommend: preferences for %d: %v\n", userID, err)
	}

	// Per-candidate component scores, keyed by algorithm name.
	components := make(map[int64]map[string]float64)
	add := func(id int64, algo string, score float64) {
		if seedSet[id] || score <= 0 {
			return
		}
		m := components[id]
		if m == nil {
			m = make(map[string]float64)
			components[id] = m
		}
		if score > m[algo] {
			m[algo] = score
		}
	}

	bl.contentBased(ctx, seeds, add)
	bl.collaborative(ctx, userID, add)

	hasLocation := viewerLat != nil && viewerLon != nil
	if hasLocation {
		radius := bl.cfg.DefaultRadius
		if pref != nil && pref.RadiusKm > 0 {
			radius = pref.RadiusKm
		}
		bl.locationBased(ctx, *viewerLat, *viewerLon, radius, seedSet, add)
	}

	hasNeural := bl.provider != nil && len(components) > 0
	if hasNeural {
		bl.neural(ctx, pref, seeds, components, add)
	}

	if len(components) == 0 {
		return bl.coldStart(ctx, count)
	}

	// Blend component scores, renormalizing over the filters that ran.
	weights := map[string]float64{
		"content":       bl.cfg.ContentWeight,
		"collaborative": bl.cfg.CollabWeight,
	}
	if hasLocation {
		weights["location"] = bl.cfg.LocationWeight
	}
	if hasNeural {
		weights["neural"] = bl.cfg.NeuralWeight
	}
	var totalW float64
	for _, w := range weights {
		totalW += w
	}

	candidates := make([]Candidate, 0, len(components))
	for id, scores := range components {
		var sum, best float64
		algo := "content"
		for name, w := range weights {
			contrib := w * scores[name]
			sum += contrib
			if contrib > best {
				best = contrib
				algo = name
			}
		}
		composite := sum / totalW
		composite *= bl.preferenceBoost(ctx, pref, id)

		candidates = append(candidates, Candidate{
			BusinessID: id,
			Score:      round4(clamp01(composite)),
			Algorithm:  algo,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].BusinessID < candidates[j].BusinessID
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}

	return Result{
		Candidates: candidates,
		Confidence: confidence(candidates),
	}
}

// contentBased surfaces businesses similar to ones the user interacted with,
// scored by their stored similarity. Lists are cached per seed.
func (bl *Blender) contentBased(ctx context.Context, seeds []int64, add func(int64, string, float64)) {
	for _, seed := range seeds {
		key := fmt.Sprintf("sim:%d", seed)
		var sims []store.BusinessSimilarity
		if v, ok := bl.cache.Get(key); ok {
			sims = v.([]store.BusinessSimilarity)
		} else {
			var err error
			sims, err = bl.store.ListSimilarities(ctx, seed, 20)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  recommend: similarities for %d: %v\n", seed, err)
				continue
			}
			bl.cache.Set(key, sims)
		}

		for _, sim := range sims {
			other := sim.BusinessAID
			if other == seed {
				other = sim.BusinessBID
			}
			add(other, "content", sim.Score)
		}
	}
}

// collaborative surfaces businesses favored by users with overlapping history,
// with counts normalized against the strongest signal.
func (bl *Blender) collaborative(ctx context.Context, userID int64, add func(int64, string, float64)) {
	counts, err := bl.store.CoInteractedBusinesses(ctx, userID, 50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  recommend: co-interactions for %d: %v\n", userID, err)
		return
	}
	if len(counts) == 0 {
		return
	}

	max := counts[0].Count
	for _, c := range counts {
		if c.Count > max {
			max = c.Count
		}
	}
	for _, c := range counts {
		add(c.BusinessID, "collaborative", float64(c.Count)/float64(max))
	}
}

// locationBased scores nearby businesses with linear distance decay.
func (bl *Blender) locationBased(ctx context.Context, lat, lon, radiusKm float64, seedSet map[int64]bool, add func(int64, string, float64)) {
	businesses, err := bl.store.ListBusinesses(ctx, store.BusinessListOpts{Limit: 1000})
	if err != nil {
		fmt.Fprintf(os.Stderr, "  recommend: nearby businesses: %v\n", err)
		return
	}
	for i := range businesses {
		b := &businesses[i]
		if seedSet[b.ID] {
			continue
		}
		d := geo.DistanceKm(lat, lon, b.Latitude, b.Longitude)
		add(b.ID, "location", geo.Proximity(d, radiusKm))
	}
}

// neural refines existing candidates with embedding similarity between a user
// profile text and each candidate's descriptor. Provider failures have already
// been absorbed by the fallback decorator, so errors here only shrink the signal.
func (bl *Blender) neural(ctx context.Context, pref *store.UserPreference, seeds []int64, components map[int64]map[string]float64, add func(int64, string, float64)) {
	profile := bl.profileText(ctx, pref, seeds)
	if profile == "" {
		return
	}

	userVec, err := bl.provider.Embed(ctx, profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: user profile embedding: %v\n", err)
		return
	}

	for id := range components {
		b, err := bl.store.GetBusiness(ctx, id)
		if err != nil {
			continue
		}
		vec, err := bl.provider.Embed(ctx, b.Name+" "+b.Category+" "+b.Area)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: embedding for %d: %v\n", id, err)
			continue
		}
		// Map cosine from [-1,1] to [0,1].
		add(id, "neural", (cosine(userVec, vec)+1)/2)
	}
}

// profileText builds a deterministic text descriptor of the user's tastes.
func (bl *Blender) profileText(ctx context.Context, pref *store.UserPreference, seeds []int64) string {
	var parts []string
	if pref != nil {
		cats := make([]string, 0, len(pref.CategoryWeights))
		for cat := range pref.CategoryWeights {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		parts = append(parts, cats...)
	}
	for _, seed := range seeds {
		if b, err := bl.store.GetBusiness(ctx, seed); err == nil {
			parts = append(parts, b.Category)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// preferenceBoost scales a composite score by the user's stored weight for
// the candidate's category: 0.8x for an avoided category up to 1.2x for a
// favored one, 1.0 when no preference is stored.
func (bl *Blender) preferenceBoost(ctx context.Context, pref *store.UserPreference, businessID int64) float64 {
	if pref == nil || len(pref.CategoryWeights) == 0 {
		return 1
	}
	b, err := bl.store.GetBusiness(ctx, businessID)
	if err != nil {
		return 1
	}
	w, ok := pref.CategoryWeights[strings.ToLower(b.Category)]
	if !ok {
		return 1
	}
	return 0.8 + 0.4*clamp01(w)
}

// coldStart falls back to the top discovery-scored businesses when no filter
// produced candidates.
func (bl *Blender) coldStart(ctx context.Context, count int) Result {
	businesses, err := bl.store.ListBusinesses(ctx, store.BusinessListOpts{Limit: count})
	if err != nil {
		fmt.Fprintf(os.Stderr, "  recommend: cold start: %v\n", err)
		return Result{Candidates: []Candidate{}}
	}

	candidates := make([]Candidate, 0, len(businesses))
	for _, b := range businesses {
		candidates = append(candidates, Candidate{
			BusinessID: b.ID,
			Score:      round4(clamp01(b.DiscoveryScore / 100)),
			Algorithm:  "discovery",
		})
	}
	return Result{
		Candidates: candidates,
		Confidence: confidence(candidates),
	}
}

func confidence(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candidates {
		sum += c.Score
	}
	return round4(sum / float64(len(candidates)))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
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
