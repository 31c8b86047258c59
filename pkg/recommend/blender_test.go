package recommend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumipark/localpulse/internal/cache"
	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/store"
)

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBusinesses(t *testing.T, s *store.SQLiteStore, names ...string) []*store.Business {
	t.Helper()
	ctx := context.Background()
	out := make([]*store.Business, 0, len(names))
	for _, name := range names {
		b := &store.Business{Name: name, Category: "coffee", Area: "harbor", Latitude: 41.39, Longitude: 2.17}
		if err := s.UpsertBusiness(ctx, b); err != nil {
			t.Fatalf("upsert %s: %v", name, err)
		}
		out = append(out, b)
	}
	return out
}

func TestRecommendContentBased(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	bs := seedBusinesses(t, s, "Seed Cafe", "Similar Cafe", "Other Cafe")
	seed, similar := bs[0], bs[1]

	view := &store.Interaction{UserID: 1, BusinessID: seed.ID, Type: store.InteractionView}
	if err := s.AddInteraction(ctx, view); err != nil {
		t.Fatalf("add interaction: %v", err)
	}
	sim := &store.BusinessSimilarity{
		BusinessAID:    seed.ID,
		BusinessBID:    similar.ID,
		SimilarityType: "category_similar",
		Score:          0.8,
	}
	if err := s.UpsertSimilarity(ctx, sim); err != nil {
		t.Fatalf("upsert similarity: %v", err)
	}

	bl := NewBlender(s, config.RecommendConfig{}, nil, nil)
	result := bl.Recommend(ctx, 1, nil, nil, 10)

	if len(result.Candidates) == 0 {
		t.Fatal("no candidates for user with history and a similarity edge")
	}
	top := result.Candidates[0]
	if top.BusinessID != similar.ID {
		t.Fatalf("top candidate = %d, want %d", top.BusinessID, similar.ID)
	}
	if top.Algorithm != "content" {
		t.Fatalf("contributing algorithm = %q, want content", top.Algorithm)
	}
	for _, c := range result.Candidates {
		if c.BusinessID == seed.ID {
			t.Fatal("seed business recommended back to the user")
		}
	}
	if result.Confidence <= 0 {
		t.Fatalf("confidence = %v, want > 0", result.Confidence)
	}
}

func TestRecommendCollaborative(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	bs := seedBusinesses(t, s, "Shared Cafe", "Their Cafe")
	shared, theirs := bs[0], bs[1]

	// User 1 and user 2 both visited the shared cafe; user 2 also visited
	// another one, which becomes a collaborative candidate for user 1.
	for _, in := range []*store.Interaction{
		{UserID: 1, BusinessID: shared.ID, Type: store.InteractionView},
		{UserID: 2, BusinessID: shared.ID, Type: store.InteractionView},
		{UserID: 2, BusinessID: theirs.ID, Type: store.InteractionFavorite},
	} {
		if err := s.AddInteraction(ctx, in); err != nil {
			t.Fatalf("add interaction: %v", err)
		}
	}

	bl := NewBlender(s, config.RecommendConfig{}, nil, nil)
	result := bl.Recommend(ctx, 1, nil, nil, 10)

	found := false
	for _, c := range result.Candidates {
		if c.BusinessID == theirs.ID {
			found = true
			if c.Algorithm != "collaborative" {
				t.Fatalf("algorithm = %q, want collaborative", c.Algorithm)
			}
		}
	}
	if !found {
		t.Fatal("co-interacted business not recommended")
	}
}

func TestRecommendColdStart(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	bs := seedBusinesses(t, s, "Top Pick", "Runner Up")
	if err := s.SetDiscoveryScore(ctx, bs[0].ID, 90); err != nil {
		t.Fatalf("set score: %v", err)
	}
	if err := s.SetDiscoveryScore(ctx, bs[1].ID, 50); err != nil {
		t.Fatalf("set score: %v", err)
	}

	bl := NewBlender(s, config.RecommendConfig{}, nil, nil)
	result := bl.Recommend(ctx, 42, nil, nil, 10)

	if len(result.Candidates) != 2 {
		t.Fatalf("%d cold-start candidates, want 2", len(result.Candidates))
	}
	if result.Candidates[0].BusinessID != bs[0].ID {
		t.Fatalf("cold start not ordered by discovery score")
	}
	for _, c := range result.Candidates {
		if c.Algorithm != "discovery" {
			t.Fatalf("cold start algorithm = %q, want discovery", c.Algorithm)
		}
	}
	if result.Candidates[0].Score != 0.9 {
		t.Fatalf("cold start score = %v, want 0.9", result.Candidates[0].Score)
	}
}

func TestRecommendEmptyDatabase(t *testing.T) {
	bl := NewBlender(testStore(t), config.RecommendConfig{}, nil, nil)
	result := bl.Recommend(context.Background(), 1, nil, nil, 10)
	if len(result.Candidates) != 0 {
		t.Fatalf("%d candidates from empty database", len(result.Candidates))
	}
	if result.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0 for empty list", result.Confidence)
	}
}

func TestRecommendRespectsCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	bs := seedBusinesses(t, s, "A", "B", "C", "D", "E")

	view := &store.Interaction{UserID: 1, BusinessID: bs[0].ID, Type: store.InteractionView}
	if err := s.AddInteraction(ctx, view); err != nil {
		t.Fatalf("add interaction: %v", err)
	}
	for _, other := range bs[1:] {
		sim := &store.BusinessSimilarity{
			BusinessAID: bs[0].ID, BusinessBID: other.ID,
			SimilarityType: "category_similar", Score: 0.5,
		}
		if err := s.UpsertSimilarity(ctx, sim); err != nil {
			t.Fatalf("upsert similarity: %v", err)
		}
	}

	bl := NewBlender(s, config.RecommendConfig{}, nil, nil)
	result := bl.Recommend(ctx, 1, nil, nil, 2)
	if len(result.Candidates) != 2 {
		t.Fatalf("%d candidates, want 2", len(result.Candidates))
	}
}

func TestRecommendSurvivesDeadEmbeddingService(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	bs := seedBusinesses(t, s, "Seed", "Similar")

	view := &store.Interaction{UserID: 1, BusinessID: bs[0].ID, Type: store.InteractionView}
	if err := s.AddInteraction(ctx, view); err != nil {
		t.Fatalf("add interaction: %v", err)
	}
	sim := &store.BusinessSimilarity{
		BusinessAID: bs[0].ID, BusinessBID: bs[1].ID,
		SimilarityType: "category_similar", Score: 0.7,
	}
	if err := s.UpsertSimilarity(ctx, sim); err != nil {
		t.Fatalf("upsert similarity: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	provider := NewFallbackProvider(NewRemoteProvider(srv.URL, "", time.Second), HeuristicProvider{})
	bl := NewBlender(s, config.RecommendConfig{}, provider, cache.New(time.Minute))

	result := bl.Recommend(ctx, 1, nil, nil, 10)
	if len(result.Candidates) == 0 {
		t.Fatal("dead embedding service emptied the recommendations")
	}
}

func TestPreferenceBoostReordersCategories(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seed := &store.Business{Name: "Seed", Category: "coffee", Area: "harbor"}
	liked := &store.Business{Name: "Liked Bar", Category: "bar", Area: "harbor"}
	avoided := &store.Business{Name: "Avoided Gym", Category: "gym", Area: "harbor"}
	for _, b := range []*store.Business{seed, liked, avoided} {
		if err := s.UpsertBusiness(ctx, b); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	view := &store.Interaction{UserID: 1, BusinessID: seed.ID, Type: store.InteractionView}
	if err := s.AddInteraction(ctx, view); err != nil {
		t.Fatalf("add interaction: %v", err)
	}
	// Identical similarity scores; only the preference boost separates them.
	for _, other := range []*store.Business{liked, avoided} {
		sim := &store.BusinessSimilarity{
			BusinessAID: seed.ID, BusinessBID: other.ID,
			SimilarityType: "general", Score: 0.5,
		}
		if err := s.UpsertSimilarity(ctx, sim); err != nil {
			t.Fatalf("upsert similarity: %v", err)
		}
	}
	pref := &store.UserPreference{
		UserID:          1,
		CategoryWeights: map[string]float64{"bar": 1.0, "gym": 0.0},
	}
	if err := s.UpsertUserPreference(ctx, pref); err != nil {
		t.Fatalf("upsert preference: %v", err)
	}

	bl := NewBlender(s, config.RecommendConfig{}, nil, nil)
	result := bl.Recommend(ctx, 1, nil, nil, 10)

	if len(result.Candidates) != 2 {
		t.Fatalf("%d candidates, want 2", len(result.Candidates))
	}
	if result.Candidates[0].BusinessID != liked.ID {
		t.Fatalf("favored category not ranked first")
	}
	if result.Candidates[0].Score <= result.Candidates[1].Score {
		t.Fatalf("boost did not separate scores: %v vs %v",
			result.Candidates[0].Score, result.Candidates[1].Score)
	}
}

func TestRecommendLocationFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	near := &store.Business{Name: "Near Deli", Category: "deli", Area: "harbor", Latitude: 41.390, Longitude: 2.170}
	far := &store.Business{Name: "Far Deli", Category: "deli", Area: "uptown", Latitude: 48.850, Longitude: 2.350}
	for _, b := range []*store.Business{near, far} {
		if err := s.UpsertBusiness(ctx, b); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	lat, lon := 41.391, 2.171
	bl := NewBlender(s, config.RecommendConfig{}, nil, nil)
	result := bl.Recommend(ctx, 1, &lat, &lon, 10)

	if len(result.Candidates) != 1 {
		t.Fatalf("%d candidates, want 1 (only the nearby deli)", len(result.Candidates))
	}
	if result.Candidates[0].BusinessID != near.ID {
		t.Fatalf("candidate = %d, want nearby %d", result.Candidates[0].BusinessID, near.ID)
	}
	if result.Candidates[0].Algorithm != "location" {
		t.Fatalf("algorithm = %q, want location", result.Candidates[0].Algorithm)
	}
}
