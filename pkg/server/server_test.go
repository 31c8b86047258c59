package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/lumipark/localpulse/internal/cache"
	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/scheduler"
	"github.com/lumipark/localpulse/internal/store"
	"github.com/lumipark/localpulse/pkg/discovery"
	"github.com/lumipark/localpulse/pkg/recommend"
	"github.com/lumipark/localpulse/pkg/similarity"
	"github.com/lumipark/localpulse/pkg/trending"
)

func testServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	c := cache.New(cfg.Recommend.ParseCacheTTL())
	scorer := discovery.NewScorer(db, cfg.Discovery)
	aggregator := trending.NewAggregator(db, cfg.Trending)
	engine := similarity.NewEngine(db, cfg.Similarity)
	blender := recommend.NewBlender(db, cfg.Recommend, nil, c)
	sched := scheduler.New(db, aggregator, engine, scorer, cfg.Schedule)

	srv := httptest.NewServer(New(db, blender, scorer, sched, nil, c, 0).Routes())
	t.Cleanup(srv.Close)
	return srv, db
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateAndFetchBusiness(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/businesses", map[string]any{
		"name": "Harbor Cafe", "category": "coffee", "area": "harbor",
		"latitude": 41.39, "longitude": 2.17, "verified": true, "avg_rating": 4.5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created store.Business
	decode(t, resp, &created)
	if created.ID == 0 {
		t.Fatal("no id assigned")
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/businesses/%d", srv.URL, created.ID))
	if err != nil {
		t.Fatalf("GET business: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status = %d", resp.StatusCode)
	}
	var fetched store.Business
	decode(t, resp, &fetched)
	if fetched.Name != "Harbor Cafe" || !fetched.Verified {
		t.Fatalf("fetched = %+v", fetched)
	}

	resp, err = http.Get(srv.URL + "/api/v1/businesses/999")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing business status = %d, want 404", resp.StatusCode)
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv, db := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/businesses", map[string]any{
		"name": "Scored Cafe", "category": "coffee", "avg_rating": 4.5,
		"verified": true, "active_offers": 1,
	})
	var b store.Business
	decode(t, resp, &b)

	resp = postJSON(t, fmt.Sprintf("%s/api/v1/businesses/%d/score", srv.URL, b.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score status = %d", resp.StatusCode)
	}
	var scored struct {
		BusinessID     int64   `json:"business_id"`
		DiscoveryScore float64 `json:"discovery_score"`
	}
	decode(t, resp, &scored)
	if scored.DiscoveryScore <= 0 {
		t.Fatalf("discovery score = %v, want > 0", scored.DiscoveryScore)
	}

	stored, err := db.GetBusiness(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get business: %v", err)
	}
	if stored.DiscoveryScore != scored.DiscoveryScore {
		t.Fatalf("persisted %v, returned %v", stored.DiscoveryScore, scored.DiscoveryScore)
	}
}

func TestInteractionAndTrendingFlow(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/businesses", map[string]any{
		"name": "Hot Spot", "category": "bar", "area": "harbor",
	})
	var b store.Business
	decode(t, resp, &b)

	for i := 0; i < 3; i++ {
		resp = postJSON(t, srv.URL+"/api/v1/interactions", map[string]any{
			"user_id": i + 1, "business_id": b.ID, "type": "view",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("interaction status = %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = postJSON(t, srv.URL+"/api/v1/jobs/trending?period=daily", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trending job status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/trending?period=daily&area=harbor")
	if err != nil {
		t.Fatalf("GET trending: %v", err)
	}
	var body struct {
		Data  []store.TrendingData `json:"data"`
		Count int                  `json:"count"`
	}
	decode(t, resp, &body)
	if body.Count != 1 {
		t.Fatalf("trending count = %d, want 1", body.Count)
	}
	if body.Data[0].ViewCount != 3 {
		t.Fatalf("view count = %d, want 3", body.Data[0].ViewCount)
	}
}

func TestInteractionValidation(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/interactions", map[string]any{"user_id": 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing fields status = %d, want 400", resp.StatusCode)
	}
}

func TestSimilarEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var ids []int64
	for _, name := range []string{"Roast One", "Roast Two"} {
		resp := postJSON(t, srv.URL+"/api/v1/businesses", map[string]any{
			"name": name, "category": "coffee", "area": "harbor",
			"latitude": 41.39, "longitude": 2.17, "verified": true,
		})
		var b store.Business
		decode(t, resp, &b)
		ids = append(ids, b.ID)
	}

	resp := postJSON(t, srv.URL+"/api/v1/jobs/similarity", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("similarity job status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/businesses/%d/similar", srv.URL, ids[0]))
	if err != nil {
		t.Fatalf("GET similar: %v", err)
	}
	var body struct {
		Data  []store.BusinessSimilarity `json:"data"`
		Count int                        `json:"count"`
	}
	decode(t, resp, &body)
	if body.Count != 1 {
		t.Fatalf("similar count = %d, want 1", body.Count)
	}
	if body.Data[0].SimilarityType != "category_similar" {
		t.Fatalf("type = %q", body.Data[0].SimilarityType)
	}
}

func TestRecommendationsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/businesses", map[string]any{
		"name": "Only Spot", "category": "coffee",
	})
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/recommendations?user_id=1&count=5")
	if err != nil {
		t.Fatalf("GET recommendations: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result recommend.Result
	decode(t, resp, &result)
	if len(result.Candidates) != 1 {
		t.Fatalf("%d candidates, want 1 cold-start row", len(result.Candidates))
	}

	resp, err = http.Get(srv.URL + "/api/v1/recommendations")
	if err != nil {
		t.Fatalf("GET without user_id: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id status = %d, want 400", resp.StatusCode)
	}
}

func TestPreferencesEndpoint(t *testing.T) {
	srv, db := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/preferences", map[string]any{
		"user_id":          7,
		"category_weights": map[string]float64{"coffee": 0.9},
		"radius_km":        5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	p, err := db.GetUserPreference(context.Background(), 7)
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	if p == nil || p.CategoryWeights["coffee"] != 0.9 {
		t.Fatalf("preference not stored: %+v", p)
	}

	resp = postJSON(t, srv.URL+"/api/v1/preferences", map[string]any{"radius_km": 5})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id status = %d, want 400", resp.StatusCode)
	}
}

func TestJobTrendingRejectsBadPeriod(t *testing.T) {
	srv, _ := testServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/jobs/trending?period=hourly", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad period status = %d, want 400", resp.StatusCode)
	}
}

func TestModelUpdateWithoutProvider(t *testing.T) {
	srv, _ := testServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/model/update", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t)
	for _, path := range []string{"/api/v1/interactions", "/api/v1/preferences", "/api/v1/jobs/similarity"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s status = %d, want 405", path, resp.StatusCode)
		}
	}
}
