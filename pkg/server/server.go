// Package server provides the HTTP API.
package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lumipark/localpulse/internal/cache"
	"github.com/lumipark/localpulse/internal/scheduler"
	"github.com/lumipark/localpulse/internal/store"
	"github.com/lumipark/localpulse/pkg/discovery"
	"github.com/lumipark/localpulse/pkg/recommend"
)

// Server exposes the scoring subsystem over HTTP.
type Server struct {
	store    store.Store
	blender  *recommend.Blender
	scorer   *discovery.Scorer
	sched    *scheduler.Scheduler
	provider recommend.EmbeddingProvider // optional
	cache    *cache.Cache
	port     int
}

// New creates a new HTTP server.
func New(s store.Store, blender *recommend.Blender, scorer *discovery.Scorer, sched *scheduler.Scheduler, provider recommend.EmbeddingProvider, c *cache.Cache, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:    s,
		blender:  blender,
		scorer:   scorer,
		sched:    sched,
		provider: provider,
		cache:    c,
		port:     port,
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/trending", s.handleTrending)
	mux.HandleFunc("/api/v1/businesses", s.handleBusinesses)
	mux.HandleFunc("/api/v1/businesses/", s.handleBusinessByID)
	mux.HandleFunc("/api/v1/recommendations", s.handleRecommendations)
	mux.HandleFunc("/api/v1/interactions", s.handleInteractions)
	mux.HandleFunc("/api/v1/preferences", s.handlePreferences)
	mux.HandleFunc("/api/v1/jobs/trending", s.handleJobTrending)
	mux.HandleFunc("/api/v1/jobs/similarity", s.handleJobSimilarity)
	mux.HandleFunc("/api/v1/jobs/discovery", s.handleJobDiscovery)
	mux.HandleFunc("/api/v1/model/update", s.handleModelUpdate)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("localpulse server listening on %s\n", addr)
	return http.ListenAndServe(addr, s.Routes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts := store.TrendingListOpts{
		Period: store.PeriodDaily,
		Area:   r.URL.Query().Get("area"),
		Limit:  50,
	}
	if p := r.URL.Query().Get("period"); p != "" {
		opts.Period = store.Period(p)
	}
	if v := r.URL.Query().Get("min_score"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.MinScore = f
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}

	trending, err := s.store.ListTrending(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  trending,
		"count": len(trending),
	})
}

func (s *Server) handleBusinesses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.store.ListBusinesses(r.Context(), store.BusinessListOpts{
			Category: r.URL.Query().Get("category"),
			Area:     r.URL.Query().Get("area"),
			Limit:    100,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list, "count": len(list)})

	case http.MethodPost:
		var b store.Business
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		b.ID = 0
		if err := s.store.UpsertBusiness(r.Context(), &b); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, b)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleBusinessByID routes /api/v1/businesses/{id}[/similar|/score].
func (s *Server) handleBusinessByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/businesses/")
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid business id"})
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		b, err := s.store.GetBusiness(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "business not found"})
			return
		}
		writeJSON(w, http.StatusOK, b)

	case action == "similar" && r.Method == http.MethodGet:
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		sims, err := s.store.ListSimilarities(r.Context(), id, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": sims, "count": len(sims)})

	case action == "score" && r.Method == http.MethodPost:
		b, err := s.store.GetBusiness(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "business not found"})
			return
		}
		lat, lon := queryCoords(r)
		score, err := s.scorer.Score(r.Context(), b, lat, lon)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"business_id": id, "discovery_score": score})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	count := 10
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			count = n
		}
	}
	lat, lon := queryCoords(r)

	result := s.blender.Recommend(r.Context(), userID, lat, lon, count)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body struct {
		UserID     int64    `json:"user_id"`
		BusinessID int64    `json:"business_id"`
		Type       string   `json:"type"`
		Weight     float64  `json:"weight"`
		Latitude   *float64 `json:"latitude"`
		Longitude  *float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.BusinessID == 0 || body.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "business_id and type required"})
		return
	}

	in := &store.Interaction{
		UserID:     body.UserID,
		BusinessID: body.BusinessID,
		Type:       store.InteractionType(body.Type),
		Weight:     body.Weight,
	}
	if body.Latitude != nil && body.Longitude != nil {
		in.Latitude = sql.NullFloat64{Float64: *body.Latitude, Valid: true}
		in.Longitude = sql.NullFloat64{Float64: *body.Longitude, Valid: true}
	}

	if err := s.store.AddInteraction(r.Context(), in); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var p store.UserPreference
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if p.UserID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	if err := s.store.UpsertUserPreference(r.Context(), &p); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleJobTrending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	period := store.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = store.PeriodDaily
	}
	switch period {
	case store.PeriodDaily, store.PeriodWeekly, store.PeriodMonthly:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "period must be daily, weekly, or monthly"})
		return
	}

	s.sched.RunTrending(r.Context(), period)
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "period": string(period)})
}

func (s *Server) handleJobSimilarity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.sched.RunSimilarity(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleJobDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.sched.RunDiscovery(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// handleModelUpdate tells the embedding provider to refresh its model and
// clears derived caches so stale vectors are not served.
func (s *Server) handleModelUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if s.cache != nil {
		s.cache.Clear()
	}
	if s.provider != nil {
		if err := s.provider.UpdateModel(r.Context()); err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "caches cleared", "warning": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryCoords(r *http.Request) (*float64, *float64) {
	latStr, lonStr := r.URL.Query().Get("lat"), r.URL.Query().Get("lon")
	if latStr == "" || lonStr == "" {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lon, err2 := strconv.ParseFloat(lonStr, 64)
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	return &lat, &lon
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
