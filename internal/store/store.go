package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// EntityType distinguishes scored subject entities.
type EntityType string

const (
	EntityBusiness   EntityType = "business"
	EntityAttraction EntityType = "attraction"
)

// Period identifies a trending aggregation window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// InteractionType identifies what a user did with a business.
type InteractionType string

const (
	InteractionView     InteractionType = "view"
	InteractionSearch   InteractionType = "search"
	InteractionFavorite InteractionType = "favorite"
	InteractionReview   InteractionType = "review"
	InteractionShare    InteractionType = "share"
)

// Business is a scored subject entity (business or attraction).
type Business struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	EntityType     EntityType `db:"entity_type" json:"entity_type"`
	Category       string     `db:"category" json:"category"`
	Area           string     `db:"area" json:"area"`
	Latitude       float64    `db:"latitude" json:"latitude"`
	Longitude      float64    `db:"longitude" json:"longitude"`
	Verified       bool       `db:"verified" json:"verified"`
	Featured       bool       `db:"featured" json:"featured"`
	AvgRating      float64    `db:"avg_rating" json:"avg_rating"`
	ReviewCount    int        `db:"review_count" json:"review_count"`
	ActiveOffers   int        `db:"active_offers" json:"active_offers"`
	DiscoveryScore float64    `db:"discovery_score" json:"discovery_score"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Interaction is an immutable user event. Geolocation is optional.
type Interaction struct {
	ID         string          `db:"id" json:"id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	BusinessID int64           `db:"business_id" json:"business_id"`
	Type       InteractionType `db:"type" json:"type"`
	Weight     float64         `db:"weight" json:"weight"`
	Latitude   sql.NullFloat64 `db:"latitude" json:"-"`
	Longitude  sql.NullFloat64 `db:"longitude" json:"-"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
}

// TrendingData is a derived aggregate, unique per (item, period, bucket, area).
type TrendingData struct {
	ID           int64      `db:"id" json:"id"`
	ItemType     EntityType `db:"item_type" json:"item_type"`
	ItemID       int64      `db:"item_id" json:"item_id"`
	LocationArea string     `db:"location_area" json:"location_area"`
	TimePeriod   Period     `db:"time_period" json:"time_period"`
	DatePeriod   string     `db:"date_period" json:"date_period"`
	TrendScore   float64    `db:"trend_score" json:"trend_score"`
	HybridScore  float64    `db:"hybrid_score" json:"hybrid_score"`
	ViewCount    int        `db:"view_count" json:"view_count"`
	SearchCount  int        `db:"search_count" json:"search_count"`
	ComputedAt   time.Time  `db:"computed_at" json:"computed_at"`
}

// BusinessSimilarity is a scored pairwise edge, stored min-id-first.
type BusinessSimilarity struct {
	ID             int64              `db:"id" json:"id"`
	BusinessAID    int64              `db:"business_a_id" json:"business_a_id"`
	BusinessBID    int64              `db:"business_b_id" json:"business_b_id"`
	SimilarityType string             `db:"similarity_type" json:"similarity_type"`
	Score          float64            `db:"score" json:"score"`
	FactorsJSON    string             `db:"factors" json:"-"`
	Factors        map[string]float64 `db:"-" json:"factors"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}

// UserPreference is a per-user weight vector over categories.
type UserPreference struct {
	UserID              int64              `db:"user_id" json:"user_id"`
	CategoryWeightsJSON string             `db:"category_weights" json:"-"`
	CategoryWeights     map[string]float64 `db:"-" json:"category_weights"`
	PriceLevel          int                `db:"price_level" json:"price_level"`
	RadiusKm            float64            `db:"radius_km" json:"radius_km"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// ItemCounts holds per-(item, area) view/search sums for one window.
type ItemCounts struct {
	ItemID   int64  `db:"item_id"`
	Area     string `db:"area"`
	Views    int    `db:"views"`
	Searches int    `db:"searches"`
}

// BusinessCount pairs a business with an interaction count.
type BusinessCount struct {
	BusinessID int64 `db:"business_id"`
	Count      int   `db:"cnt"`
}

// BusinessListOpts controls business listing.
type BusinessListOpts struct {
	EntityType EntityType
	Category   string
	Area       string
	Limit      int
}

// TrendingListOpts controls trending listing.
type TrendingListOpts struct {
	Period   Period
	Area     string
	MinScore float64
	Limit    int
}

// Store is the persistence interface.
type Store interface {
	UpsertBusiness(ctx context.Context, b *Business) error
	GetBusiness(ctx context.Context, id int64) (*Business, error)
	ListBusinesses(ctx context.Context, opts BusinessListOpts) ([]Business, error)
	SetDiscoveryScore(ctx context.Context, id int64, score float64) error

	AddInteraction(ctx context.Context, in *Interaction) error
	CountInteractionsSince(ctx context.Context, businessID int64, since time.Time) (int, error)
	ViewSearchCounts(ctx context.Context, itemType EntityType, from, to time.Time) ([]ItemCounts, error)
	UserBusinessIDs(ctx context.Context, userID int64, limit int) ([]int64, error)
	CoInteractedBusinesses(ctx context.Context, userID int64, limit int) ([]BusinessCount, error)
	CoInteractionUserCount(ctx context.Context, aID, bID int64) (int, error)
	DistinctUserCount(ctx context.Context, businessID int64) (int, error)

	UpsertTrendingData(ctx context.Context, t *TrendingData) error
	GetTrendingData(ctx context.Context, itemType EntityType, itemID int64, period Period, datePeriod, area string) (*TrendingData, error)
	ListTrending(ctx context.Context, opts TrendingListOpts) ([]TrendingData, error)

	UpsertSimilarity(ctx context.Context, s *BusinessSimilarity) error
	ListSimilarities(ctx context.Context, businessID int64, limit int) ([]BusinessSimilarity, error)

	GetUserPreference(ctx context.Context, userID int64) (*UserPreference, error)
	UpsertUserPreference(ctx context.Context, p *UserPreference) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertBusiness(ctx context.Context, b *Business) error {
	if b.EntityType == "" {
		b.EntityType = EntityBusiness
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	if b.ID > 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE businesses SET name = ?, entity_type = ?, category = ?, area = ?,
				latitude = ?, longitude = ?, verified = ?, featured = ?,
				avg_rating = ?, review_count = ?, active_offers = ?
			WHERE id = ?
		`, b.Name, b.EntityType, b.Category, b.Area, b.Latitude, b.Longitude,
			b.Verified, b.Featured, b.AvgRating, b.ReviewCount, b.ActiveOffers, b.ID)
		if err != nil {
			return fmt.Errorf("update business %d: %w", b.ID, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (name, entity_type, category, area, latitude, longitude,
			verified, featured, avg_rating, review_count, active_offers, discovery_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.Name, b.EntityType, b.Category, b.Area, b.Latitude, b.Longitude,
		b.Verified, b.Featured, b.AvgRating, b.ReviewCount, b.ActiveOffers,
		b.DiscoveryScore, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert business: %w", err)
	}
	b.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, id int64) (*Business, error) {
	var b Business
	err := s.db.GetContext(ctx, &b, "SELECT * FROM businesses WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get business %d: %w", id, err)
	}
	return &b, nil
}

func (s *SQLiteStore) ListBusinesses(ctx context.Context, opts BusinessListOpts) ([]Business, error) {
	query := "SELECT * FROM businesses WHERE 1=1"
	var args []any

	if opts.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, opts.EntityType)
	}
	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}
	if opts.Area != "" {
		query += " AND area = ?"
		args = append(args, opts.Area)
	}

	query += " ORDER BY discovery_score DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var list []Business
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	return list, nil
}

func (s *SQLiteStore) SetDiscoveryScore(ctx context.Context, id int64, score float64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE businesses SET discovery_score = ? WHERE id = ?", score, id)
	if err != nil {
		return fmt.Errorf("set discovery score %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddInteraction(ctx context.Context, in *Interaction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Weight == 0 {
		in.Weight = 1
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, user_id, business_id, type, weight, latitude, longitude, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.UserID, in.BusinessID, in.Type, in.Weight, in.Latitude, in.Longitude, in.OccurredAt)
	if err != nil {
		return fmt.Errorf("add interaction %s: %w", in.ID, err)
	}
	return nil
}

func (s *SQLiteStore) CountInteractionsSince(ctx context.Context, businessID int64, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM interactions WHERE business_id = ? AND occurred_at >= ?",
		businessID, since)
	if err != nil {
		return 0, fmt.Errorf("count interactions %d: %w", businessID, err)
	}
	return n, nil
}

func (s *SQLiteStore) ViewSearchCounts(ctx context.Context, itemType EntityType, from, to time.Time) ([]ItemCounts, error) {
	var counts []ItemCounts
	err := s.db.SelectContext(ctx, &counts, `
		SELECT i.business_id AS item_id, b.area AS area,
			SUM(CASE WHEN i.type = 'view' THEN 1 ELSE 0 END) AS views,
			SUM(CASE WHEN i.type = 'search' THEN 1 ELSE 0 END) AS searches
		FROM interactions i
		JOIN businesses b ON b.id = i.business_id
		WHERE b.entity_type = ? AND i.occurred_at >= ? AND i.occurred_at < ?
			AND i.type IN ('view', 'search')
		GROUP BY i.business_id, b.area
	`, itemType, from, to)
	if err != nil {
		return nil, fmt.Errorf("view/search counts: %w", err)
	}
	return counts, nil
}

func (s *SQLiteStore) UserBusinessIDs(ctx context.Context, userID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT business_id FROM interactions WHERE user_id = ?
		GROUP BY business_id ORDER BY MAX(occurred_at) DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user businesses %d: %w", userID, err)
	}
	return ids, nil
}

// CoInteractedBusinesses returns businesses interacted with by users who share
// at least one interacted business with the given user, excluding the user's own.
func (s *SQLiteStore) CoInteractedBusinesses(ctx context.Context, userID int64, limit int) ([]BusinessCount, error) {
	if limit <= 0 {
		limit = 50
	}
	var counts []BusinessCount
	err := s.db.SelectContext(ctx, &counts, `
		SELECT i2.business_id AS business_id, COUNT(DISTINCT i2.user_id) AS cnt
		FROM interactions i1
		JOIN interactions i2 ON i1.user_id = i2.user_id
		WHERE i1.business_id IN (SELECT business_id FROM interactions WHERE user_id = ?)
			AND i1.user_id != ?
			AND i2.business_id NOT IN (SELECT business_id FROM interactions WHERE user_id = ?)
		GROUP BY i2.business_id
		ORDER BY cnt DESC
		LIMIT ?
	`, userID, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("co-interacted businesses %d: %w", userID, err)
	}
	return counts, nil
}

func (s *SQLiteStore) CoInteractionUserCount(ctx context.Context, aID, bID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM (
			SELECT user_id FROM interactions WHERE business_id = ?
			INTERSECT
			SELECT user_id FROM interactions WHERE business_id = ?
		)
	`, aID, bID)
	if err != nil {
		return 0, fmt.Errorf("co-interaction count (%d,%d): %w", aID, bID, err)
	}
	return n, nil
}

func (s *SQLiteStore) DistinctUserCount(ctx context.Context, businessID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(DISTINCT user_id) FROM interactions WHERE business_id = ?", businessID)
	if err != nil {
		return 0, fmt.Errorf("distinct user count %d: %w", businessID, err)
	}
	return n, nil
}

// UpsertTrendingData fully overwrites the row for the natural key, so re-running
// an aggregation for the same bucket is idempotent.
func (s *SQLiteStore) UpsertTrendingData(ctx context.Context, t *TrendingData) error {
	if t.ComputedAt.IsZero() {
		t.ComputedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trending_data (item_type, item_id, location_area, time_period, date_period,
			trend_score, hybrid_score, view_count, search_count, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_type, item_id, time_period, date_period, location_area) DO UPDATE SET
			trend_score = excluded.trend_score,
			hybrid_score = excluded.hybrid_score,
			view_count = excluded.view_count,
			search_count = excluded.search_count,
			computed_at = excluded.computed_at
	`, t.ItemType, t.ItemID, t.LocationArea, t.TimePeriod, t.DatePeriod,
		t.TrendScore, t.HybridScore, t.ViewCount, t.SearchCount, t.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert trending %s/%d: %w", t.TimePeriod, t.ItemID, err)
	}
	return nil
}

// GetTrendingData returns nil without error when no row exists for the key.
func (s *SQLiteStore) GetTrendingData(ctx context.Context, itemType EntityType, itemID int64, period Period, datePeriod, area string) (*TrendingData, error) {
	var t TrendingData
	err := s.db.GetContext(ctx, &t, `
		SELECT * FROM trending_data
		WHERE item_type = ? AND item_id = ? AND time_period = ? AND date_period = ? AND location_area = ?
	`, itemType, itemID, period, datePeriod, area)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trending %s/%d/%s: %w", period, itemID, datePeriod, err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTrending(ctx context.Context, opts TrendingListOpts) ([]TrendingData, error) {
	query := "SELECT * FROM trending_data WHERE 1=1"
	var args []any

	if opts.Period != "" {
		query += " AND time_period = ?"
		args = append(args, opts.Period)
	}
	if opts.Area != "" {
		query += " AND location_area = ?"
		args = append(args, opts.Area)
	}
	if opts.MinScore > 0 {
		query += " AND trend_score >= ?"
		args = append(args, opts.MinScore)
	}

	query += " ORDER BY hybrid_score DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var list []TrendingData
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("list trending: %w", err)
	}
	return list, nil
}

// UpsertSimilarity canonicalizes the pair to min-id-first before writing.
func (s *SQLiteStore) UpsertSimilarity(ctx context.Context, sim *BusinessSimilarity) error {
	if sim.BusinessAID > sim.BusinessBID {
		sim.BusinessAID, sim.BusinessBID = sim.BusinessBID, sim.BusinessAID
	}
	if sim.BusinessAID == sim.BusinessBID {
		return fmt.Errorf("upsert similarity: identical pair %d", sim.BusinessAID)
	}
	if sim.UpdatedAt.IsZero() {
		sim.UpdatedAt = time.Now().UTC()
	}
	if sim.FactorsJSON == "" {
		raw, _ := json.Marshal(sim.Factors)
		sim.FactorsJSON = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_similarities (business_a_id, business_b_id, similarity_type, score, factors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(business_a_id, business_b_id, similarity_type) DO UPDATE SET
			score = excluded.score,
			factors = excluded.factors,
			updated_at = excluded.updated_at
	`, sim.BusinessAID, sim.BusinessBID, sim.SimilarityType, sim.Score, sim.FactorsJSON, sim.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert similarity (%d,%d): %w", sim.BusinessAID, sim.BusinessBID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSimilarities(ctx context.Context, businessID int64, limit int) ([]BusinessSimilarity, error) {
	if limit <= 0 {
		limit = 20
	}
	var list []BusinessSimilarity
	err := s.db.SelectContext(ctx, &list, `
		SELECT * FROM business_similarities
		WHERE business_a_id = ? OR business_b_id = ?
		ORDER BY score DESC LIMIT ?
	`, businessID, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("list similarities %d: %w", businessID, err)
	}
	for i := range list {
		json.Unmarshal([]byte(list[i].FactorsJSON), &list[i].Factors)
	}
	return list, nil
}

// GetUserPreference returns nil without error when the user has no stored preferences.
func (s *SQLiteStore) GetUserPreference(ctx context.Context, userID int64) (*UserPreference, error) {
	var p UserPreference
	err := s.db.GetContext(ctx, &p, "SELECT * FROM user_preferences WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference %d: %w", userID, err)
	}
	json.Unmarshal([]byte(p.CategoryWeightsJSON), &p.CategoryWeights)
	return &p, nil
}

func (s *SQLiteStore) UpsertUserPreference(ctx context.Context, p *UserPreference) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if p.CategoryWeightsJSON == "" {
		raw, _ := json.Marshal(p.CategoryWeights)
		p.CategoryWeightsJSON = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, category_weights, price_level, radius_km, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			category_weights = excluded.category_weights,
			price_level = excluded.price_level,
			radius_km = excluded.radius_km,
			updated_at = excluded.updated_at
	`, p.UserID, p.CategoryWeightsJSON, p.PriceLevel, p.RadiusKm, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert preference %d: %w", p.UserID, err)
	}
	return nil
}
