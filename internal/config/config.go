package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Trending   TrendingConfig   `yaml:"trending"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Recommend  RecommendConfig  `yaml:"recommend"`
	ML         MLConfig         `yaml:"ml"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ScheduleConfig configures batch job intervals.
type ScheduleConfig struct {
	DailyInterval      string `yaml:"daily_interval"`
	WeeklyInterval     string `yaml:"weekly_interval"`
	MonthlyInterval    string `yaml:"monthly_interval"`
	SimilarityInterval string `yaml:"similarity_interval"`
	DiscoveryInterval  string `yaml:"discovery_interval"`
}

func (s ScheduleConfig) parse(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ParseDailyInterval returns how often the same-day trending bucket is refreshed.
func (s ScheduleConfig) ParseDailyInterval() time.Duration {
	return s.parse(s.DailyInterval, time.Minute)
}

// ParseWeeklyInterval returns the weekly aggregation cadence.
func (s ScheduleConfig) ParseWeeklyInterval() time.Duration {
	return s.parse(s.WeeklyInterval, 24*time.Hour)
}

// ParseMonthlyInterval returns the monthly aggregation cadence.
func (s ScheduleConfig) ParseMonthlyInterval() time.Duration {
	return s.parse(s.MonthlyInterval, 24*time.Hour)
}

// ParseSimilarityInterval returns the similarity recomputation cadence.
func (s ScheduleConfig) ParseSimilarityInterval() time.Duration {
	return s.parse(s.SimilarityInterval, 6*time.Hour)
}

// ParseDiscoveryInterval returns the discovery rescoring cadence.
func (s ScheduleConfig) ParseDiscoveryInterval() time.Duration {
	return s.parse(s.DiscoveryInterval, time.Hour)
}

// DiscoveryConfig holds the discovery-score weights and distance cutoffs.
// Weights are expressed in points; they should sum to 100.
type DiscoveryConfig struct {
	DistanceWeight     float64 `yaml:"distance_weight"`
	RatingWeight       float64 `yaml:"rating_weight"`
	ActivityWeight     float64 `yaml:"activity_weight"`
	BonusWeight        float64 `yaml:"bonus_weight"`
	BaseWeight         float64 `yaml:"base_weight"`
	BusinessCutoffKm   float64 `yaml:"business_cutoff_km"`
	AttractionCutoffKm float64 `yaml:"attraction_cutoff_km"`
	ActivityWindowDays int     `yaml:"activity_window_days"`
	ActivityClip       int     `yaml:"activity_clip"`
}

// TrendingConfig holds the trend-score component weights and hybrid blend.
type TrendingConfig struct {
	ViewWeight     float64 `yaml:"view_weight"`
	SearchWeight   float64 `yaml:"search_weight"`
	GrowthWeight   float64 `yaml:"growth_weight"`
	GrowthCap      float64 `yaml:"growth_cap"`
	TrendBlend     float64 `yaml:"trend_blend"`
	DiscoveryBlend float64 `yaml:"discovery_blend"`
}

// SimilarityConfig holds the pairwise factor weights and blocking parameters.
type SimilarityConfig struct {
	CategoryWeight  float64 `yaml:"category_weight"`
	LocationWeight  float64 `yaml:"location_weight"`
	SentimentWeight float64 `yaml:"sentiment_weight"`
	FeatureWeight   float64 `yaml:"feature_weight"`
	UserWeight      float64 `yaml:"user_weight"`
	LocationCutoff  float64 `yaml:"location_cutoff_km"`
	GridCellDegrees float64 `yaml:"grid_cell_degrees"`
	MinScore        float64 `yaml:"min_score"`
}

// RecommendConfig holds the blender weights and cache TTL.
type RecommendConfig struct {
	ContentWeight  float64 `yaml:"content_weight"`
	CollabWeight   float64 `yaml:"collab_weight"`
	LocationWeight float64 `yaml:"location_weight"`
	NeuralWeight   float64 `yaml:"neural_weight"`
	DefaultRadius  float64 `yaml:"default_radius_km"`
	CacheTTL       string  `yaml:"cache_ttl"`
}

// ParseCacheTTL returns the recommendation cache TTL.
func (r RecommendConfig) ParseCacheTTL() time.Duration {
	d, err := time.ParseDuration(r.CacheTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// MLConfig configures the optional external embedding service.
type MLConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// ParseTimeout returns the embedding service request timeout.
func (m MLConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(m.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./localpulse.db"},
		Server:   ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{
			DailyInterval:      "1m",
			WeeklyInterval:     "24h",
			MonthlyInterval:    "24h",
			SimilarityInterval: "6h",
			DiscoveryInterval:  "1h",
		},
		Discovery: DiscoveryConfig{
			DistanceWeight:     30,
			RatingWeight:       25,
			ActivityWeight:     20,
			BonusWeight:        15,
			BaseWeight:         10,
			BusinessCutoffKm:   10,
			AttractionCutoffKm: 20,
			ActivityWindowDays: 30,
			ActivityClip:       100,
		},
		Trending: TrendingConfig{
			ViewWeight:     0.4,
			SearchWeight:   0.3,
			GrowthWeight:   0.3,
			GrowthCap:      2.0,
			TrendBlend:     0.6,
			DiscoveryBlend: 0.4,
		},
		Similarity: SimilarityConfig{
			CategoryWeight:  0.30,
			LocationWeight:  0.25,
			SentimentWeight: 0.15,
			FeatureWeight:   0.15,
			UserWeight:      0.15,
			LocationCutoff:  10,
			GridCellDegrees: 0.1,
			MinScore:        0.1,
		},
		Recommend: RecommendConfig{
			ContentWeight:  0.40,
			CollabWeight:   0.35,
			LocationWeight: 0.25,
			NeuralWeight:   0.15,
			DefaultRadius:  10,
			CacheTTL:       "1h",
		},
		ML: MLConfig{Timeout: "30s"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOCALPULSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LOCALPULSE_ML_URL"); v != "" {
		cfg.ML.BaseURL = v
		cfg.ML.Enabled = true
	}
	if v := os.Getenv("LOCALPULSE_ML_API_KEY"); v != "" {
		cfg.ML.APIKey = v
	}
}
