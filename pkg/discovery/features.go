package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/store"
	"github.com/lumipark/localpulse/pkg/geo"
)

// Features is the flat record of normalized signals for one entity.
// Distance01 is only meaningful when HasDistance is true; without viewer
// coordinates the distance term is excluded from scoring entirely.
type Features struct {
	DistanceKm  float64
	Distance01  float64
	HasDistance bool
	Rating01    float64
	Activity01  float64
	Bonus01     float64
}

// Extractor pulls raw signals for a business given a viewer context.
type Extractor struct {
	store store.Store
	cfg   config.DiscoveryConfig
}

// NewExtractor creates a feature extractor.
func NewExtractor(s store.Store, cfg config.DiscoveryConfig) *Extractor {
	if cfg.BusinessCutoffKm <= 0 {
		cfg.BusinessCutoffKm = 10
	}
	if cfg.AttractionCutoffKm <= 0 {
		cfg.AttractionCutoffKm = 20
	}
	if cfg.ActivityWindowDays <= 0 {
		cfg.ActivityWindowDays = 30
	}
	if cfg.ActivityClip <= 0 {
		cfg.ActivityClip = 100
	}
	return &Extractor{store: s, cfg: cfg}
}

// Extract computes normalized features. It has no side effects; the only
// queries are the recent-activity aggregate.
func (e *Extractor) Extract(ctx context.Context, b *store.Business, viewerLat, viewerLon *float64) (Features, error) {
	f := Features{
		Rating01: clamp01(b.AvgRating / 5),
	}

	if viewerLat != nil && viewerLon != nil {
		cutoff := e.cfg.BusinessCutoffKm
		if b.EntityType == store.EntityAttraction {
			cutoff = e.cfg.AttractionCutoffKm
		}
		f.DistanceKm = geo.DistanceKm(*viewerLat, *viewerLon, b.Latitude, b.Longitude)
		f.Distance01 = geo.Proximity(f.DistanceKm, cutoff)
		f.HasDistance = true
	}

	if b.Verified || b.ActiveOffers > 0 {
		f.Bonus01 = 1
	}

	since := time.Now().UTC().AddDate(0, 0, -e.cfg.ActivityWindowDays)
	n, err := e.store.CountInteractionsSince(ctx, b.ID, since)
	if err != nil {
		return f, fmt.Errorf("recent activity for %d: %w", b.ID, err)
	}
	if n > e.cfg.ActivityClip {
		n = e.cfg.ActivityClip
	}
	f.Activity01 = float64(n) / float64(e.cfg.ActivityClip)

	return f, nil
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
