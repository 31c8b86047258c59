// Package trending rolls up view/search interactions into time-decayed trend
// scores over daily, weekly, and monthly windows.
package trending

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/store"
)

// Aggregator recomputes TrendingData buckets from the interaction log.
// Each bucket is fully overwritten on every run, so re-running the same
// window is idempotent.
type Aggregator struct {
	store store.Store
	cfg   config.TrendingConfig
}

// NewAggregator creates a trending aggregator. Zeroed component weights fall
// back to views 0.4 / searches 0.3 / growth 0.3.
func NewAggregator(s store.Store, cfg config.TrendingConfig) *Aggregator {
	if cfg.ViewWeight+cfg.SearchWeight+cfg.GrowthWeight == 0 {
		cfg.ViewWeight = 0.4
		cfg.SearchWeight = 0.3
		cfg.GrowthWeight = 0.3
	}
	if cfg.GrowthCap <= 0 {
		cfg.GrowthCap = 2.0
	}
	if cfg.TrendBlend+cfg.DiscoveryBlend == 0 {
		cfg.TrendBlend = 0.6
		cfg.DiscoveryBlend = 0.4
	}
	return &Aggregator{store: s, cfg: cfg}
}

// Run aggregates the current bucket for one period across both entity types.
// Returns the number of rows upserted. A single item's failure is logged and
// the batch continues; already-written rows stay valid.
func (a *Aggregator) Run(ctx context.Context, period store.Period) (int, error) {
	return a.RunAt(ctx, period, time.Now().UTC())
}

// RunAt aggregates the bucket containing the given instant.
func (a *Aggregator) RunAt(ctx context.Context, period store.Period, now time.Time) (int, error) {
	label, from, to, err := BucketWindow(period, now)
	if err != nil {
		return 0, err
	}
	prevLabel, _, _, _ := BucketWindow(period, previousInstant(period, now))

	total := 0
	for _, et := range []store.EntityType{store.EntityBusiness, store.EntityAttraction} {
		counts, err := a.store.ViewSearchCounts(ctx, et, from, to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  trending counts error (%s/%s): %v\n", period, et, err)
			continue
		}

		for _, c := range counts {
			row, err := a.aggregateItem(ctx, et, c, period, label, prevLabel)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  trending item error (%s/%d): %v\n", period, c.ItemID, err)
				continue
			}
			if err := a.store.UpsertTrendingData(ctx, row); err != nil {
				fmt.Fprintf(os.Stderr, "  trending upsert error (%s/%d): %v\n", period, c.ItemID, err)
				continue
			}
			total++
		}
	}
	return total, nil
}

func (a *Aggregator) aggregateItem(ctx context.Context, et store.EntityType, c store.ItemCounts, period store.Period, label, prevLabel string) (*store.TrendingData, error) {
	prev, err := a.store.GetTrendingData(ctx, et, c.ItemID, period, prevLabel, c.Area)
	if err != nil {
		return nil, err
	}

	prevTotal := 0
	if prev != nil {
		prevTotal = prev.ViewCount + prev.SearchCount
	}
	growth := Growth(c.Views+c.Searches, prevTotal)
	trend := a.TrendScore(c.Views, c.Searches, growth)

	// Blend with the static discovery score so chronically popular items
	// still surface when not spiking.
	discovery := 0.0
	if b, err := a.store.GetBusiness(ctx, c.ItemID); err == nil {
		discovery = b.DiscoveryScore
	}
	hybrid := round2(a.cfg.TrendBlend*trend + a.cfg.DiscoveryBlend*discovery)

	return &store.TrendingData{
		ItemType:     et,
		ItemID:       c.ItemID,
		LocationArea: c.Area,
		TimePeriod:   period,
		DatePeriod:   label,
		TrendScore:   trend,
		HybridScore:  clamp(hybrid, 0, 100),
		ViewCount:    c.Views,
		SearchCount:  c.Searches,
	}, nil
}

// TrendScore combines view/search volume and growth rate into a 0-100 score.
func (a *Aggregator) TrendScore(views, searches int, growth float64) float64 {
	growthComp := clamp(growth, 0, a.cfg.GrowthCap) / a.cfg.GrowthCap * 100

	score := a.cfg.ViewWeight*normalizeCount(views) +
		a.cfg.SearchWeight*normalizeCount(searches) +
		a.cfg.GrowthWeight*growthComp
	return clamp(round2(score), 0, 100)
}

// Growth returns the bucket-over-bucket growth rate. A zero previous count
// yields 0, never a division by zero.
func Growth(current, previous int) float64 {
	if previous <= 0 {
		return 0
	}
	return float64(current-previous) / float64(previous)
}

// BucketWindow returns the date label and [from, to) window of the bucket
// containing the given instant.
func BucketWindow(period store.Period, at time.Time) (label string, from, to time.Time, err error) {
	at = at.UTC()
	switch period {
	case store.PeriodDaily:
		from = time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		return from.Format("2006-01-02"), from, from.AddDate(0, 0, 1), nil
	case store.PeriodWeekly:
		from = weekStart(at)
		return from.Format("2006-01-02"), from, from.AddDate(0, 0, 7), nil
	case store.PeriodMonthly:
		from = time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from.Format("2006-01"), from, from.AddDate(0, 1, 0), nil
	}
	return "", time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", period)
}

func previousInstant(period store.Period, at time.Time) time.Time {
	switch period {
	case store.PeriodWeekly:
		return at.AddDate(0, 0, -7)
	case store.PeriodMonthly:
		return at.AddDate(0, -1, 0)
	default:
		return at.AddDate(0, 0, -1)
	}
}

func weekStart(at time.Time) time.Time {
	d := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// normalizeCount maps a raw event count to 0-100 on a tiered log-ish scale,
// so a handful of views registers without letting huge counts dominate.
func normalizeCount(n int) float64 {
	v := float64(n)
	switch {
	case v >= 1000:
		return 100
	case v > 100:
		return 60 + (v-100)/900*40
	case v > 10:
		return 20 + (v-10)/90*40
	default:
		return v / 10 * 20
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
