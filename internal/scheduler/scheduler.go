// Package scheduler runs the periodic scoring batches.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/store"
	"github.com/lumipark/localpulse/pkg/discovery"
	"github.com/lumipark/localpulse/pkg/similarity"
	"github.com/lumipark/localpulse/pkg/trending"
)

// Scheduler triggers trending aggregation, similarity recomputation, and
// discovery rescoring on their own cadences. A job keyed by name+period never
// overlaps itself: a tick that arrives while the previous run is still in
// flight is skipped.
type Scheduler struct {
	store      store.Store
	aggregator *trending.Aggregator
	engine     *similarity.Engine
	scorer     *discovery.Scorer
	schedule   config.ScheduleConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a scheduler.
func New(s store.Store, agg *trending.Aggregator, eng *similarity.Engine, sc *discovery.Scorer, schedule config.ScheduleConfig) *Scheduler {
	return &Scheduler{
		store:      s,
		aggregator: agg,
		engine:     eng,
		scorer:     sc,
		schedule:   schedule,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	dailyTicker := time.NewTicker(s.schedule.ParseDailyInterval())
	weeklyTicker := time.NewTicker(s.schedule.ParseWeeklyInterval())
	monthlyTicker := time.NewTicker(s.schedule.ParseMonthlyInterval())
	similarityTicker := time.NewTicker(s.schedule.ParseSimilarityInterval())
	discoveryTicker := time.NewTicker(s.schedule.ParseDiscoveryInterval())
	defer dailyTicker.Stop()
	defer weeklyTicker.Stop()
	defer monthlyTicker.Stop()
	defer similarityTicker.Stop()
	defer discoveryTicker.Stop()

	// Run everything once on start.
	fmt.Fprintln(os.Stderr, "scheduler: initial discovery rescoring...")
	s.runDiscovery(ctx)
	fmt.Fprintln(os.Stderr, "scheduler: initial trending aggregation...")
	for _, p := range []store.Period{store.PeriodDaily, store.PeriodWeekly, store.PeriodMonthly} {
		s.runTrending(ctx, p)
	}
	fmt.Fprintln(os.Stderr, "scheduler: initial similarity recomputation...")
	s.runSimilarity(ctx)

	fmt.Fprintf(os.Stderr, "scheduler: running (daily every %s, similarity every %s)\n",
		s.schedule.ParseDailyInterval(), s.schedule.ParseSimilarityInterval())

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "scheduler: stopped")
			return ctx.Err()
		case <-dailyTicker.C:
			s.runTrending(ctx, store.PeriodDaily)
		case <-weeklyTicker.C:
			s.runTrending(ctx, store.PeriodWeekly)
		case <-monthlyTicker.C:
			s.runTrending(ctx, store.PeriodMonthly)
		case <-similarityTicker.C:
			s.runSimilarity(ctx)
		case <-discoveryTicker.C:
			s.runDiscovery(ctx)
		}
	}
}

// RunTrending triggers one aggregation outside the loop (API job trigger).
func (s *Scheduler) RunTrending(ctx context.Context, period store.Period) {
	s.runTrending(ctx, period)
}

// RunSimilarity triggers one recomputation outside the loop.
func (s *Scheduler) RunSimilarity(ctx context.Context) {
	s.runSimilarity(ctx)
}

// RunDiscovery triggers one rescoring outside the loop.
func (s *Scheduler) RunDiscovery(ctx context.Context) {
	s.runDiscovery(ctx)
}

func (s *Scheduler) runTrending(ctx context.Context, period store.Period) {
	s.runExclusive("trending:"+string(period), func() {
		n, err := s.aggregator.Run(ctx, period)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  trending %s error: %v\n", period, err)
			return
		}
		fmt.Fprintf(os.Stderr, "  trending %s: %d buckets\n", period, n)
	})
}

func (s *Scheduler) runSimilarity(ctx context.Context) {
	s.runExclusive("similarity", func() {
		n, err := s.engine.RunBatch(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  similarity error: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "  similarity: %d pairs\n", n)
	})
}

func (s *Scheduler) runDiscovery(ctx context.Context) {
	s.runExclusive("discovery", func() {
		total := 0
		for _, et := range []store.EntityType{store.EntityBusiness, store.EntityAttraction} {
			n, err := s.scorer.ScoreAll(ctx, et)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  discovery %s error: %v\n", et, err)
				continue
			}
			total += n
		}
		fmt.Fprintf(os.Stderr, "  discovery: %d entities scored\n", total)
	})
}

// runExclusive runs fn under the job's lock, skipping the run entirely if the
// previous one is still in flight.
func (s *Scheduler) runExclusive(name string, fn func()) {
	lock := s.lockFor(name)
	if !lock.TryLock() {
		fmt.Fprintf(os.Stderr, "  %s: previous run still in flight, skipped\n", name)
		return
	}
	defer lock.Unlock()
	fn()
}

func (s *Scheduler) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}
