package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/lumipark/localpulse/internal/cache"
	"github.com/lumipark/localpulse/internal/config"
	"github.com/lumipark/localpulse/internal/scheduler"
	"github.com/lumipark/localpulse/internal/store"
	"github.com/lumipark/localpulse/pkg/discovery"
	"github.com/lumipark/localpulse/pkg/recommend"
	"github.com/lumipark/localpulse/pkg/server"
	"github.com/lumipark/localpulse/pkg/similarity"
	"github.com/lumipark/localpulse/pkg/trending"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// components bundles the wired scoring subsystem.
type components struct {
	store      *store.SQLiteStore
	scorer     *discovery.Scorer
	aggregator *trending.Aggregator
	engine     *similarity.Engine
	blender    *recommend.Blender
	provider   recommend.EmbeddingProvider
	cache      *cache.Cache
	sched      *scheduler.Scheduler
}

func build(cfg *config.Config) (*components, error) {
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c := cache.New(cfg.Recommend.ParseCacheTTL())

	var provider recommend.EmbeddingProvider
	if cfg.ML.Enabled && cfg.ML.BaseURL != "" {
		remote := recommend.NewRemoteProvider(cfg.ML.BaseURL, cfg.ML.APIKey, cfg.ML.ParseTimeout())
		provider = recommend.NewCachedProvider(
			recommend.NewFallbackProvider(remote, recommend.HeuristicProvider{}), c)
		fmt.Fprintf(os.Stderr, "embedding provider: %s (%s)\n", provider.Name(), cfg.ML.BaseURL)
	}

	scorer := discovery.NewScorer(db, cfg.Discovery)
	aggregator := trending.NewAggregator(db, cfg.Trending)
	engine := similarity.NewEngine(db, cfg.Similarity)
	blender := recommend.NewBlender(db, cfg.Recommend, provider, c)
	sched := scheduler.New(db, aggregator, engine, scorer, cfg.Schedule)

	return &components{
		store:      db,
		scorer:     scorer,
		aggregator: aggregator,
		engine:     engine,
		blender:    blender,
		provider:   provider,
		cache:      c,
		sched:      sched,
	}, nil
}

func runScore() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := build(cfg)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	ctx := context.Background()
	total := 0
	for _, et := range []store.EntityType{store.EntityBusiness, store.EntityAttraction} {
		n, err := comp.scorer.ScoreAll(ctx, et)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discovery %s error: %v\n", et, err)
			continue
		}
		total += n
	}
	fmt.Fprintf(os.Stderr, "scored %d entities\n", total)
	return nil
}

func runTrending(period, area string, jsonOutput bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := build(cfg)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	p := store.Period(period)
	ctx := context.Background()

	if _, err := comp.aggregator.Run(ctx, p); err != nil {
		fmt.Fprintf(os.Stderr, "trending aggregation error: %v\n", err)
	}

	trends, err := comp.store.ListTrending(ctx, store.TrendingListOpts{
		Period: p,
		Area:   area,
		Limit:  limit,
	})
	if err != nil {
		return fmt.Errorf("list trending: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(trends)
	}

	if len(trends) == 0 {
		fmt.Println("no trending data (record some interactions first)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TREND\tHYBRID\tVIEWS\tSEARCHES\tITEM\tAREA\tBUCKET")
	for _, t := range trends {
		fmt.Fprintf(w, "%.2f\t%.2f\t%d\t%d\t%s/%d\t%s\t%s\n",
			t.TrendScore, t.HybridScore, t.ViewCount, t.SearchCount,
			t.ItemType, t.ItemID, t.LocationArea, t.DatePeriod)
	}
	return w.Flush()
}

func runSimilarity() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := build(cfg)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	n, err := comp.engine.RunBatch(context.Background())
	if err != nil {
		return fmt.Errorf("similarity batch: %w", err)
	}
	fmt.Fprintf(os.Stderr, "stored %d similarity pairs\n", n)
	return nil
}

func runRecommend(userID int64, hasCoords bool, lat, lon float64, count int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := build(cfg)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	var viewerLat, viewerLon *float64
	if hasCoords {
		viewerLat, viewerLon = &lat, &lon
	}

	result := comp.blender.Recommend(context.Background(), userID, viewerLat, viewerLon, count)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if len(result.Candidates) == 0 {
		fmt.Println("no recommendations (record some interactions first)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tALGORITHM\tBUSINESS")
	for _, c := range result.Candidates {
		name := fmt.Sprintf("%d", c.BusinessID)
		if b, err := comp.store.GetBusiness(context.Background(), c.BusinessID); err == nil {
			name = b.Name
		}
		fmt.Fprintf(w, "%.4f\t%s\t%s\n", c.Score, c.Algorithm, name)
	}
	w.Flush()
	fmt.Printf("confidence: %.4f\n", result.Confidence)
	return nil
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	comp, err := build(cfg)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	srv := server.New(comp.store, comp.blender, comp.scorer, comp.sched, comp.provider, comp.cache, port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	comp, err := build(cfg)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start scheduler in background.
	go func() {
		if err := comp.sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	srv := server.New(comp.store, comp.blender, comp.scorer, comp.sched, comp.provider, comp.cache, port)
	return srv.ListenAndServe()
}
