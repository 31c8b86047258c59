package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "localpulse",
		Short: "Score, rank, and recommend local businesses from interaction data",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(scoreCmd())
	root.AddCommand(trendingCmd())
	root.AddCommand(similarityCmd())
	root.AddCommand(recommendCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Recompute discovery scores for all businesses and attractions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore()
		},
	}
}

func trendingCmd() *cobra.Command {
	var (
		period     string
		area       string
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Aggregate and show trending businesses for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrending(period, area, jsonOutput, limit)
		},
	}

	cmd.Flags().StringVar(&period, "period", "daily", "time period (daily, weekly, monthly)")
	cmd.Flags().StringVar(&area, "area", "", "filter by location area")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows to show")
	return cmd
}

func similarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similarity",
		Short: "Recompute business similarity pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimilarity()
		},
	}
}

func recommendCmd() *cobra.Command {
	var (
		userID     int64
		lat, lon   float64
		count      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show recommendations for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecommend(userID, cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon"), lat, lon, count, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id (required)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "viewer latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "viewer longitude")
	cmd.Flags().IntVar(&count, "count", 10, "max recommendations")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("user")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
