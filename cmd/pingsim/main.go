// README: Location ping simulator; drives a set of drivers toward a target over the HTTP API and reports throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BaseURL    string
	TokensFile string
	From       string
	To         string
	Steps      int
	Interval   time.Duration
	Timeout    time.Duration
}

func main() {
	cfg := loadConfig()

	tokens, err := godotenv.Read(cfg.TokensFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read tokens: %v\n", err)
		os.Exit(2)
	}
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "tokens file lists no drivers")
		os.Exit(2)
	}
	from, err := parsePoint(cfg.From)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-from: %v\n", err)
		os.Exit(2)
	}
	to, err := parsePoint(cfg.To)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-to: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	drivers := make([]Driver, 0, len(tokens))
	for id, token := range tokens {
		drivers = append(drivers, Driver{ID: id, Token: token})
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].ID < drivers[j].ID })

	sim := NewSimulator(cfg)
	results, err := sim.Run(ctx, drivers, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation stopped: %v\n", err)
	}

	fmt.Println("\n== Summary ==")
	failed := 0
	for _, r := range results {
		fmt.Printf("%-12s sent=%d failed=%d arrivals=%d p50=%s p95=%s\n",
			r.DriverID, r.Sent, r.Failed, r.Arrivals, r.Percentile(0.50), r.Percentile(0.95))
		failed += r.Failed
	}
	if failed > 0 || err != nil {
		os.Exit(1)
	}
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("SCHOOLRUN_PINGSIM_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.TokensFile, "tokens", envOrDefault("SCHOOLRUN_PINGSIM_TOKENS", "pingsim.env"), "file of DRIVER_ID=ID_TOKEN lines")
	flag.StringVar(&cfg.From, "from", "0,0", "start point lat,lng")
	flag.StringVar(&cfg.To, "to", "0.01,0.01", "end point lat,lng")
	flag.IntVar(&cfg.Steps, "steps", 20, "samples per driver")
	flag.DurationVar(&cfg.Interval, "interval", time.Second, "delay between samples of one driver")
	flag.DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "total timeout")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
