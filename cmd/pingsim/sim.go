package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"schoolrun/internal/types"
)

type Driver struct {
	ID    string
	Token string
}

type Result struct {
	DriverID  string
	Sent      int
	Failed    int
	Arrivals  int
	Latencies []time.Duration
}

// Percentile returns the q-quantile of recorded latencies, 0 when none.
func (r Result) Percentile(q float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), r.Latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

type Simulator struct {
	cfg   Config
	httpc *http.Client
}

func NewSimulator(cfg Config) *Simulator {
	return &Simulator{cfg: cfg, httpc: &http.Client{Timeout: 10 * time.Second}}
}

// Run moves every driver from -> to in cfg.Steps samples, one goroutine per driver.
func (s *Simulator) Run(ctx context.Context, drivers []Driver, from, to types.Point) ([]Result, error) {
	results := make([]Result, len(drivers))
	g, ctx := errgroup.WithContext(ctx)
	for i, d := range drivers {
		g.Go(func() error {
			results[i] = s.drive(ctx, d, from, to)
			return ctx.Err()
		})
	}
	err := g.Wait()
	return results, err
}

func (s *Simulator) drive(ctx context.Context, d Driver, from, to types.Point) Result {
	res := Result{DriverID: d.ID}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for step := 0; step <= s.cfg.Steps; step++ {
		p := Interpolate(from, to, step, s.cfg.Steps)
		start := time.Now()
		arrivals, err := s.ping(ctx, d, p)
		res.Sent++
		if err != nil {
			res.Failed++
			fmt.Printf("FAIL    %s step=%d: %v\n", d.ID, step, err)
		} else {
			res.Latencies = append(res.Latencies, time.Since(start))
			res.Arrivals += arrivals
		}
		select {
		case <-ctx.Done():
			return res
		case <-ticker.C:
		}
	}
	return res
}

type pingResponse struct {
	Arrivals []json.RawMessage `json:"arrivals"`
}

func (s *Simulator) ping(ctx context.Context, d Driver, p types.Point) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/api/drivers/%s/location", s.cfg.BaseURL, d.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.Token)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("status=%d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out pingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return len(out.Arrivals), nil
}

// Interpolate returns the point step/steps of the way from a to b.
func Interpolate(a, b types.Point, step, steps int) types.Point {
	if steps <= 0 {
		return b
	}
	f := float64(step) / float64(steps)
	return types.Point{Lat: a.Lat + (b.Lat-a.Lat)*f, Lng: a.Lng + (b.Lng-a.Lng)*f}
}

func parsePoint(v string) (types.Point, error) {
	lat, lng, ok := strings.Cut(v, ",")
	if !ok {
		return types.Point{}, fmt.Errorf("expected lat,lng, got %q", v)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return types.Point{}, err
	}
	ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return types.Point{}, err
	}
	return types.Point{Lat: la, Lng: ln}, nil
}
