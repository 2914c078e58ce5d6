// feedsim serves fake upstream feeds for local pipeline runs: daily bars in
// feed A's row layout, feed B's column layout, and categorized headlines.
// Each endpoint enforces its own request quota and answers 429 over budget,
// so rate-gate behavior can be exercised without a real provider.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var served, throttled atomic.Int64

func main() {
	addr := flag.String("addr", ":8081", "Listen address")
	quota := flag.Int("quota", 300, "Requests allowed per endpoint per window")
	window := flag.Duration("window", time.Minute, "Quota window")
	flag.Parse()

	log.Printf("Starting feed simulator on %s", *addr)
	log.Printf("Quota: %d requests per %s per endpoint", *quota, *window)

	interval := *window / time.Duration(*quota)
	newLimiter := func() *rate.Limiter {
		return rate.NewLimiter(rate.Every(interval), *quota)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bars", limited(newLimiter(), barsA))
	mux.HandleFunc("/api/candles", limited(newLimiter(), candlesB))
	mux.HandleFunc("/v2/headlines", limited(newLimiter(), headlines))

	go func() {
		for range time.Tick(30 * time.Second) {
			log.Printf("Served: %d, Throttled: %d", served.Load(), throttled.Load())
		}
	}()

	log.Fatal(http.ListenAndServe(*addr, mux))
}

func limited(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			throttled.Add(1)
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		served.Add(1)
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func barsA(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, `{"error":"symbol is required"}`, http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, `{"error":"from must be RFC3339"}`, http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, `{"error":"to must be RFC3339"}`, http.StatusBadRequest)
		return
	}

	type bar struct {
		TS     string  `json:"ts"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	}
	var bars []bar
	for _, day := range tradingDays(from, to) {
		o, h, l, c, v := quote(symbol, day)
		bars = append(bars, bar{TS: day.Format(time.RFC3339), Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	json.NewEncoder(w).Encode(map[string]any{"symbol": symbol, "bars": bars})
}

func candlesB(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		http.Error(w, `{"error":"ticker is required"}`, http.StatusBadRequest)
		return
	}
	start, err := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"start must be epoch millis"}`, http.StatusBadRequest)
		return
	}
	end, err := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"end must be epoch millis"}`, http.StatusBadRequest)
		return
	}

	var (
		t          []int64
		o, h, l, c []float64
		v          []int64
	)
	for _, day := range tradingDays(time.UnixMilli(start).UTC(), time.UnixMilli(end).UTC()) {
		open, high, low, clos, vol := quote(ticker, day)
		t = append(t, day.UnixMilli())
		o = append(o, open)
		h = append(h, high)
		l = append(l, low)
		c = append(c, clos)
		v = append(v, vol)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"ticker": ticker,
		"candles": map[string]any{
			"t": t, "o": o, "h": h, "l": l, "c": c, "v": v,
		},
	})
}

func headlines(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		http.Error(w, `{"error":"category is required"}`, http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, `{"error":"from must be RFC3339"}`, http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, `{"error":"to must be RFC3339"}`, http.StatusBadRequest)
		return
	}

	type article struct {
		Title       string   `json:"title"`
		Summary     string   `json:"summary"`
		URL         string   `json:"url"`
		PublishedAt string   `json:"published_at"`
		Sentiment   float64  `json:"sentiment"`
		Symbols     []string `json:"symbols"`
	}
	pool := []string{"AAPL", "MSFT", "GOOG", "NVDA", "TSLA", "AMZN"}

	var articles []article
	// One story every six hours inside the window.
	first := from.UTC().Truncate(6 * time.Hour)
	if first.Before(from) {
		first = first.Add(6 * time.Hour)
	}
	for ts := first; ts.Before(to); ts = ts.Add(6 * time.Hour) {
		rng := seededRand(category, ts)
		i := rng.IntN(len(pool))
		articles = append(articles, article{
			Title:       fmt.Sprintf("%s briefing: %s moves markets", category, pool[i]),
			Summary:     fmt.Sprintf("Simulated %s coverage generated for %s.", category, ts.Format("2006-01-02 15:04")),
			URL:         fmt.Sprintf("https://news.example.com/%s/%d", category, ts.Unix()),
			PublishedAt: ts.Format(time.RFC3339),
			Sentiment:   round2(rng.Float64()*2 - 1),
			Symbols:     []string{pool[i], pool[(i+1)%len(pool)]},
		})
	}
	json.NewEncoder(w).Encode(map[string]any{"category": category, "articles": articles})
}

// tradingDays lists UTC midnights in [from, to), weekends excluded.
func tradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	day := from.UTC().Truncate(24 * time.Hour)
	if day.Before(from) {
		day = day.Add(24 * time.Hour)
	}
	for ; day.Before(to); day = day.Add(24 * time.Hour) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, day)
	}
	return days
}

// quote fabricates a plausible OHLCV row, deterministic per symbol and day so
// repeated fetches agree with each other.
func quote(symbol string, day time.Time) (o, h, l, c float64, v int64) {
	rng := seededRand(symbol, day)
	base := 20 + rng.Float64()*480
	o = round2(base)
	c = round2(base * (0.97 + rng.Float64()*0.06))
	h = round2(math.Max(o, c) * (1 + rng.Float64()*0.02))
	l = round2(math.Min(o, c) * (1 - rng.Float64()*0.02))
	v = 100_000 + rng.Int64N(5_000_000)
	return
}

func seededRand(key string, ts time.Time) *rand.Rand {
	seed := fnv.New64a()
	fmt.Fprintf(seed, "%s|%d", key, ts.Unix())
	s := seed.Sum64()
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
