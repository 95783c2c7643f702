package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/auth"
	"github.com/punchamoorthee/refundops/internal/domain"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	seedFile    string
	jwtSecret   string
	jwtIssuer   string
)

var (
	totalRequests uint64
	created201    uint64
	conflict409   uint64 // open request already exists
	rejected422   uint64 // bounds or balance
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&seedFile, "seed", "seed-users.json", "User ids written by the seeder")
	flag.StringVar(&jwtSecret, "secret", os.Getenv("JWT_SECRET"), "Token signing secret")
	flag.StringVar(&jwtIssuer, "issuer", "refundops", "Token issuer")
}

func main() {
	flag.Parse()

	taskerTokens, err := loadTokens()
	if err != nil {
		log.Fatalf("Unable to prepare tokens: %v", err)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Taskers: %d", workload, concurrency, duration, len(taskerTokens))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, taskerTokens)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func loadTokens() ([]string, error) {
	raw, err := os.ReadFile(seedFile)
	if err != nil {
		return nil, err
	}
	var seeded struct {
		Taskers []uuid.UUID `json:"taskers"`
	}
	if err := json.Unmarshal(raw, &seeded); err != nil {
		return nil, err
	}
	if len(seeded.Taskers) == 0 {
		return nil, errors.New("seed file lists no taskers")
	}
	if jwtSecret == "" {
		jwtSecret = "refundops-dev-secret"
	}
	tokens, err := auth.NewTokens(jwtSecret, jwtIssuer)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seeded.Taskers))
	for _, id := range seeded.Taskers {
		t, err := tokens.Issue(id, domain.RoleTasker, duration+time.Hour)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func worker(wg *sync.WaitGroup, start time.Time, tokens []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		token := pickTasker(tokens)
		body, _ := json.Marshal(map[string]any{"amount": 50 + rand.Intn(200)})

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/refund-requests", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&created201, 1)
		case http.StatusConflict:
			atomic.AddUint64(&conflict409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickTasker concentrates 90% of hotspot traffic on two taskers so that
// concurrent creates for the same wallet race.
func pickTasker(tokens []string) string {
	if workload == "hotspot" && len(tokens) >= 2 && rand.Float32() < 0.90 {
		return tokens[rand.Intn(2)]
	}
	return tokens[rand.Intn(len(tokens))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	c201 := atomic.LoadUint64(&created201)
	c409 := atomic.LoadUint64(&conflict409)
	c422 := atomic.LoadUint64(&rejected422)
	fErr := atomic.LoadUint64(&failOther)

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(c409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    float64(total) / d.Seconds(),
		"created":           c201,
		"open_conflicts":    c409,
		"conflict_rate_pct": conflictRate,
		"rejected":          c422,
		"errors":            fErr,
	}

	// JSON summary on stdout so runs can be diffed
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}
