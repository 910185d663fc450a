package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	batchSize   int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64
	fail4xx       uint64
	failOther     uint64
	txSubmitted   uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&batchSize, "batch", 5, "Transactions per sync batch")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Batch: %d | Duration: %s", workload, concurrency, batchSize, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, i, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, id int, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	seq := 0
	for time.Since(start) < duration {
		sender := pickUser()
		txs := make([]map[string]interface{}, 0, batchSize)
		for i := 0; i < batchSize; i++ {
			seq++
			txs = append(txs, map[string]interface{}{
				"transaction_id":   fmt.Sprintf("bench-%d-%d-%d", id, seq, time.Now().UnixNano()),
				"sender_user_id":   sender,
				"receiver_user_id": pickUser(),
				"amount":           int64(100),
				"sender_signature": "bench-signature",
			})
		}

		payload := map[string]interface{}{
			"user_id":      sender,
			"transactions": txs,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/sync", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		atomic.AddUint64(&txSubmitted, uint64(batchSize))
		switch {
		case resp.StatusCode == 200:
			atomic.AddUint64(&success200, 1)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickUser() string {
	// Assumes 1000 users seeded (user-0001 .. user-1000)
	totalUsers := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of credits land on two users, maximizing contention
		// on their balance rows.
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return "user-0001"
			}
			return "user-0002"
		}
	}

	return fmt.Sprintf("user-%04d", rand.Intn(totalUsers)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f4 := atomic.LoadUint64(&fail4xx)
	fErr := atomic.LoadUint64(&failOther)
	txs := atomic.LoadUint64(&txSubmitted)

	tps := float64(txs) / d.Seconds()

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"tx_submitted":    txs,
		"throughput_tps":  tps,
		"success_synced":  s200,
		"client_errors":   f4,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
