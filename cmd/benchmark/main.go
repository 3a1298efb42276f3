package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
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
	requests    int
	amount      string
	username    string
	password    string
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Reserved
	fail422       uint64 // Insufficient funds
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.IntVar(&requests, "requests", 100, "Total withdrawal submissions")
	flag.StringVar(&amount, "amount", "1.00", "Amount per withdrawal in dollars")
	flag.StringVar(&username, "user", "bench", "Seeded user to withdraw from")
	flag.StringVar(&password, "password", "secret123", "Password of the seeded user")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %d withdrawals of $%s | Workers: %d", requests, amount, concurrency)

	client := &http.Client{Timeout: 5 * time.Second}
	token, err := login(client)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(concurrency)

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		go worker(&wg, client, token, jobs)
	}
	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	printResults(time.Since(start))
}

func login(client *http.Client) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := client.Post(targetURL+"/api/v1/auth/login", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", err
	}
	return session.Token, nil
}

func worker(wg *sync.WaitGroup, client *http.Client, token string, jobs <-chan int) {
	defer wg.Done()

	for i := range jobs {
		payload := map[string]interface{}{
			"amount":        amount,
			"method":        "bank",
			"accountTitle":  "Benchmark",
			"accountNumber": fmt.Sprintf("PK%08d", i),
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/withdrawals", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	results := map[string]interface{}{
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     float64(total) / d.Seconds(),
		"reserved":           s201,
		"insufficient_funds": f422,
		"errors":             fErr,
	}

	// With a balance B and amount A, reserved should equal min(requests, floor(B/A)).
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_withdrawals.json")
	if err != nil {
		log.Printf("save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
