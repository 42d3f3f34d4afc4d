// Kestrel - Live risk scoring over the transaction graph.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Transaction simulator for exercising a running Kestrel instance.
//
// Usage:
//   go run cmd/kestrel-sim/main.go -url http://localhost:8080 -interval 800ms
//
// The simulator posts randomized transactions between a fixed roster of
// businesses, periodically forcing the patterns the rules look for:
// self loops, rapid bursts, and high value outliers.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var businesses = []string{
	"acme-logistics",
	"globex-trading",
	"initech-systems",
	"umbrella-holdings",
	"stark-industrial",
	"wayne-enterprises",
	"tyrell-imports",
	"wonka-confections",
	"soylent-foods",
	"cyberdyne-labs",
	"oceanic-freight",
	"hooli-payments",
}

// TransactionRequest matches the POST /transactions body.
type TransactionRequest struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// TransactionResponse is the subset of the ingest response we report on.
type TransactionResponse struct {
	Alerts []struct {
		Alert struct {
			Type     string  `json:"type"`
			Severity string  `json:"severity"`
			Amount   float64 `json:"amount"`
		} `json:"alert"`
	} `json:"alerts"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	interval := flag.Duration("interval", 800*time.Millisecond, "Delay between transactions")
	limit := flag.Int("limit", 0, "Stop after N transactions (0 = run until interrupted)")
	seed := flag.Int64("seed", 0, "Random seed (0 = time-based)")
	selfLoopPct := flag.Float64("self-loops", 0.05, "Fraction of transactions that are self loops")
	highValuePct := flag.Float64("high-value", 0.08, "Fraction of transactions with outlier amounts")
	burstPct := flag.Float64("bursts", 0.06, "Chance per tick of emitting a burst")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL TRANSACTION SIMULATOR          ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
	fmt.Printf("\nTarget:    %s\n", *baseURL)
	fmt.Printf("Interval:  %s\n", *interval)
	fmt.Printf("Seed:      %d\n\n", *seed)

	client := &http.Client{Timeout: 10 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var sent, alerted, failed int
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigCh:
			break loop
		case <-ticker.C:
			var batch []TransactionRequest

			switch {
			case rng.Float64() < *burstPct:
				// Hammer one pair hard enough to trip the burst rule
				from, to := randomPair(rng)
				for i := 0; i < 5; i++ {
					batch = append(batch, TransactionRequest{
						From:   from,
						To:     to,
						Amount: randomAmount(rng),
					})
				}
			case rng.Float64() < *selfLoopPct:
				id := businesses[rng.Intn(len(businesses))]
				batch = append(batch, TransactionRequest{
					From:   id,
					To:     id,
					Amount: randomAmount(rng),
				})
			default:
				from, to := randomPair(rng)
				amount := randomAmount(rng)
				if rng.Float64() < *highValuePct {
					amount = 95000 + rng.Float64()*250000
				}
				batch = append(batch, TransactionRequest{
					From:   from,
					To:     to,
					Amount: amount,
				})
			}

			for _, tx := range batch {
				alerts, err := post(client, *baseURL, tx)
				sent++
				if err != nil {
					failed++
					fmt.Printf("  ! %s -> %s failed: %v\n", tx.From, tx.To, err)
					continue
				}
				if alerts > 0 {
					alerted++
					fmt.Printf("  ⚠ %s -> %s  %.2f  (%d alerts)\n", tx.From, tx.To, tx.Amount, alerts)
				}
			}

			if *limit > 0 && sent >= *limit {
				break loop
			}
		}
	}

	fmt.Printf("\nSent:     %d\n", sent)
	fmt.Printf("Alerted:  %d\n", alerted)
	fmt.Printf("Failed:   %d\n", failed)
}

func randomPair(rng *rand.Rand) (string, string) {
	from := businesses[rng.Intn(len(businesses))]
	to := businesses[rng.Intn(len(businesses))]
	for to == from {
		to = businesses[rng.Intn(len(businesses))]
	}
	return from, to
}

// randomAmount skews small: mostly routine payments, a long tail upward.
func randomAmount(rng *rand.Rand) float64 {
	base := rng.Float64() * rng.Float64() * 20000
	return float64(int(base*100)) / 100
}

func post(client *http.Client, baseURL string, tx TransactionRequest) (int, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return 0, err
	}

	resp, err := client.Post(baseURL+"/transactions", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed TransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return len(parsed.Alerts), nil
}
