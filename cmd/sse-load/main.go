package main

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

type loadConfig struct {
	StreamURL   string        `env:"STREAM_URL" envDefault:"http://localhost:8080/api/board/stream"`
	Connections int           `env:"SSE_CONNECTIONS" envDefault:"200"`
	Duration    time.Duration `env:"DURATION" envDefault:"2m"`
	Bearer      string        `env:"TEST_BEARER"`
	Stalled     time.Duration `env:"STALL_TIMEOUT" envDefault:"60s"`
	MaxFailRate float64       `env:"MAX_FAILURE_RATE" envDefault:"0.01"`
}

type loadResult struct {
	Attempts uint64
	Failures uint64
	Events   uint64
	Stalled  bool
}

func (r loadResult) failureRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Failures) / float64(r.Attempts)
}

func main() {
	cfg, err := env.ParseAs[loadConfig]()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	res := runLoad(ctx, cfg, &http.Client{})
	log.WithFields(log.Fields{
		"connections":         cfg.Connections,
		"duration_sec":        int(cfg.Duration.Seconds()),
		"events_received":     res.Events,
		"connection_attempts": res.Attempts,
		"connection_failures": res.Failures,
	}).Info("sse load finished")

	if res.Stalled {
		log.Errorf("no events received in %s", cfg.Stalled)
		os.Exit(1)
	}
	if res.Events == 0 || res.failureRate() > cfg.MaxFailRate {
		os.Exit(1)
	}
}

// runLoad holds cfg.Connections streams open until ctx ends, reconnecting
// with backoff. Every "data:" line counts as one event.
func runLoad(ctx context.Context, cfg loadConfig, client *http.Client) loadResult {
	var events, attempts, failures atomic.Uint64
	var stalled atomic.Bool

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(cfg.Connections)
	for i := 0; i < cfg.Connections; i++ {
		go func() {
			defer wg.Done()
			backoff := time.Second
			retry := func() {
				failures.Add(1)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
				}
				backoff = min(backoff*2, 5*time.Second)
			}
			for ctx.Err() == nil {
				attempts.Add(1)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.StreamURL, nil)
				if err != nil {
					retry()
					continue
				}
				if cfg.Bearer != "" {
					req.Header.Set("Authorization", "Bearer "+cfg.Bearer)
				}
				resp, err := client.Do(req)
				if err != nil || resp.StatusCode != http.StatusOK {
					if resp != nil {
						resp.Body.Close()
					}
					if ctx.Err() != nil {
						return
					}
					retry()
					continue
				}
				backoff = time.Second
				scanner := bufio.NewScanner(resp.Body)
				for scanner.Scan() {
					if strings.HasPrefix(scanner.Text(), "data:") {
						events.Add(1)
					}
				}
				resp.Body.Close()
				if ctx.Err() != nil {
					return
				}
				retry()
			}
		}()
	}

	if cfg.Stalled > 0 {
		go func() {
			select {
			case <-time.After(cfg.Stalled):
				if events.Load() == 0 {
					stalled.Store(true)
					cancel()
				}
			case <-ctx.Done():
			}
		}()
	}

	wg.Wait()
	return loadResult{
		Attempts: attempts.Load(),
		Failures: failures.Load(),
		Events:   events.Load(),
		Stalled:  stalled.Load(),
	}
}
