// Command signal_flood sends a mix of valid, replayed, over-hopped, stale and
// malformed datagrams at a node to exercise its admission control.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"github.com/VanDung-dev/tenet-mesh/protocol"
)

// FloodConfig holds configuration for a flood run.
type FloodConfig struct {
	Address     string
	Concurrency int
	Duration    time.Duration
	Rate        int
	HealthURL   string
	ReportFile  string
}

// FloodResult holds the results of a flood run.
type FloodResult struct {
	Sent          int64
	Failed        int64
	ByKind        map[string]int64
	TotalDuration time.Duration
	PacketsPerSec float64
	NodeHealth    json.RawMessage
}

type kind string

const (
	kindFresh   kind = "fresh"
	kindReplay  kind = "replay"
	kindDeep    kind = "deep"
	kindStale   kind = "stale"
	kindGarbage kind = "garbage"
	kindLegacy  kind = "legacy"
)

var allKinds = []kind{kindFresh, kindReplay, kindDeep, kindStale, kindGarbage, kindLegacy}

func main() {
	config := parseFlags()

	fmt.Println("=== tenet-mesh Signal Flood ===")
	fmt.Printf("Target: %s\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Println()

	result, err := runFlood(config)
	if err != nil {
		log.Fatalf("Flood failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() FloodConfig {
	config := FloodConfig{}

	pflag.StringVar(&config.Address, "addr", "127.0.0.1:7400", "Node UDP address")
	pflag.IntVarP(&config.Concurrency, "concurrency", "c", 4, "Number of concurrent senders")
	pflag.DurationVarP(&config.Duration, "duration", "d", 10*time.Second, "Duration of the run")
	pflag.IntVar(&config.Rate, "rate", 0, "Datagrams per second per sender (0 = unthrottled)")
	pflag.StringVar(&config.HealthURL, "health-url", "", "Node /health URL to fetch after the run")
	pflag.StringVarP(&config.ReportFile, "output", "o", "", "Output report file (JSON)")

	pflag.Parse()

	return config
}

type counters struct {
	sent   atomic.Int64
	failed atomic.Int64

	mu     sync.Mutex
	byKind map[string]int64
}

func (c *counters) record(k kind) {
	c.mu.Lock()
	c.byKind[string(k)]++
	c.mu.Unlock()
}

func runFlood(config FloodConfig) (FloodResult, error) {
	target, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return FloodResult{}, fmt.Errorf("resolve %s: %w", config.Address, err)
	}

	c := &counters{byKind: make(map[string]int64)}
	var wg sync.WaitGroup
	stop := make(chan struct{})
	start := time.Now()

	for i := 0; i < config.Concurrency; i++ {
		conn, err := net.ListenPacket("udp", ":0")
		if err != nil {
			close(stop)
			wg.Wait()
			return FloodResult{}, fmt.Errorf("open sender socket: %w", err)
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer conn.Close()
			runSender(id, config, conn, target, stop, c)
		}(i)
	}

	time.Sleep(config.Duration)
	close(stop)
	wg.Wait()

	duration := time.Since(start)
	result := FloodResult{
		Sent:          c.sent.Load(),
		Failed:        c.failed.Load(),
		ByKind:        c.byKind,
		TotalDuration: duration,
		PacketsPerSec: float64(c.sent.Load()) / duration.Seconds(),
	}
	if config.HealthURL != "" {
		result.NodeHealth = fetchHealth(config.HealthURL)
	}
	return result, nil
}

func runSender(id int, config FloodConfig, conn net.PacketConn, target net.Addr, stop chan struct{}, c *counters) {
	sender := fmt.Sprintf("flood-%d", id)
	var last []byte

	var tick <-chan time.Time
	if config.Rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(config.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		default:
		}
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		}

		k := allKinds[rand.IntN(len(allKinds))]
		frame, err := buildFrame(k, sender, last)
		if err != nil {
			c.failed.Add(1)
			continue
		}
		if k == kindFresh {
			last = frame
		}

		if _, err := conn.WriteTo(frame, target); err != nil {
			c.failed.Add(1)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		c.sent.Add(1)
		c.record(k)
	}
}

func buildFrame(k kind, sender string, last []byte) ([]byte, error) {
	now := time.Now()
	sig := protocol.NewSignal(protocol.OperationComplete, sender, map[string]any{
		"operation": "flood probe",
	}, now)

	switch k {
	case kindReplay:
		if last != nil {
			return last, nil
		}
		sig.Metadata = protocol.NewMetadata(sender, now)
	case kindDeep:
		sig.Metadata = protocol.NewMetadata(sender, now)
		sig.Metadata.HopCount = 3
	case kindStale:
		sig.Metadata = protocol.NewMetadata(sender, now.Add(-time.Minute))
	case kindGarbage:
		junk := make([]byte, 4+rand.IntN(32))
		for i := range junk {
			junk[i] = byte(rand.IntN(256))
		}
		return junk, nil
	case kindLegacy:
		sig.Code = protocol.Heartbeat
		sig.Name = protocol.SignalName(protocol.Heartbeat)
	default:
		sig.Metadata = protocol.NewMetadata(sender, now)
	}
	return protocol.EncodeSignal(sig)
}

func fetchHealth(url string) json.RawMessage {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		log.Printf("Failed to fetch health: %v", err)
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || !json.Valid(body) {
		log.Printf("Unexpected health response (status %d)", resp.StatusCode)
		return nil
	}
	return body
}

func printResults(result FloodResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Datagrams sent:  %d\n", result.Sent)
	fmt.Printf("Send failures:   %d\n", result.Failed)
	fmt.Printf("Datagrams/sec:   %.2f\n", result.PacketsPerSec)
	for _, k := range allKinds {
		fmt.Printf("  %-8s %d\n", k, result.ByKind[string(k)])
	}
	if len(result.NodeHealth) > 0 {
		fmt.Printf("Node health:     %s\n", result.NodeHealth)
	}
}

func saveReport(config FloodConfig, result FloodResult) {
	report := map[string]any{
		"config": map[string]any{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"rate":        config.Rate,
		},
		"results": map[string]any{
			"sent":            result.Sent,
			"failed":          result.Failed,
			"by_kind":         result.ByKind,
			"packets_per_sec": result.PacketsPerSec,
			"node_health":     result.NodeHealth,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0o644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
