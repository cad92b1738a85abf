package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/dropsminer/internal/model"
	"github.com/kkkkikiki/dropsminer/internal/service"
)

// PollResult gathers aggregated metrics for the polling run.
// LatencySum & P95Latency are in nanoseconds.
type PollResult struct {
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

// pollerConfig is read from POLLER_* environment variables.
type pollerConfig struct {
	BaseURL  string        `env:"BASE_URL,default=http://localhost:8080"`
	Rate     float64       `env:"RATE,default=2"` // status requests per second
	Workers  int           `env:"WORKERS,default=2"`
	Duration time.Duration `env:"DURATION,default=30s"`
	Timeout  time.Duration `env:"TIMEOUT,default=10s"`
}

func main() {
	var cfg pollerConfig
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("POLLER_", envconfig.OsLookuper()),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid poller config: %v\n", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Workers * 2,
			MaxIdleConnsPerHost: cfg.Workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.Timeout,
	}
	client := service.NewMinerServiceClient(httpClient, cfg.BaseURL)

	ids, err := listSessionIDs(client, cfg.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list sessions: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("no sessions registered")
		return
	}

	fmt.Println("==========================================")
	fmt.Println("drops miner status poller")
	fmt.Println("==========================================")
	fmt.Printf("server   : %s\n", cfg.BaseURL)
	fmt.Printf("sessions : %d\n", len(ids))
	fmt.Printf("rate     : %.2f req/s\n", cfg.Rate)
	fmt.Printf("duration : %v\n", cfg.Duration)
	fmt.Println("==========================================")

	burst := cfg.Workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.Rate), burst)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var (
		result  PollResult
		wg      sync.WaitGroup
		next    atomic.Int64
		latestM sync.Mutex
		latest  = make(map[string]model.SessionStatus, len(ids))
	)

	latencyChan := make(chan time.Duration, 1024)
	trackerDone := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(trackerDone)
	}()

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil { // context cancelled → exit
					return
				}
				id := ids[int(next.Add(1)-1)%len(ids)]
				status, ok := pollStatus(client, id, cfg.Timeout, &result, latencyChan)
				if ok {
					latestM.Lock()
					latest[id] = status
					latestM.Unlock()
				}
			}
		}()
	}

	start := time.Now()
	<-ctx.Done()
	wg.Wait()
	close(latencyChan)
	<-trackerDone
	report(time.Since(start), &result, ids, latest)
}

func listSessionIDs(client *service.MinerServiceClient, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.ListSessions(ctx, connect.NewRequest(&service.ListSessionsRequest{}))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Msg.Sessions))
	for _, s := range resp.Msg.Sessions {
		ids = append(ids, s.SessionID)
	}
	sort.Strings(ids)
	return ids, nil
}

// pollStatus performs a single GetStatus RPC and collects metrics.
func pollStatus(client *service.MinerServiceClient, id string, timeout time.Duration, result *PollResult, latencyChan chan<- time.Duration) (model.SessionStatus, bool) {
	// Use independent context to avoid cancellation when the run ends
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.GetStatus(ctx, connect.NewRequest(&service.SessionRequest{SessionID: id}))
	latency := time.Since(start)
	if err != nil {
		atomic.AddInt64(&result.ErrorCount, 1)
		return model.SessionStatus{}, false
	}

	atomic.AddInt64(&result.SuccessCount, 1)
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
	return resp.Msg.Session, true
}

// trackP95 keeps a rolling P95 latency estimate over the last samples.
func trackP95(latencies <-chan time.Duration, result *PollResult) {
	const size = 1000
	buf := make([]int64, 0, size)
	pos := 0

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			buf[pos] = lat.Nanoseconds()
			pos = (pos + 1) % size
		}

		sorted := make([]int64, len(buf))
		copy(sorted, buf)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		atomic.StoreInt64(&result.P95Latency, sorted[idx])
	}
}

func report(elapsed time.Duration, result *PollResult, ids []string, latest map[string]model.SessionStatus) {
	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}

	fmt.Println("==========================================")
	fmt.Printf("elapsed        : %.2fs\n", elapsed.Seconds())
	fmt.Printf("requests       : %d\n", result.TotalRequests)
	fmt.Printf("succeeded      : %d\n", result.SuccessCount)
	fmt.Printf("failed         : %d\n", result.ErrorCount)
	fmt.Printf("avg latency    : %v\n", avgLatency)
	fmt.Printf("p95 latency    : %v\n", time.Duration(result.P95Latency))
	fmt.Println("==========================================")

	for _, id := range ids {
		status, ok := latest[id]
		if !ok {
			fmt.Printf("%-16s unreachable\n", id)
			continue
		}
		c := status.Counts
		fmt.Printf("%-16s %-8s campaigns=%d progress=%d eligible=%d claimed=%d expired=%d exhausted=%d",
			id, status.State, c.Total, c.InProgress, c.Eligible, c.Claimed, c.Expired, c.Exhausted)
		if status.CurrentChannel != "" {
			fmt.Printf(" watching=%s", status.CurrentChannel)
		}
		if status.LastError != "" {
			fmt.Printf(" error=%q", status.LastError)
		}
		fmt.Println()
	}
	fmt.Println("==========================================")
}
