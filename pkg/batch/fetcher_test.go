package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/pkg/manager"
	"github.com/seolytics/apicache/pkg/ratelimit"
)

// fakePoster records calls and replays scripted outcomes.
type fakePoster struct {
	mu       sync.Mutex
	calls    int32
	inflight int32
	peak     int32

	// denials is how many initial calls per payload key get a
	// rate-limit denial before succeeding.
	denials map[string]int

	failKeys map[string]bool
}

func payloadKey(payload map[string]any) string {
	return fmt.Sprintf("%v", payload["q"])
}

func (p *fakePoster) Post(ctx context.Context, endpoint string, payload map[string]any) (*manager.Response, error) {
	cur := atomic.AddInt32(&p.inflight, 1)
	defer atomic.AddInt32(&p.inflight, -1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, cur) {
			break
		}
	}
	atomic.AddInt32(&p.calls, 1)

	key := payloadKey(payload)

	p.mu.Lock()
	if p.denials[key] > 0 {
		p.denials[key]--
		p.mu.Unlock()
		return nil, &ratelimit.ExceededError{Client: "vendor", AvailableIn: time.Millisecond}
	}
	fail := p.failKeys[key]
	p.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("upstream broken for %s", key)
	}

	time.Sleep(time.Millisecond)
	return &manager.Response{StatusCode: 200, Body: []byte(key)}, nil
}

func payloads(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"q": i}
	}
	return out
}

func TestFetchAll_AllSucceed(t *testing.T) {
	poster := &fakePoster{}
	f := NewFetcher(poster, Config{MaxConcurrency: 4, Timeout: time.Second}, zerolog.Nop())

	results, err := f.FetchAll(context.Background(), "e", payloads(20))
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("len(results) = %d, want 20", len(results))
	}

	for i, r := range results {
		if r.Err != nil {
			t.Errorf("payload %d failed: %v", i, r.Err)
			continue
		}
		if r.Index != i || string(r.Response.Body) != fmt.Sprintf("%d", i) {
			t.Errorf("result %d = index %d body %q, want matching payload", i, r.Index, r.Response.Body)
		}
	}

	if peak := atomic.LoadInt32(&poster.peak); peak > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", peak)
	}
}

func TestFetchAll_FailuresAreIsolated(t *testing.T) {
	poster := &fakePoster{failKeys: map[string]bool{"3": true}}
	f := NewFetcher(poster, Config{MaxConcurrency: 2, Timeout: time.Second}, zerolog.Nop())

	results, err := f.FetchAll(context.Background(), "e", payloads(6))
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			if r.Index != 3 {
				t.Errorf("unexpected failure at index %d", r.Index)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want exactly 1", failed)
	}
}

func TestFetchAll_WaitsOutRateLimit(t *testing.T) {
	poster := &fakePoster{denials: map[string]int{"0": 2}}
	f := NewFetcher(poster, Config{
		MaxConcurrency:   1,
		Timeout:          time.Second,
		WaitOnRateLimit:  true,
		MaxRateLimitWait: time.Second,
	}, zerolog.Nop())

	results, err := f.FetchAll(context.Background(), "e", payloads(1))
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("payload failed despite retry: %v", results[0].Err)
	}
	// Two denials plus the success.
	if calls := atomic.LoadInt32(&poster.calls); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFetchAll_RateLimitFailsWhenNotWaiting(t *testing.T) {
	poster := &fakePoster{denials: map[string]int{"0": 1}}
	f := NewFetcher(poster, Config{MaxConcurrency: 1, Timeout: time.Second}, zerolog.Nop())

	results, err := f.FetchAll(context.Background(), "e", payloads(1))
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if results[0].Err == nil {
		t.Error("expected rate-limit error to surface")
	}
}

func TestFetchAll_ContextCancellation(t *testing.T) {
	poster := &fakePoster{}
	f := NewFetcher(poster, Config{MaxConcurrency: 1, Timeout: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := f.FetchAll(ctx, "e", payloads(5))
	if err == nil {
		t.Error("expected context error")
	}
	for _, r := range results {
		if r.Err == nil {
			t.Errorf("payload %d succeeded after cancellation", r.Index)
		}
	}
}
