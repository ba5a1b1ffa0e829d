package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubProber struct {
	mu     sync.Mutex
	models map[string][]string
	errs   map[string]error
	delay  time.Duration
	calls  map[string]int

	inflight    int
	maxInflight int
}

func newStubProber() *stubProber {
	return &stubProber{
		models: make(map[string][]string),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (s *stubProber) set(endpoint string, models []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[endpoint] = models
	s.errs[endpoint] = err
}

func (s *stubProber) count(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

func (s *stubProber) ListModels(ctx context.Context, endpoint string) ([]string, error) {
	s.mu.Lock()
	s.calls[endpoint]++
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	models, err, delay := s.models[endpoint], s.errs[endpoint], s.delay
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return models, nil
}

func testWorker(addr, endpoint string, models ...string) *Worker {
	return &Worker{
		Address:          ethcommon.HexToAddress(addr),
		Endpoint:         endpoint,
		SupportedModels:  models,
		PerformanceScore: 0.9,
		StakeWeight:      1,
	}
}

func TestRegistry_InitializeRunsHealthPass(t *testing.T) {
	assert := assert.New(t)
	prober := newStubProber()
	prober.set("http://a", []string{"llama3", "mistral"}, nil)
	prober.set("http://b", nil, errors.New("connection refused"))

	r := NewRegistry(prober, time.Hour, time.Second)
	a := testWorker("0x01", "http://a", "llama3")
	a.IsHealthy = true
	b := testWorker("0x02", "http://b", "llama3")
	b.IsHealthy = true
	r.Initialize(context.Background(), []*Worker{a, b})

	healthy := r.GetHealthyNodes()
	require.Len(t, healthy, 1)
	assert.Equal(a.Address, healthy[0].Address)
	// self-reported models replace the ledger list
	assert.Equal([]string{"llama3", "mistral"}, healthy[0].SupportedModels)
	assert.False(healthy[0].LastHealthCheck.IsZero())

	nb, ok := r.GetNode(b.Address)
	require.True(t, ok)
	assert.False(nb.IsHealthy)
	assert.False(nb.LastHealthCheck.IsZero())

	assert.Equal([]string{"llama3", "mistral"}, r.GetAvailableModels())
	assert.True(r.IsModelAvailable("mistral"))
	assert.False(r.IsModelAvailable("phi3"))
	assert.Equal(HealthSummary{Total: 2, Healthy: 1, Models: []string{"llama3", "mistral"}}, r.GetHealthySummary())

	// callers can't mutate registry state through returned copies
	a.IsHealthy = false
	healthy[0].SupportedModels[0] = "changed"
	assert.Equal([]string{"llama3", "mistral"}, r.GetAvailableModels())
}

func TestRegistry_UpdateOperatorsPreservesHealth(t *testing.T) {
	assert := assert.New(t)
	prober := newStubProber()
	prober.set("http://a", []string{"llama3"}, nil)
	prober.set("http://b", []string{"llama3"}, nil)

	r := NewRegistry(prober, time.Hour, time.Second)
	checked := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return checked }
	r.Initialize(context.Background(), []*Worker{
		testWorker("0x01", "http://a", "llama3"),
		testWorker("0x02", "http://b", "llama3"),
	})
	r.RecordLatency(ethcommon.HexToAddress("0x01"), 301)
	before, _ := r.GetNode(ethcommon.HexToAddress("0x01"))
	require.True(t, before.IsHealthy)

	updated := testWorker("0x01", "http://a", "llama3", "mistral")
	updated.PerformanceScore = 0.5
	updated.StakeWeight = 3
	updated.LatencyMs = 9999
	fresh := testWorker("0x03", "http://c", "phi3")
	fresh.IsHealthy = true
	r.UpdateOperators([]*Worker{updated, fresh})

	all := r.GetAllNodes()
	require.Len(t, all, 2)

	a := all[0]
	assert.Equal(ethcommon.HexToAddress("0x01"), a.Address)
	assert.True(a.IsHealthy)
	assert.Equal(checked, a.LastHealthCheck)
	assert.Equal(before.LatencyMs, a.LatencyMs)
	assert.Equal([]string{"llama3", "mistral"}, a.SupportedModels)
	assert.Equal(0.5, a.PerformanceScore)
	assert.Equal(3.0, a.StakeWeight)

	c := all[1]
	assert.Equal(ethcommon.HexToAddress("0x03"), c.Address)
	assert.False(c.IsHealthy)
	assert.True(c.LastHealthCheck.IsZero())

	_, ok := r.GetNode(ethcommon.HexToAddress("0x02"))
	assert.False(ok)
}

func TestRegistry_FailedProbeKeepsLatency(t *testing.T) {
	assert := assert.New(t)
	prober := newStubProber()
	prober.set("http://a", []string{"llama3"}, nil)

	r := NewRegistry(prober, time.Hour, time.Second)
	r.Initialize(context.Background(), []*Worker{testWorker("0x01", "http://a", "llama3")})
	addr := ethcommon.HexToAddress("0x01")
	r.RecordLatency(addr, 400)
	before, _ := r.GetNode(addr)
	require.True(t, before.IsHealthy)

	prober.set("http://a", nil, errors.New("status 500"))
	later := before.LastHealthCheck.Add(time.Minute)
	r.now = func() time.Time { return later }
	r.runHealthChecks(context.Background())

	after, _ := r.GetNode(addr)
	assert.False(after.IsHealthy)
	assert.Equal(before.LatencyMs, after.LatencyMs)
	assert.Equal(later, after.LastHealthCheck)
	assert.Empty(r.GetAvailableModels())
}

func TestRegistry_ProbeTimeout(t *testing.T) {
	prober := newStubProber()
	prober.set("http://slow", []string{"llama3"}, nil)
	prober.delay = time.Second

	r := NewRegistry(prober, time.Hour, 20*time.Millisecond)
	start := time.Now()
	r.Initialize(context.Background(), []*Worker{testWorker("0x01", "http://slow", "llama3")})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, r.GetHealthyNodes())
}

func TestRegistry_RecordLatency(t *testing.T) {
	assert := assert.New(t)
	r := NewRegistry(newStubProber(), time.Hour, time.Second)
	w := testWorker("0x01", "http://a", "llama3")
	w.LatencyMs = 100
	r.UpdateOperators([]*Worker{w})
	// new workers start without latency
	r.RecordLatency(w.Address, 101)
	n, _ := r.GetNode(w.Address)
	assert.Equal(int64(51), n.LatencyMs)

	r.RecordLatency(w.Address, 150)
	n, _ = r.GetNode(w.Address)
	assert.Equal(int64(101), n.LatencyMs)

	// unknown workers are ignored
	r.RecordLatency(ethcommon.HexToAddress("0x09"), 10)
	r.MarkUnhealthy(ethcommon.HexToAddress("0x09"))
	assert.Len(r.GetAllNodes(), 1)
}

func TestRegistry_MarkUnhealthy(t *testing.T) {
	prober := newStubProber()
	prober.set("http://a", []string{"llama3"}, nil)
	r := NewRegistry(prober, time.Hour, time.Second)
	r.Initialize(context.Background(), []*Worker{testWorker("0x01", "http://a", "llama3")})
	require.True(t, r.IsModelAvailable("llama3"))

	r.MarkUnhealthy(ethcommon.HexToAddress("0x01"))
	assert.False(t, r.IsModelAvailable("llama3"))
	assert.Equal(t, 0, r.GetHealthySummary().Healthy)
}

func TestRegistry_HealthLoop(t *testing.T) {
	defer goleak.VerifyNone(t, common.IgnoreRoutines()...)

	prober := newStubProber()
	prober.set("http://a", []string{"llama3"}, nil)
	r := NewRegistry(prober, 10*time.Millisecond, time.Second)
	r.UpdateOperators([]*Worker{testWorker("0x01", "http://a", "llama3")})

	assert.False(t, r.HealthChecksRunning())
	r.StartHealthChecks()
	// restarting replaces the running loop
	r.StartHealthChecks()
	assert.True(t, r.HealthChecksRunning())

	assert.Eventually(t, func() bool {
		return r.IsModelAvailable("llama3") && prober.count("http://a") >= 2
	}, time.Second, 5*time.Millisecond)

	r.StopHealthChecks()
	assert.False(t, r.HealthChecksRunning())
	calls := prober.count("http://a")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, prober.count("http://a"))

	// stopping twice is fine
	r.StopHealthChecks()
}

func TestRegistry_InitializeDoesNotOverlapLoop(t *testing.T) {
	defer goleak.VerifyNone(t, common.IgnoreRoutines()...)

	prober := newStubProber()
	prober.set("http://a", []string{"llama3"}, nil)
	prober.delay = 20 * time.Millisecond
	workers := []*Worker{testWorker("0x01", "http://a", "llama3")}

	r := NewRegistry(prober, time.Millisecond, time.Second)
	r.UpdateOperators(workers)
	r.StartHealthChecks()
	defer r.StopHealthChecks()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Initialize(context.Background(), workers)
		}()
	}
	wg.Wait()

	prober.mu.Lock()
	defer prober.mu.Unlock()
	// a single worker is never probed twice at once
	assert.Equal(t, 1, prober.maxInflight)
}

func TestRegistry_ProbeResultForReplacedEndpoint(t *testing.T) {
	prober := newStubProber()
	r := NewRegistry(prober, time.Hour, time.Second)
	r.UpdateOperators([]*Worker{testWorker("0x01", "http://new", "llama3")})

	r.applyProbeResult(probeResult{
		probeTarget: probeTarget{addr: ethcommon.HexToAddress("0x01"), endpoint: "http://old"},
		models:      []string{"llama3"},
		latencyMs:   10,
	})
	n, _ := r.GetNode(ethcommon.HexToAddress("0x01"))
	assert.False(t, n.IsHealthy)
	assert.True(t, n.LastHealthCheck.IsZero())
}
