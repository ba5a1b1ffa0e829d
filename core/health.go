package core

import (
	"context"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/monitor"
)

var (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultProbeTimeout        = 5 * time.Second
)

// Prober asks a worker for the models it currently serves
type Prober interface {
	ListModels(ctx context.Context, endpoint string) ([]string, error)
}

type probeTarget struct {
	addr     ethcommon.Address
	endpoint string
}

type probeResult struct {
	probeTarget
	models    []string
	latencyMs int64
	err       error
}

// StartHealthChecks starts the recurring health pass. A loop that is already
// running is cancelled and joined first.
func (r *Registry) StartHealthChecks() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	r.stopLoopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancelLoop = cancel
	r.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runHealthChecks(ctx)
			case <-ctx.Done():
				glog.V(common.DEBUG).Infof("Health check loop done")
				return
			}
		}
	}()
	glog.V(common.SHORT).Infof("Started worker health checks interval=%v", r.interval)
}

func (r *Registry) StopHealthChecks() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.stopLoopLocked()
}

func (r *Registry) HealthChecksRunning() bool {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	return r.cancelLoop != nil
}

func (r *Registry) stopLoopLocked() {
	if r.cancelLoop == nil {
		return
	}
	r.cancelLoop()
	<-r.loopDone
	r.cancelLoop = nil
	r.loopDone = nil
}

// runHealthChecks probes every worker concurrently and returns once all probes finished
func (r *Registry) runHealthChecks(ctx context.Context) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.mu.RLock()
	targets := make([]probeTarget, 0, len(r.workers))
	for addr, w := range r.workers {
		targets = append(targets, probeTarget{addr: addr, endpoint: w.Endpoint})
	}
	r.mu.RUnlock()

	results := make([]probeResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target probeTarget) {
			defer wg.Done()
			results[i] = r.probe(ctx, target)
		}(i, target)
	}
	wg.Wait()

	if ctx.Err() != nil {
		// stopped mid-pass, the results say nothing about the workers
		return
	}

	for _, res := range results {
		r.applyProbeResult(res)
	}

	summary := r.GetHealthySummary()
	monitor.WorkerCounts(summary.Total, summary.Healthy)
	glog.V(common.DEBUG).Infof("Health pass done workers=%d healthy=%d models=%v", summary.Total, summary.Healthy, summary.Models)
}

func (r *Registry) probe(ctx context.Context, target probeTarget) probeResult {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := time.Now()
	models, err := r.prober.ListModels(probeCtx, target.endpoint)
	return probeResult{
		probeTarget: target,
		models:      models,
		latencyMs:   time.Since(start).Milliseconds(),
		err:         err,
	}
}

func (r *Registry) applyProbeResult(res probeResult) {
	r.mu.Lock()
	w, ok := r.workers[res.addr]
	if !ok || w.Endpoint != res.endpoint {
		// removed or re-announced while the probe was in flight
		r.mu.Unlock()
		return
	}
	wasHealthy := w.IsHealthy
	w.LastHealthCheck = r.now()
	if res.err != nil {
		w.IsHealthy = false
	} else {
		w.IsHealthy = true
		w.LatencyMs = res.latencyMs
		w.SupportedModels = append([]string(nil), res.models...)
	}
	event := monitor.WorkerHealthChanged{
		Address:   w.Address.Hex(),
		Endpoint:  w.Endpoint,
		Healthy:   w.IsHealthy,
		LatencyMs: w.LatencyMs,
	}
	r.mu.Unlock()

	monitor.HealthProbe(res.err == nil)
	if res.err != nil {
		glog.V(common.DEBUG).Infof("Health probe failed addr=%v endpoint=%v err=%q", res.addr.Hex(), res.endpoint, res.err)
	}
	if wasHealthy != event.Healthy {
		glog.Infof("Worker health changed addr=%v endpoint=%v healthy=%v", event.Address, event.Endpoint, event.Healthy)
		monitor.SendQueueEventAsync(monitor.EventWorkerHealthChanged, event)
	}
}
