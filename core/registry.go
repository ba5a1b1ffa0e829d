package core

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/common"
)

// HealthSummary is a point in time view of the registry
type HealthSummary struct {
	Total   int      `json:"total"`
	Healthy int      `json:"healthy"`
	Models  []string `json:"models"`
}

// Registry holds the live worker set. The Reconciler is its only writer of
// membership; health fields are owned by the health loop and the proxy hooks.
type Registry struct {
	mu      sync.RWMutex
	workers map[ethcommon.Address]*Worker

	prober       Prober
	interval     time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	// serialises health passes from the loop and Initialize
	passMu sync.Mutex

	loopMu     sync.Mutex
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

func NewRegistry(prober Prober, interval, probeTimeout time.Duration) *Registry {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Registry{
		workers:      make(map[ethcommon.Address]*Worker),
		prober:       prober,
		interval:     interval,
		probeTimeout: probeTimeout,
		now:          time.Now,
	}
}

// Initialize replaces the worker set, marks everything unhealthy and runs one
// health pass before returning.
func (r *Registry) Initialize(ctx context.Context, workers []*Worker) {
	r.mu.Lock()
	r.workers = make(map[ethcommon.Address]*Worker, len(workers))
	for _, w := range workers {
		cp := w.Copy()
		cp.IsHealthy = false
		r.workers[cp.Address] = cp
	}
	r.mu.Unlock()

	glog.Infof("Initialized worker registry with %d workers", len(workers))
	r.runHealthChecks(ctx)
}

// UpdateOperators reconciles the worker set with the latest ledger view.
// Known workers keep their health, last check time and latency.
func (r *Registry) UpdateOperators(workers []*Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[ethcommon.Address]*Worker, len(workers))
	var added, updated int
	for _, w := range workers {
		cp := w.Copy()
		if prev, ok := r.workers[cp.Address]; ok {
			cp.IsHealthy = prev.IsHealthy
			cp.LastHealthCheck = prev.LastHealthCheck
			cp.LatencyMs = prev.LatencyMs
			updated++
		} else {
			cp.IsHealthy = false
			cp.LastHealthCheck = time.Time{}
			cp.LatencyMs = 0
			added++
		}
		next[cp.Address] = cp
	}
	removed := 0
	for addr := range r.workers {
		if _, ok := next[addr]; !ok {
			removed++
		}
	}
	r.workers = next
	glog.V(common.SHORT).Infof("Updated worker registry added=%d updated=%d removed=%d", added, updated, removed)
}

func (r *Registry) GetAllNodes() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		res = append(res, w.Copy())
	}
	sortByAddress(res)
	return res
}

func (r *Registry) GetHealthyNodes() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*Worker
	for _, w := range r.workers {
		if w.IsHealthy {
			res = append(res, w.Copy())
		}
	}
	sortByAddress(res)
	return res
}

// GetNode returns a copy of the worker registered under addr
func (r *Registry) GetNode(addr ethcommon.Address) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[addr]
	if !ok {
		return nil, false
	}
	return w.Copy(), true
}

// GetAvailableModels returns the sorted union of models served by healthy workers
func (r *Registry) GetAvailableModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableModelsLocked()
}

func (r *Registry) availableModelsLocked() []string {
	set := make(map[string]struct{})
	for _, w := range r.workers {
		if !w.IsHealthy {
			continue
		}
		for _, m := range w.SupportedModels {
			set[m] = struct{}{}
		}
	}
	models := make([]string, 0, len(set))
	for m := range set {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func (r *Registry) IsModelAvailable(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		if w.IsHealthy && w.SupportsModel(model) {
			return true
		}
	}
	return false
}

func (r *Registry) GetHealthySummary() HealthSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	healthy := 0
	for _, w := range r.workers {
		if w.IsHealthy {
			healthy++
		}
	}
	return HealthSummary{
		Total:   len(r.workers),
		Healthy: healthy,
		Models:  r.availableModelsLocked(),
	}
}

// RecordLatency folds a measured exchange duration into the worker's running average
func (r *Registry) RecordLatency(addr ethcommon.Address, measuredMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[addr]
	if !ok {
		return
	}
	w.LatencyMs = int64(math.Round(float64(w.LatencyMs+measuredMs) / 2))
}

func (r *Registry) MarkUnhealthy(addr ethcommon.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[addr]
	if !ok {
		return
	}
	if w.IsHealthy {
		glog.Infof("Marking worker unhealthy addr=%v endpoint=%v", addr.Hex(), w.Endpoint)
	}
	w.IsHealthy = false
}

func sortByAddress(workers []*Worker) {
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].Address.Hex() < workers[j].Address.Hex()
	})
}
