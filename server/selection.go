package server

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/livepeer/go-llm-gateway/clog"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/core"
	"github.com/livepeer/go-llm-gateway/monitor"
)

// NodeSource provides the current healthy workers
type NodeSource interface {
	GetHealthyNodes() []*core.Worker
}

// NodeSelector picks one worker per request from a registry snapshot
type NodeSelector struct {
	nodes NodeSource
	algo  ScoreSelectionAlgorithm

	mu  sync.Mutex
	rng *rand.Rand
}

func NewNodeSelector(nodes NodeSource, algo ScoreSelectionAlgorithm, rng *rand.Rand) *NodeSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &NodeSelector{nodes: nodes, algo: algo, rng: rng}
}

// SelectNode returns a healthy worker serving model, or false if there is none
func (s *NodeSelector) SelectNode(ctx context.Context, model string) (*core.Worker, bool) {
	workers := s.nodes.GetHealthyNodes()

	s.mu.Lock()
	w := s.algo.Select(ctx, workers, model, s.rng)
	s.mu.Unlock()

	monitor.WorkerSelected(w != nil)
	if w == nil {
		clog.V(common.SHORT).Infof(ctx, "No worker available model=%v healthy=%d", model, len(workers))
		return nil, false
	}
	clog.V(common.DEBUG).Infof(ctx, "Selected worker %v", w)
	return w, true
}
