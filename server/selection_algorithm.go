package server

import (
	"context"
	"math/rand"
	"sort"

	"github.com/livepeer/go-llm-gateway/clog"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/core"
)

// DefaultShortlistSize is how many of the best scored workers share the load
const DefaultShortlistSize = 3

// ScoreSelectionAlgorithm ranks workers by reputation and stake discounted by
// latency, then picks among the best few weighted by reputation and stake.
type ScoreSelectionAlgorithm struct {
	ShortlistSize int
}

type scoredWorker struct {
	worker *core.Worker
	score  float64
}

func (sa ScoreSelectionAlgorithm) Select(ctx context.Context, workers []*core.Worker, model string, r *rand.Rand) *core.Worker {
	candidates := sa.filter(workers, model)
	if len(candidates) == 0 {
		return nil
	}
	shortlist := sa.shortlist(candidates)
	clog.V(common.DEBUG).Infof(ctx, "Selecting worker candidates=%d shortlist=%d", len(candidates), len(shortlist))
	return selectBy(shortlist, r)
}

// filter keeps the healthy workers serving model
func (sa ScoreSelectionAlgorithm) filter(workers []*core.Worker, model string) []*core.Worker {
	var res []*core.Worker
	for _, w := range workers {
		if w != nil && w.IsHealthy && w.SupportsModel(model) {
			res = append(res, w)
		}
	}
	return res
}

func score(w *core.Worker) float64 {
	latency := float64(w.LatencyMs)
	if latency < 0 {
		latency = 0
	}
	return w.PerformanceScore * w.StakeWeight / (1 + latency/1000)
}

func weight(w *core.Worker) float64 {
	return w.PerformanceScore * w.StakeWeight
}

// shortlist returns the best scored candidates, ties broken by address
func (sa ScoreSelectionAlgorithm) shortlist(candidates []*core.Worker) []*core.Worker {
	size := sa.ShortlistSize
	if size <= 0 {
		size = DefaultShortlistSize
	}

	scored := make([]scoredWorker, 0, len(candidates))
	for _, w := range candidates {
		scored = append(scored, scoredWorker{worker: w, score: score(w)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].worker.Address.Hex() < scored[j].worker.Address.Hex()
	})

	if len(scored) > size {
		scored = scored[:size]
	}
	res := make([]*core.Worker, 0, len(scored))
	for _, s := range scored {
		res = append(res, s.worker)
	}
	return res
}

func selectBy(shortlist []*core.Worker, r *rand.Rand) *core.Worker {
	if len(shortlist) == 0 {
		return nil
	}

	var total float64
	for _, w := range shortlist {
		if wt := weight(w); wt > 0 {
			total += wt
		}
	}
	if total <= 0 {
		return shortlist[0]
	}

	target := r.Float64() * total
	var cum float64
	for _, w := range shortlist {
		if wt := weight(w); wt > 0 {
			cum += wt
		}
		if target < cum {
			return w
		}
	}

	// float precision corner case
	return shortlist[0]
}
