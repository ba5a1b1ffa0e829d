package core

import (
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/livepeer/go-llm-gateway/common"
	lpTypes "github.com/livepeer/go-llm-gateway/eth/types"
)

// Worker is one inference endpoint announced on the ledger by an operator.
type Worker struct {
	Address          ethcommon.Address
	Endpoint         string
	SupportedModels  []string
	IsHealthy        bool
	LastHealthCheck  time.Time
	LatencyMs        int64
	PerformanceScore float64
	StakeWeight      float64
}

// Copy returns a deep copy so callers never alias registry state
func (w *Worker) Copy() *Worker {
	if w == nil {
		return nil
	}
	cp := *w
	cp.SupportedModels = append([]string(nil), w.SupportedModels...)
	return &cp
}

func (w *Worker) SupportsModel(model string) bool {
	for _, m := range w.SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}

func (w *Worker) String() string {
	return fmt.Sprintf("addr=%v endpoint=%v healthy=%v latencyMs=%v perfScore=%v stakeWeight=%v models=%v",
		w.Address.Hex(), w.Endpoint, w.IsHealthy, w.LatencyMs, w.PerformanceScore, w.StakeWeight, w.SupportedModels)
}

// NewWorkerFromOperator converts ledger fixed point values to the registry representation
func NewWorkerFromOperator(op *lpTypes.Operator) *Worker {
	return &Worker{
		Address:          op.Address,
		Endpoint:         op.Endpoint,
		SupportedModels:  append([]string(nil), op.Models...),
		PerformanceScore: common.FixedToFloat(op.PerformanceScore, lpTypes.PerformanceScoreDenominator),
		StakeWeight:      common.FixedToFloat(op.StakeWeight, lpTypes.StakeWeightDenominator),
	}
}

// NewWorkerFromDB rebuilds a worker from the operator cache
func NewWorkerFromDB(op *common.DBOperator) *Worker {
	return &Worker{
		Address:          ethcommon.HexToAddress(op.EthereumAddr),
		Endpoint:         op.Endpoint,
		SupportedModels:  append([]string(nil), op.SupportedModels...),
		PerformanceScore: op.PerformanceScore,
		StakeWeight:      op.StakeWeight,
	}
}

func copyWorkers(workers []*Worker) []*Worker {
	res := make([]*Worker, 0, len(workers))
	for _, w := range workers {
		res = append(res, w.Copy())
	}
	return res
}
