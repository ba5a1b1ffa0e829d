package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// PerformanceScoreDenominator converts the basis-point score stored on chain to [0, 1]
	PerformanceScoreDenominator = big.NewInt(10000)
	// StakeWeightDenominator converts the 18 decimal fixed point stake weight to a float
	StakeWeightDenominator = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	ErrOperatorNotRegistered = fmt.Errorf("operator not registered")
)

// Operator is the ledger view of a single inference operator
type Operator struct {
	Address          common.Address
	Endpoint         string
	Models           []string
	StakeAmount      *big.Int
	PerformanceScore *big.Int
	StakeWeight      *big.Int
	Active           bool
}

func (o *Operator) String() string {
	return fmt.Sprintf("Address: %v Endpoint: %v Models: %v StakeAmount: %v PerformanceScore: %v StakeWeight: %v Active: %v",
		o.Address.Hex(), o.Endpoint, o.Models, o.StakeAmount, o.PerformanceScore, o.StakeWeight, o.Active)
}

// EpochStats are the usage counters the ledger holds for an operator in the current epoch
type EpochStats struct {
	Requests         *big.Int
	Successful       *big.Int
	AvgLatencyMs     *big.Int
	WeightedRequests *big.Int
	EstimatedReward  *big.Int
}

// NewEpochStats returns zeroed stats
func NewEpochStats() *EpochStats {
	return &EpochStats{
		Requests:         big.NewInt(0),
		Successful:       big.NewInt(0),
		AvgLatencyMs:     big.NewInt(0),
		WeightedRequests: big.NewInt(0),
		EstimatedReward:  big.NewInt(0),
	}
}

// RequestCounts is one operator's entry in a usage commit
type RequestCounts struct {
	Operator       common.Address
	Requests       *big.Int
	Successful     *big.Int
	TotalLatencyMs *big.Int
}
