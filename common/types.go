package common

import (
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// OperatorStore caches the ledger's operator set so it can be served when the
// ledger is unreachable.
type OperatorStore interface {
	UpdateOperator(op *DBOperator) error
	SelectOperators(filter *DBOperatorFilter) ([]*DBOperator, error)
}

// UsageLog is the durable per-request audit trail of reported usage.
type UsageLog interface {
	InsertUsageLog(rec *UsageLogRecord) (int64, error)
	MarkUsageLogsSynced(ids []int64, batchID string) error
	UnsyncedUsageLogs(limit int) ([]*UsageLogRecord, error)
}

type DBOperator struct {
	EthereumAddr     string
	Endpoint         string
	SupportedModels  []string
	StakeAmount      string
	PerformanceScore float64
	StakeWeight      float64
	Active           bool
	UpdatedAt        time.Time
}

type DBOperatorFilter struct {
	Addresses  []ethcommon.Address
	ActiveOnly bool
}

type UsageLogRecord struct {
	ID              int64
	OperatorAddress string
	Model           string
	InputTokens     int64
	OutputTokens    int64
	LatencyMs       int64
	Success         bool
	Synced          bool
	BatchID         string
	CreatedAt       time.Time
}

func NewDBOperator(addr ethcommon.Address, endpoint string) *DBOperator {
	return &DBOperator{
		EthereumAddr: addr.Hex(),
		Endpoint:     endpoint,
	}
}
