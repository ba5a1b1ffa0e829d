package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/eth"
	lpTypes "github.com/livepeer/go-llm-gateway/eth/types"
	"github.com/livepeer/go-llm-gateway/monitor"
	"github.com/patrickmn/go-cache"
)

var (
	ErrReconcilerInitialized = errors.New("reconciler already initialized")
	ErrReconcilerNotReady    = errors.New("reconciler not initialized")
	ErrOperatorNotFound      = errors.New("operator not found")
	ErrNoOperators           = errors.New("no operators available from the ledger or the cache")

	DefaultFlushInterval        = 60 * time.Second
	DefaultCacheRefreshInterval = 5 * time.Minute
	DefaultLedgerReadCacheTTL   = 15 * time.Second
)

const lastKnownOperatorsKey = "operators"

// Store is the persistence the Reconciler needs
type Store interface {
	common.OperatorStore
	common.UsageLog
}

// LedgerDialer establishes the ledger handles, retrying as it sees fit
type LedgerDialer func(ctx context.Context) (eth.LedgerClient, error)

type ReconcilerConfig struct {
	FlushInterval        time.Duration
	CacheRefreshInterval time.Duration
	ReadCacheTTL         time.Duration
}

// OperatorDetails is the ledger view of an operator merged with its pending rewards
type OperatorDetails struct {
	Address          string   `json:"address"`
	Endpoint         string   `json:"endpoint"`
	Models           []string `json:"models"`
	StakeAmount      *big.Int `json:"stakeAmount"`
	PerformanceScore float64  `json:"performanceScore"`
	StakeWeight      float64  `json:"stakeWeight"`
	Active           bool     `json:"active"`
	PendingRewards   *big.Int `json:"pendingRewards,omitempty"`
	FromCache        bool     `json:"fromCache"`
}

// Reconciler keeps the Registry in line with the ledger and commits buffered
// usage back to it.
type Reconciler struct {
	registry *Registry
	dial     LedgerDialer
	store    Store
	cfg      ReconcilerConfig

	initMu sync.Mutex

	mu          sync.Mutex
	client      eth.LedgerClient
	initialized bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	buffer  *usageBuffer
	flushMu sync.Mutex

	// last known operator set and short lived ledger reads
	cache *cache.Cache
}

func NewReconciler(registry *Registry, dial LedgerDialer, store Store, cfg ReconcilerConfig) *Reconciler {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.CacheRefreshInterval <= 0 {
		cfg.CacheRefreshInterval = DefaultCacheRefreshInterval
	}
	if cfg.ReadCacheTTL <= 0 {
		cfg.ReadCacheTTL = DefaultLedgerReadCacheTTL
	}
	return &Reconciler{
		registry: registry,
		dial:     dial,
		store:    store,
		cfg:      cfg,
		buffer:   newUsageBuffer(),
		cache:    cache.New(cfg.ReadCacheTTL, time.Minute),
	}
}

// Initialize connects to the ledger, populates the Registry and starts the
// flush and cache refresh loops. It may only succeed once.
func (r *Reconciler) Initialize(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.IsInitialized() {
		return ErrReconcilerInitialized
	}

	client, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("could not establish ledger handles: %w", err)
	}

	workers, fromLedger, err := r.fetchOperators(ctx, client)
	if err != nil {
		glog.Errorf("Starting with an empty worker registry err=%q", err)
	}
	if fromLedger {
		r.cacheOperators(workers)
	}
	r.registry.Initialize(ctx, workers)
	if !r.registry.HealthChecksRunning() {
		r.registry.StartHealthChecks()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.client = client
	r.cancel = cancel
	r.initialized = true
	r.mu.Unlock()

	r.wg.Add(2)
	go r.runLoop(loopCtx, r.cfg.FlushInterval, func(ctx context.Context) {
		if err := r.SyncRequestsToChain(ctx); err != nil {
			glog.Errorf("Usage flush failed, will retry in %v err=%q", r.cfg.FlushInterval, err)
		}
	})
	go r.runLoop(loopCtx, r.cfg.CacheRefreshInterval, func(ctx context.Context) {
		if err := r.SyncOperatorsToCache(ctx); err != nil {
			glog.Errorf("Operator refresh failed err=%q", err)
		}
	})

	glog.Infof("Reconciler initialized workers=%d flushInterval=%v refreshInterval=%v", len(workers), r.cfg.FlushInterval, r.cfg.CacheRefreshInterval)
	return nil
}

func (r *Reconciler) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

func (r *Reconciler) ledger() eth.LedgerClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// GetActiveOperators returns the ledger's active operator set, falling back to
// the last known set when the ledger can't be read.
func (r *Reconciler) GetActiveOperators(ctx context.Context) ([]*Worker, error) {
	workers, _, err := r.fetchOperators(ctx, r.ledger())
	return workers, err
}

func (r *Reconciler) fetchOperators(ctx context.Context, client eth.LedgerClient) ([]*Worker, bool, error) {
	workers, err := r.readOperators(ctx, client)
	if err == nil {
		return workers, true, nil
	}

	glog.Warningf("Could not read active operators from the ledger, using last known set err=%q", err)
	monitor.LedgerReadFallback("getActiveOperators")

	if cached, ok := r.cache.Get(lastKnownOperatorsKey); ok {
		return copyWorkers(cached.([]*Worker)), false, nil
	}

	ops, dbErr := r.store.SelectOperators(&common.DBOperatorFilter{ActiveOnly: true})
	if dbErr != nil {
		glog.Errorf("Could not read operator cache err=%q", dbErr)
	}
	if len(ops) == 0 {
		return nil, false, fmt.Errorf("%w: %v", ErrNoOperators, err)
	}
	workers = make([]*Worker, 0, len(ops))
	for _, op := range ops {
		workers = append(workers, NewWorkerFromDB(op))
	}
	return workers, false, nil
}

func (r *Reconciler) readOperators(ctx context.Context, client eth.LedgerClient) ([]*Worker, error) {
	if client == nil {
		return nil, ErrReconcilerNotReady
	}
	addrs, err := client.GetActiveOperators(ctx)
	if err != nil {
		return nil, err
	}

	workers := make([]*Worker, 0, len(addrs))
	seen := make(map[ethcommon.Address]bool, len(addrs))
	for _, addr := range addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true

		op, err := client.GetOperator(ctx, addr)
		if errors.Is(err, lpTypes.ErrOperatorNotRegistered) {
			glog.Warningf("Active operator is not registered, skipping addr=%v", addr.Hex())
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := common.ParseEndpoint(op.Endpoint); err != nil {
			glog.Warningf("Operator has an invalid endpoint, skipping addr=%v endpoint=%q err=%q", addr.Hex(), op.Endpoint, err)
			continue
		}
		r.storeOperator(op)
		workers = append(workers, NewWorkerFromOperator(op))
	}
	return workers, nil
}

func (r *Reconciler) storeOperator(op *lpTypes.Operator) {
	dbo := common.NewDBOperator(op.Address, op.Endpoint)
	dbo.SupportedModels = op.Models
	if op.StakeAmount != nil {
		dbo.StakeAmount = op.StakeAmount.String()
	}
	dbo.PerformanceScore = common.FixedToFloat(op.PerformanceScore, lpTypes.PerformanceScoreDenominator)
	dbo.StakeWeight = common.FixedToFloat(op.StakeWeight, lpTypes.StakeWeightDenominator)
	dbo.Active = op.Active
	if err := r.store.UpdateOperator(dbo); err != nil {
		glog.Errorf("Could not cache operator addr=%v err=%q", op.Address.Hex(), err)
	}
}

func (r *Reconciler) cacheOperators(workers []*Worker) {
	r.cache.Set(lastKnownOperatorsKey, copyWorkers(workers), cache.NoExpiration)
}

// SyncOperatorsToCache refreshes the operator cache and the Registry from the ledger
func (r *Reconciler) SyncOperatorsToCache(ctx context.Context) error {
	workers, fromLedger, err := r.fetchOperators(ctx, r.ledger())
	if err != nil {
		return err
	}
	if fromLedger {
		r.cacheOperators(workers)
	}
	r.registry.UpdateOperators(workers)
	if !r.registry.HealthChecksRunning() {
		r.registry.StartHealthChecks()
	}
	glog.V(common.SHORT).Infof("Synced operators workers=%d fromLedger=%v", len(workers), fromLedger)
	return nil
}

// ReportRequest buffers one request without token accounting
func (r *Reconciler) ReportRequest(addr ethcommon.Address, success bool, latencyMs int64) {
	r.ReportRequestDetailed(addr, "", 0, 0, latencyMs, success)
}

// ReportRequestDetailed buffers one request for the next ledger commit and
// writes its usage log row. Failures are logged and never surfaced.
func (r *Reconciler) ReportRequestDetailed(addr ethcommon.Address, model string, inputTokens, outputTokens, latencyMs int64, success bool) {
	if latencyMs < 0 {
		latencyMs = 0
	}
	id, err := r.store.InsertUsageLog(&common.UsageLogRecord{
		OperatorAddress: addr.Hex(),
		Model:           model,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		LatencyMs:       latencyMs,
		Success:         success,
	})
	if err != nil {
		glog.Errorf("Could not write usage log addr=%v model=%v err=%q", addr.Hex(), model, err)
	}
	r.buffer.report(addr, success, latencyMs, id)
	monitor.BufferedAddresses(r.buffer.size())
}

// PendingUsage returns a copy of the uncommitted usage per worker
func (r *Reconciler) PendingUsage() map[ethcommon.Address]*UsageBatch {
	return r.buffer.snapshot()
}

// SyncRequestsToChain commits the buffered usage. On failure every count is
// merged back into the buffer for the next attempt.
func (r *Reconciler) SyncRequestsToChain(ctx context.Context) error {
	if !r.IsInitialized() {
		return nil
	}
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	snap := r.buffer.take()
	if len(snap) == 0 {
		return nil
	}

	addrs := sortedAddresses(snap)
	counts := make([]lpTypes.RequestCounts, 0, len(addrs))
	var total int64
	var logIDs []int64
	for _, addr := range addrs {
		b := snap[addr]
		counts = append(counts, lpTypes.RequestCounts{
			Operator:       addr,
			Requests:       big.NewInt(b.Requests),
			Successful:     big.NewInt(b.Successful),
			TotalLatencyMs: big.NewInt(b.TotalLatencyMs),
		})
		total += b.Requests
		logIDs = append(logIDs, b.LogIDs...)
	}

	path := monitor.FlushPathBatch
	if len(counts) == 1 {
		path = monitor.FlushPathSingle
	}

	if err := r.commit(ctx, path, counts); err != nil {
		r.buffer.restore(snap)
		monitor.UsageFlushed(path, false, total)
		monitor.BufferedAddresses(r.buffer.size())
		monitor.SendQueueEventAsync(monitor.EventUsageFlushFailed, monitor.UsageFlushFailedEvent{
			Path:      string(path),
			Operators: len(counts),
			Requests:  total,
			Error:     err.Error(),
		})
		glog.Errorf("Could not commit usage to the ledger operators=%d requests=%s err=%q", len(counts), humanize.Comma(total), err)
		return err
	}

	batchID := uuid.New().String()
	if err := r.store.MarkUsageLogsSynced(logIDs, batchID); err != nil {
		glog.Errorf("Usage committed but usage logs not marked synced batch=%v err=%q", batchID, err)
	}
	monitor.UsageFlushed(path, true, total)
	monitor.BufferedAddresses(r.buffer.size())
	monitor.SendQueueEventAsync(monitor.EventUsageFlushed, monitor.UsageFlushedEvent{
		BatchID:   batchID,
		Path:      string(path),
		Operators: len(counts),
		Requests:  total,
	})
	glog.Infof("Committed usage to the ledger batch=%v path=%v operators=%d requests=%s", batchID, path, len(counts), humanize.Comma(total))
	return nil
}

func (r *Reconciler) commit(ctx context.Context, path monitor.FlushPath, counts []lpTypes.RequestCounts) error {
	client := r.ledger()
	if client == nil {
		return ErrReconcilerNotReady
	}
	var (
		tx  *types.Transaction
		err error
	)
	if path == monitor.FlushPathSingle {
		tx, err = client.RecordRequests(ctx, counts[0])
	} else {
		tx, err = client.BatchRecordRequests(ctx, counts)
	}
	if err != nil {
		return err
	}
	return client.CheckTx(ctx, tx)
}

// GetPendingRewards returns the operator's unclaimed rewards, zero when the ledger can't be read
func (r *Reconciler) GetPendingRewards(ctx context.Context, addr ethcommon.Address) *big.Int {
	key := "rewards:" + strings.ToLower(addr.Hex())
	if v, ok := r.cache.Get(key); ok {
		return new(big.Int).Set(v.(*big.Int))
	}
	client := r.ledger()
	if client == nil {
		return big.NewInt(0)
	}
	rewards, err := client.GetPendingRewards(ctx, addr)
	if err != nil || rewards == nil {
		glog.Warningf("Could not read pending rewards addr=%v err=%q", addr.Hex(), err)
		monitor.LedgerReadFallback("getPendingRewards")
		return big.NewInt(0)
	}
	r.cache.SetDefault(key, new(big.Int).Set(rewards))
	return rewards
}

// GetCurrentEpochStats returns the operator's counters for the current epoch, zeroed when the ledger can't be read
func (r *Reconciler) GetCurrentEpochStats(ctx context.Context, addr ethcommon.Address) *lpTypes.EpochStats {
	key := "epoch:" + strings.ToLower(addr.Hex())
	if v, ok := r.cache.Get(key); ok {
		cp := *v.(*lpTypes.EpochStats)
		return &cp
	}
	client := r.ledger()
	if client == nil {
		return lpTypes.NewEpochStats()
	}
	stats, err := client.GetCurrentEpochStats(ctx, addr)
	if err != nil || stats == nil {
		glog.Warningf("Could not read epoch stats addr=%v err=%q", addr.Hex(), err)
		monitor.LedgerReadFallback("getCurrentEpochStats")
		return lpTypes.NewEpochStats()
	}
	cp := *stats
	r.cache.SetDefault(key, &cp)
	return stats
}

// GetOperatorDetails reads the operator from the ledger, or from the operator cache
// without reward data when the ledger can't be read.
func (r *Reconciler) GetOperatorDetails(ctx context.Context, addr ethcommon.Address) (*OperatorDetails, error) {
	client := r.ledger()
	var ledgerErr error = ErrReconcilerNotReady
	if client != nil {
		op, err := client.GetOperator(ctx, addr)
		if err == nil {
			return &OperatorDetails{
				Address:          op.Address.Hex(),
				Endpoint:         op.Endpoint,
				Models:           op.Models,
				StakeAmount:      op.StakeAmount,
				PerformanceScore: common.FixedToFloat(op.PerformanceScore, lpTypes.PerformanceScoreDenominator),
				StakeWeight:      common.FixedToFloat(op.StakeWeight, lpTypes.StakeWeightDenominator),
				Active:           op.Active,
				PendingRewards:   r.GetPendingRewards(ctx, addr),
			}, nil
		}
		if errors.Is(err, lpTypes.ErrOperatorNotRegistered) {
			return nil, ErrOperatorNotFound
		}
		ledgerErr = err
	}

	glog.Warningf("Could not read operator from the ledger, using cache addr=%v err=%q", addr.Hex(), ledgerErr)
	monitor.LedgerReadFallback("getOperator")
	ops, err := r.store.SelectOperators(&common.DBOperatorFilter{Addresses: []ethcommon.Address{addr}})
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, ErrOperatorNotFound
	}
	op := ops[0]
	stake, err := common.ParseBigInt(op.StakeAmount)
	if err != nil {
		stake = big.NewInt(0)
	}
	return &OperatorDetails{
		Address:          ethcommon.HexToAddress(op.EthereumAddr).Hex(),
		Endpoint:         op.Endpoint,
		Models:           op.SupportedModels,
		StakeAmount:      stake,
		PerformanceScore: op.PerformanceScore,
		StakeWeight:      op.StakeWeight,
		Active:           op.Active,
		FromCache:        true,
	}, nil
}

// ReplayUnsynced loads usage log rows that were never committed back into the
// buffer, e.g. after a crash. Rows already buffered are skipped.
func (r *Reconciler) ReplayUnsynced(ctx context.Context, limit int) (int, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	recs, err := r.store.UnsyncedUsageLogs(limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if r.buffer.report(ethcommon.HexToAddress(rec.OperatorAddress), rec.Success, rec.LatencyMs, rec.ID) {
			n++
		}
	}
	if n > 0 {
		glog.Infof("Replayed %d unsynced usage logs", n)
	}
	monitor.BufferedAddresses(r.buffer.size())
	return n, nil
}

// Shutdown stops the loops and health checks and makes one final commit attempt
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
	r.registry.StopHealthChecks()

	err := r.SyncRequestsToChain(ctx)
	if err != nil {
		glog.Errorf("Final usage flush failed, uncommitted usage remains in the usage log err=%q", err)
	}
	return err
}
