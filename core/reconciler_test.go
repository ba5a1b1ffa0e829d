package core

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/eth"
	lpTypes "github.com/livepeer/go-llm-gateway/eth/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	opA = ethcommon.HexToAddress("0x000000000000000000000000000000000000000a")
	opB = ethcommon.HexToAddress("0x000000000000000000000000000000000000000b")
	opC = ethcommon.HexToAddress("0x000000000000000000000000000000000000000c")

	errLedgerDown = errors.New("ledger unreachable")
)

func stubOperator(addr ethcommon.Address, endpoint string, models ...string) *lpTypes.Operator {
	return &lpTypes.Operator{
		Address:          addr,
		Endpoint:         endpoint,
		Models:           models,
		StakeAmount:      big.NewInt(5000),
		PerformanceScore: big.NewInt(8000),
		StakeWeight:      new(big.Int).Mul(big.NewInt(2), lpTypes.StakeWeightDenominator),
		Active:           true,
	}
}

type reconcilerFixture struct {
	ledger   *eth.StubClient
	prober   *stubProber
	registry *Registry
	db       *common.DB
	raw      *sql.DB
	rc       *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	db, raw, err := common.TempDB(t)
	require.NoError(t, err)
	t.Cleanup(func() {
		raw.Close()
		db.Close()
	})

	ledger := eth.NewStubClient()
	ledger.AddOperator(stubOperator(opA, "http://127.0.0.1:9001", "llama3"))
	ledger.AddOperator(stubOperator(opB, "http://127.0.0.1:9002", "llama3", "mistral"))

	prober := newStubProber()
	prober.set("http://127.0.0.1:9001", []string{"llama3"}, nil)
	prober.set("http://127.0.0.1:9002", []string{"llama3", "mistral"}, nil)

	registry := NewRegistry(prober, time.Hour, time.Second)
	dial := func(ctx context.Context) (eth.LedgerClient, error) { return ledger, nil }
	rc := NewReconciler(registry, dial, db, ReconcilerConfig{FlushInterval: time.Hour, CacheRefreshInterval: time.Hour})

	return &reconcilerFixture{ledger: ledger, prober: prober, registry: registry, db: db, raw: raw, rc: rc}
}

func (f *reconcilerFixture) syncedRows(t *testing.T) map[int64]string {
	rows, err := f.raw.Query("SELECT id, batchID FROM usageLog WHERE synced = 1")
	require.NoError(t, err)
	defer rows.Close()
	res := make(map[int64]string)
	for rows.Next() {
		var id int64
		var batch string
		require.NoError(t, rows.Scan(&id, &batch))
		res[id] = batch
	}
	require.NoError(t, rows.Err())
	return res
}

func TestReconciler_Initialize(t *testing.T) {
	defer goleak.VerifyNone(t, common.IgnoreRoutines()...)
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rc.Initialize(ctx))
	assert.True(f.rc.IsInitialized())
	assert.True(f.registry.HealthChecksRunning())

	healthy := f.registry.GetHealthyNodes()
	require.Len(t, healthy, 2)
	assert.Equal(opA, healthy[0].Address)
	assert.InDelta(0.8, healthy[0].PerformanceScore, 1e-9)
	assert.InDelta(2.0, healthy[0].StakeWeight, 1e-9)
	assert.Equal([]string{"llama3", "mistral"}, f.registry.GetAvailableModels())

	// operators are cached for ledger outages
	ops, err := f.db.SelectOperators(&common.DBOperatorFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal("5000", ops[0].StakeAmount)

	assert.Equal(ErrReconcilerInitialized, f.rc.Initialize(ctx))

	require.NoError(t, f.rc.Shutdown(ctx))
	assert.False(f.registry.HealthChecksRunning())
}

func TestReconciler_InitializeDialFailure(t *testing.T) {
	registry := NewRegistry(newStubProber(), time.Hour, time.Second)
	dial := func(ctx context.Context) (eth.LedgerClient, error) { return nil, errLedgerDown }
	rc := NewReconciler(registry, dial, nil, ReconcilerConfig{})

	err := rc.Initialize(context.Background())
	assert.ErrorIs(t, err, errLedgerDown)
	assert.False(t, rc.IsInitialized())
	assert.False(t, registry.HealthChecksRunning())

	// uninitialized operations fall back to defaults
	assert.NoError(t, rc.SyncRequestsToChain(context.Background()))
	assert.Equal(t, int64(0), rc.GetPendingRewards(context.Background(), opA).Int64())
	assert.Equal(t, lpTypes.NewEpochStats(), rc.GetCurrentEpochStats(context.Background(), opA))
}

func TestReconciler_InitializeSkipsBadOperators(t *testing.T) {
	f := newReconcilerFixture(t)
	f.ledger.AddOperator(stubOperator(opC, "", "llama3"))
	f.ledger.Active = append(f.ledger.Active, ethcommon.HexToAddress("0x0d"))

	require.NoError(t, f.rc.Initialize(context.Background()))
	defer f.rc.Shutdown(context.Background())

	nodes := f.registry.GetAllNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, opA, nodes[0].Address)
	assert.Equal(t, opB, nodes[1].Address)
}

func TestReconciler_ReportAdditive(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)

	f.rc.ReportRequestDetailed(opA, "llama3", 10, 20, 300, true)
	f.rc.ReportRequestDetailed(opA, "llama3", 5, 0, 100, false)
	f.rc.ReportRequest(opB, true, 50)

	pending := f.rc.PendingUsage()
	require.Contains(t, pending, opA)
	assert.Equal(int64(2), pending[opA].Requests)
	assert.Equal(int64(1), pending[opA].Successful)
	assert.Equal(int64(400), pending[opA].TotalLatencyMs)
	assert.Equal(int64(1), pending[opB].Requests)

	recs, err := f.db.UnsyncedUsageLogs(10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal("llama3", recs[0].Model)
	assert.Equal(int64(20), recs[0].OutputTokens)
	assert.False(recs[1].Success)
}

func TestReconciler_FailedFlushIsRetried(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	f.rc.ReportRequest(opA, true, 100)
	f.rc.ReportRequest(opA, false, 300)
	f.rc.ReportRequest(opB, true, 50)
	before := f.rc.PendingUsage()

	f.ledger.SetWriteErr(errLedgerDown)
	err := f.rc.SyncRequestsToChain(ctx)
	assert.ErrorIs(err, errLedgerDown)
	assert.Equal(before, f.rc.PendingUsage())
	assert.Empty(f.syncedRows(t))

	f.ledger.SetWriteErr(nil)
	require.NoError(t, f.rc.SyncRequestsToChain(ctx))
	assert.Empty(f.rc.PendingUsage())

	single, batches := f.ledger.Commits()
	assert.Empty(single)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(opA, batches[0][0].Operator)
	assert.Equal(int64(2), batches[0][0].Requests.Int64())
	assert.Equal(int64(1), batches[0][0].Successful.Int64())
	assert.Equal(int64(400), batches[0][0].TotalLatencyMs.Int64())
	assert.Equal(opB, batches[0][1].Operator)
	assert.Equal(int64(1), batches[0][1].Requests.Int64())

	assert.Len(f.syncedRows(t), 3)

	// nothing left to commit
	require.NoError(t, f.rc.SyncRequestsToChain(ctx))
	_, batches = f.ledger.Commits()
	assert.Len(batches, 1)
}

func TestReconciler_FailedCheckTxIsRetried(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	f.rc.ReportRequest(opA, true, 100)
	f.ledger.CheckTxErr = errors.New("tx reverted")
	assert.Error(t, f.rc.SyncRequestsToChain(ctx))
	assert.Equal(t, int64(1), f.rc.PendingUsage()[opA].Requests)
}

func TestReconciler_CommitPaths(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	f.rc.ReportRequestDetailed(opA, "llama3", 1, 1, 10, true)
	f.rc.ReportRequestDetailed(opA, "llama3", 1, 1, 20, true)
	require.NoError(t, f.rc.SyncRequestsToChain(ctx))

	single, batches := f.ledger.Commits()
	require.Len(t, single, 1)
	assert.Empty(batches)
	assert.Equal(opA, single[0].Operator)
	assert.Equal(int64(2), single[0].Requests.Int64())

	synced := f.syncedRows(t)
	require.Len(t, synced, 2)
	assert.Equal(synced[1], synced[2])
	assert.NotEmpty(synced[1])

	f.rc.ReportRequestDetailed(opA, "llama3", 1, 1, 10, true)
	f.rc.ReportRequestDetailed(opB, "mistral", 1, 1, 10, true)
	require.NoError(t, f.rc.SyncRequestsToChain(ctx))

	single, batches = f.ledger.Commits()
	assert.Len(single, 1)
	require.Len(t, batches, 1)
	assert.Len(batches[0], 2)

	synced = f.syncedRows(t)
	require.Len(t, synced, 4)
	assert.Equal(synced[3], synced[4])
	assert.NotEqual(synced[1], synced[3])

	stats := f.rc.GetCurrentEpochStats(ctx, opA)
	assert.Equal(int64(3), stats.Requests.Int64())
}

func TestReconciler_FlushUsesMock(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	m := &eth.MockClient{StubClient: f.ledger}
	m.On("GetActiveOperators", mock.Anything).Return([]ethcommon.Address{opA}, nil)
	m.On("GetOperator", mock.Anything, opA).Return(stubOperator(opA, "http://127.0.0.1:9001", "llama3"), nil)
	m.On("RecordRequests", mock.Anything, mock.MatchedBy(func(rc lpTypes.RequestCounts) bool {
		return rc.Operator == opA && rc.Requests.Int64() == 1 && rc.TotalLatencyMs.Int64() == 75
	})).Return(nil, nil).Once()
	m.On("CheckTx", mock.Anything, mock.Anything).Return(nil).Once()

	rc := NewReconciler(f.registry, func(ctx context.Context) (eth.LedgerClient, error) { return m, nil }, f.db, ReconcilerConfig{FlushInterval: time.Hour, CacheRefreshInterval: time.Hour})
	require.NoError(t, rc.Initialize(ctx))
	rc.ReportRequest(opA, true, 75)
	require.NoError(t, rc.SyncRequestsToChain(ctx))
	require.NoError(t, rc.Shutdown(ctx))

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "BatchRecordRequests", mock.Anything, mock.Anything)
}

func TestReconciler_FlushLoop(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.rc.cfg.FlushInterval = 10 * time.Millisecond
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	f.rc.ReportRequest(opA, true, 10)
	assert.Eventually(t, func() bool {
		single, _ := f.ledger.Commits()
		return len(single) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.rc.PendingUsage())
}

func TestReconciler_ShutdownFlushes(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rc.Initialize(ctx))

	f.rc.ReportRequest(opA, true, 10)
	f.rc.ReportRequest(opB, true, 10)
	require.NoError(t, f.rc.Shutdown(ctx))

	_, batches := f.ledger.Commits()
	assert.Len(t, batches, 1)
	assert.Empty(t, f.rc.PendingUsage())
}

func TestReconciler_ShutdownFlushFailureKeepsUsage(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rc.Initialize(ctx))

	f.rc.ReportRequest(opA, true, 10)
	f.ledger.SetWriteErr(errLedgerDown)
	assert.ErrorIs(t, f.rc.Shutdown(ctx), errLedgerDown)
	assert.Equal(t, int64(1), f.rc.PendingUsage()[opA].Requests)

	recs, err := f.db.UnsyncedUsageLogs(10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestReconciler_SyncOperatorsToCache(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	f.registry.RecordLatency(opA, 500)
	before, _ := f.registry.GetNode(opA)

	f.ledger.RemoveOperator(opB)
	f.ledger.AddOperator(stubOperator(opC, "http://127.0.0.1:9003", "phi3"))
	require.NoError(t, f.rc.SyncOperatorsToCache(ctx))

	nodes := f.registry.GetAllNodes()
	require.Len(t, nodes, 2)
	assert.Equal(opA, nodes[0].Address)
	assert.True(nodes[0].IsHealthy)
	assert.Equal(before.LatencyMs, nodes[0].LatencyMs)
	assert.Equal(opC, nodes[1].Address)
	assert.False(nodes[1].IsHealthy)

	// health checks get restarted if something stopped them
	f.registry.StopHealthChecks()
	require.NoError(t, f.rc.SyncOperatorsToCache(ctx))
	assert.True(f.registry.HealthChecksRunning())
}

func TestReconciler_GetActiveOperatorsFallback(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	f.ledger.SetReadErr(errLedgerDown)
	workers, err := f.rc.GetActiveOperators(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(opA, workers[0].Address)

	// registry keeps serving the last known set
	require.NoError(t, f.rc.SyncOperatorsToCache(ctx))
	assert.Len(f.registry.GetAllNodes(), 2)
}

func TestReconciler_GetActiveOperatorsFallsBackToDB(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// a previous run cached the operators
	op := common.NewDBOperator(opB, "http://127.0.0.1:9002")
	op.SupportedModels = []string{"mistral"}
	op.Active = true
	op.PerformanceScore = 0.5
	require.NoError(t, f.db.UpdateOperator(op))

	f.ledger.SetReadErr(errLedgerDown)
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	nodes := f.registry.GetAllNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, opB, nodes[0].Address)
	assert.Equal(t, 0.5, nodes[0].PerformanceScore)
	assert.True(t, nodes[0].IsHealthy)
}

func TestReconciler_GetActiveOperatorsNothingCached(t *testing.T) {
	f := newReconcilerFixture(t)
	f.ledger.SetReadErr(errLedgerDown)
	require.NoError(t, f.rc.Initialize(context.Background()))
	defer f.rc.Shutdown(context.Background())

	assert.Empty(t, f.registry.GetAllNodes())
	_, err := f.rc.GetActiveOperators(context.Background())
	assert.ErrorIs(t, err, ErrNoOperators)
}

func TestReconciler_LedgerReadDefaults(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.ledger.PendingRewards[opA] = big.NewInt(1234)
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	assert.Equal(int64(1234), f.rc.GetPendingRewards(ctx, opA).Int64())

	// served from the read cache while the ledger is down
	f.ledger.SetReadErr(errLedgerDown)
	assert.Equal(int64(1234), f.rc.GetPendingRewards(ctx, opA).Int64())

	assert.Equal(int64(0), f.rc.GetPendingRewards(ctx, opB).Int64())
	stats := f.rc.GetCurrentEpochStats(ctx, opB)
	assert.Equal(lpTypes.NewEpochStats(), stats)
}

func TestReconciler_GetOperatorDetails(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.ledger.PendingRewards[opA] = big.NewInt(99)
	require.NoError(t, f.rc.Initialize(ctx))
	defer f.rc.Shutdown(ctx)

	d, err := f.rc.GetOperatorDetails(ctx, opA)
	require.NoError(t, err)
	assert.False(d.FromCache)
	assert.Equal(opA.Hex(), d.Address)
	assert.Equal("http://127.0.0.1:9001", d.Endpoint)
	assert.Equal(int64(5000), d.StakeAmount.Int64())
	assert.InDelta(0.8, d.PerformanceScore, 1e-9)
	assert.Equal(int64(99), d.PendingRewards.Int64())

	_, err = f.rc.GetOperatorDetails(ctx, opC)
	assert.Equal(ErrOperatorNotFound, err)

	f.ledger.SetReadErr(errLedgerDown)
	d, err = f.rc.GetOperatorDetails(ctx, opB)
	require.NoError(t, err)
	assert.True(d.FromCache)
	assert.Equal(opB.Hex(), d.Address)
	assert.Equal([]string{"llama3", "mistral"}, d.Models)
	assert.Equal(int64(5000), d.StakeAmount.Int64())
	assert.Nil(d.PendingRewards)

	_, err = f.rc.GetOperatorDetails(ctx, opC)
	assert.Equal(ErrOperatorNotFound, err)
}

func TestReconciler_ReplayUnsynced(t *testing.T) {
	assert := assert.New(t)
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// rows left behind by a previous run
	for _, lat := range []int64{10, 20, 30} {
		_, err := f.db.InsertUsageLog(&common.UsageLogRecord{OperatorAddress: opA.Hex(), LatencyMs: lat, Success: true})
		require.NoError(t, err)
	}

	n, err := f.rc.ReplayUnsynced(ctx, 100)
	require.NoError(t, err)
	assert.Equal(3, n)
	// replaying twice doesn't double count
	n, err = f.rc.ReplayUnsynced(ctx, 100)
	require.NoError(t, err)
	assert.Equal(0, n)

	pending := f.rc.PendingUsage()
	assert.Equal(int64(3), pending[opA].Requests)
	assert.Equal(int64(60), pending[opA].TotalLatencyMs)

	require.NoError(t, f.rc.Initialize(ctx))
	require.NoError(t, f.rc.Shutdown(ctx))
	assert.Len(f.syncedRows(t), 3)
}
