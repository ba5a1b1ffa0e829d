package eth

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lpTypes "github.com/livepeer/go-llm-gateway/eth/types"
	"github.com/stretchr/testify/mock"
)

func mockTransaction(args mock.Arguments, idx int) *types.Transaction {
	arg := args.Get(idx)

	if arg == nil {
		return nil
	}

	return arg.(*types.Transaction)
}

func mockBigInt(args mock.Arguments, idx int) *big.Int {
	arg := args.Get(idx)

	if arg == nil {
		return nil
	}

	return arg.(*big.Int)
}

type MockClient struct {
	mock.Mock

	// Embed StubClient to call its methods with MockClient
	// as the receiver so that MockClient implements the LedgerClient
	// interface
	*StubClient
}

func (m *MockClient) Account() accounts.Account {
	args := m.Called()

	arg0 := args.Get(0)
	if arg0 == nil {
		return accounts.Account{}
	}

	return arg0.(accounts.Account)
}

func (m *MockClient) GetActiveOperators(ctx context.Context) ([]ethcommon.Address, error) {
	args := m.Called(ctx)
	arg0 := args.Get(0)
	if arg0 == nil {
		return nil, args.Error(1)
	}
	return arg0.([]ethcommon.Address), args.Error(1)
}

func (m *MockClient) GetOperator(ctx context.Context, addr ethcommon.Address) (*lpTypes.Operator, error) {
	args := m.Called(ctx, addr)
	arg0 := args.Get(0)
	if arg0 == nil {
		return nil, args.Error(1)
	}
	return arg0.(*lpTypes.Operator), args.Error(1)
}

func (m *MockClient) GetPendingRewards(ctx context.Context, addr ethcommon.Address) (*big.Int, error) {
	args := m.Called(ctx, addr)
	return mockBigInt(args, 0), args.Error(1)
}

func (m *MockClient) GetCurrentEpochStats(ctx context.Context, addr ethcommon.Address) (*lpTypes.EpochStats, error) {
	args := m.Called(ctx, addr)
	arg0 := args.Get(0)
	if arg0 == nil {
		return nil, args.Error(1)
	}
	return arg0.(*lpTypes.EpochStats), args.Error(1)
}

func (m *MockClient) RecordRequests(ctx context.Context, counts lpTypes.RequestCounts) (*types.Transaction, error) {
	args := m.Called(ctx, counts)
	return mockTransaction(args, 0), args.Error(1)
}

func (m *MockClient) BatchRecordRequests(ctx context.Context, counts []lpTypes.RequestCounts) (*types.Transaction, error) {
	args := m.Called(ctx, counts)
	return mockTransaction(args, 0), args.Error(1)
}

func (m *MockClient) CheckTx(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// StubClient is an in-memory ledger. Commits are applied to the epoch stats of each operator.
type StubClient struct {
	mu sync.Mutex

	Operators      map[ethcommon.Address]*lpTypes.Operator
	Active         []ethcommon.Address
	PendingRewards map[ethcommon.Address]*big.Int
	EpochStats     map[ethcommon.Address]*lpTypes.EpochStats

	ReadErr    error
	WriteErr   error
	CheckTxErr error

	SingleCommits []lpTypes.RequestCounts
	BatchCommits  [][]lpTypes.RequestCounts

	nonce uint64
}

func NewStubClient() *StubClient {
	return &StubClient{
		Operators:      make(map[ethcommon.Address]*lpTypes.Operator),
		PendingRewards: make(map[ethcommon.Address]*big.Int),
		EpochStats:     make(map[ethcommon.Address]*lpTypes.EpochStats),
	}
}

// AddOperator registers op and appends it to the active list
func (e *StubClient) AddOperator(op *lpTypes.Operator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.Operators[op.Address]; !ok {
		e.Active = append(e.Active, op.Address)
	}
	e.Operators[op.Address] = op
}

// RemoveOperator drops addr from the active list
func (e *StubClient) RemoveOperator(addr ethcommon.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.Operators, addr)
	for i, a := range e.Active {
		if a == addr {
			e.Active = append(e.Active[:i], e.Active[i+1:]...)
			break
		}
	}
}

func (e *StubClient) SetReadErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ReadErr = err
}

func (e *StubClient) SetWriteErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.WriteErr = err
}

// Commits returns copies of the single and batched commits seen so far
func (e *StubClient) Commits() ([]lpTypes.RequestCounts, [][]lpTypes.RequestCounts) {
	e.mu.Lock()
	defer e.mu.Unlock()
	single := append([]lpTypes.RequestCounts(nil), e.SingleCommits...)
	batches := append([][]lpTypes.RequestCounts(nil), e.BatchCommits...)
	return single, batches
}

func (e *StubClient) Account() accounts.Account { return accounts.Account{} }

func (e *StubClient) GetActiveOperators(ctx context.Context) ([]ethcommon.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ReadErr != nil {
		return nil, e.ReadErr
	}
	return append([]ethcommon.Address(nil), e.Active...), nil
}

func (e *StubClient) GetOperator(ctx context.Context, addr ethcommon.Address) (*lpTypes.Operator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ReadErr != nil {
		return nil, e.ReadErr
	}
	op, ok := e.Operators[addr]
	if !ok {
		return nil, lpTypes.ErrOperatorNotRegistered
	}
	cp := *op
	cp.Models = append([]string(nil), op.Models...)
	return &cp, nil
}

func (e *StubClient) GetPendingRewards(ctx context.Context, addr ethcommon.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ReadErr != nil {
		return nil, e.ReadErr
	}
	if r, ok := e.PendingRewards[addr]; ok {
		return new(big.Int).Set(r), nil
	}
	return big.NewInt(0), nil
}

func (e *StubClient) GetCurrentEpochStats(ctx context.Context, addr ethcommon.Address) (*lpTypes.EpochStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ReadErr != nil {
		return nil, e.ReadErr
	}
	if s, ok := e.EpochStats[addr]; ok {
		cp := *s
		return &cp, nil
	}
	return lpTypes.NewEpochStats(), nil
}

func (e *StubClient) RecordRequests(ctx context.Context, counts lpTypes.RequestCounts) (*types.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.WriteErr != nil {
		return nil, e.WriteErr
	}
	e.SingleCommits = append(e.SingleCommits, counts)
	e.apply(counts)
	return e.nextTx(), nil
}

func (e *StubClient) BatchRecordRequests(ctx context.Context, counts []lpTypes.RequestCounts) (*types.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.WriteErr != nil {
		return nil, e.WriteErr
	}
	if len(counts) == 0 {
		return nil, ErrEmptyBatch
	}
	e.BatchCommits = append(e.BatchCommits, append([]lpTypes.RequestCounts(nil), counts...))
	for _, rc := range counts {
		e.apply(rc)
	}
	return e.nextTx(), nil
}

func (e *StubClient) apply(rc lpTypes.RequestCounts) {
	s, ok := e.EpochStats[rc.Operator]
	if !ok {
		s = lpTypes.NewEpochStats()
		e.EpochStats[rc.Operator] = s
	}
	s.Requests = new(big.Int).Add(s.Requests, rc.Requests)
	s.Successful = new(big.Int).Add(s.Successful, rc.Successful)
}

func (e *StubClient) nextTx() *types.Transaction {
	e.nonce++
	return types.NewTransaction(e.nonce, ethcommon.Address{}, big.NewInt(0), 0, big.NewInt(0), nil)
}

func (e *StubClient) ContractAddresses() map[string]ethcommon.Address { return nil }

func (e *StubClient) CheckTx(ctx context.Context, tx *types.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CheckTxErr
}
