/*
Package eth client is the go client for the OperatorRegistry and StakingManager ledger contracts.  Contract bindings in eth/contracts are generated.
*/
package eth

//go:generate abigen --abi contracts/abi/OperatorRegistry.abi --pkg contracts --type OperatorRegistry --out contracts/operatorRegistry.go
//go:generate abigen --abi contracts/abi/StakingManager.abi --pkg contracts --type StakingManager --out contracts/stakingManager.go

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/eth/contracts"
	lpTypes "github.com/livepeer/go-llm-gateway/eth/types"
	"github.com/pkg/errors"
)

var (
	ErrReadOnlyClient = fmt.Errorf("ledger client has no account configured")
	ErrEmptyBatch     = fmt.Errorf("no usage counts to record")

	DefaultGasLimit   uint64 = 0 // estimated by the backend
	DefaultTxTimeout         = 5 * time.Minute
	DialRetryInterval        = 2 * time.Second
	DialMaxRetries    uint64 = 5
)

// LedgerClient is the gateway's view of the ledger: the authoritative operator set and
// the sink for committed usage counts.
type LedgerClient interface {
	Account() accounts.Account

	// Registry
	GetActiveOperators(ctx context.Context) ([]ethcommon.Address, error)
	GetOperator(ctx context.Context, addr ethcommon.Address) (*lpTypes.Operator, error)

	// Staking
	GetPendingRewards(ctx context.Context, addr ethcommon.Address) (*big.Int, error)
	GetCurrentEpochStats(ctx context.Context, addr ethcommon.Address) (*lpTypes.EpochStats, error)
	RecordRequests(ctx context.Context, counts lpTypes.RequestCounts) (*types.Transaction, error)
	BatchRecordRequests(ctx context.Context, counts []lpTypes.RequestCounts) (*types.Transaction, error)

	// Helpers
	ContractAddresses() map[string]ethcommon.Address
	CheckTx(ctx context.Context, tx *types.Transaction) error
}

// Backend is satisfied by *ethclient.Client
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type client struct {
	accountManager AccountManager
	backend        Backend
	transactOpts   *bind.TransactOpts

	registryAddr ethcommon.Address
	stakingAddr  ethcommon.Address

	registry *contracts.OperatorRegistry
	staking  *contracts.StakingManager

	txTimeout time.Duration
}

type LedgerClientConfig struct {
	AccountManager AccountManager
	Backend        Backend
	RegistryAddr   ethcommon.Address
	StakingAddr    ethcommon.Address
	TxTimeout      time.Duration
}

// Dial connects to the ledger RPC endpoint, retrying a bounded number of times
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	var backend *ethclient.Client
	op := func() error {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			glog.Warningf("Failed to dial ledger url=%v err=%q", url, err)
			return err
		}
		// DialContext is lazy for http endpoints, probe once so retries cover an unreachable node
		if _, err := c.ChainID(ctx); err != nil {
			glog.Warningf("Failed to reach ledger url=%v err=%q", url, err)
			c.Close()
			return err
		}
		backend = c
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(DialRetryInterval), DialMaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, errors.Wrapf(err, "could not connect to ledger at %v", url)
	}
	return backend, nil
}

func NewClient(cfg LedgerClientConfig) (LedgerClient, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("ledger backend is required")
	}
	if (cfg.RegistryAddr == ethcommon.Address{}) || (cfg.StakingAddr == ethcommon.Address{}) {
		return nil, fmt.Errorf("operator registry and staking manager addresses are required")
	}

	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = DefaultTxTimeout
	}

	registry, err := contracts.NewOperatorRegistry(cfg.RegistryAddr, cfg.Backend)
	if err != nil {
		return nil, errors.Wrap(err, "could not bind OperatorRegistry")
	}
	glog.V(common.SHORT).Infof("Bound OperatorRegistry at %v", cfg.RegistryAddr.Hex())

	staking, err := contracts.NewStakingManager(cfg.StakingAddr, cfg.Backend)
	if err != nil {
		return nil, errors.Wrap(err, "could not bind StakingManager")
	}
	glog.V(common.SHORT).Infof("Bound StakingManager at %v", cfg.StakingAddr.Hex())

	c := &client{
		accountManager: cfg.AccountManager,
		backend:        cfg.Backend,
		registryAddr:   cfg.RegistryAddr,
		stakingAddr:    cfg.StakingAddr,
		registry:       registry,
		staking:        staking,
		txTimeout:      cfg.TxTimeout,
	}

	if cfg.AccountManager != nil {
		opts, err := cfg.AccountManager.CreateTransactOpts(DefaultGasLimit)
		if err != nil {
			return nil, err
		}
		c.transactOpts = opts
	} else {
		glog.Warningf("No ledger account configured, usage commits are disabled")
	}

	return c, nil
}

func (c *client) Account() accounts.Account {
	if c.accountManager == nil {
		return accounts.Account{}
	}
	return c.accountManager.Account()
}

func (c *client) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: c.Account().Address}
}

func (c *client) txOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.transactOpts == nil {
		return nil, ErrReadOnlyClient
	}
	opts := *c.transactOpts
	opts.Context = ctx
	return &opts, nil
}

func (c *client) GetActiveOperators(ctx context.Context) ([]ethcommon.Address, error) {
	addrs, err := c.registry.GetActiveOperators(c.callOpts(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "getActiveOperators")
	}
	return addrs, nil
}

// GetOperator merges the registry entry with the staking position of addr
func (c *client) GetOperator(ctx context.Context, addr ethcommon.Address) (*lpTypes.Operator, error) {
	info, err := c.registry.GetOperatorInfo(c.callOpts(ctx), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "getOperatorInfo addr=%v", addr.Hex())
	}
	if !info.IsRegistered {
		return nil, lpTypes.ErrOperatorNotRegistered
	}

	stake, err := c.staking.GetStakeInfo(c.callOpts(ctx), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "getStakeInfo addr=%v", addr.Hex())
	}

	weight, err := c.staking.GetStakeWeight(c.callOpts(ctx), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "getStakeWeight addr=%v", addr.Hex())
	}

	return &lpTypes.Operator{
		Address:          addr,
		Endpoint:         info.Endpoint,
		Models:           info.Models,
		StakeAmount:      stake.StakeAmount,
		PerformanceScore: stake.PerformanceScore,
		StakeWeight:      weight,
		Active:           stake.Active,
	}, nil
}

func (c *client) GetPendingRewards(ctx context.Context, addr ethcommon.Address) (*big.Int, error) {
	rewards, err := c.staking.GetPendingRewards(c.callOpts(ctx), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "getPendingRewards addr=%v", addr.Hex())
	}
	return rewards, nil
}

func (c *client) GetCurrentEpochStats(ctx context.Context, addr ethcommon.Address) (*lpTypes.EpochStats, error) {
	stats, err := c.staking.GetCurrentEpochStats(c.callOpts(ctx), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "getCurrentEpochStats addr=%v", addr.Hex())
	}
	return &lpTypes.EpochStats{
		Requests:         stats.Requests,
		Successful:       stats.Successful,
		AvgLatencyMs:     stats.AvgLatencyMs,
		WeightedRequests: stats.WeightedRequests,
		EstimatedReward:  stats.EstimatedReward,
	}, nil
}

func (c *client) RecordRequests(ctx context.Context, counts lpTypes.RequestCounts) (*types.Transaction, error) {
	opts, err := c.txOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.staking.RecordRequests(opts, counts.Operator, counts.Requests, counts.Successful, counts.TotalLatencyMs)
	if err != nil {
		return nil, errors.Wrapf(err, "recordRequests addr=%v", counts.Operator.Hex())
	}
	glog.V(common.SHORT).Infof("Submitted recordRequests tx=%v addr=%v requests=%v", tx.Hash().Hex(), counts.Operator.Hex(), counts.Requests)
	return tx, nil
}

// BatchRecordRequests submits all counts in one transaction as parallel arrays
func (c *client) BatchRecordRequests(ctx context.Context, counts []lpTypes.RequestCounts) (*types.Transaction, error) {
	if len(counts) == 0 {
		return nil, ErrEmptyBatch
	}
	opts, err := c.txOpts(ctx)
	if err != nil {
		return nil, err
	}

	addrs, requests, successful, latencies := SplitRequestCounts(counts)
	tx, err := c.staking.BatchRecordRequests(opts, addrs, requests, successful, latencies)
	if err != nil {
		return nil, errors.Wrapf(err, "batchRecordRequests operators=%d", len(addrs))
	}
	glog.V(common.SHORT).Infof("Submitted batchRecordRequests tx=%v operators=%d", tx.Hash().Hex(), len(addrs))
	return tx, nil
}

// SplitRequestCounts returns the parallel arrays expected by batchRecordRequests, index i of every array belongs to counts[i]
func SplitRequestCounts(counts []lpTypes.RequestCounts) ([]ethcommon.Address, []*big.Int, []*big.Int, []*big.Int) {
	addrs := make([]ethcommon.Address, len(counts))
	requests := make([]*big.Int, len(counts))
	successful := make([]*big.Int, len(counts))
	latencies := make([]*big.Int, len(counts))
	for i, rc := range counts {
		addrs[i] = rc.Operator
		requests[i] = rc.Requests
		successful[i] = rc.Successful
		latencies[i] = rc.TotalLatencyMs
	}
	return addrs, requests, successful, latencies
}

func (c *client) ContractAddresses() map[string]ethcommon.Address {
	addrMap := make(map[string]ethcommon.Address)
	addrMap["OperatorRegistry"] = c.registryAddr
	addrMap["StakingManager"] = c.stakingAddr

	return addrMap
}

// CheckTx waits for tx to be mined, for at most TxTimeout or until ctx is done
func (c *client) CheckTx(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return err
	}

	if receipt.Status == uint64(0) {
		return fmt.Errorf("tx %v failed", tx.Hash().Hex())
	}
	return nil
}
