package core

import (
	"sort"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// UsageBatch accumulates one worker's usage since the last successful flush
type UsageBatch struct {
	Requests       int64
	Successful     int64
	TotalLatencyMs int64
	// LogIDs are the usage log rows whose counts are included in this batch
	LogIDs []int64
}

func (b *UsageBatch) add(o *UsageBatch) {
	b.Requests += o.Requests
	b.Successful += o.Successful
	b.TotalLatencyMs += o.TotalLatencyMs
	b.LogIDs = append(b.LogIDs, o.LogIDs...)
}

func (b *UsageBatch) copy() *UsageBatch {
	cp := *b
	cp.LogIDs = append([]int64(nil), b.LogIDs...)
	return &cp
}

type usageBuffer struct {
	mu      sync.Mutex
	batches map[ethcommon.Address]*UsageBatch
	logIDs  map[int64]struct{}
}

func newUsageBuffer() *usageBuffer {
	return &usageBuffer{
		batches: make(map[ethcommon.Address]*UsageBatch),
		logIDs:  make(map[int64]struct{}),
	}
}

// report adds a single request. logID 0 means the request has no usage log row.
// Returns false if logID is already buffered.
func (u *usageBuffer) report(addr ethcommon.Address, success bool, latencyMs int64, logID int64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if logID != 0 {
		if _, ok := u.logIDs[logID]; ok {
			return false
		}
		u.logIDs[logID] = struct{}{}
	}

	b, ok := u.batches[addr]
	if !ok {
		b = &UsageBatch{}
		u.batches[addr] = b
	}
	b.Requests++
	if success {
		b.Successful++
	}
	b.TotalLatencyMs += latencyMs
	if logID != 0 {
		b.LogIDs = append(b.LogIDs, logID)
	}
	return true
}

// take returns the buffered batches and leaves the buffer empty
func (u *usageBuffer) take() map[ethcommon.Address]*UsageBatch {
	u.mu.Lock()
	defer u.mu.Unlock()
	snap := u.batches
	u.batches = make(map[ethcommon.Address]*UsageBatch)
	u.logIDs = make(map[int64]struct{})
	return snap
}

// restore merges a snapshot whose commit failed back into the buffer. Counts
// reported since the snapshot was taken are kept.
func (u *usageBuffer) restore(snap map[ethcommon.Address]*UsageBatch) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for addr, b := range snap {
		cur, ok := u.batches[addr]
		if !ok {
			cur = &UsageBatch{}
			u.batches[addr] = cur
		}
		cur.add(b)
		for _, id := range b.LogIDs {
			u.logIDs[id] = struct{}{}
		}
	}
}

func (u *usageBuffer) snapshot() map[ethcommon.Address]*UsageBatch {
	u.mu.Lock()
	defer u.mu.Unlock()
	res := make(map[ethcommon.Address]*UsageBatch, len(u.batches))
	for addr, b := range u.batches {
		res[addr] = b.copy()
	}
	return res
}

func (u *usageBuffer) size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.batches)
}

// sortedAddresses gives the commit order of a snapshot
func sortedAddresses(snap map[ethcommon.Address]*UsageBatch) []ethcommon.Address {
	addrs := make([]ethcommon.Address, 0, len(snap))
	for addr := range snap {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Hex() < addrs[j].Hex()
	})
	return addrs
}
