// Package authority tracks the validator set backing one running height:
// the current list, the immediately preceding one (so a late vote for
// height-1 can still be checked), proposer election and weight lookups.
package authority

import (
	"sync"

	"overlord/consensus/types"
)

// Manage is the validator-set component (§4.2). All mutation goes through
// Update; reads are safe for concurrent use by the parallel signature
// verifier while the State driver mutates it only between suspension
// points, consistent with the single-writer model in §5.
type Manage struct {
	mu       sync.RWMutex
	current  []types.Node
	previous []types.Node
	index    map[types.Address]types.Node
	weightSum uint64
}

func New() *Manage {
	return &Manage{index: make(map[types.Address]types.Node)}
}

// Update installs a new authority list: the previous current list becomes
// the "previous" generation, the incoming list is sorted ascending by
// address and installed as current, and the weight sum is recomputed.
// Addresses must be unique within list; callers violating that invariant
// will simply have later duplicates clobber earlier ones in the index.
func (m *Manage) Update(list []types.Node) {
	sorted := append([]types.Node(nil), list...)
	types.SortAddresses(addressesOf(sorted))
	sortNodes(sorted)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = m.current
	m.current = sorted
	m.index = make(map[types.Address]types.Node, len(sorted))
	var sum uint64
	for _, n := range sorted {
		m.index[n.Address] = n
		sum += uint64(n.VoteWeight)
	}
	m.weightSum = sum
}

func sortNodes(nodes []types.Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].Less(nodes[j-1]); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

func addressesOf(nodes []types.Node) []types.Address {
	addrs := make([]types.Address, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Address
	}
	return addrs
}

// GetProposer applies the core round-robin selection rule:
// authority[(height+round) mod len].Address over the ascending-address
// ordering installed by Update.
func (m *Manage) GetProposer(height, round uint64) (types.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.current) == 0 {
		return types.Address{}, types.NewError(types.ErrSelfCheck, "authority list is empty")
	}
	idx := (height + round) % uint64(len(m.current))
	return m.current[idx].Address, nil
}

func (m *Manage) GetVoteWeight(addr types.Address) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := m.index[addr]; ok {
		return n.VoteWeight, nil
	}
	if n, ok := previousIndex(m.previous, addr); ok {
		return n.VoteWeight, nil
	}
	return 0, types.NewError(types.ErrInvalidAddress, addr.String())
}

func previousIndex(list []types.Node, addr types.Address) (types.Node, bool) {
	for _, n := range list {
		if n.Address == addr {
			return n, true
		}
	}
	return types.Node{}, false
}

// Contains reports whether addr is a member of either the current or the
// immediately preceding authority list.
func (m *Manage) Contains(addr types.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.index[addr]; ok {
		return true
	}
	_, ok := previousIndex(m.previous, addr)
	return ok
}

func (m *Manage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.current)
}

func (m *Manage) GetVoteWeightSum() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weightSum
}

// Addresses returns the canonical (ascending) address ordering used to
// build QC bitmaps.
func (m *Manage) Addresses() []types.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return addressesOf(m.current)
}

// CurrentList returns a copy of the installed current authority list.
func (m *Manage) CurrentList() []types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Node(nil), m.current...)
}
