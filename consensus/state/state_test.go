package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ccrypto "overlord/consensus/crypto"
	"overlord/consensus/smr"
	"overlord/consensus/types"
	nhbcrypto "overlord/crypto"
	"overlord/storage"
)

// testBlock is the opaque application payload T used throughout this
// package's tests: a plain RLP-encodable struct, never inspected by the
// core itself (§3's "Block content T is opaque to the core" rule).
type testBlock struct {
	Height uint64
	Seq    uint64
}

// network wires a handful of State[testBlock] instances together in
// memory: TransmitToRelayer/BroadcastToOthers deliver straight into the
// target replica's Handle, standing in for the transport layer §1 puts out
// of scope.
type network struct {
	mu    sync.Mutex
	nodes map[types.Address]*State[testBlock]
}

func newNetwork() *network {
	return &network{nodes: make(map[types.Address]*State[testBlock])}
}

func (n *network) register(addr types.Address, s *State[testBlock]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[addr] = s
}

func (n *network) deliver(to types.Address, msg types.OverlordMsg[testBlock]) {
	n.mu.Lock()
	target := n.nodes[to]
	n.mu.Unlock()
	if target == nil {
		return
	}
	_ = target.Handle(context.Background(), msg)
}

func (n *network) broadcast(from types.Address, msg types.OverlordMsg[testBlock]) {
	n.mu.Lock()
	targets := make([]*State[testBlock], 0, len(n.nodes))
	for addr, s := range n.nodes {
		if addr == from {
			continue
		}
		targets = append(targets, s)
	}
	n.mu.Unlock()
	for _, t := range targets {
		_ = t.Handle(context.Background(), msg)
	}
}

// testApp is a types.Application[testBlock] backed by a shared network and
// a per-node commit log the test inspects for S1's expectations.
type testApp struct {
	self types.Address
	net  *network
	seq  uint64

	mu          sync.Mutex
	commits     []types.Commit[testBlock]
	viewChanges []types.ViewChangeReason
}

func (a *testApp) GetBlock(_ context.Context, height uint64) (testBlock, types.Hash, error) {
	a.seq++
	b := testBlock{Height: height, Seq: a.seq}
	h := blockHash(b)
	return b, h, nil
}

func blockHash(b testBlock) types.Hash {
	var h types.Hash
	h[24] = byte(b.Height)
	h[31] = byte(b.Seq)
	return h
}

func (a *testApp) CheckBlock(_ context.Context, _ uint64, hash types.Hash, content testBlock) error {
	if blockHash(content) != hash {
		return types.NewError(types.ErrProposal, "block hash mismatch")
	}
	return nil
}

func (a *testApp) Commit(_ context.Context, height uint64, commit types.Commit[testBlock]) (types.Status, error) {
	a.mu.Lock()
	a.commits = append(a.commits, commit)
	a.mu.Unlock()
	return types.Status{}, nil
}

func (a *testApp) TransmitToRelayer(_ context.Context, relayer types.Address, msg types.OverlordMsg[testBlock]) error {
	a.net.deliver(relayer, msg)
	return nil
}

func (a *testApp) BroadcastToOthers(_ context.Context, msg types.OverlordMsg[testBlock]) error {
	a.net.broadcast(a.self, msg)
	return nil
}

func (a *testApp) ReportError(_ context.Context, _ error) {}

func (a *testApp) ReportViewChange(_ context.Context, _, _ uint64, reason types.ViewChangeReason) {
	a.mu.Lock()
	a.viewChanges = append(a.viewChanges, reason)
	a.mu.Unlock()
}

func (a *testApp) committed() []types.Commit[testBlock] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.Commit[testBlock](nil), a.commits...)
}

func (a *testApp) reportedViewChanges() []types.ViewChangeReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.ViewChangeReason(nil), a.viewChanges...)
}

// testReplica bundles one node's State, its Application and its signer.
type testReplica struct {
	addr   types.Address
	state  *State[testBlock]
	app    *testApp
	signer *ccrypto.Signer
}

// slowDurations gives every step a generous timeout so a correctly
// functioning happy-path exchange always resolves via messages, never via
// a step timing out mid-test.
func slowDurations() smr.DurationConfig {
	return smr.DurationConfig{ProposeRatio: 8000, PrevoteRatio: 8000, PrecommitRatio: 8000, BrakeRatio: 8000}
}

func buildReplicas(t *testing.T, n int) ([]*testReplica, *network) {
	t.Helper()
	net := newNetwork()
	replicas := make([]*testReplica, 0, n)
	nodes := make([]types.Node, 0, n)

	for i := 0; i < n; i++ {
		key, err := nhbcrypto.GeneratePrivateKey()
		require.NoError(t, err)
		addr := types.AddressFromPubKey(key.PubKey())
		replicas = append(replicas, &testReplica{addr: addr, signer: ccrypto.NewSigner(key)})
		nodes = append(nodes, types.Node{Address: addr, ProposeWeight: 1, VoteWeight: 1})
	}

	for _, r := range replicas {
		app := &testApp{self: r.addr, net: net}
		r.app = app
		cfg := Config{
			Self:                r.addr,
			InitHeight:          1,
			InitAuthority:       nodes,
			BlockIntervalMillis: 150,
			Durations:           slowDurations(),
		}
		r.state = New[testBlock](cfg, app, r.signer, storage.NewMemDB())
		net.register(r.addr, r.state)
	}
	return replicas, net
}

func runAll(replicas []*testReplica) (context.CancelFunc, *sync.WaitGroup) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, r := range replicas {
		wg.Add(1)
		go func(r *testReplica) {
			defer wg.Done()
			_ = r.state.Run(ctx)
		}(r)
	}
	return cancel, &wg
}

func waitForCommit(t *testing.T, replicas []*testReplica, height uint64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		done := true
		for _, r := range replicas {
			commits := r.app.committed()
			found := false
			for _, c := range commits {
				if c.Height == height {
					found = true
					break
				}
			}
			if !found {
				done = false
				break
			}
		}
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for every replica to commit height %d", height)
}

// TestHappyPathFourNodesCommit drives scenario S1 (§8): four equally
// weighted nodes, no faults. The round's elected leader proposes, every
// node prevotes and precommits the same hash, and every replica's
// Application.Commit is invoked exactly once for height 1 with matching
// content and proof block hash.
func TestHappyPathFourNodesCommit(t *testing.T) {
	replicas, _ := buildReplicas(t, 4)
	cancel, wg := runAll(replicas)
	defer func() {
		cancel()
		wg.Wait()
	}()

	waitForCommit(t, replicas, 1, 3*time.Second)

	var want *types.Commit[testBlock]
	for _, r := range replicas {
		commits := r.app.committed()
		require.Len(t, commits, 1, "replica %s should commit height 1 exactly once", r.addr)
		c := commits[0]
		require.Equal(t, uint64(1), c.Height)
		if want == nil {
			want = &c
		} else {
			require.Equal(t, want.Content, c.Content, "all replicas must commit the same block content (safety, §8.1)")
			require.Equal(t, want.Proof.BlockHash, c.Proof.BlockHash)
		}
	}

	// Every replica should have moved on to round 0 of height 2.
	for _, r := range replicas {
		height, round, _, _ := r.state.machine.Snapshot()
		require.Equal(t, uint64(2), height)
		require.Equal(t, uint64(0), round)
	}
}

func TestHappyPathAdvancesToNextHeightAfterCommit(t *testing.T) {
	replicas, _ := buildReplicas(t, 4)
	cancel, wg := runAll(replicas)
	defer func() {
		cancel()
		wg.Wait()
	}()

	waitForCommit(t, replicas, 1, 3*time.Second)
	waitForCommit(t, replicas, 2, 3*time.Second)

	for _, r := range replicas {
		commits := r.app.committed()
		require.Len(t, commits, 2)
		require.Equal(t, uint64(1), commits[0].Height)
		require.Equal(t, uint64(2), commits[1].Height)
	}
}
