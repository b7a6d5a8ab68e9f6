package smr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"overlord/consensus/types"
)

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func TestHappyPathThroughCommit(t *testing.T) {
	m := NewMachine(1, 8)

	require.NoError(t, m.Trigger(Trigger{Type: TriggerProposal, Height: 1, Round: 0, Hash: hashOf(1)}))
	ev := <-m.Events()
	require.Equal(t, EventPrevoteVote, ev.Kind)

	require.NoError(t, m.Trigger(Trigger{Type: TriggerPrevoteQC, Height: 1, Round: 0, Hash: hashOf(1)}))
	ev = <-m.Events()
	require.Equal(t, EventPrecommitVote, ev.Kind)
	require.NotNil(t, ev.LockRound)
	require.Equal(t, uint64(0), *ev.LockRound)

	require.NoError(t, m.Trigger(Trigger{Type: TriggerPrecommitQC, Height: 1, Round: 0, Hash: hashOf(1)}))
	ev = <-m.Events()
	require.Equal(t, EventCommit, ev.Kind)
	require.Equal(t, hashOf(1), ev.BlockHash)

	_, _, step, _ := m.Snapshot()
	require.Equal(t, types.StepCommit, step)
}

func TestNullPrecommitQCAdvancesRound(t *testing.T) {
	m := NewMachine(1, 8)
	require.NoError(t, m.Trigger(Trigger{Type: TriggerProposal, Height: 1, Round: 0}))
	<-m.Events()
	require.NoError(t, m.Trigger(Trigger{Type: TriggerPrevoteQC, Height: 1, Round: 0}))
	<-m.Events()

	require.NoError(t, m.Trigger(Trigger{Type: TriggerPrecommitQC, Height: 1, Round: 0}))
	ev := <-m.Events()
	require.Equal(t, EventNewRoundInfo, ev.Kind)
	require.Equal(t, uint64(1), ev.Round)

	_, round, step, lock := m.Snapshot()
	require.Equal(t, uint64(1), round)
	require.Equal(t, types.StepPropose, step)
	require.Nil(t, lock)
}

func TestLockCarriesAcrossContinueRound(t *testing.T) {
	m := NewMachine(1, 8)
	require.NoError(t, m.Trigger(Trigger{Type: TriggerProposal, Height: 1, Round: 0, Hash: hashOf(9)}))
	<-m.Events()
	require.NoError(t, m.Trigger(Trigger{Type: TriggerPrevoteQC, Height: 1, Round: 0, Hash: hashOf(9)}))
	<-m.Events()

	_, _, _, lock := m.Snapshot()
	require.NotNil(t, lock)
	require.Equal(t, hashOf(9), lock.Hash)

	require.NoError(t, m.Trigger(Trigger{Type: TriggerContinueRound, Round: 3}))
	ev := <-m.Events()
	require.Equal(t, EventNewRoundInfo, ev.Kind)
	require.Equal(t, uint64(3), ev.Round)
	require.NotNil(t, ev.LockProposal)
	require.Equal(t, hashOf(9), *ev.LockProposal)
}

func TestStaleTriggersAreIgnored(t *testing.T) {
	m := NewMachine(1, 8)
	require.NoError(t, m.Trigger(Trigger{Type: TriggerPrevoteQC, Height: 1, Round: 0}))
	select {
	case ev := <-m.Events():
		t.Fatalf("expected no event for a stale trigger, got %+v", ev)
	default:
	}
}

func TestStepTimeoutFromPrecommitEntersBrake(t *testing.T) {
	m := NewMachine(1, 8)
	require.NoError(t, m.Trigger(Trigger{Type: TriggerProposal, Height: 1, Round: 0}))
	<-m.Events()
	require.NoError(t, m.Trigger(Trigger{Type: TriggerPrevoteQC, Height: 1, Round: 0}))
	<-m.Events()

	require.NoError(t, m.StepTimeout(1, 0, types.StepPrecommit))
	ev := <-m.Events()
	require.Equal(t, EventBrake, ev.Kind)

	_, _, step, _ := m.Snapshot()
	require.Equal(t, types.StepBrake, step)
}

func TestWalInfoRehydratesCoordinatesAndLock(t *testing.T) {
	m := NewMachine(0, 8)
	lock := &types.Lock{Round: 2, Hash: hashOf(4)}
	base := types.SMRBase{Height: 5, Round: 3, Step: types.StepPropose, Lock: lock}

	require.NoError(t, m.Trigger(Trigger{Type: TriggerWalInfo, WalInfo: &base}))
	ev := <-m.Events()
	require.Equal(t, EventNewRoundInfo, ev.Kind)
	require.Equal(t, uint64(5), ev.Height)
	require.Equal(t, uint64(3), ev.Round)
	require.NotNil(t, ev.LockProposal)
	require.Equal(t, hashOf(4), *ev.LockProposal)

	height, round, step, gotLock := m.Snapshot()
	require.Equal(t, uint64(5), height)
	require.Equal(t, uint64(3), round)
	require.Equal(t, types.StepPropose, step)
	require.Equal(t, lock, gotLock)
}
