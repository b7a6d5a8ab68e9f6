package wal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"overlord/consensus/types"
	"overlord/storage"
)

type testContent struct {
	Value uint64
}

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func addrOf(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func sampleAggregatedVote() types.AggregatedVote {
	return types.AggregatedVote{
		Signature: types.AggregatedSignature{Signature: types.Signature([]byte("sixty-five-byte-signature-placeholder-padded-out-to-length-65!!!!")), AddressBitmap: []byte{0b1111}},
		VoteType:  types.VoteTypePrevote,
		Height:    9,
		Round:     1,
		BlockHash: hashOf(3),
		Leader:    addrOf(2),
	}
}

func TestWalLoadEmptyReturnsNotFound(t *testing.T) {
	w := New[testContent](storage.NewMemDB())
	_, ok, err := w.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWalSaveThenLoadRoundTrips(t *testing.T) {
	w := New[testContent](storage.NewMemDB())
	info := types.WalInfo[testContent]{
		Height: 9,
		Round:  1,
		Step:   types.StepPrecommit,
		Lock: &types.WalLock[testContent]{
			LockRound: 0,
			LockVotes: sampleAggregatedVote(),
			Content:   testContent{Value: 42},
		},
		From: types.UpdateFromPrevoteQC(sampleAggregatedVote()),
	}
	require.NoError(t, w.Save(context.Background(), info))

	got, ok, err := w.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, info.Height, got.Height)
	require.Equal(t, info.Round, got.Round)
	require.Equal(t, info.Step, got.Step)
	require.NotNil(t, got.Lock)
	require.Equal(t, info.Lock.LockRound, got.Lock.LockRound)
	require.Equal(t, info.Lock.Content, got.Lock.Content)
	require.Equal(t, info.Lock.LockVotes.BlockHash, got.Lock.LockVotes.BlockHash)
}

func TestWalSaveOverwritesPreviousRecord(t *testing.T) {
	w := New[testContent](storage.NewMemDB())
	require.NoError(t, w.Save(context.Background(), types.WalInfo[testContent]{
		Height: 1, Round: 0, Step: types.StepPropose, From: types.UpdateFromPrevoteQC(sampleAggregatedVote()),
	}))
	require.NoError(t, w.Save(context.Background(), types.WalInfo[testContent]{
		Height: 2, Round: 0, Step: types.StepCommit, From: types.UpdateFromPrecommitQC(sampleAggregatedVote()),
	}))

	got, ok, err := w.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), got.Height)
	require.Equal(t, types.StepCommit, got.Step)
	require.Nil(t, got.Lock)
}

func TestWalSaveWithoutLockRoundTrips(t *testing.T) {
	w := New[testContent](storage.NewMemDB())
	info := types.WalInfo[testContent]{
		Height: 3, Round: 2, Step: types.StepBrake,
		From: types.UpdateFromChokeQC(types.AggregatedChoke{Height: 3, Round: 2}),
	}
	require.NoError(t, w.Save(context.Background(), info))

	got, ok, err := w.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, got.Lock)
	require.Equal(t, info.Step, got.Step)
}
