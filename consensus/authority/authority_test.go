package authority

import (
	"testing"

	"github.com/stretchr/testify/require"

	"overlord/consensus/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func TestUpdateSortsAndComputesWeightSum(t *testing.T) {
	m := New()
	m.Update([]types.Node{
		{Address: addr(3), VoteWeight: 1},
		{Address: addr(1), VoteWeight: 2},
		{Address: addr(2), VoteWeight: 3},
	})

	require.Equal(t, uint64(6), m.GetVoteWeightSum())
	require.Equal(t, 3, m.Len())
	require.Equal(t, []types.Address{addr(1), addr(2), addr(3)}, m.Addresses())
}

func TestGetProposerRoundRobin(t *testing.T) {
	m := New()
	m.Update([]types.Node{
		{Address: addr(0), VoteWeight: 1},
		{Address: addr(1), VoteWeight: 1},
		{Address: addr(2), VoteWeight: 1},
		{Address: addr(3), VoteWeight: 1},
	})

	proposer, err := m.GetProposer(1, 0)
	require.NoError(t, err)
	require.Equal(t, addr(1), proposer)

	proposer, err = m.GetProposer(1, 1)
	require.NoError(t, err)
	require.Equal(t, addr(2), proposer)
}

func TestGetProposerEmptyAuthority(t *testing.T) {
	m := New()
	_, err := m.GetProposer(1, 0)
	require.Error(t, err)
}

func TestContainsAndWeightFallBackToPreviousGeneration(t *testing.T) {
	m := New()
	m.Update([]types.Node{{Address: addr(1), VoteWeight: 5}})
	m.Update([]types.Node{{Address: addr(2), VoteWeight: 7}})

	require.True(t, m.Contains(addr(1)))
	require.True(t, m.Contains(addr(2)))
	require.False(t, m.Contains(addr(3)))

	w, err := m.GetVoteWeight(addr(1))
	require.NoError(t, err)
	require.Equal(t, uint32(5), w)

	_, err = m.GetVoteWeight(addr(3))
	require.Error(t, err)
}
