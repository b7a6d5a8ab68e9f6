package collector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"overlord/consensus/types"
)

func TestMaxRoundAboveThreshold(t *testing.T) {
	c := NewChoke()
	for _, a := range []byte{1, 2, 3} {
		c.Insert(4, types.SignedChoke{Address: voteAddr(a), Choke: types.Choke{Height: 1, Round: 4}})
	}
	c.Insert(5, types.SignedChoke{Address: voteAddr(1), Choke: types.Choke{Height: 1, Round: 5}})

	round, ok := c.MaxRoundAboveThreshold(4)
	require.True(t, ok)
	require.Equal(t, uint64(4), round)
}

func TestMaxRoundAboveThresholdNoneQualifies(t *testing.T) {
	c := NewChoke()
	c.Insert(1, types.SignedChoke{Address: voteAddr(1), Choke: types.Choke{Height: 1, Round: 1}})

	_, ok := c.MaxRoundAboveThreshold(4)
	require.False(t, ok)
}

func TestChokeSetQCAndClear(t *testing.T) {
	c := NewChoke()
	qc := types.AggregatedChoke{Height: 1, Round: 4, Voters: []types.Address{voteAddr(1)}}
	c.SetQC(4, qc)

	got, ok := c.GetQC(4)
	require.True(t, ok)
	require.Equal(t, qc, got)

	c.Clear()
	_, ok = c.GetQC(4)
	require.False(t, ok)
}
