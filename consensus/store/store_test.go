package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"overlord/consensus/types"
	"overlord/storage"
)

func TestStoreSaveLoadAuthority(t *testing.T) {
	s := New(storage.NewMemDB())

	_, found, err := s.LoadAuthority()
	require.NoError(t, err)
	require.False(t, found)

	list := []types.Node{
		{Address: types.Address{1}, ProposeWeight: 1, VoteWeight: 1},
		{Address: types.Address{2}, ProposeWeight: 1, VoteWeight: 2},
	}
	require.NoError(t, s.SaveAuthority(list))

	loaded, found, err := s.LoadAuthority()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, list, loaded)
}
