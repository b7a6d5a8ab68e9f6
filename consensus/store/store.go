// Package store persists the genesis (and any subsequently replaced)
// authority list a replica should start consensus with, independent of the
// single-record write-ahead log in consensus/wal: the authority list is
// read once at startup and otherwise only changes via committed Status
// updates, so it gets its own fixed key rather than riding along with the
// per-step WAL record.
package store

import (
	"github.com/ethereum/go-ethereum/rlp"

	"overlord/consensus/types"
	"overlord/storage"
)

var authorityKey = []byte("overlord/store/authority")

// Store wraps a storage.Database for the authority list.
type Store struct {
	db storage.Database
}

func New(db storage.Database) *Store {
	return &Store{db: db}
}

type rlpAddress [20]byte

type rlpNode struct {
	Address       rlpAddress
	ProposeWeight uint32
	VoteWeight    uint32
}

// SaveAuthority persists list under the fixed authority key, overwriting
// whatever was there before. Callers must pass a deterministically ordered
// list; SaveAuthority does not sort it, since authority.Manage.Update
// already imposes the canonical ascending order on load.
func (s *Store) SaveAuthority(list []types.Node) error {
	encoded := make([]rlpNode, len(list))
	for i, n := range list {
		encoded[i] = rlpNode{Address: rlpAddress(n.Address), ProposeWeight: n.ProposeWeight, VoteWeight: n.VoteWeight}
	}
	raw, err := rlp.EncodeToBytes(encoded)
	if err != nil {
		return err
	}
	return s.db.Put(authorityKey, raw)
}

// LoadAuthority returns the persisted authority list, or (nil, false) if
// none has ever been saved (a chain's first-ever start, which should
// instead bootstrap from a genesis configuration file).
func (s *Store) LoadAuthority() ([]types.Node, bool, error) {
	raw, err := s.db.Get(authorityKey)
	if err != nil {
		return nil, false, nil
	}
	var encoded []rlpNode
	if err := rlp.DecodeBytes(raw, &encoded); err != nil {
		return nil, false, err
	}
	list := make([]types.Node, len(encoded))
	for i, n := range encoded {
		list[i] = types.Node{Address: types.Address(n.Address), ProposeWeight: n.ProposeWeight, VoteWeight: n.VoteWeight}
	}
	return list, true, nil
}
