// Package types defines the wire-level data model for the consensus core:
// addresses, hashes, votes, proposals, quorum certificates and the
// write-ahead-log records that make a replica's state recoverable.
package types

import (
	"fmt"
	"sort"

	"overlord/crypto"
)

// Protocol-wide constants. Round resets to INIT_ROUND on every height
// change; the gaps bound how far ahead of the local (height, round) an
// incoming message may sit before it is treated as noise rather than cached.
const (
	InitHeight      uint64 = 0
	InitRound       uint64 = 0
	FutureHeightGap uint64 = 5
	FutureRoundGap  uint64 = 10
)

// Address is a 20-byte validator identity, comparable and sortable so it can
// be used directly as a map key and in canonical (ascending) orderings.
type Address [20]byte

// AddressFromBytes builds an Address from a 20-byte slice.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != len(a) {
		return a, fmt.Errorf("consensus: address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromPubKey derives the validator address owning pub.
func AddressFromPubKey(pub *crypto.PublicKey) Address {
	addr, err := AddressFromBytes(pub.Address().Bytes())
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

func (a Address) String() string {
	addr := crypto.MustNewAddress(crypto.NHBPrefix, a.Bytes())
	return addr.String()
}

func (a Address) IsZero() bool { return a == Address{} }

// Less orders addresses ascending by their raw bytes; every canonical
// ordering in the protocol (authority lists, QC bitmaps, choke voters) is
// defined in terms of this ordering.
func (a Address) Less(b Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// SortAddresses sorts addresses ascending in place.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}

// Hash is a 32-byte content digest. A zero-value Hash represents "no block"
// (the null vote / null precommit case).
type Hash [32]byte

func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) == 0 {
		return h, nil
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("consensus: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) Bytes() []byte {
	if h.IsEmpty() {
		return nil
	}
	return append([]byte(nil), h[:]...)
}

func (h Hash) IsEmpty() bool { return h == Hash{} }

func (h Hash) String() string {
	if h.IsEmpty() {
		return "<nil>"
	}
	return fmt.Sprintf("%x", h[:])
}

// Signature is an opaque, order-sensitive byte string: either a single
// producer signature, or the concatenation produced by an aggregator.
type Signature []byte

func (s Signature) Bytes() []byte { return append([]byte(nil), s...) }

// Step is the phase of a round. The numeric values are part of the wire
// format (see codec) and must not be renumbered.
type Step uint8

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepBrake
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepBrake:
		return "brake"
	case StepCommit:
		return "commit"
	default:
		return fmt.Sprintf("step(%d)", uint8(s))
	}
}

// VoteType distinguishes prevotes from precommits. Values are fixed by the
// wire format. The codec does not validate this byte on decode: an
// unrecognised value decodes, without error or panic, to a VoteType that is
// neither of the constants below.
type VoteType uint8

const (
	VoteTypePrevote   VoteType = 1
	VoteTypePrecommit VoteType = 2
)

func (v VoteType) String() string {
	switch v {
	case VoteTypePrevote:
		return "prevote"
	case VoteTypePrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("vote_type(%d)", uint8(v))
	}
}

func (v VoteType) Step() Step {
	if v == VoteTypePrevote {
		return StepPrevote
	}
	return StepPrecommit
}

// Node is one member of an authority list: its address and voting weight.
// propose_weight is carried for the random-leader extension named as a
// non-goal by the core selection rule, but is still modelled so a future
// weighting scheme has somewhere to live without a wire change.
type Node struct {
	Address       Address
	ProposeWeight uint32
	VoteWeight    uint32
}

func (n Node) Less(o Node) bool { return n.Address.Less(o.Address) }
