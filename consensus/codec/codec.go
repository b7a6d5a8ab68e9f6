// Package codec implements the deterministic, length-tagged wire encoding
// for every consensus protocol value (§4.1): proposals, quorum
// certificates, chokes, and the write-ahead-log records. It builds on
// go-ethereum's RLP implementation, the same length-prefixed-list encoding
// the teacher already uses for validator-set persistence.
package codec

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"overlord/consensus/types"
)

// rlpVote/rlpSignedVote/etc give every wire value an explicit RLP shape
// that mirrors the field order of its exported counterpart. An optional
// lock is carried as a has_lock flag plus a lock slot that is always
// encoded; UpdateFrom is carried as a tag plus its encoded body.

type rlpAddress [20]byte
type rlpHash [32]byte

func toRLPAddress(a types.Address) rlpAddress { return rlpAddress(a) }
func toRLPHash(h types.Hash) rlpHash          { return rlpHash(h) }

type rlpVote struct {
	Height    uint64
	Round     uint64
	VoteType  uint8
	BlockHash rlpHash
}

type rlpSignedVote struct {
	Vote      rlpVote
	Voter     rlpAddress
	Signature []byte
}

func toRLPSignedVote(v types.SignedVote) rlpSignedVote {
	return rlpSignedVote{
		Vote: rlpVote{
			Height:    v.Vote.Height,
			Round:     v.Vote.Round,
			VoteType:  uint8(v.Vote.VoteType),
			BlockHash: toRLPHash(v.Vote.BlockHash),
		},
		Voter:     toRLPAddress(v.Voter),
		Signature: v.Signature.Bytes(),
	}
}

func (r rlpSignedVote) toSignedVote() types.SignedVote {
	return types.SignedVote{
		Vote: types.Vote{
			Height:    r.Vote.Height,
			Round:     r.Vote.Round,
			VoteType:  types.VoteType(r.Vote.VoteType),
			BlockHash: types.Hash(r.Vote.BlockHash),
		},
		Voter:     types.Address(r.Voter),
		Signature: types.Signature(r.Signature),
	}
}

// EncodeVote encodes the unsigned Vote a replica signs over; callers hash
// this encoding to get the digest passed to Sign/VerifySignature.
func EncodeVote(v types.Vote) ([]byte, error) {
	return rlp.EncodeToBytes(rlpVote{
		Height:    v.Height,
		Round:     v.Round,
		VoteType:  uint8(v.VoteType),
		BlockHash: toRLPHash(v.BlockHash),
	})
}

// EncodeSignedVote/DecodeSignedVote round-trip a SignedVote.
func EncodeSignedVote(v types.SignedVote) ([]byte, error) {
	return rlp.EncodeToBytes(toRLPSignedVote(v))
}

func DecodeSignedVote(data []byte) (types.SignedVote, error) {
	var r rlpSignedVote
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.SignedVote{}, fmt.Errorf("codec: decode signed vote: %w", err)
	}
	return r.toSignedVote(), nil
}

type rlpAggregatedSignature struct {
	Signature     []byte
	AddressBitmap []byte
}

type rlpAggregatedVote struct {
	Signature rlpAggregatedSignature
	VoteType  uint8
	Height    uint64
	Round     uint64
	BlockHash rlpHash
	Leader    rlpAddress
}

func toRLPAggregatedVote(v types.AggregatedVote) rlpAggregatedVote {
	return rlpAggregatedVote{
		Signature: rlpAggregatedSignature{
			Signature:     v.Signature.Signature.Bytes(),
			AddressBitmap: v.Signature.AddressBitmap,
		},
		VoteType:  uint8(v.VoteType),
		Height:    v.Height,
		Round:     v.Round,
		BlockHash: toRLPHash(v.BlockHash),
		Leader:    toRLPAddress(v.Leader),
	}
}

func (r rlpAggregatedVote) toAggregatedVote() types.AggregatedVote {
	return types.AggregatedVote{
		Signature: types.AggregatedSignature{
			Signature:     types.Signature(r.Signature.Signature),
			AddressBitmap: r.Signature.AddressBitmap,
		},
		VoteType:  types.VoteType(r.VoteType),
		Height:    r.Height,
		Round:     r.Round,
		BlockHash: types.Hash(r.BlockHash),
		Leader:    types.Address(r.Leader),
	}
}

func EncodeAggregatedVote(v types.AggregatedVote) ([]byte, error) {
	return rlp.EncodeToBytes(toRLPAggregatedVote(v))
}

func DecodeAggregatedVote(data []byte) (types.AggregatedVote, error) {
	var r rlpAggregatedVote
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.AggregatedVote{}, fmt.Errorf("codec: decode aggregated vote: %w", err)
	}
	return r.toAggregatedVote(), nil
}

type rlpPoLC struct {
	LockRound uint64
	LockVotes rlpAggregatedVote
}

// rlpProposal carries the has_lock flag explicitly: [has_lock, height,
// round, content, block_hash, lock, proposer]. The lock slot is always
// encoded (as a zero-valued rlpPoLC when the proposal has no lock), so the
// list has the same length whether or not has_lock is set.
type rlpProposal struct {
	HasLock   bool
	Height    uint64
	Round     uint64
	Content   []byte
	BlockHash rlpHash
	Lock      rlpPoLC
	Proposer  rlpAddress
}

// EncodeProposal encodes a Proposal[T]; T's own field layout is serialized
// through RLP reflection as the nested content payload.
func EncodeProposal[T any](p types.Proposal[T]) ([]byte, error) {
	content, err := rlp.EncodeToBytes(p.Content)
	if err != nil {
		return nil, fmt.Errorf("codec: encode proposal content: %w", err)
	}
	r := rlpProposal{
		Height:    p.Height,
		Round:     p.Round,
		Content:   content,
		BlockHash: toRLPHash(p.BlockHash),
		Proposer:  toRLPAddress(p.Proposer),
	}
	if p.Lock != nil {
		r.HasLock = true
		r.Lock = rlpPoLC{LockRound: p.Lock.LockRound, LockVotes: toRLPAggregatedVote(p.Lock.LockVotes)}
	}
	return rlp.EncodeToBytes(r)
}

func DecodeProposal[T any](data []byte) (types.Proposal[T], error) {
	var r rlpProposal
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.Proposal[T]{}, fmt.Errorf("codec: decode proposal: %w", err)
	}
	var content T
	if err := rlp.DecodeBytes(r.Content, &content); err != nil {
		return types.Proposal[T]{}, fmt.Errorf("codec: decode proposal content: %w", err)
	}
	p := types.Proposal[T]{
		Height:    r.Height,
		Round:     r.Round,
		Content:   content,
		BlockHash: types.Hash(r.BlockHash),
		Proposer:  types.Address(r.Proposer),
	}
	if r.HasLock {
		p.Lock = &types.PoLC{LockRound: r.Lock.LockRound, LockVotes: r.Lock.LockVotes.toAggregatedVote()}
	}
	return p, nil
}

type rlpSignedProposal struct {
	Signature []byte
	Proposal  []byte
}

func EncodeSignedProposal[T any](sp types.SignedProposal[T]) ([]byte, error) {
	proposal, err := EncodeProposal(sp.Proposal)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(rlpSignedProposal{Signature: sp.Signature.Bytes(), Proposal: proposal})
}

func DecodeSignedProposal[T any](data []byte) (types.SignedProposal[T], error) {
	var r rlpSignedProposal
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.SignedProposal[T]{}, fmt.Errorf("codec: decode signed proposal: %w", err)
	}
	proposal, err := DecodeProposal[T](r.Proposal)
	if err != nil {
		return types.SignedProposal[T]{}, err
	}
	return types.SignedProposal[T]{Signature: types.Signature(r.Signature), Proposal: proposal}, nil
}

type rlpProof struct {
	Height    uint64
	Round     uint64
	BlockHash rlpHash
	Signature []byte
}

type rlpCommit struct {
	Height  uint64
	Content []byte
	Proof   rlpProof
}

func EncodeCommit[T any](c types.Commit[T]) ([]byte, error) {
	content, err := rlp.EncodeToBytes(c.Content)
	if err != nil {
		return nil, fmt.Errorf("codec: encode commit content: %w", err)
	}
	r := rlpCommit{
		Height:  c.Height,
		Content: content,
		Proof: rlpProof{
			Height:    c.Proof.Height,
			Round:     c.Proof.Round,
			BlockHash: toRLPHash(c.Proof.BlockHash),
			Signature: c.Proof.Signature.Bytes(),
		},
	}
	return rlp.EncodeToBytes(r)
}

func DecodeCommit[T any](data []byte) (types.Commit[T], error) {
	var r rlpCommit
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.Commit[T]{}, fmt.Errorf("codec: decode commit: %w", err)
	}
	var content T
	if err := rlp.DecodeBytes(r.Content, &content); err != nil {
		return types.Commit[T]{}, fmt.Errorf("codec: decode commit content: %w", err)
	}
	return types.Commit[T]{
		Height:  r.Height,
		Content: content,
		Proof: types.Proof{
			Height:    r.Proof.Height,
			Round:     r.Proof.Round,
			BlockHash: types.Hash(r.Proof.BlockHash),
			Signature: types.Signature(r.Proof.Signature),
		},
	}, nil
}

// rlpUpdateFrom mirrors §4.1's tagged union: 0=PrevoteQC, 1=PrecommitQC,
// 2=ChokeQC.
type rlpUpdateFrom struct {
	Tag  uint8
	Body []byte
}

type rlpAggregatedChoke struct {
	Height    uint64
	Round     uint64
	Signature []byte
	Voters    []rlpAddress
}

func toRLPAggregatedChoke(c types.AggregatedChoke) rlpAggregatedChoke {
	voters := make([]rlpAddress, len(c.Voters))
	for i, a := range c.Voters {
		voters[i] = toRLPAddress(a)
	}
	return rlpAggregatedChoke{Height: c.Height, Round: c.Round, Signature: c.Signature, Voters: voters}
}

func (r rlpAggregatedChoke) toAggregatedChoke() types.AggregatedChoke {
	voters := make([]types.Address, len(r.Voters))
	for i, a := range r.Voters {
		voters[i] = types.Address(a)
	}
	return types.AggregatedChoke{Height: r.Height, Round: r.Round, Signature: types.Signature(r.Signature), Voters: voters}
}

func EncodeUpdateFrom(u types.UpdateFrom) ([]byte, error) {
	var r rlpUpdateFrom
	var body []byte
	var err error
	switch {
	case u.IsPrevoteQC():
		r.Tag = 0
		body, err = rlp.EncodeToBytes(toRLPAggregatedVote(u.PrevoteQC()))
	case u.IsPrecommitQC():
		r.Tag = 1
		body, err = rlp.EncodeToBytes(toRLPAggregatedVote(u.PrecommitQC()))
	default:
		r.Tag = 2
		body, err = rlp.EncodeToBytes(toRLPAggregatedChoke(u.ChokeQC()))
	}
	if err != nil {
		return nil, fmt.Errorf("codec: encode update_from body: %w", err)
	}
	r.Body = body
	return rlp.EncodeToBytes(r)
}

func DecodeUpdateFrom(data []byte) (types.UpdateFrom, error) {
	var r rlpUpdateFrom
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.UpdateFrom{}, fmt.Errorf("codec: decode update_from: %w", err)
	}
	switch r.Tag {
	case 0:
		var v rlpAggregatedVote
		if err := rlp.DecodeBytes(r.Body, &v); err != nil {
			return types.UpdateFrom{}, fmt.Errorf("codec: decode update_from prevote qc: %w", err)
		}
		return types.UpdateFromPrevoteQC(v.toAggregatedVote()), nil
	case 1:
		var v rlpAggregatedVote
		if err := rlp.DecodeBytes(r.Body, &v); err != nil {
			return types.UpdateFrom{}, fmt.Errorf("codec: decode update_from precommit qc: %w", err)
		}
		return types.UpdateFromPrecommitQC(v.toAggregatedVote()), nil
	case 2:
		var c rlpAggregatedChoke
		if err := rlp.DecodeBytes(r.Body, &c); err != nil {
			return types.UpdateFrom{}, fmt.Errorf("codec: decode update_from choke qc: %w", err)
		}
		return types.UpdateFromChokeQC(c.toAggregatedChoke()), nil
	default:
		return types.UpdateFrom{}, fmt.Errorf("codec: decode update_from: unknown tag %d", r.Tag)
	}
}

type rlpWalLock struct {
	LockRound uint64
	LockVotes rlpAggregatedVote
	Content   []byte
}

func EncodeWalLock[T any](l types.WalLock[T]) ([]byte, error) {
	content, err := rlp.EncodeToBytes(l.Content)
	if err != nil {
		return nil, fmt.Errorf("codec: encode wal lock content: %w", err)
	}
	r := rlpWalLock{LockRound: l.LockRound, LockVotes: toRLPAggregatedVote(l.LockVotes), Content: content}
	return rlp.EncodeToBytes(r)
}

func DecodeWalLock[T any](data []byte) (types.WalLock[T], error) {
	var r rlpWalLock
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.WalLock[T]{}, fmt.Errorf("codec: decode wal lock: %w", err)
	}
	var content T
	if err := rlp.DecodeBytes(r.Content, &content); err != nil {
		return types.WalLock[T]{}, fmt.Errorf("codec: decode wal lock content: %w", err)
	}
	return types.WalLock[T]{LockRound: r.LockRound, LockVotes: r.LockVotes.toAggregatedVote(), Content: content}, nil
}

// rlpWalInfo follows the WalInfo ordering [has_lock, height, round, step,
// lock, from]. Lock is always encoded (as an empty byte string when there
// is no lock), so from is always the sixth field; DecodeWalInfo reads Lock
// only when HasLock is true.
type rlpWalInfo struct {
	HasLock bool
	Height  uint64
	Round   uint64
	Step    uint8
	Lock    []byte
	From    []byte
}

func EncodeWalInfo[T any](w types.WalInfo[T]) ([]byte, error) {
	r := rlpWalInfo{Height: w.Height, Round: w.Round, Step: uint8(w.Step)}
	from, err := EncodeUpdateFrom(w.From)
	if err != nil {
		return nil, err
	}
	r.From = from
	if w.Lock != nil {
		r.HasLock = true
		lock, err := EncodeWalLock(*w.Lock)
		if err != nil {
			return nil, err
		}
		r.Lock = lock
	}
	return rlp.EncodeToBytes(r)
}

func DecodeWalInfo[T any](data []byte) (types.WalInfo[T], error) {
	var r rlpWalInfo
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.WalInfo[T]{}, fmt.Errorf("codec: decode wal info: %w", err)
	}
	from, err := DecodeUpdateFrom(r.From)
	if err != nil {
		return types.WalInfo[T]{}, err
	}
	w := types.WalInfo[T]{Height: r.Height, Round: r.Round, Step: types.Step(r.Step), From: from}
	if r.HasLock {
		lock, err := DecodeWalLock[T](r.Lock)
		if err != nil {
			return types.WalInfo[T]{}, err
		}
		w.Lock = &lock
	}
	return w, nil
}

type rlpChoke struct {
	Height uint64
	Round  uint64
	From   []byte
}

type rlpSignedChoke struct {
	Signature []byte
	Choke     rlpChoke
	Address   rlpAddress
}

// EncodeChoke encodes the unsigned Choke a replica signs over.
func EncodeChoke(c types.Choke) ([]byte, error) {
	from, err := EncodeUpdateFrom(c.From)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(rlpChoke{Height: c.Height, Round: c.Round, From: from})
}

func EncodeSignedChoke(sc types.SignedChoke) ([]byte, error) {
	from, err := EncodeUpdateFrom(sc.Choke.From)
	if err != nil {
		return nil, err
	}
	r := rlpSignedChoke{
		Signature: sc.Signature.Bytes(),
		Choke:     rlpChoke{Height: sc.Choke.Height, Round: sc.Choke.Round, From: from},
		Address:   toRLPAddress(sc.Address),
	}
	return rlp.EncodeToBytes(r)
}

func DecodeSignedChoke(data []byte) (types.SignedChoke, error) {
	var r rlpSignedChoke
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.SignedChoke{}, fmt.Errorf("codec: decode signed choke: %w", err)
	}
	from, err := DecodeUpdateFrom(r.Choke.From)
	if err != nil {
		return types.SignedChoke{}, err
	}
	return types.SignedChoke{
		Signature: types.Signature(r.Signature),
		Choke:     types.Choke{Height: r.Choke.Height, Round: r.Choke.Round, From: from},
		Address:   types.Address(r.Address),
	}, nil
}

func EncodeAggregatedChoke(c types.AggregatedChoke) ([]byte, error) {
	return rlp.EncodeToBytes(toRLPAggregatedChoke(c))
}

func DecodeAggregatedChoke(data []byte) (types.AggregatedChoke, error) {
	var r rlpAggregatedChoke
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return types.AggregatedChoke{}, fmt.Errorf("codec: decode aggregated choke: %w", err)
	}
	return r.toAggregatedChoke(), nil
}

// Canonical reports whether two encodings of logically equal values are
// byte-identical, the property §8 calls out for the round-trip law.
func Canonical(a, b []byte) bool { return bytes.Equal(a, b) }
