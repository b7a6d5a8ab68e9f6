package collector

import (
	"context"

	"overlord/consensus/types"
)

type voteKey struct {
	height   uint64
	round    uint64
	voteType types.VoteType
}

type voteSlot struct {
	votes  map[types.Hash]map[types.Address]types.SignedVote
	voters map[types.Address]bool
	qc     *types.AggregatedVote
}

func newVoteSlot() *voteSlot {
	return &voteSlot{
		votes:  make(map[types.Hash]map[types.Address]types.SignedVote),
		voters: make(map[types.Address]bool),
	}
}

// Vote is the per-height-round-type vote store with QC derivation (§4.3).
type Vote struct {
	slots map[voteKey]*voteSlot
}

func NewVote() *Vote {
	return &Vote{slots: make(map[voteKey]*voteSlot)}
}

func (c *Vote) slot(height, round uint64, vt types.VoteType) *voteSlot {
	key := voteKey{height, round, vt}
	s, ok := c.slots[key]
	if !ok {
		s = newVoteSlot()
		c.slots[key] = s
	}
	return s
}

// InsertVote records sv from voter, ignoring the context parameter's
// value beyond carrying it for tracing call sites that want it; a voter
// that has already cast a vote in this slot is not recorded again.
func (c *Vote) InsertVote(_ context.Context, _ types.Hash, sv types.SignedVote, voter types.Address) {
	s := c.slot(sv.Vote.Height, sv.Vote.Round, sv.Vote.VoteType)
	if s.voters[voter] {
		return
	}
	s.voters[voter] = true
	byVoter, ok := s.votes[sv.Vote.BlockHash]
	if !ok {
		byVoter = make(map[types.Address]types.SignedVote)
		s.votes[sv.Vote.BlockHash] = byVoter
	}
	byVoter[voter] = sv
}

// SetQC installs qc for its (height, round, vote_type) slot, whether it
// was derived locally or received from the network.
func (c *Vote) SetQC(qc types.AggregatedVote) {
	s := c.slot(qc.Height, qc.Round, qc.VoteType)
	q := qc
	s.qc = &q
}

func (c *Vote) GetQCByID(height, round uint64, vt types.VoteType) (types.AggregatedVote, error) {
	key := voteKey{height, round, vt}
	s, ok := c.slots[key]
	if !ok || s.qc == nil {
		return types.AggregatedVote{}, types.NewErrorf(types.ErrStorage, "no %s qc at height %d round %d", vt, height, round)
	}
	return *s.qc, nil
}

// GetQCByHash scans every round at height for a QC of type vt matching
// hash, used when a reply is keyed by block hash rather than round.
func (c *Vote) GetQCByHash(height uint64, hash types.Hash, vt types.VoteType) (types.AggregatedVote, bool) {
	for key, s := range c.slots {
		if key.height != height || key.voteType != vt || s.qc == nil {
			continue
		}
		if s.qc.BlockHash == hash {
			return *s.qc, true
		}
	}
	return types.AggregatedVote{}, false
}

func (c *Vote) GetVotes(height, round uint64, vt types.VoteType, hash types.Hash) []types.SignedVote {
	s, ok := c.slots[voteKey{height, round, vt}]
	if !ok {
		return nil
	}
	byVoter, ok := s.votes[hash]
	if !ok {
		return nil
	}
	out := make([]types.SignedVote, 0, len(byVoter))
	for _, sv := range byVoter {
		out = append(out, sv)
	}
	return out
}

func (c *Vote) VoteCount(height, round uint64, vt types.VoteType) int {
	s, ok := c.slots[voteKey{height, round, vt}]
	if !ok {
		return 0
	}
	return len(s.voters)
}

// GetVoteMap returns, for every hash that has at least one vote in this
// slot, the set of voter addresses backing it.
func (c *Vote) GetVoteMap(height, round uint64, vt types.VoteType) (map[types.Hash][]types.Address, error) {
	s, ok := c.slots[voteKey{height, round, vt}]
	if !ok {
		return nil, nil
	}
	out := make(map[types.Hash][]types.Address, len(s.votes))
	for hash, byVoter := range s.votes {
		addrs := make([]types.Address, 0, len(byVoter))
		for addr := range byVoter {
			addrs = append(addrs, addr)
		}
		out[hash] = addrs
	}
	return out, nil
}

// Flush drops every slot for height <= below.
func (c *Vote) Flush(below uint64) {
	for key := range c.slots {
		if key.height <= below {
			delete(c.slots, key)
		}
	}
}

// HeightVotesAndQCs returns every cached SignedVote and AggregatedVote at
// height, used to re-check cached future votes/QCs once that height
// becomes current.
func (c *Vote) HeightVotesAndQCs(height uint64) ([]types.SignedVote, []types.AggregatedVote) {
	var votes []types.SignedVote
	var qcs []types.AggregatedVote
	for key, s := range c.slots {
		if key.height != height {
			continue
		}
		for _, byVoter := range s.votes {
			for _, sv := range byVoter {
				votes = append(votes, sv)
			}
		}
		if s.qc != nil {
			qcs = append(qcs, *s.qc)
		}
	}
	return votes, qcs
}
