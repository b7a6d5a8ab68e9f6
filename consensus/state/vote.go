package state

import (
	"context"

	"overlord/consensus/smr"
	"overlord/consensus/types"
	"overlord/observability"
)

// handleSignedVote records a single vote and, if it pushes some block hash
// past the supermajority threshold, folds the round's votes of that type
// into a QC and feeds it back into the SMR as if it had arrived over the
// network — matching the spec's "QC formation is just vote counting plus
// aggregation" model (§4.3). A vote for a height beyond the current one is
// still cached (it may belong to a height this replica hasn't reached yet)
// but is not counted until recheckCachedVotesAndQCs replays it once that
// height becomes current.
func (s *State[T]) handleSignedVote(ctx context.Context, sv types.SignedVote) error {
	s.votes.InsertVote(ctx, sv.Vote.BlockHash, sv, sv.Voter)
	if sv.Vote.Height != s.height {
		return nil
	}
	return s.countingVote(ctx, sv.Vote.Round, sv.Vote.VoteType)
}

// handleAggregatedVote installs a QC received directly from the network
// (built by some other replica, most often the round's leader). A QC for a
// height beyond the current one is cached the same way but left untriggered
// until recheckCachedVotesAndQCs replays it on arrival at that height.
func (s *State[T]) handleAggregatedVote(ctx context.Context, av types.AggregatedVote) error {
	s.votes.SetQC(av)
	if av.Height != s.height {
		return nil
	}
	return s.maybeTriggerVoteQC(av.Round, av.VoteType, av.BlockHash)
}

// countingVote sums each candidate block hash's accumulated vote weight
// (including the null/empty hash for replicas that saw no valid proposal)
// and, the moment any one of them strictly exceeds two thirds of the
// authority's total weight, forms and broadcasts that hash's QC. The
// threshold arithmetic (acc*3 > sum*2) is an exact transcription of the
// protocol's supermajority rule and must not be approximated with integer
// division.
func (s *State[T]) countingVote(ctx context.Context, round uint64, vt types.VoteType) error {
	voteMap, err := s.votes.GetVoteMap(s.height, round, vt)
	if err != nil {
		return err
	}
	weightSum := s.authority.GetVoteWeightSum()
	for hash, voters := range voteMap {
		var acc uint64
		for _, voter := range voters {
			w, err := s.authority.GetVoteWeight(voter)
			if err != nil {
				continue
			}
			acc += uint64(w)
		}
		if acc*3 > weightSum*2 {
			if err := s.generateQC(ctx, round, vt, hash, voters); err != nil {
				return err
			}
			return s.maybeTriggerVoteQC(round, vt, hash)
		}
	}
	return nil
}

// generateQC folds voters' individual signed votes for (round, vt, hash)
// into one AggregatedVote, with the address bitmap and signature built
// over the authority's canonical ascending ordering (§4.2), and broadcasts
// it. Only the round's leader is expected to reach this point in a
// healthy network, but any replica observing the threshold may do so.
func (s *State[T]) generateQC(ctx context.Context, round uint64, vt types.VoteType, hash types.Hash, voters []types.Address) error {
	sorted := append([]types.Address(nil), voters...)
	types.SortAddresses(sorted)

	votes := s.votes.GetVotes(s.height, round, vt, hash)
	byVoter := make(map[types.Address]types.Signature, len(votes))
	for _, v := range votes {
		byVoter[v.Voter] = v.Signature
	}
	sigs := make([]types.Signature, 0, len(sorted))
	for _, addr := range sorted {
		sig, ok := byVoter[addr]
		if !ok {
			return types.NewError(types.ErrAggregatedSignature, "missing signature for counted voter")
		}
		sigs = append(sigs, sig)
	}

	agg, err := s.crypto.AggregateSignatures(sigs, sorted)
	if err != nil {
		return types.NewErrorf(types.ErrAggregatedSignature, "aggregate: %v", err)
	}
	bitmap := types.BuildBitmap(s.authority.Addresses(), sorted)

	qc := types.AggregatedVote{
		Signature: types.AggregatedSignature{Signature: agg, AddressBitmap: bitmap},
		VoteType:  vt, Height: s.height, Round: round, BlockHash: hash, Leader: s.self,
	}
	s.votes.SetQC(qc)
	if vt == types.VoteTypePrevote {
		observability.Consensus().RecordQCFormed("prevote")
	} else {
		observability.Consensus().RecordQCFormed("precommit")
	}
	return s.broadcast(ctx, types.NewAggregatedVoteMsg[T](qc))
}

func (s *State[T]) triggerVoteQC(round uint64, vt types.VoteType, hash types.Hash) error {
	trigger := smr.Trigger{Source: smr.SourceState, Height: s.height, Round: round, Hash: hash}
	switch vt {
	case types.VoteTypePrevote:
		trigger.Type = smr.TriggerPrevoteQC
	case types.VoteTypePrecommit:
		trigger.Type = smr.TriggerPrecommitQC
	}
	return s.machine.Trigger(trigger)
}

// tryFullTransaction reports whether hash's block content has cleared
// check_block, gating whether a QC built or received for it may drive the
// SMR yet (§4.5's try_get_full_txs gate). The empty hash — a null
// vote/QC, with no block behind it — always passes.
func (s *State[T]) tryFullTransaction(hash types.Hash) bool {
	var zero types.Hash
	if hash == zero {
		return true
	}
	return s.isFullTransaction[hash]
}

// maybeTriggerVoteQC feeds round/vt/hash's QC into the SMR only once
// tryFullTransaction passes; otherwise the trigger is deferred and left for
// handleCheckBlockResponse to fire once check_block returns (§4.5). The QC
// itself has already been formed/cached and broadcast by the caller either
// way — only the SMR trigger is gated.
func (s *State[T]) maybeTriggerVoteQC(round uint64, vt types.VoteType, hash types.Hash) error {
	if !s.tryFullTransaction(hash) {
		return nil
	}
	return s.triggerVoteQC(round, vt, hash)
}

// recheckCachedVotesAndQCs replays every vote and QC cached for the
// replica's current height through the normal verified-message pipeline.
// It runs once on arrival at a new height (handleNewRound), so ballots that
// were only cached while this height was still in the future — because
// checkHeightRound admits a bounded gap ahead of the replica's own height —
// get a chance to be counted, or re-trigger the SMR, now that the height is
// current (§4.5's goto_new_height re-check).
func (s *State[T]) recheckCachedVotesAndQCs(ctx context.Context) {
	votes, qcs := s.votes.HeightVotesAndQCs(s.height)
	for _, sv := range votes {
		s.requeueVerified(ctx, types.NewSignedVoteMsg[T](sv))
	}
	for _, qc := range qcs {
		s.requeueVerified(ctx, types.NewAggregatedVoteMsg[T](qc))
	}
}

// handleVoteEvent reacts to EventPrevoteVote/EventPrecommitVote: the SMR
// has moved the replica into Prevote or Precommit and wants this replica's
// own ballot cast for ev.BlockHash (the empty hash if nothing was reached).
// Every replica sends its vote to the round's leader to aggregate, rather
// than broadcasting — the leader-aggregator model the spec calls for to
// keep vote traffic O(n) instead of O(n^2).
func (s *State[T]) handleVoteEvent(ctx context.Context, ev smr.Event, vt types.VoteType) error {
	vote := types.Vote{Height: s.height, Round: s.round, VoteType: vt, BlockHash: ev.BlockHash}
	sv, err := s.signVote(vote)
	if err != nil {
		return err
	}
	if s.isLeader {
		s.votes.InsertVote(ctx, vote.BlockHash, sv, s.self)
		return s.countingVote(ctx, s.round, vt)
	}
	return s.transmit(ctx, s.leaderAddress, types.NewSignedVoteMsg[T](sv))
}
