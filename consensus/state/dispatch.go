package state

import (
	"context"
	"time"

	"overlord/consensus/codec"
	"overlord/consensus/types"
	"overlord/observability"
)

// messageRound extracts the round carried by msg, independent of its kind;
// RichStatus and Stop carry none and return 0.
func messageRound[T any](msg types.OverlordMsg[T]) uint64 {
	switch msg.Kind {
	case types.MsgSignedProposal:
		return msg.SignedProposal.Proposal.Round
	case types.MsgSignedVote:
		return msg.SignedVote.Vote.Round
	case types.MsgAggregatedVote:
		return msg.AggregatedVote.Round
	case types.MsgSignedChoke:
		return msg.SignedChoke.Choke.Round
	default:
		return 0
	}
}

// checkHeightRound applies the asymmetric future-gap rule: a message at the
// replica's own height is bounded relative to its own round, but a message
// announcing a higher height is bounded by an absolute round ceiling — the
// higher height hasn't been reached locally yet, so there is no local round
// to offset from.
func (s *State[T]) checkHeightRound(height, round uint64) error {
	if height+1 < s.height {
		return types.NewRoundDiffError(s.height, height)
	}
	if height > s.height+types.FutureHeightGap {
		return types.NewRoundDiffError(s.height, height)
	}
	if height == s.height {
		if round+types.FutureRoundGap < s.round || round > s.round+types.FutureRoundGap {
			return types.NewRoundDiffError(s.round, round)
		}
		return nil
	}
	if round > types.FutureRoundGap {
		return types.NewRoundDiffError(s.round, round)
	}
	return nil
}

// dispatch is the run loop's entry point for anything arriving on msgCh: it
// triages height/round, drops what is too stale or too far in the future,
// and hands everything else to the parallel verifier pool. RichStatus and
// Stop carry no signature and bypass verification entirely.
func (s *State[T]) dispatch(ctx context.Context, msg types.OverlordMsg[T]) error {
	if msg.IsRichStatus() || msg.Kind == types.MsgStop {
		return s.handleMsg(ctx, msg)
	}

	height := msg.GetHeight()
	round := messageRound(msg)
	if err := s.checkHeightRound(height, round); err != nil {
		return err
	}
	if height+1 < s.height {
		return nil
	}

	go func() {
		if err := s.verifySem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer s.verifySem.Release(1)
		s.verifyAndForward(ctx, msg)
	}()
	return nil
}

// verifyAndForward runs on the verifier pool: it checks the message's
// signature(s) against the authority list and, on success, re-queues it on
// verifySigCh for the single run goroutine to process. A failed signature
// is reported and dropped without ever reaching handleMsg.
func (s *State[T]) verifyAndForward(ctx context.Context, msg types.OverlordMsg[T]) {
	start := time.Now()
	err := s.verifySignature(msg)
	observability.Consensus().ObserveVerifyLatency(time.Since(start))
	if err != nil {
		s.handleError(ctx, err)
		return
	}
	select {
	case s.verifySigCh <- msgEnvelope[T]{ctx: ctx, msg: msg}:
	default:
		s.handleError(ctx, types.NewError(types.ErrChannel, "verified message queue full"))
	}
}

// requeueVerified re-enters an already-verified message (e.g. a cached
// vote/QC replayed by recheckCachedVotesAndQCs) through the same
// verifySigCh path verifyAndForward uses for freshly-verified network
// traffic, without re-checking any signature.
func (s *State[T]) requeueVerified(ctx context.Context, msg types.OverlordMsg[T]) {
	select {
	case s.verifySigCh <- msgEnvelope[T]{ctx: ctx, msg: msg}:
	default:
	}
}

func (s *State[T]) verifySignature(msg types.OverlordMsg[T]) error {
	switch msg.Kind {
	case types.MsgSignedProposal:
		return s.verifySignedProposal(msg.SignedProposal)
	case types.MsgSignedVote:
		return s.verifySignedVote(msg.SignedVote)
	case types.MsgAggregatedVote:
		return s.verifyAggregatedVote(msg.AggregatedVote)
	case types.MsgSignedChoke:
		return s.verifySignedChoke(msg.SignedChoke)
	default:
		return nil
	}
}

func (s *State[T]) verifySignedProposal(sp types.SignedProposal[T]) error {
	encoded, err := codec.EncodeProposal(sp.Proposal)
	if err != nil {
		return types.NewErrorf(types.ErrProposal, "encode proposal: %v", err)
	}
	hash := s.crypto.Hash(encoded)
	if err := s.crypto.VerifySignature(sp.Signature, hash, sp.Proposal.Proposer); err != nil {
		return types.NewErrorf(types.ErrProposal, "verify proposer signature: %v", err)
	}
	if sp.Proposal.Lock == nil {
		return nil
	}
	return s.verifyAggregatedVote(sp.Proposal.Lock.LockVotes)
}

func (s *State[T]) verifySignedVote(sv types.SignedVote) error {
	encoded, err := codec.EncodeVote(sv.Vote)
	if err != nil {
		return types.NewErrorf(types.ErrPrevote, "encode vote: %v", err)
	}
	hash := s.crypto.Hash(encoded)
	if err := s.crypto.VerifySignature(sv.Signature, hash, sv.Voter); err != nil {
		return types.NewErrorf(types.ErrPrevote, "verify vote signature: %v", err)
	}
	return nil
}

func (s *State[T]) verifyAggregatedVote(av types.AggregatedVote) error {
	voters := types.VotersFromBitmap(s.authority.Addresses(), av.Signature.AddressBitmap)
	encoded, err := codec.EncodeVote(types.Vote{Height: av.Height, Round: av.Round, VoteType: av.VoteType, BlockHash: av.BlockHash})
	if err != nil {
		return types.NewErrorf(types.ErrAggregatedSignature, "encode vote: %v", err)
	}
	hash := s.crypto.Hash(encoded)
	if err := s.crypto.VerifyAggregatedSignature(av.Signature, hash, voters); err != nil {
		return types.NewErrorf(types.ErrAggregatedSignature, "verify aggregated vote: %v", err)
	}
	return nil
}

func (s *State[T]) verifySignedChoke(sc types.SignedChoke) error {
	encoded, err := codec.EncodeChoke(sc.Choke)
	if err != nil {
		return types.NewErrorf(types.ErrBrake, "encode choke: %v", err)
	}
	hash := s.crypto.Hash(encoded)
	if err := s.crypto.VerifySignature(sc.Signature, hash, sc.Address); err != nil {
		return types.NewErrorf(types.ErrBrake, "verify choke signature: %v", err)
	}
	return nil
}

// handleMsg is the top-level switch for an already-verified message,
// reached either directly (RichStatus/Stop) or via verifySigCh.
func (s *State[T]) handleMsg(ctx context.Context, msg types.OverlordMsg[T]) error {
	switch msg.Kind {
	case types.MsgSignedProposal:
		return s.handleSignedProposal(ctx, msg.SignedProposal)
	case types.MsgSignedVote:
		return s.handleSignedVote(ctx, msg.SignedVote)
	case types.MsgAggregatedVote:
		return s.handleAggregatedVote(ctx, msg.AggregatedVote)
	case types.MsgSignedChoke:
		return s.handleSignedChoke(ctx, msg.SignedChoke)
	case types.MsgRichStatus:
		return s.handleRichStatus(ctx, msg.RichStatus)
	case types.MsgStop:
		s.Stop()
		return nil
	default:
		return types.NewErrorf(types.ErrSelfCheck, "unknown message kind %d", msg.Kind)
	}
}
