package state

import (
	"context"

	"overlord/consensus/smr"
	"overlord/consensus/types"
	"overlord/observability"
)

// handleSignedChoke records one replica's vote to abandon the current
// round and, past threshold, folds the round's chokes into a ChokeQC.
func (s *State[T]) handleSignedChoke(ctx context.Context, sc types.SignedChoke) error {
	if sc.Choke.Height != s.height {
		return nil
	}
	s.chokes.Insert(sc.Choke.Round, sc)
	return s.checkChokeAboveThreshold(ctx, sc.Choke.Round)
}

// checkChokeAboveThreshold forms a ChokeQC the moment more than two thirds
// of the authority (by count; chokes carry no vote-weight split in the
// wire format) have signalled abandonment of round. There is no dedicated
// wire message for the resulting ChokeQC: every replica broadcasts its own
// SignedChoke and independently derives the same aggregate once it has
// collected enough of them, so forming one only needs to drive this
// replica's own SMR forward.
func (s *State[T]) checkChokeAboveThreshold(ctx context.Context, round uint64) error {
	best, ok := s.chokes.MaxRoundAboveThreshold(s.authority.Len())
	if !ok || best != round {
		return nil
	}
	chokes, ok := s.chokes.GetChokes(round)
	if !ok {
		return nil
	}

	voters := make([]types.Address, 0, len(chokes))
	byVoter := make(map[types.Address]types.Signature, len(chokes))
	for _, sc := range chokes {
		voters = append(voters, sc.Address)
		byVoter[sc.Address] = sc.Signature
	}
	types.SortAddresses(voters)
	sigs := make([]types.Signature, 0, len(voters))
	for _, addr := range voters {
		sigs = append(sigs, byVoter[addr])
	}

	agg, err := s.crypto.AggregateSignatures(sigs, voters)
	if err != nil {
		return types.NewErrorf(types.ErrAggregatedSignature, "aggregate chokes: %v", err)
	}
	qc := types.AggregatedChoke{Height: s.height, Round: round, Signature: agg, Voters: voters}
	s.chokes.SetQC(round, qc)
	observability.Consensus().RecordQCFormed("choke")

	return s.machine.Trigger(smr.Trigger{Type: smr.TriggerContinueRound, Source: smr.SourceState, Height: s.height, Round: round + 1})
}

// handleBrake reacts to EventBrake: the precommit step timed out without a
// precommit QC. The replica signs and broadcasts its own choke for the
// current round, then checks whether that alone (plus whatever chokes had
// already arrived) now clears the threshold.
func (s *State[T]) handleBrake(ctx context.Context, ev smr.Event) error {
	choke := types.Choke{Height: s.height, Round: s.round, From: s.updateFrom}
	sc, err := s.signChoke(choke)
	if err != nil {
		return err
	}
	s.chokes.Insert(s.round, sc)
	if err := s.broadcast(ctx, types.NewSignedChokeMsg[T](sc)); err != nil {
		return err
	}

	if _, ok := s.proposals.Get(s.height, s.round); !ok {
		s.reportViewChange(ctx, types.ViewChangeNoProposalFromNetwork)
	} else if ev.LockRound == nil {
		s.reportViewChange(ctx, types.ViewChangeNoPrecommitQCFromNetwork)
	}

	return s.checkChokeAboveThreshold(ctx, s.round)
}
