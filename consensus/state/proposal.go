package state

import (
	"context"

	"overlord/consensus/smr"
	"overlord/consensus/types"
)

// handleSignedProposal caches sp for its (height, round) slot, and — if it
// matches the replica's current coordinates and step — begins the
// asynchronous check_block call that, once it returns, drives the SMR's
// Propose->Prevote transition.
func (s *State[T]) handleSignedProposal(ctx context.Context, sp types.SignedProposal[T]) error {
	if err := s.proposals.Insert(ctx, sp.Proposal.Height, sp.Proposal.Round, sp); err != nil {
		return err
	}
	if sp.Proposal.Height != s.height || sp.Proposal.Round != s.round || s.step != types.StepPropose {
		return nil
	}
	return s.processCachedProposal(ctx, sp)
}

// processCachedProposal verifies the proposer identity, remembers the
// block content for later retrieval (vote casting, WAL recovery, commit)
// and spawns the block-validity check.
func (s *State[T]) processCachedProposal(ctx context.Context, sp types.SignedProposal[T]) error {
	proposer, err := s.authority.GetProposer(sp.Proposal.Height, sp.Proposal.Round)
	if err != nil {
		return err
	}
	if proposer != sp.Proposal.Proposer {
		return types.NewErrorf(types.ErrProposal, "proposal from %s, expected proposer %s", sp.Proposal.Proposer, proposer)
	}

	s.hashWithBlock[sp.Proposal.BlockHash] = sp.Proposal.Content

	if sp.Proposal.Lock != nil {
		s.votes.SetQC(sp.Proposal.Lock.LockVotes)
	}

	s.spawnCheckBlock(ctx, sp.Proposal.Height, sp.Proposal.Round, sp.Proposal.BlockHash, sp.Proposal.Content)
	return nil
}

// spawnCheckBlock runs the application's block validation off the single
// writer goroutine (§5): check_block is the one collaborator call the
// driver does not want blocking its event loop, since block validation
// cost is unbounded from the core's point of view.
func (s *State[T]) spawnCheckBlock(ctx context.Context, height, round uint64, hash types.Hash, content T) {
	go func() {
		pass := s.app.CheckBlock(ctx, height, hash, content) == nil
		select {
		case s.verifyRespCh <- checkBlockResult{height: height, round: round, blockHash: hash, pass: pass}:
		default:
		}
	}()
}

// handleCheckBlockResponse reacts to a completed check_block call. A
// response for a height the replica has since left is dropped outright;
// otherwise try_get_full_txs's result (§4.5) is recorded for resp.blockHash
// regardless of round, since a reproposed (PoLC) block keeps the same hash
// across rounds within a height. If the response still matches the
// replica's current round and Propose step, a pass drives the SMR's
// Propose->Prevote transition and a failure is reported, falling back to a
// null prevote by leaving the step timer to fire instead (§4.4's "no valid
// proposal seen" row). Otherwise, a pass may still need to drive a vote QC
// for this hash that arrived before check_block returned and was deferred
// by maybeTriggerVoteQC/tryFullTransaction — precommit is checked first
// since it is the stronger of the two.
func (s *State[T]) handleCheckBlockResponse(ctx context.Context, resp checkBlockResult) error {
	if resp.height != s.height {
		return nil
	}
	s.isFullTransaction[resp.blockHash] = resp.pass

	if resp.round == s.round && s.step == types.StepPropose {
		if !resp.pass {
			s.reportViewChange(ctx, types.ViewChangeCheckBlockNotPass)
			return nil
		}
		var lockRound *uint64
		if sp, _, ok := s.proposals.Get(s.height, s.round); ok && sp.Proposal.Lock != nil {
			lr := sp.Proposal.Lock.LockRound
			lockRound = &lr
		}
		return s.machine.Trigger(smr.Trigger{
			Type: smr.TriggerProposal, Source: smr.SourceState,
			Height: resp.height, Round: resp.round, Hash: resp.blockHash, LockRound: lockRound,
		})
	}

	if !resp.pass {
		return nil
	}
	if qc, ok := s.votes.GetQCByHash(s.height, resp.blockHash, types.VoteTypePrecommit); ok {
		return s.triggerVoteQC(qc.Round, types.VoteTypePrecommit, resp.blockHash)
	}
	if qc, ok := s.votes.GetQCByHash(s.height, resp.blockHash, types.VoteTypePrevote); ok {
		return s.triggerVoteQC(qc.Round, types.VoteTypePrevote, resp.blockHash)
	}
	return nil
}

// handleNewRound reacts to EventNewRoundInfo: elect the round's leader,
// either build and broadcast a fresh proposal (possibly re-proposing a
// locked block, §4.2's PoLC rule) or look for one already cached from the
// network.
func (s *State[T]) handleNewRound(ctx context.Context, ev smr.Event) error {
	s.chokes.Clear()
	if s.height >= 2 {
		s.proposals.Flush(s.height - 2)
		s.votes.Flush(s.height - 2)
	}

	if ev.Round > 0 {
		s.attributeRoundChange(ctx, ev)
	} else {
		s.recheckCachedVotesAndQCs(ctx)
	}

	leader, err := s.authority.GetProposer(s.height, s.round)
	if err != nil {
		return err
	}
	s.leaderAddress = leader
	s.isLeader = leader == s.self

	if !s.isLeader {
		if sp, pctx, ok := s.proposals.Get(s.height, s.round); ok {
			if pctx == nil {
				pctx = ctx
			}
			return s.processCachedProposal(pctx, sp)
		}
		return nil
	}

	return s.propose(ctx, ev)
}

// attributeRoundChange decides why the round just advanced (§4.5's
// view-change reason attribution) and reports it to the application. A
// choke-driven or prevote-QC-driven jump (the replica caught up to a round
// another quorum had already reached) is reported directly from the SMR's
// FromWhere. A null-precommit-driven jump (every replica derives this one
// locally once it sees 2f+1 null precommits) needs the previous round's
// local evidence inspected to tell apart a silent leader, a leader whose
// own vote count never reached threshold, and an ordinary case of missing
// network votes — the collectors for that round are still populated at
// this point, since gotoNewHeight only flushes the height just finished
// (and below) and handleNewRound only height-2 and below, so the current
// height's proposals and votes stay resident.
func (s *State[T]) attributeRoundChange(ctx context.Context, ev smr.Event) {
	switch ev.FromWhere.Kind {
	case smr.FromPrevoteQC:
		s.reportViewChange(ctx, types.ViewChangeUpdateFromHigherPrevoteQC)
		return
	case smr.FromChokeQC:
		s.reportViewChange(ctx, types.ViewChangeUpdateFromHigherChokeQC)
		return
	}

	prevRound := ev.FromWhere.Round
	wasLeader := false
	if leader, err := s.authority.GetProposer(s.height, prevRound); err == nil {
		wasLeader = leader == s.self
	}
	_, _, hadProposal := s.proposals.Get(s.height, prevRound)
	_, prevoteErr := s.votes.GetQCByID(s.height, prevRound, types.VoteTypePrevote)
	hadPrevoteQC := prevoteErr == nil

	switch {
	case !hadProposal:
		s.reportViewChange(ctx, types.ViewChangeNoProposalFromNetwork)
	case !hadPrevoteQC:
		if wasLeader {
			s.reportViewChange(ctx, types.ViewChangeLeaderReceivedPrevoteBelowThreshold)
		} else {
			s.reportViewChange(ctx, types.ViewChangeNoPrevoteQCFromNetwork)
		}
	default:
		if wasLeader {
			s.reportViewChange(ctx, types.ViewChangeLeaderReceivedPrecommitBelowThreshold)
		} else {
			s.reportViewChange(ctx, types.ViewChangeNoPrecommitQCFromNetwork)
		}
	}
}

// propose builds this round's proposal: if the replica holds a lock from a
// previous round (ev.LockProposal set), it MUST re-propose that exact
// block (PoLC); otherwise it asks the application for a fresh one.
func (s *State[T]) propose(ctx context.Context, ev smr.Event) error {
	var (
		content  T
		hash     types.Hash
		polc     *types.PoLC
		err      error
	)

	if ev.LockProposal != nil {
		hash = *ev.LockProposal
		content = s.hashWithBlock[hash]
		lockRound := *ev.LockRound
		qc, qerr := s.votes.GetQCByID(s.height, lockRound, types.VoteTypePrevote)
		if qerr == nil {
			polc = &types.PoLC{LockRound: lockRound, LockVotes: qc}
		}
	} else {
		content, hash, err = s.app.GetBlock(ctx, s.height)
		if err != nil {
			return types.NewErrorf(types.ErrProposal, "get_block: %v", err)
		}
	}

	proposal := types.Proposal[T]{
		Height: s.height, Round: s.round, Content: content,
		BlockHash: hash, Lock: polc, Proposer: s.self,
	}
	sp, err := s.signProposal(proposal)
	if err != nil {
		return err
	}
	if err := s.proposals.Insert(ctx, s.height, s.round, sp); err != nil {
		return err
	}
	if err := s.broadcast(ctx, types.NewSignedProposalMsg[T](sp)); err != nil {
		return err
	}
	return s.processCachedProposal(ctx, sp)
}
