package state

import (
	"context"
	"time"

	"overlord/consensus/smr"
	"overlord/consensus/types"
	"overlord/observability"
)

// handleCommit reacts to EventCommit: the SMR has seen a non-empty
// precommit QC. It binds the committed content to the QC that finalised
// it, hands both to the application, and advances to the next height with
// whatever authority list/interval the application returns.
func (s *State[T]) handleCommit(ctx context.Context, ev smr.Event) error {
	content, ok := s.hashWithBlock[ev.BlockHash]
	if !ok {
		return types.NewErrorf(types.ErrState, "commit: missing content for block hash at height %d", s.height)
	}
	qc, err := s.votes.GetQCByID(s.height, s.round, types.VoteTypePrecommit)
	if err != nil {
		return err
	}

	// Persist the Commit step before calling into the application: a crash
	// between this save and a successful app.Commit must recover straight
	// back into re-running handleCommit (startWithWal's StepCommit branch),
	// not equivocate by re-entering Propose for a height already decided.
	// The WalLock's LockVotes field is repurposed here to hold the
	// precommit QC rather than the usual prevote-based lock, matching the
	// original implementation's literal reuse of the same struct (§4.5).
	walInfo := types.WalInfo[T]{
		Height: s.height, Round: s.round, Step: types.StepCommit, From: s.updateFrom,
		Lock: &types.WalLock[T]{LockRound: s.round, LockVotes: qc, Content: content},
	}
	if err := s.persistWal(ctx, walInfo); err != nil {
		return err
	}

	commit := types.Commit[T]{
		Height:  s.height,
		Content: content,
		Proof:   types.Proof{Height: s.height, Round: s.round, BlockHash: ev.BlockHash, Signature: qc.Signature.Signature},
	}
	status, err := s.app.Commit(ctx, s.height, commit)
	if err != nil {
		return types.NewErrorf(types.ErrState, "commit: %v", err)
	}

	if len(status.AuthorityList) > 0 {
		s.authority.Update(status.AuthorityList)
		if s.authorityStore != nil {
			if err := s.authorityStore.SaveAuthority(status.AuthorityList); err != nil {
				s.log.Warn("persist authority list", "err", err)
			}
		}
	}
	if status.Interval != nil {
		s.blockIntervalM = *status.Interval
		s.timer = smr.NewTimer(s.machine, s.durations, s.blockIntervalM)
	}
	s.consensusPower = s.authority.Contains(s.self)

	nextHeight := status.Height
	if nextHeight <= s.height {
		nextHeight = s.height + 1
	}
	s.sleepUntilNextInterval(ctx, nextHeight)
	return s.gotoNewHeight(ctx, nextHeight)
}

// sleepUntilNextInterval pauses the single-writer loop until block_interval
// has elapsed since the height just committed started, but only when this
// replica is the next height's round-0 proposer: a leader that raced through
// its predecessor's round in far less than block_interval would otherwise
// immediately demand a block from the application, defeating the point of
// having a configured interval at all (§4.5's "if self is next proposer and
// elapsed < block_interval, sleep the remainder" rule). Any other replica
// has nothing useful to do with the wait — it is not about to call
// get_block — so it proceeds straight to gotoNewHeight.
func (s *State[T]) sleepUntilNextInterval(ctx context.Context, nextHeight uint64) {
	proposer, err := s.authority.GetProposer(nextHeight, types.InitRound)
	if err != nil || proposer != s.self {
		return
	}
	remaining := time.Duration(s.blockIntervalM)*time.Millisecond - time.Since(s.heightStart)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// gotoNewHeight resets the per-height caches and parks the SMR at the next
// height's first round, per §4.5's "commit clears nothing but the WAL
// rehydration path needs" rule: proposals/votes for heights at or below
// the one just finished are dropped, chokes are always round-scoped so
// they are cleared unconditionally.
func (s *State[T]) gotoNewHeight(ctx context.Context, height uint64) error {
	s.proposals.Flush(s.height)
	s.votes.Flush(s.height)
	s.chokes.Clear()
	s.hashWithBlock = make(map[types.Hash]T)
	s.isFullTransaction = make(map[types.Hash]bool)
	s.updateFrom = types.UpdateFromPrecommitQC(types.AggregatedVote{})

	now := time.Now()
	observability.Consensus().RecordBlockInterval(now.Sub(s.heightStart))
	observability.Consensus().RecordHeightRound(height, types.InitRound)
	s.heightStart = now

	return s.machine.Trigger(smr.Trigger{Type: smr.TriggerNewHeight, Source: smr.SourceState, Height: height})
}
