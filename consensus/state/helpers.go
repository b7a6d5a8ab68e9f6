package state

import (
	"context"

	"overlord/consensus/codec"
	"overlord/consensus/smr"
	"overlord/consensus/types"
	"overlord/observability"
)

func (s *State[T]) signProposal(p types.Proposal[T]) (types.SignedProposal[T], error) {
	encoded, err := codec.EncodeProposal(p)
	if err != nil {
		return types.SignedProposal[T]{}, types.NewErrorf(types.ErrProposal, "encode proposal: %v", err)
	}
	sig, err := s.crypto.Sign(s.crypto.Hash(encoded))
	if err != nil {
		return types.SignedProposal[T]{}, types.NewErrorf(types.ErrCrypto, "sign proposal: %v", err)
	}
	return types.SignedProposal[T]{Signature: sig, Proposal: p}, nil
}

func (s *State[T]) signVote(v types.Vote) (types.SignedVote, error) {
	encoded, err := codec.EncodeVote(v)
	if err != nil {
		return types.SignedVote{}, types.NewErrorf(types.ErrPrevote, "encode vote: %v", err)
	}
	sig, err := s.crypto.Sign(s.crypto.Hash(encoded))
	if err != nil {
		return types.SignedVote{}, types.NewErrorf(types.ErrCrypto, "sign vote: %v", err)
	}
	return types.SignedVote{Vote: v, Voter: s.self, Signature: sig}, nil
}

func (s *State[T]) signChoke(c types.Choke) (types.SignedChoke, error) {
	encoded, err := codec.EncodeChoke(c)
	if err != nil {
		return types.SignedChoke{}, types.NewErrorf(types.ErrBrake, "encode choke: %v", err)
	}
	sig, err := s.crypto.Sign(s.crypto.Hash(encoded))
	if err != nil {
		return types.SignedChoke{}, types.NewErrorf(types.ErrCrypto, "sign choke: %v", err)
	}
	return types.SignedChoke{Signature: sig, Choke: c, Address: s.self}, nil
}

func (s *State[T]) transmit(ctx context.Context, to types.Address, msg types.OverlordMsg[T]) error {
	if err := s.app.TransmitToRelayer(ctx, to, msg); err != nil {
		return types.NewErrorf(types.ErrOther, "transmit: %v", err)
	}
	return nil
}

func (s *State[T]) broadcast(ctx context.Context, msg types.OverlordMsg[T]) error {
	if err := s.app.BroadcastToOthers(ctx, msg); err != nil {
		return types.NewErrorf(types.ErrOther, "broadcast: %v", err)
	}
	return nil
}

// handleRichStatus absorbs an out-of-band status push (e.g. after a chain
// sync) that tells the core which height/round to resume from.
func (s *State[T]) handleRichStatus(ctx context.Context, status types.Status) error {
	if len(status.AuthorityList) > 0 {
		s.authority.Update(status.AuthorityList)
	}
	if status.Interval != nil {
		s.blockIntervalM = *status.Interval
		s.timer = smr.NewTimer(s.machine, s.durations, s.blockIntervalM)
	}
	s.consensusPower = s.authority.Contains(s.self)
	if status.Height <= s.height {
		return nil
	}
	return s.gotoNewHeight(ctx, status.Height)
}

// handleEvent is the SMR event dispatcher driven from run's select loop:
// it keeps the driver's own (height, round, step) mirror in lockstep with
// the machine's, re-arms the step timer and persists the WAL record every
// time the machine moves, then routes to the per-kind handler.
func (s *State[T]) handleEvent(ctx context.Context, ev smr.Event) error {
	s.height = ev.Height
	s.round = ev.Round

	var err error
	skipWal := false
	switch ev.Kind {
	case smr.EventNewRoundInfo:
		s.step = types.StepPropose
		err = s.handleNewRound(ctx, ev)
	case smr.EventPrevoteVote:
		s.step = types.StepPrevote
		err = s.handleVoteEvent(ctx, ev, types.VoteTypePrevote)
	case smr.EventPrecommitVote:
		s.step = types.StepPrecommit
		err = s.handleVoteEvent(ctx, ev, types.VoteTypePrecommit)
	case smr.EventCommit:
		s.step = types.StepCommit
		// handleCommit persists its own Commit-step WAL record (with the
		// precommit QC as the lock) before calling into the application,
		// since by the time this function would otherwise save, gotoNewHeight
		// has already cleared the maps a generic save would need.
		skipWal = true
		err = s.handleCommit(ctx, ev)
	case smr.EventBrake:
		s.step = types.StepBrake
		err = s.handleBrake(ctx, ev)
	case smr.EventStop:
		return nil
	}
	if err != nil {
		return err
	}

	s.armStepTimer()
	if skipWal {
		return nil
	}
	if werr := s.saveWal(ctx); werr != nil {
		return werr
	}
	return nil
}

// persistWal writes info to the WAL, recording a metric on failure.
func (s *State[T]) persistWal(ctx context.Context, info types.WalInfo[T]) error {
	if err := s.wal.Save(ctx, info); err != nil {
		observability.Consensus().RecordWalError("save")
		return err
	}
	return nil
}

// saveWal persists the replica's current coordinates and, if the SMR holds
// a lock, the locked block's content and justifying prevote QC, so a crash
// recovers without equivocating (§4.5, S5).
func (s *State[T]) saveWal(ctx context.Context) error {
	info := types.WalInfo[T]{Height: s.height, Round: s.round, Step: s.step, From: s.updateFrom}
	if _, _, _, lock := s.machine.Snapshot(); lock != nil {
		qc, _ := s.votes.GetQCByID(s.height, lock.Round, types.VoteTypePrevote)
		info.Lock = &types.WalLock[T]{LockRound: lock.Round, LockVotes: qc, Content: s.hashWithBlock[lock.Hash]}
	}
	return s.persistWal(ctx, info)
}

// startWithWal replays the last persisted WalInfo, if any, rehydrating
// both the driver's own coordinates and the SMR's (height, round, step,
// lock) before run begins consuming live messages. A fresh replica with no
// prior record starts at (InitHeight, INIT_ROUND, Propose) as already set
// up by New.
func (s *State[T]) startWithWal(ctx context.Context) error {
	info, found, err := s.wal.Load(ctx)
	if err != nil {
		observability.Consensus().RecordWalError("load")
		return err
	}
	if !found {
		// A fresh replica with nothing in the WAL has no round in flight to
		// resume: kick the SMR into its first round at InitHeight the same
		// way a completed commit kicks it into the next one (§4.4's
		// NewHeight row), so the leader election / propose path for round 0
		// runs without waiting for an external RichStatus push.
		return s.machine.Trigger(smr.Trigger{Type: smr.TriggerNewHeight, Source: smr.SourceState, Height: s.height})
	}

	s.height, s.round, s.step = info.Height, info.Round, info.Step
	s.updateFrom = info.From
	if info.Lock != nil {
		s.hashWithBlock[info.Lock.LockVotes.BlockHash] = info.Lock.Content
		s.votes.SetQC(info.Lock.LockVotes)
	}
	s.consensusPower = s.authority.Contains(s.self)

	// A record persisted at the Commit or Brake step isn't just coordinates
	// to rehydrate into the SMR — it's a step whose side effects (applying
	// the commit, broadcasting a choke) the crash may have interrupted
	// mid-flight, so it must be re-run exactly as if the SMR had just
	// produced that event (§4.5). A Commit record returns through
	// handleCommit alone; a Brake record re-runs handleBrake and then still
	// goes through the generic WalInfo trigger below.
	switch info.Step {
	case types.StepCommit:
		if info.Lock == nil {
			return types.NewError(types.ErrLoadWal, "wal info at commit step has no lock")
		}
		return s.handleCommit(ctx, smr.Event{
			Kind: smr.EventCommit, Height: info.Height, Round: info.Round,
			BlockHash: info.Lock.LockVotes.BlockHash,
		})
	case types.StepBrake:
		var lockRound *uint64
		if info.Lock != nil {
			lr := info.Lock.LockRound
			lockRound = &lr
		}
		if err := s.handleBrake(ctx, smr.Event{
			Kind: smr.EventBrake, Height: info.Height, Round: info.Round, LockRound: lockRound,
		}); err != nil {
			return err
		}
	}

	base := info.IntoSMRBase()
	return s.machine.Trigger(smr.Trigger{Type: smr.TriggerWalInfo, Source: smr.SourceState, WalInfo: &base})
}
