package smr

import (
	"sync"

	"overlord/consensus/types"
)

// Machine is the deterministic step machine (§4.4). It holds no reference
// back to the State driver: Trigger mutates the machine's own
// (height, round, step, lock) and pushes resulting events onto a channel;
// the State driver is the only reader of that channel. This breaks the
// cyclic ownership between State and SMR with message passing instead of
// shared pointers.
type Machine struct {
	mu     sync.Mutex
	height uint64
	round  uint64
	step   types.Step
	lock   *types.Lock
	events chan Event
}

// NewMachine creates a machine parked at (initHeight, INIT_ROUND, Propose).
func NewMachine(initHeight uint64, eventBuffer int) *Machine {
	return &Machine{
		height: initHeight,
		round:  types.InitRound,
		step:   types.StepPropose,
		events: make(chan Event, eventBuffer),
	}
}

func (m *Machine) Events() <-chan Event { return m.events }

// Snapshot returns the machine's current coordinates.
func (m *Machine) Snapshot() (height, round uint64, step types.Step, lock *types.Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, m.round, m.step, m.lock
}

func (m *Machine) emit(e Event) error {
	select {
	case m.events <- e:
		return nil
	default:
		return types.NewError(types.ErrThrowEvent, "smr event channel full")
	}
}

// Trigger feeds one input into the machine. Stale (height, round) triggers
// — anything that does not match the machine's current coordinates where
// a match is required — are silently ignored, matching the "stale
// height/round is ignored" rule in §4.4.
func (m *Machine) Trigger(t Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch t.Type {
	case TriggerProposal:
		if t.Height != m.height || t.Round != m.round || m.step != types.StepPropose {
			return nil
		}
		m.step = types.StepPrevote
		return m.emit(Event{Kind: EventPrevoteVote, Height: m.height, Round: m.round, LockRound: t.LockRound, BlockHash: t.Hash})

	case TriggerPrevoteQC:
		if t.Height != m.height || t.Round != m.round || m.step != types.StepPrevote {
			return nil
		}
		m.step = types.StepPrecommit
		var lockRound *uint64
		if !t.Hash.IsEmpty() {
			round := m.round
			m.lock = &types.Lock{Round: round, Hash: t.Hash}
			lockRound = &round
		}
		return m.emit(Event{Kind: EventPrecommitVote, Height: m.height, Round: m.round, LockRound: lockRound, BlockHash: t.Hash})

	case TriggerPrecommitQC:
		if t.Height != m.height || t.Round != m.round || m.step != types.StepPrecommit {
			return nil
		}
		if !t.Hash.IsEmpty() {
			m.step = types.StepCommit
			return m.emit(Event{Kind: EventCommit, Height: m.height, Round: m.round, BlockHash: t.Hash})
		}
		return m.advanceRound(m.round+1, FromWhere{Kind: FromPrecommitQC, Round: m.round})

	case TriggerContinueRound:
		if t.Round <= m.round {
			return nil
		}
		return m.advanceRound(t.Round, FromWhere{Kind: FromChokeQC, Round: t.Round - 1})

	case TriggerBrakeTimeout:
		if t.Height != m.height || t.Round != m.round || m.step != types.StepBrake {
			return nil
		}
		return m.emit(brakeEvent(m.height, m.round, m.lock))

	case TriggerNewHeight:
		m.height = t.Height
		m.round = types.InitRound
		m.step = types.StepPropose
		m.lock = nil
		return m.emit(Event{Kind: EventNewRoundInfo, Height: m.height, Round: m.round, FromWhere: FromWhere{Kind: FromPrecommitQC}})

	case TriggerWalInfo:
		if t.WalInfo == nil {
			return types.NewError(types.ErrSelfCheck, "wal info trigger missing base")
		}
		m.height = t.WalInfo.Height
		m.round = t.WalInfo.Round
		m.step = t.WalInfo.Step
		m.lock = t.WalInfo.Lock
		if m.step == types.StepPropose {
			var lockRound *uint64
			var lockHash *types.Hash
			if m.lock != nil {
				lr := m.lock.Round
				lh := m.lock.Hash
				lockRound, lockHash = &lr, &lh
			}
			return m.emit(Event{Kind: EventNewRoundInfo, Height: m.height, Round: m.round, LockRound: lockRound, LockProposal: lockHash})
		}
		return nil

	case TriggerStop:
		return m.emit(Event{Kind: EventStop})

	default:
		return types.NewErrorf(types.ErrSelfCheck, "unknown trigger type %d", t.Type)
	}
}

func brakeEvent(height, round uint64, lock *types.Lock) Event {
	var lockRound *uint64
	if lock != nil {
		lr := lock.Round
		lockRound = &lr
	}
	return Event{Kind: EventBrake, Height: height, Round: round, LockRound: lockRound}
}

// StepTimeout advances the machine from its current step with a null
// value, per §4.4's step-timeout row. height/round must match the
// machine's current coordinates or the call is a no-op.
func (m *Machine) StepTimeout(height, round uint64, step types.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height != m.height || round != m.round || step != m.step {
		return nil
	}
	switch step {
	case types.StepPropose:
		m.step = types.StepPrevote
		return m.emit(Event{Kind: EventPrevoteVote, Height: m.height, Round: m.round})
	case types.StepPrevote:
		m.step = types.StepPrecommit
		return m.emit(Event{Kind: EventPrecommitVote, Height: m.height, Round: m.round})
	case types.StepPrecommit:
		m.step = types.StepBrake
		return m.emit(brakeEvent(m.height, m.round, m.lock))
	default:
		return nil
	}
}

// advanceRound moves to (m.height, round, Propose), carrying the lock
// forward unchanged (lock monotonicity, invariant 2 in §8), and emits
// NewRoundInfo.
func (m *Machine) advanceRound(round uint64, from FromWhere) error {
	m.round = round
	m.step = types.StepPropose
	var lockRound *uint64
	var lockHash *types.Hash
	if m.lock != nil {
		lr := m.lock.Round
		lh := m.lock.Hash
		lockRound, lockHash = &lr, &lh
	}
	return m.emit(Event{
		Kind:         EventNewRoundInfo,
		Height:       m.height,
		Round:        round,
		LockRound:    lockRound,
		LockProposal: lockHash,
		FromWhere:    from,
	})
}
