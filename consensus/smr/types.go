// Package smr implements the deterministic step machine described in §4.4:
// a state machine over {Propose, Prevote, Precommit, Brake, Commit} that
// consumes triggers and emits events, plus the per-step Timer.
package smr

import "overlord/consensus/types"

// TriggerSource distinguishes triggers raised by the State driver from
// those raised by the Timer, purely for logging/debugging.
type TriggerSource uint8

const (
	SourceState TriggerSource = iota
	SourceTimer
)

// TriggerType enumerates every input the SMR accepts.
type TriggerType uint8

const (
	TriggerProposal TriggerType = iota
	TriggerPrevoteQC
	TriggerPrecommitQC
	TriggerNewHeight
	TriggerWalInfo
	TriggerBrakeTimeout
	TriggerContinueRound
	TriggerStop
)

// Trigger is one input event to the state machine. Hash and LockRound's
// meaning depends on TriggerType: for TriggerProposal/TriggerPrevoteQC/
// TriggerPrecommitQC, Hash is the block hash in question and LockRound (if
// set) carries a PoLC's lock round; for TriggerContinueRound, Round is the
// round to jump to and Hash/LockRound are unused.
type Trigger struct {
	Type      TriggerType
	Source    TriggerSource
	Hash      types.Hash
	LockRound *uint64
	Round     uint64
	Height    uint64
	WalInfo   *types.SMRBase
	NewStatus *Status
}

// Status carries the new height and, optionally, a new block interval into
// the SMR on a NewHeight trigger.
type Status struct {
	Height      uint64
	NewInterval *uint64
}

// FromWhere records, independent of UpdateFrom's wire encoding, why the
// SMR jumped to a new round — used by the State driver to pick the
// reported ViewChangeReason.
type FromWhereKind uint8

const (
	FromPrevoteQC FromWhereKind = iota
	FromPrecommitQC
	FromChokeQC
)

type FromWhere struct {
	Kind  FromWhereKind
	Round uint64
}


// EventKind tags the variant carried by Event.
type EventKind uint8

const (
	EventNewRoundInfo EventKind = iota
	EventPrevoteVote
	EventPrecommitVote
	EventCommit
	EventBrake
	EventStop
)

// Event is one output of the state machine.
type Event struct {
	Kind          EventKind
	Height        uint64
	Round         uint64
	LockRound     *uint64
	LockProposal  *types.Hash
	FromWhere     FromWhere
	BlockHash     types.Hash
}
