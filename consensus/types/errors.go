package types

import "fmt"

// ErrorKind enumerates every named failure mode the core distinguishes.
// The WAL kinds (SaveWal, LoadWal) and the internal SMR channel kinds
// (TriggerSMR, MonitorEvent, ThrowEvent) are fatal for the event loop (see
// Fatal); every other kind is logged and reported via report_error without
// interrupting it.
type ErrorKind int

const (
	ErrInvalidAddress ErrorKind = iota
	ErrChannel
	ErrTriggerSMR
	ErrMonitorEvent
	ErrThrowEvent
	ErrProposal
	ErrPrevote
	ErrPrecommit
	ErrBrake
	ErrRoundDiff
	ErrSelfCheck
	ErrCorrectness
	ErrTimer
	ErrState
	ErrMultiProposal
	ErrStorage
	ErrSaveWal
	ErrLoadWal
	ErrCrypto
	ErrAggregatedSignature
	ErrOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidAddress:
		return "invalid_address"
	case ErrChannel:
		return "channel_err"
	case ErrTriggerSMR:
		return "trigger_smr_err"
	case ErrMonitorEvent:
		return "monitor_event_err"
	case ErrThrowEvent:
		return "throw_event_err"
	case ErrProposal:
		return "proposal_err"
	case ErrPrevote:
		return "prevote_err"
	case ErrPrecommit:
		return "precommit_err"
	case ErrBrake:
		return "brake_err"
	case ErrRoundDiff:
		return "round_diff"
	case ErrSelfCheck:
		return "self_check_err"
	case ErrCorrectness:
		return "correctness_err"
	case ErrTimer:
		return "timer_err"
	case ErrState:
		return "state_err"
	case ErrMultiProposal:
		return "multi_proposal"
	case ErrStorage:
		return "storage_err"
	case ErrSaveWal:
		return "save_wal_err"
	case ErrLoadWal:
		return "load_wal_err"
	case ErrCrypto:
		return "crypto_err"
	case ErrAggregatedSignature:
		return "aggregated_signature_err"
	default:
		return "other"
	}
}

// ConsensusError is the single error type the core returns. It carries a
// Kind for programmatic dispatch (log-and-drop vs fatal) plus whatever
// positional context is useful for the log line.
type ConsensusError struct {
	Kind    ErrorKind
	Height  uint64
	Round   uint64
	Step    Step
	Local   uint64
	Remote  uint64
	Message string
}

func (e *ConsensusError) Error() string {
	switch e.Kind {
	case ErrRoundDiff:
		return fmt.Sprintf("round_diff: local %d, remote %d", e.Local, e.Remote)
	case ErrMultiProposal:
		return fmt.Sprintf("multi_proposal: height %d, round %d", e.Height, e.Round)
	case ErrSaveWal:
		return fmt.Sprintf("save_wal_err: height %d, round %d, step %s", e.Height, e.Round, e.Step)
	default:
		if e.Message == "" {
			return e.Kind.String()
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Is allows errors.Is(err, types.Kind(types.ErrCrypto)) style matching
// against a Kind sentinel produced by Kind.
func (e *ConsensusError) Is(target error) bool {
	other, ok := target.(*ConsensusError)
	if !ok {
		return false
	}
	return other.Message == "" && other.Height == 0 && other.Round == 0 && e.Kind == other.Kind
}

func NewError(kind ErrorKind, msg string) *ConsensusError {
	return &ConsensusError{Kind: kind, Message: msg}
}

func NewErrorf(kind ErrorKind, format string, args ...any) *ConsensusError {
	return &ConsensusError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewRoundDiffError(local, remote uint64) *ConsensusError {
	return &ConsensusError{Kind: ErrRoundDiff, Local: local, Remote: remote}
}

func NewMultiProposalError(height, round uint64) *ConsensusError {
	return &ConsensusError{Kind: ErrMultiProposal, Height: height, Round: round}
}

func NewSaveWalError(height, round uint64, step Step) *ConsensusError {
	return &ConsensusError{Kind: ErrSaveWal, Height: height, Round: round, Step: step}
}

// Kind is a package-level sentinel for errors.Is comparisons, e.g.
// errors.Is(err, types.Kind(types.ErrCrypto)).
func Kind(k ErrorKind) *ConsensusError { return &ConsensusError{Kind: k} }

// Fatal reports whether an error of this kind must terminate the State
// event loop rather than being logged and dropped.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrSaveWal, ErrLoadWal, ErrTriggerSMR, ErrMonitorEvent, ErrThrowEvent:
		return true
	default:
		return false
	}
}
