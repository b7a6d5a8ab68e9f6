package types

// Vote is the unsigned ballot a replica casts for a step. BlockHash may be
// the zero Hash, meaning a null vote (no block reached quorum this round).
type Vote struct {
	Height    uint64
	Round     uint64
	VoteType  VoteType
	BlockHash Hash
}

// SignedVote is a Vote plus the casting voter's address and signature. Ord
// by Voter so that signature aggregation has a canonical, reproducible
// order across every node that builds the same QC.
type SignedVote struct {
	Vote      Vote
	Voter     Address
	Signature Signature
}

func (v SignedVote) Less(o SignedVote) bool { return v.Voter.Less(o.Voter) }

// AggregatedSignature is an aggregated signature plus a bitmap (indexed by
// position in the authority's canonical address ordering) of which
// validators contributed to it.
type AggregatedSignature struct {
	Signature     Signature
	AddressBitmap []byte
}

// AggregatedVote is a quorum certificate: 2f+1 signed votes of the same
// type, height, round and block hash, folded into one aggregated signature.
type AggregatedVote struct {
	Signature AggregatedSignature
	VoteType  VoteType
	Height    uint64
	Round     uint64
	BlockHash Hash
	Leader    Address
}

// PoLC (Proof of Lock Change) is a prevote QC a proposer carries inside a
// proposal to justify re-proposing a block it previously saw locked.
//
// Invariant: LockVotes.VoteType == Prevote, LockVotes.Height == the
// enclosing proposal's height, LockVotes.Round == LockRound <=
// proposal.Round-1, LockVotes.BlockHash == proposal.BlockHash.
type PoLC struct {
	LockRound uint64
	LockVotes AggregatedVote
}

// Proposal is the block a leader proposes for (Height, Round). Content is
// opaque to the core: it is never inspected, only hashed, stored and handed
// back to the application.
type Proposal[T any] struct {
	Height    uint64
	Round     uint64
	Content   T
	BlockHash Hash
	Lock      *PoLC
	Proposer  Address
}

// SignedProposal is a Proposal plus the proposer's signature over its
// canonical encoding.
type SignedProposal[T any] struct {
	Signature Signature
	Proposal  Proposal[T]
}

// UpdateFrom records which piece of remote evidence justified a round (or
// brake) transition, so a late replica can catch up from one message
// instead of re-deriving the QC itself.
type updateFromTag uint8

const (
	updateFromPrevoteQC updateFromTag = iota
	updateFromPrecommitQC
	updateFromChokeQC
)

type UpdateFrom struct {
	tag           updateFromTag
	prevoteQC     AggregatedVote
	precommitQC   AggregatedVote
	chokeQC       AggregatedChoke
}

func UpdateFromPrevoteQC(qc AggregatedVote) UpdateFrom {
	return UpdateFrom{tag: updateFromPrevoteQC, prevoteQC: qc}
}

func UpdateFromPrecommitQC(qc AggregatedVote) UpdateFrom {
	return UpdateFrom{tag: updateFromPrecommitQC, precommitQC: qc}
}

func UpdateFromChokeQC(qc AggregatedChoke) UpdateFrom {
	return UpdateFrom{tag: updateFromChokeQC, chokeQC: qc}
}

func (u UpdateFrom) IsPrevoteQC() bool   { return u.tag == updateFromPrevoteQC }
func (u UpdateFrom) IsPrecommitQC() bool { return u.tag == updateFromPrecommitQC }
func (u UpdateFrom) IsChokeQC() bool     { return u.tag == updateFromChokeQC }

func (u UpdateFrom) PrevoteQC() AggregatedVote   { return u.prevoteQC }
func (u UpdateFrom) PrecommitQC() AggregatedVote { return u.precommitQC }
func (u UpdateFrom) ChokeQC() AggregatedChoke    { return u.chokeQC }

// Round returns the round the referenced QC was formed at.
func (u UpdateFrom) Round() uint64 {
	switch u.tag {
	case updateFromPrevoteQC:
		return u.prevoteQC.Round
	case updateFromPrecommitQC:
		return u.precommitQC.Round
	default:
		return u.chokeQC.Round
	}
}

// ViewChangeReason explains why a replica moved to a new round instead of
// committing; surfaced to the application via report_view_change.
type ViewChangeReason uint8

const (
	ViewChangeUpdateFromHigherPrevoteQC ViewChangeReason = iota
	ViewChangeUpdateFromHigherPrecommitQC
	ViewChangeUpdateFromHigherChokeQC
	ViewChangeLeaderReceivedPrevoteBelowThreshold
	ViewChangeLeaderReceivedPrecommitBelowThreshold
	ViewChangeNoProposalFromNetwork
	ViewChangeCheckBlockNotPass
	ViewChangeNoPrevoteQCFromNetwork
	ViewChangeNoPrecommitQCFromNetwork
	ViewChangeOthers
)

func (r ViewChangeReason) String() string {
	switch r {
	case ViewChangeUpdateFromHigherPrevoteQC:
		return "update_from_higher_prevote_qc"
	case ViewChangeUpdateFromHigherPrecommitQC:
		return "update_from_higher_precommit_qc"
	case ViewChangeUpdateFromHigherChokeQC:
		return "update_from_higher_choke_qc"
	case ViewChangeLeaderReceivedPrevoteBelowThreshold:
		return "leader_received_prevote_below_threshold"
	case ViewChangeLeaderReceivedPrecommitBelowThreshold:
		return "leader_received_precommit_below_threshold"
	case ViewChangeNoProposalFromNetwork:
		return "no_proposal_from_network"
	case ViewChangeCheckBlockNotPass:
		return "check_block_not_pass"
	case ViewChangeNoPrevoteQCFromNetwork:
		return "no_prevote_qc_from_network"
	case ViewChangeNoPrecommitQCFromNetwork:
		return "no_precommit_qc_from_network"
	default:
		return "others"
	}
}

// Choke is one replica's signal that it is abandoning the current round.
type Choke struct {
	Height uint64
	Round  uint64
	From   UpdateFrom
}

// SignedChoke is a Choke plus its producer's signature and address.
type SignedChoke struct {
	Signature Signature
	Choke     Choke
	Address   Address
}

// AggregatedChoke is a ChokeQC: more than 2/3 of the authority members (by
// count, not vote weight) have chosen to abandon (Height, Round).
type AggregatedChoke struct {
	Height    uint64
	Round     uint64
	Signature Signature
	Voters    []Address
}

func (c AggregatedChoke) Len() int { return len(c.Voters) }

// Proof binds a committed block to the precommit QC that finalised it.
type Proof struct {
	Height    uint64
	Round     uint64
	BlockHash Hash
	Signature Signature
}

// Commit is handed to the application's commit collaborator once a height
// finalises.
type Commit[T any] struct {
	Height  uint64
	Content T
	Proof   Proof
}

// Status is returned by the application after a commit completes, or is
// delivered out of band after a sync, to tell the core which height to
// resume from and with which authority list.
type Status struct {
	Height        uint64
	Interval      *uint64
	AuthorityList []Node
}

// IsConsensusNode reports whether addr is a voting member of this status's
// authority list.
func (s Status) IsConsensusNode(addr Address) bool {
	for _, n := range s.AuthorityList {
		if n.Address == addr {
			return true
		}
	}
	return false
}

// OverlordMsgKind tags the payload carried by OverlordMsg so the transport
// layer and the State driver can dispatch without type assertions leaking
// outside the package.
type OverlordMsgKind uint8

const (
	MsgSignedProposal OverlordMsgKind = iota
	MsgSignedVote
	MsgAggregatedVote
	MsgSignedChoke
	MsgRichStatus
	MsgStop
)

// OverlordMsg is the tagged union of every message the State driver
// accepts, whether from the network or from the local node's own status
// reporter.
type OverlordMsg[T any] struct {
	Kind           OverlordMsgKind
	SignedProposal SignedProposal[T]
	SignedVote     SignedVote
	AggregatedVote AggregatedVote
	SignedChoke    SignedChoke
	RichStatus     Status
}

func NewSignedProposalMsg[T any](sp SignedProposal[T]) OverlordMsg[T] {
	return OverlordMsg[T]{Kind: MsgSignedProposal, SignedProposal: sp}
}

func NewSignedVoteMsg[T any](sv SignedVote) OverlordMsg[T] {
	return OverlordMsg[T]{Kind: MsgSignedVote, SignedVote: sv}
}

func NewAggregatedVoteMsg[T any](av AggregatedVote) OverlordMsg[T] {
	return OverlordMsg[T]{Kind: MsgAggregatedVote, AggregatedVote: av}
}

func NewSignedChokeMsg[T any](sc SignedChoke) OverlordMsg[T] {
	return OverlordMsg[T]{Kind: MsgSignedChoke, SignedChoke: sc}
}

func NewRichStatusMsg[T any](s Status) OverlordMsg[T] {
	return OverlordMsg[T]{Kind: MsgRichStatus, RichStatus: s}
}

func StopMsg[T any]() OverlordMsg[T] {
	return OverlordMsg[T]{Kind: MsgStop}
}

func (m OverlordMsg[T]) IsRichStatus() bool { return m.Kind == MsgRichStatus }

// GetHeight returns the height carried by whichever variant is active;
// Stop and RichStatus messages carry no height and return 0.
func (m OverlordMsg[T]) GetHeight() uint64 {
	switch m.Kind {
	case MsgSignedProposal:
		return m.SignedProposal.Proposal.Height
	case MsgSignedVote:
		return m.SignedVote.Vote.Height
	case MsgAggregatedVote:
		return m.AggregatedVote.Height
	case MsgSignedChoke:
		return m.SignedChoke.Choke.Height
	default:
		return 0
	}
}
