// Package collector implements the State driver's three indexed stores:
// proposals, votes (with QC derivation) and chokes (with QC derivation),
// per §4.3. The State component owns these exclusively; nothing else
// mutates them.
package collector

import (
	"context"

	"overlord/consensus/types"
)

type proposalEntry[T any] struct {
	ctx context.Context
	sp  types.SignedProposal[T]
}

// Proposal caches at most one signed proposal per (height, round); a
// second proposal with a different hash at the same slot is reported as an
// equivocation and discarded, not overwritten.
type Proposal[T any] struct {
	// byHeight[height][round] = entry
	byHeight map[uint64]map[uint64]proposalEntry[T]
}

func NewProposal[T any]() *Proposal[T] {
	return &Proposal[T]{byHeight: make(map[uint64]map[uint64]proposalEntry[T])}
}

// Insert stores sp at (height, round). If a different proposal already
// occupies that slot, it returns a MultiProposal error and the original
// entry is retained.
func (c *Proposal[T]) Insert(ctx context.Context, height, round uint64, sp types.SignedProposal[T]) error {
	round_, ok := c.byHeight[height]
	if !ok {
		round_ = make(map[uint64]proposalEntry[T])
		c.byHeight[height] = round_
	}
	if existing, ok := round_[round]; ok {
		if existing.sp.Proposal.BlockHash != sp.Proposal.BlockHash {
			return types.NewMultiProposalError(height, round)
		}
		return nil
	}
	round_[round] = proposalEntry[T]{ctx: ctx, sp: sp}
	return nil
}

// Get returns the proposal cached at (height, round), if any.
func (c *Proposal[T]) Get(height, round uint64) (types.SignedProposal[T], context.Context, bool) {
	round_, ok := c.byHeight[height]
	if !ok {
		return types.SignedProposal[T]{}, nil, false
	}
	entry, ok := round_[round]
	if !ok {
		return types.SignedProposal[T]{}, nil, false
	}
	return entry.sp, entry.ctx, true
}

// GetHeightProposals returns every (proposal, ctx) cached for height,
// across all rounds, used to re-check cached future proposals once that
// height becomes current.
func (c *Proposal[T]) GetHeightProposals(height uint64) []struct {
	Proposal types.SignedProposal[T]
	Ctx      context.Context
} {
	round_, ok := c.byHeight[height]
	if !ok {
		return nil
	}
	out := make([]struct {
		Proposal types.SignedProposal[T]
		Ctx      context.Context
	}, 0, len(round_))
	for _, entry := range round_ {
		out = append(out, struct {
			Proposal types.SignedProposal[T]
			Ctx      context.Context
		}{Proposal: entry.sp, Ctx: entry.ctx})
	}
	return out
}

// Flush drops every entry for height <= below, per the ownership rule in
// §3: collectors retain at most the current height and the one before it.
func (c *Proposal[T]) Flush(below uint64) {
	for h := range c.byHeight {
		if h <= below {
			delete(c.byHeight, h)
		}
	}
}
