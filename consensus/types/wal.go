package types

import "fmt"

// WalLock is the locked block a replica carries forward across rounds: the
// round its prevote QC formed at, that QC, and the block content itself
// (needed to rehydrate hash_with_block on recovery).
type WalLock[T any] struct {
	LockRound uint64
	LockVotes AggregatedVote
	Content   T
}

func (l WalLock[T]) ToLock() Lock {
	return Lock{Round: l.LockRound, Hash: l.LockVotes.BlockHash}
}

// Lock is the (round, hash) pair a replica remembers from the highest
// prevote QC observed at the current height.
type Lock struct {
	Round uint64
	Hash  Hash
}

// WalInfo is the single record persisted before every step transition. Only
// the latest one is ever kept; recovery rehydrates height, round, step and
// (if present) the lock from it.
type WalInfo[T any] struct {
	Height uint64
	Round  uint64
	Step   Step
	Lock   *WalLock[T]
	From   UpdateFrom
}

func (w WalInfo[T]) String() string {
	return fmt.Sprintf("wal info height %d, round %d, step %s", w.Height, w.Round, w.Step)
}

// SMRBase is the minimal projection of a WalInfo needed to rehydrate the
// SMR: it carries no block content, only the positional (height, round,
// step, lock) coordinates.
type SMRBase struct {
	Height uint64
	Round  uint64
	Step   Step
	Lock   *Lock
}

func (w WalInfo[T]) IntoSMRBase() SMRBase {
	base := SMRBase{Height: w.Height, Round: w.Round, Step: w.Step}
	if w.Lock != nil {
		l := w.Lock.ToLock()
		base.Lock = &l
	}
	return base
}
