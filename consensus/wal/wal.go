// Package wal persists the single latest WalInfo record a replica needs to
// resume after a crash (§4.5): one fixed key, overwritten on every step
// transition, never appended to.
package wal

import (
	"context"

	"overlord/consensus/codec"
	"overlord/consensus/types"
	"overlord/storage"
)

var walKey = []byte("overlord/wal/latest")

// Wal wraps a storage.Database to save and load the one WalInfo record a
// replica needs to recover. It carries no history: Save always overwrites
// the previous record at walKey.
type Wal[T any] struct {
	db storage.Database
}

func New[T any](db storage.Database) *Wal[T] {
	return &Wal[T]{db: db}
}

// Save atomically replaces the persisted record with info.
func (w *Wal[T]) Save(_ context.Context, info types.WalInfo[T]) error {
	raw, err := codec.EncodeWalInfo(info)
	if err != nil {
		return types.NewErrorf(types.ErrSaveWal, "encode wal info: %v", err)
	}
	if err := w.db.Put(walKey, raw); err != nil {
		return types.NewErrorf(types.ErrSaveWal, "persist wal info: %v", err)
	}
	return nil
}

// Load returns the last persisted WalInfo. The second return value is
// false if nothing has ever been saved (a fresh replica, not an error).
func (w *Wal[T]) Load(_ context.Context) (types.WalInfo[T], bool, error) {
	raw, err := w.db.Get(walKey)
	if err != nil {
		return types.WalInfo[T]{}, false, nil
	}
	info, err := codec.DecodeWalInfo[T](raw)
	if err != nil {
		return types.WalInfo[T]{}, false, types.NewErrorf(types.ErrLoadWal, "decode wal info: %v", err)
	}
	return info, true, nil
}
