package state

import (
	"context"

	"overlord/consensus/types"
	"overlord/observability"
)

// reportViewChange surfaces why the replica failed to commit this round,
// so the application can distinguish routine network loss from a
// misbehaving leader (§4.5).
func (s *State[T]) reportViewChange(ctx context.Context, reason types.ViewChangeReason) {
	observability.Consensus().RecordViewChange(reason.String())
	s.app.ReportViewChange(ctx, s.height, s.round, reason)
}
