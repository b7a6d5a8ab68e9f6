package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"overlord/consensus/smr"
	"overlord/consensus/types"
)

// TestChokeQCAdvancesRoundAndReportsReason drives S4 (§8): three of four
// replicas signal abandonment of round 0 via SignedChoke (the count-based
// threshold of §4.3's ChokeQC derivation, independent of vote weight), and
// the fourth replica folds them into a ChokeQC the moment the third choke
// crosses count*3 > len*2, advancing locally to round 1 and attributing
// the change to ViewChangeUpdateFromHigherChokeQC.
func TestChokeQCAdvancesRoundAndReportsReason(t *testing.T) {
	replicas, _ := buildReplicas(t, 4)
	s := replicas[0].state

	dummySig := types.Signature(make([]byte, 65))
	choke := func(addr types.Address) types.SignedChoke {
		return types.SignedChoke{
			Choke:     types.Choke{Height: s.height, Round: s.round},
			Address:   addr,
			Signature: dummySig,
		}
	}

	ctx := context.Background()
	require.NoError(t, s.handleSignedChoke(ctx, choke(replicas[1].addr)))
	require.NoError(t, s.handleSignedChoke(ctx, choke(replicas[2].addr)))

	height, round, _, _ := s.machine.Snapshot()
	require.Equal(t, uint64(1), height)
	require.Equal(t, uint64(0), round, "two of four chokes must not cross the threshold yet")

	require.NoError(t, s.handleSignedChoke(ctx, choke(replicas[3].addr)))

	_, round, _, _ = s.machine.Snapshot()
	require.Equal(t, uint64(1), round, "the third choke crosses count*3 > len*2 and forms a ChokeQC")

	var ev smr.Event
	select {
	case ev = <-s.machine.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the ChokeQC-driven NewRoundInfo event")
	}
	require.Equal(t, smr.EventNewRoundInfo, ev.Kind)
	require.Equal(t, smr.FromChokeQC, ev.FromWhere.Kind)

	require.NoError(t, s.handleEvent(ctx, ev))
	require.Contains(t, replicas[0].app.reportedViewChanges(), types.ViewChangeUpdateFromHigherChokeQC)
}
