package smr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"overlord/consensus/types"
)

func drainEvent(t *testing.T, m *Machine) Event {
	t.Helper()
	select {
	case e := <-m.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestDurationConfigScalesByRatio(t *testing.T) {
	cfg := DurationConfig{ProposeRatio: 1500, PrevoteRatio: 1000, PrecommitRatio: 1000, BrakeRatio: 3000}
	require.Equal(t, 150*time.Millisecond, cfg.Propose(100))
	require.Equal(t, 100*time.Millisecond, cfg.Prevote(100))
	require.Equal(t, 100*time.Millisecond, cfg.Precommit(100))
	require.Equal(t, 300*time.Millisecond, cfg.Brake(100))
}

func TestTimerArmFiresStepTimeoutAtPropose(t *testing.T) {
	m := NewMachine(1, 4)
	cfg := DurationConfig{ProposeRatio: 1, PrevoteRatio: 1, PrecommitRatio: 1, BrakeRatio: 1}
	timer := NewTimer(m, cfg, 10)

	cancel := timer.Arm(1, 0, types.StepPropose)
	defer cancel()

	e := drainEvent(t, m)
	require.Equal(t, EventPrevoteVote, e.Kind)
}

func TestTimerArmFiresBrakeEventAtBrakeStep(t *testing.T) {
	m := NewMachine(1, 4)
	// Drive the machine to Brake via the Propose/Prevote/Precommit timeout chain.
	require.NoError(t, m.StepTimeout(1, 0, types.StepPropose))
	<-m.Events()
	require.NoError(t, m.StepTimeout(1, 0, types.StepPrevote))
	<-m.Events()
	require.NoError(t, m.StepTimeout(1, 0, types.StepPrecommit))
	<-m.Events()

	_, _, step, _ := m.Snapshot()
	require.Equal(t, types.StepBrake, step)

	cfg := DurationConfig{ProposeRatio: 1, PrevoteRatio: 1, PrecommitRatio: 1, BrakeRatio: 1}
	timer := NewTimer(m, cfg, 10)
	cancel := timer.Arm(1, 0, types.StepBrake)
	defer cancel()

	e := drainEvent(t, m)
	require.Equal(t, EventBrake, e.Kind)
}

func TestTimerArmCancelSuppressesFire(t *testing.T) {
	m := NewMachine(1, 4)
	cfg := DurationConfig{ProposeRatio: 50, PrevoteRatio: 50, PrecommitRatio: 50, BrakeRatio: 50}
	timer := NewTimer(m, cfg, 1000)

	cancel := timer.Arm(1, 0, types.StepPropose)
	cancel()

	select {
	case e := <-m.Events():
		t.Fatalf("expected no event after cancel, got %v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerArmOnUnknownStepIsNoop(t *testing.T) {
	m := NewMachine(1, 4)
	cfg := DurationConfig{ProposeRatio: 1, PrevoteRatio: 1, PrecommitRatio: 1, BrakeRatio: 1}
	timer := NewTimer(m, cfg, 10)

	cancel := timer.Arm(1, 0, types.StepCommit)
	defer cancel()

	select {
	case e := <-m.Events():
		t.Fatalf("expected no scheduled fire for commit step, got %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerStaleFireIsDiscardedByMachine(t *testing.T) {
	m := NewMachine(1, 4)
	cfg := DurationConfig{ProposeRatio: 1, PrevoteRatio: 1, PrecommitRatio: 1, BrakeRatio: 1}
	timer := NewTimer(m, cfg, 10)

	// Arm a fire tagged with round 5 while the machine is still at round 0.
	cancel := timer.Arm(1, 5, types.StepPropose)
	defer cancel()

	select {
	case e := <-m.Events():
		t.Fatalf("expected stale round fire to be discarded, got %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
