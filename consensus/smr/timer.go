package smr

import (
	"context"
	"time"

	"overlord/consensus/types"
)

// DurationConfig scales the per-step timeout off the block interval by
// ratios expressed in thousandths (a ratio of 1500 means 1.5x the
// interval). Every field must be a positive integer.
type DurationConfig struct {
	ProposeRatio   uint64
	PrevoteRatio   uint64
	PrecommitRatio uint64
	BrakeRatio     uint64
}

func (d DurationConfig) scale(intervalMillis uint64, ratio uint64) time.Duration {
	return time.Duration(intervalMillis*ratio) * time.Millisecond / 1000
}

func (d DurationConfig) Propose(intervalMillis uint64) time.Duration {
	return d.scale(intervalMillis, d.ProposeRatio)
}

func (d DurationConfig) Prevote(intervalMillis uint64) time.Duration {
	return d.scale(intervalMillis, d.PrevoteRatio)
}

func (d DurationConfig) Precommit(intervalMillis uint64) time.Duration {
	return d.scale(intervalMillis, d.PrecommitRatio)
}

func (d DurationConfig) Brake(intervalMillis uint64) time.Duration {
	return d.scale(intervalMillis, d.BrakeRatio)
}

// Timer drives StepTimeout/TriggerBrakeTimeout calls into a Machine. Each
// scheduled fire is tagged with the (height, round, step) it was armed
// for; Machine discards anything that no longer matches its current
// coordinates, so a stale fire racing a faster transition is a no-op
// rather than a bug.
type Timer struct {
	machine        *Machine
	cfg            DurationConfig
	intervalMillis uint64
}

func NewTimer(machine *Machine, cfg DurationConfig, intervalMillis uint64) *Timer {
	return &Timer{machine: machine, cfg: cfg, intervalMillis: intervalMillis}
}

// Arm schedules the timeout for (height, round, step) and returns a
// context.CancelFunc the caller should invoke once the step completes
// through other means, to avoid leaking the underlying timer goroutine.
func (t *Timer) Arm(height, round uint64, step types.Step) context.CancelFunc {
	var d time.Duration
	switch step {
	case types.StepPropose:
		d = t.cfg.Propose(t.intervalMillis)
	case types.StepPrevote:
		d = t.cfg.Prevote(t.intervalMillis)
	case types.StepPrecommit:
		d = t.cfg.Precommit(t.intervalMillis)
	case types.StepBrake:
		d = t.cfg.Brake(t.intervalMillis)
	default:
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			if step == types.StepBrake {
				_ = t.machine.Trigger(Trigger{Type: TriggerBrakeTimeout, Source: SourceTimer, Height: height, Round: round})
				return
			}
			_ = t.machine.StepTimeout(height, round, step)
		case <-ctx.Done():
		}
	}()
	return cancel
}
