// Package state implements the message handler, collectors glue, lock
// tracking, leader election, QC aggregation, view-change attribution and
// WAL recovery described in §4.5: the State driver that sits on top of
// AuthorityManage, the Collectors and the SMR.
package state

import (
	"context"
	"sync"
	"time"

	"overlord/consensus/authority"
	"overlord/consensus/collector"
	"overlord/consensus/smr"
	"overlord/consensus/store"
	"overlord/consensus/types"
	"overlord/consensus/wal"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// maxParallelVerify bounds the number of signature verifications the
// worker pool described in §5 runs concurrently, independent of how many
// messages are in flight.
const maxParallelVerify = 32

// reqIDKey tags a context.Context with the correlation id a message was
// ingested under, so every log line and report_error/report_view_change
// call for that message's processing can be traced back to one request.
type reqIDKey struct{}

// WithRequestID attaches a fresh correlation id to ctx if it does not
// already carry one. Handle calls this automatically; callers that want a
// specific id (propagated from a network envelope) can call it themselves
// before invoking Handle.
func WithRequestID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(reqIDKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, reqIDKey{}, uuid.NewString())
}

// RequestID returns the correlation id ctx was tagged with, or "" if none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(reqIDKey{}).(string)
	return id
}

// checkBlockResult is what an independently-spawned check_block task
// reports back on its response channel (§5).
type checkBlockResult struct {
	height    uint64
	round     uint64
	blockHash types.Hash
	pass      bool
}

// msgEnvelope carries a message alongside the Context it arrived with, so
// report_error/report_view_change can be attributed to the same request.
type msgEnvelope[T any] struct {
	ctx context.Context
	msg types.OverlordMsg[T]
}

// State is the single-writer driver described in §5: one goroutine owns
// every field below and mutates it only from inside run's select loop or
// the synchronous handler calls it makes from there. There is
// deliberately no mutex — concurrency safety comes from the single-writer
// discipline, not from locking, matching the cooperative-scheduling model
// the spec describes for this component.
type State[T any] struct {
	self types.Address

	height uint64
	round  uint64
	step   types.Step

	isLeader      bool
	leaderAddress types.Address
	updateFrom    types.UpdateFrom

	consensusPower bool
	blockIntervalM uint64
	heightStart    time.Time

	authority      *authority.Manage
	authorityStore *store.Store
	proposals      *collector.Proposal[T]
	votes          *collector.Vote
	chokes         *collector.Choke

	hashWithBlock     map[types.Hash]T
	isFullTransaction map[types.Hash]bool

	machine     *smr.Machine
	timer       *smr.Timer
	cancelTimer context.CancelFunc
	durations   smr.DurationConfig

	app    types.Application[T]
	crypto types.Crypto
	wal    *wal.Wal[T]

	verifySem *semaphore.Weighted

	msgCh        chan msgEnvelope[T]
	verifySigCh  chan msgEnvelope[T]
	verifyRespCh chan checkBlockResult
	smrEvents    <-chan smr.Event

	log *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// Config bundles the construction-time parameters of one State instance.
type Config struct {
	Self                types.Address
	InitHeight          uint64
	InitAuthority       []types.Node
	AuthorityStore      *store.Store
	BlockIntervalMillis uint64
	Durations           smr.DurationConfig
	Logger              *slog.Logger
}

// storageLike is the minimal slice of storage.Database the wal package
// needs; declared locally so this package does not import storage
// directly for anything beyond what it wires through.
type storageLike interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Close()
}

// New builds a State parked at (cfg.InitHeight, INIT_ROUND, Propose),
// wired to app/crypto/store as its external collaborators.
func New[T any](cfg Config, app types.Application[T], crypto types.Crypto, store storageLike) *State[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	machine := smr.NewMachine(cfg.InitHeight, 64)
	timer := smr.NewTimer(machine, cfg.Durations, cfg.BlockIntervalMillis)

	authMgr := authority.New()
	initList := cfg.InitAuthority
	if cfg.AuthorityStore != nil {
		if stored, found, err := cfg.AuthorityStore.LoadAuthority(); err == nil && found {
			initList = stored
		} else if len(initList) > 0 {
			_ = cfg.AuthorityStore.SaveAuthority(initList)
		}
	}
	if len(initList) > 0 {
		authMgr.Update(initList)
	}

	s := &State[T]{
		self:              cfg.Self,
		height:            cfg.InitHeight,
		round:             types.InitRound,
		step:              types.StepPropose,
		updateFrom:        types.UpdateFromPrecommitQC(types.AggregatedVote{}),
		consensusPower:    authMgr.Contains(cfg.Self),
		blockIntervalM:    cfg.BlockIntervalMillis,
		heightStart:       time.Now(),
		authority:         authMgr,
		authorityStore:    cfg.AuthorityStore,
		proposals:         collector.NewProposal[T](),
		votes:             collector.NewVote(),
		chokes:            collector.NewChoke(),
		hashWithBlock:     make(map[types.Hash]T),
		isFullTransaction: make(map[types.Hash]bool),
		machine:           machine,
		timer:             timer,
		durations:         cfg.Durations,
		app:               app,
		crypto:            crypto,
		wal:               wal.New[T](store),
		verifySem:         semaphore.NewWeighted(maxParallelVerify),
		msgCh:             make(chan msgEnvelope[T], 256),
		verifySigCh:       make(chan msgEnvelope[T], 256),
		verifyRespCh:      make(chan checkBlockResult, 64),
		smrEvents:         machine.Events(),
		log:               logger,
		stopped:           make(chan struct{}),
	}
	return s
}

// Handle ingests one message from the outside (§4.5's public contract).
// It is the only thread-safe entry point into a State: it merely enqueues
// onto msgCh, which the single run goroutine drains.
func (s *State[T]) Handle(ctx context.Context, msg types.OverlordMsg[T]) error {
	ctx = WithRequestID(ctx)
	select {
	case s.msgCh <- msgEnvelope[T]{ctx: ctx, msg: msg}:
		return nil
	default:
		return types.NewError(types.ErrChannel, "message queue full")
	}
}

// Run is the event loop: it multiplexes the four inputs described in §5
// until the context is cancelled or a Stop message arrives. It first
// replays the write-ahead log so a restarted replica resumes without
// equivocating (§4.5, S5).
func (s *State[T]) Run(ctx context.Context) error {
	if err := s.startWithWal(ctx); err != nil {
		s.log.Error("start with wal", "err", err)
		if err2, ok := err.(*types.ConsensusError); ok && err2.Kind.Fatal() {
			return err
		}
	}
	s.armStepTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopped:
			return nil
		case env := <-s.msgCh:
			if err := s.dispatch(env.ctx, env.msg); err != nil {
				s.handleError(env.ctx, err)
				if err2, ok := err.(*types.ConsensusError); ok && err2.Kind.Fatal() {
					return err
				}
			}
		case env := <-s.verifySigCh:
			if err := s.handleMsg(env.ctx, env.msg); err != nil {
				s.handleError(env.ctx, err)
				if err2, ok := err.(*types.ConsensusError); ok && err2.Kind.Fatal() {
					return err
				}
			}
		case resp := <-s.verifyRespCh:
			if !s.consensusPower {
				continue
			}
			if err := s.handleCheckBlockResponse(context.Background(), resp); err != nil {
				s.handleError(context.Background(), err)
				if err2, ok := err.(*types.ConsensusError); ok && err2.Kind.Fatal() {
					return err
				}
			}
		case ev, ok := <-s.smrEvents:
			if !ok {
				return nil
			}
			if !s.consensusPower {
				continue
			}
			if err := s.handleEvent(context.Background(), ev); err != nil {
				s.handleError(context.Background(), err)
				if err2, ok := err.(*types.ConsensusError); ok && err2.Kind.Fatal() {
					return err
				}
			}
		}
	}
}

// Stop requests the run loop to terminate and pushes a Stop trigger into
// the SMR so it winds down too.
func (s *State[T]) Stop() {
	s.stopOnce.Do(func() {
		_ = s.machine.Trigger(smr.Trigger{Type: smr.TriggerStop})
		close(s.stopped)
	})
}

func (s *State[T]) handleError(ctx context.Context, err error) {
	s.log.Warn("consensus message error", "err", err, "request_id", RequestID(ctx))
	s.app.ReportError(ctx, err)
}

// armStepTimer cancels any outstanding timer and arms a fresh one for the
// replica's current (height, round, step), per §4.4's per-step timeout
// model.
func (s *State[T]) armStepTimer() {
	if s.cancelTimer != nil {
		s.cancelTimer()
	}
	s.cancelTimer = s.timer.Arm(s.height, s.round, s.step)
}
