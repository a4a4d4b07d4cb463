package cmdq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cpubot/cmdq/utils"
)

// Sink is the parent-facing side of a Derivation: seed fires exactly once
// with the parent's then-current state, parentDidChange on every genuine
// parent transition after that. Only *Derivation satisfies it.
type Sink[I any] interface {
	seed(parent I)
	parentDidChange(next I)
}

type subscriber[O any] struct {
	fn func(O)
	// set by the catch-up task; waves skip subscribers that have not
	// caught up yet, so the catch-up value is always the first delivered
	active atomic.Bool
}

type childSink[O any] struct {
	sink   Sink[O]
	active atomic.Bool
}

type options struct {
	log utils.Logger
	ctx context.Context
}

type Option func(*options)

func WithLogger(log utils.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithContext sets the context handed to the node's reducer calls.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// node is the reduction engine shared by View and Derivation: a ready
// gate, the current state, registries of subscribers and child
// derivations, and a serial task executor that keeps all of it ordered.
type node[I, O any] struct {
	id   uuid.UUID
	red  Reducer[O, I]
	gate *gate
	log  utils.Logger
	ctx  context.Context

	// serial executor: enqueue-and-drain, one drainer at a time
	mu      sync.Mutex
	tasks   *utils.Queue[func()]
	running bool
	failed  error

	stateMu sync.Mutex
	state   O

	subs *xsync.MapOf[uuid.UUID, *subscriber[O]]
	kids *xsync.MapOf[uuid.UUID, *childSink[O]]

	reduces atomic.Uint64
	waves   atomic.Uint64
	avg     utils.AvgVal
}

func newNode[I, O any](red Reducer[O, I], opts ...Option) *node[I, O] {
	o := options{
		log: utils.NewDefaultLogger(slog.LevelInfo),
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.Must(uuid.NewV7())
	return &node[I, O]{
		id:    id,
		red:   red,
		gate:  newGate(),
		log:   o.log,
		ctx:   utils.WithDefaultArgs(o.ctx, "node", id.String()),
		tasks: utils.NewQueue[func()](0),
		subs:  xsync.NewMapOf[uuid.UUID, *subscriber[O]](),
		kids:  xsync.NewMapOf[uuid.UUID, *childSink[O]](),
	}
}

// enqueue schedules fn on the serial executor. Returns the node's failure
// if it already failed; fn will then never run.
func (n *node[I, O]) enqueue(fn func()) error {
	n.mu.Lock()
	if n.failed != nil {
		err := n.failed
		n.mu.Unlock()
		return err
	}
	if err := n.tasks.Drain([]func(){fn}); err != nil {
		n.mu.Unlock()
		return err
	}
	if !n.running {
		n.running = true
		go n.drainTasks()
	}
	n.mu.Unlock()
	return nil
}

func (n *node[I, O]) drainTasks() {
	// replay-then-stream: nothing runs before the node is seeded
	if err := n.gate.Wait(n.ctx); err != nil {
		n.poison(err)
		return
	}
	for {
		n.mu.Lock()
		if n.failed != nil {
			n.running = false
			n.mu.Unlock()
			return
		}
		fns, err := n.tasks.Feed()
		if err != nil {
			n.running = false
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
		for _, fn := range fns {
			fn()
			if n.errState() != nil {
				// poison already released the executor
				return
			}
		}
	}
}

// poison is the terminal failure transition: the recorded error surfaces
// on every later call, queued work is dropped, state keeps its last good
// value.
func (n *node[I, O]) poison(err error) {
	n.mu.Lock()
	if n.failed != nil {
		n.mu.Unlock()
		return
	}
	n.failed = err
	_, _ = n.tasks.Feed() // drop whatever queued behind the failure
	n.running = false
	n.mu.Unlock()
	n.log.ErrorCtx(n.ctx, "node failed, dropping further work", "error", err)
}

// becomeReady publishes the seeded state and opens the gate.
func (n *node[I, O]) becomeReady(state O) {
	n.stateMu.Lock()
	n.state = state
	n.stateMu.Unlock()
	n.gate.resolve()
}

// fold threads the batch through the reducer and fires at most one wave,
// and only if some step reported a change.
func (n *node[I, O]) fold(batch []I) {
	n.stateMu.Lock()
	state := n.state
	n.stateMu.Unlock()
	changed := false
	for _, input := range batch {
		next, c, err := n.step(state, input)
		if err != nil {
			n.poison(err)
			return
		}
		if c {
			state = next
			changed = true
		}
	}
	if !changed {
		return
	}
	n.stateMu.Lock()
	n.state = state
	n.stateMu.Unlock()
	n.notify(state)
}

func (n *node[I, O]) step(state O, input I) (O, bool, error) {
	start := time.Now()
	next, changed, err := n.red.Next(n.ctx, state, input)
	n.avg.Add(time.Since(start).Seconds())
	n.reduces.Add(1)
	return next, changed, err
}

func (n *node[I, O]) notify(state O) {
	n.waves.Add(1)
	n.subs.Range(func(_ uuid.UUID, sub *subscriber[O]) bool {
		if sub.active.Load() {
			n.invoke(sub.fn, state)
		}
		return true
	})
	n.kids.Range(func(_ uuid.UUID, kid *childSink[O]) bool {
		if kid.active.Load() {
			kid.sink.parentDidChange(state)
		}
		return true
	})
}

// invoke isolates one callback: a panicking subscriber must not take the
// rest of the wave down with it.
func (n *node[I, O]) invoke(fn func(O), state O) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WarnCtx(n.ctx, "subscriber panicked", "panic", r)
		}
	}()
	fn(state)
}

func (n *node[I, O]) subscribe(fn func(O)) func() {
	id := uuid.Must(uuid.NewV7())
	sub := &subscriber[O]{fn: fn}
	n.subs.Store(id, sub)
	// the catch-up rides the executor: it fires once the node is ready
	// and can never interleave with a wave
	if err := n.enqueue(func() {
		if _, ok := n.subs.Load(id); !ok {
			return // cancelled before catching up
		}
		sub.active.Store(true)
		n.stateMu.Lock()
		state := n.state
		n.stateMu.Unlock()
		n.invoke(fn, state)
	}); err != nil {
		n.subs.Delete(id)
	}
	return func() { n.subs.Delete(id) }
}

func (n *node[I, O]) registerDerivation(child Sink[O]) func() {
	id := uuid.Must(uuid.NewV7())
	kid := &childSink[O]{sink: child}
	n.kids.Store(id, kid)
	// seeded exactly once, with the state current at execution time
	if err := n.enqueue(func() {
		if _, ok := n.kids.Load(id); !ok {
			return
		}
		kid.active.Store(true)
		n.stateMu.Lock()
		state := n.state
		n.stateMu.Unlock()
		child.seed(state)
	}); err != nil {
		n.kids.Delete(id)
	}
	return func() { n.kids.Delete(id) }
}

func (n *node[I, O]) errState() error {
	n.mu.Lock()
	f := n.failed
	n.mu.Unlock()
	if f != nil {
		return f
	}
	_, err := n.gate.settled()
	return err
}

// currentState waits for readiness, then returns the current state. After
// a live reduction failure it returns the last good state together with
// the recorded error.
func (n *node[I, O]) currentState(ctx context.Context) (O, error) {
	var zero O
	if err := n.gate.Wait(ctx); err != nil {
		return zero, err
	}
	n.stateMu.Lock()
	state := n.state
	n.stateMu.Unlock()
	return state, n.errState()
}

type NodeStats struct {
	Ready            bool
	Waves            uint64
	Reduces          uint64
	Subscribers      int
	Derivations      int
	AvgReduceSeconds float64
}

func (n *node[I, O]) nodeStats() NodeStats {
	return NodeStats{
		Ready:            n.gate.ready(),
		Waves:            n.waves.Load(),
		Reduces:          n.reduces.Load(),
		Subscribers:      n.subs.Size(),
		Derivations:      n.kids.Size(),
		AvgReduceSeconds: n.avg.Val(),
	}
}
