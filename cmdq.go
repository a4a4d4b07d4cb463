package cmdq

import (
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"

	"github.com/cpubot/cmdq/utils"
)

// AttachedView is the queue-facing side of a View. Only *View satisfies it.
type AttachedView[T any] interface {
	initialize(history []T)
	pushBatch(batch []T) error
}

// CommandQueue is the append-only, process-lifetime command log. It owns
// the set of attached views: new views are seeded with a point-in-time
// snapshot of the log, and every later push is forwarded to all of them.
type CommandQueue[T any] struct {
	mu    sync.Mutex
	log   []T
	views map[uuid.UUID]AttachedView[T]

	// optional running fingerprint of the encoded log
	enc func(T) []byte
	fp  hash.Hash64

	pushes   atomic.Uint64
	commands atomic.Uint64

	logger utils.Logger
}

type QueueOption[T any] func(*CommandQueue[T])

func WithQueueLogger[T any](log utils.Logger) QueueOption[T] {
	return func(q *CommandQueue[T]) { q.logger = log }
}

// WithFingerprint keeps a running xxhash digest of every command appended
// to the log, rendered by enc. Useful to cheaply compare two logs or spot
// divergence in tests and tooling.
func WithFingerprint[T any](enc func(T) []byte) QueueOption[T] {
	return func(q *CommandQueue[T]) {
		q.enc = enc
		q.fp = xxhash.New()
	}
}

func NewCommandQueue[T any](opts ...QueueOption[T]) *CommandQueue[T] {
	q := &CommandQueue[T]{
		views:  make(map[uuid.UUID]AttachedView[T]),
		logger: utils.NewDefaultLogger(slog.LevelInfo),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends the command(s) to the log, then forwards the whole batch
// to every attached view as a single logical update. Appending cannot
// fail; the returned error only collects views that had already failed.
func (q *CommandQueue[T]) Push(cmds ...T) error {
	if len(cmds) == 0 {
		return nil
	}
	q.mu.Lock()
	q.log = append(q.log, cmds...)
	if q.fp != nil {
		for _, cmd := range cmds {
			_, _ = q.fp.Write(q.enc(cmd))
		}
	}
	// the log is append-only, so views may share its backing array
	batch := q.log[len(q.log)-len(cmds) : len(q.log) : len(q.log)]
	var errs []error
	for id, view := range q.views {
		if err := view.pushBatch(batch); err != nil {
			errs = append(errs, fmt.Errorf("view %s: %w", id, err))
		}
	}
	q.mu.Unlock()
	q.pushes.Add(1)
	q.commands.Add(uint64(len(cmds)))
	return errors.Join(errs...)
}

// RegisterView attaches the view and seeds it, asynchronously, with a
// snapshot of the log taken before any later push can be forwarded: a
// command is either in the replay snapshot or delivered live, never both.
// The returned unregister func is idempotent.
func (q *CommandQueue[T]) RegisterView(view AttachedView[T]) (unregister func()) {
	id := uuid.Must(uuid.NewV7())
	q.mu.Lock()
	snapshot := append([]T(nil), q.log...)
	q.views[id] = view
	q.mu.Unlock()
	go view.initialize(snapshot)
	q.logger.Debug("view attached", "view", id.String(), "replay", len(snapshot))
	return func() {
		q.mu.Lock()
		delete(q.views, id)
		q.mu.Unlock()
	}
}

// UnregisterView detaches the view; pushes after this are never forwarded
// to it again. No-op if the view is not attached.
func (q *CommandQueue[T]) UnregisterView(view AttachedView[T]) {
	q.mu.Lock()
	for id, v := range q.views {
		if v == view {
			delete(q.views, id)
		}
	}
	q.mu.Unlock()
}

// Snapshot returns a copy of the log.
func (q *CommandQueue[T]) Snapshot() []T {
	q.mu.Lock()
	snap := append([]T(nil), q.log...)
	q.mu.Unlock()
	return snap
}

func (q *CommandQueue[T]) Len() int {
	q.mu.Lock()
	l := len(q.log)
	q.mu.Unlock()
	return l
}

type QueueStats struct {
	LogLen      int
	Views       int
	Pushes      uint64
	Commands    uint64
	Fingerprint uint64 // zero unless WithFingerprint was given
}

func (q *CommandQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	st := QueueStats{LogLen: len(q.log), Views: len(q.views)}
	if q.fp != nil {
		st.Fingerprint = q.fp.Sum64()
	}
	q.mu.Unlock()
	st.Pushes = q.pushes.Load()
	st.Commands = q.commands.Load()
	return st
}
