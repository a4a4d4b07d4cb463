package cmdq

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// View materializes one reduced value of type O from a command stream of
// type T. A view stays stand-alone until attached to a CommandQueue; it
// can also be pushed to directly.
type View[T, O any] struct {
	n *node[T, O]
}

func NewView[T, O any](red Reducer[O, T], opts ...Option) *View[T, O] {
	return &View[T, O]{n: newNode[T, O](red, opts...)}
}

// initialize seeds the view: the initial state first, then every command
// of the snapshot folded in order, each step completing before the next.
// Any error fails the ready gate for good; the view never becomes ready.
func (v *View[T, O]) initialize(history []T) {
	state, err := v.n.red.Initial(v.n.ctx)
	if err != nil {
		v.n.gate.fail(errors.Wrap(err, "initial state"))
		return
	}
	for _, cmd := range history {
		next, changed, err := v.n.step(state, cmd)
		if err != nil {
			v.n.gate.fail(errors.Wrap(err, "replay"))
			return
		}
		if changed {
			state = next
		}
	}
	v.n.becomeReady(state)
}

// Push folds the command(s) into the view's state as one logical update:
// at most one notification wave fires for the whole batch, and none at all
// if the reducer reported no change. Commands queue behind the ready gate,
// so pushing during replay is safe. The only error is a view that has
// already failed.
func (v *View[T, O]) Push(cmds ...T) error {
	return v.pushBatch(append([]T(nil), cmds...))
}

func (v *View[T, O]) pushBatch(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	return v.n.enqueue(func() { v.n.fold(batch) })
}

// Subscribe registers fn. Once the view is ready fn receives the current
// state exactly once as a catch-up, then once per genuine transition.
// The returned cancel func is idempotent.
func (v *View[T, O]) Subscribe(fn func(O)) (cancel func()) {
	return v.n.subscribe(fn)
}

// RegisterDerivation attaches a child derivation; it is seeded with this
// view's state once the view is ready and notified on every change after.
func (v *View[T, O]) RegisterDerivation(child Sink[O]) (deregister func()) {
	return v.n.registerDerivation(child)
}

// Ready blocks until the view is seeded, or returns the seeding error.
func (v *View[T, O]) Ready(ctx context.Context) error {
	return v.n.gate.Wait(ctx)
}

func (v *View[T, O]) State(ctx context.Context) (O, error) {
	return v.n.currentState(ctx)
}

// Err reports the view's terminal failure, if any.
func (v *View[T, O]) Err() error {
	return v.n.errState()
}

func (v *View[T, O]) Stats() NodeStats {
	return v.n.nodeStats()
}

func (v *View[T, O]) ID() uuid.UUID {
	return v.n.id
}
