package cmdq

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Derivation mirrors View, except its input is a parent node's state
// stream instead of raw commands: it is seeded once with the parent's
// then-current state and fed every parent change after that. Derivations
// host their own subscribers and further derivations, so chains of any
// depth propagate one coherent wave per root change.
type Derivation[I, O any] struct {
	n *node[I, O]
}

func NewDerivation[I, O any](red Reducer[O, I], opts ...Option) *Derivation[I, O] {
	return &Derivation[I, O]{n: newNode[I, O](red, opts...)}
}

// seed composes the initial state with one fold of the first parent
// state; no bare unfolded initial state is ever observable. Runs off the
// parent's executor so a slow reducer here cannot stall the parent.
func (d *Derivation[I, O]) seed(parent I) {
	go func() {
		state, err := d.n.red.Initial(d.n.ctx)
		if err != nil {
			d.n.gate.fail(errors.Wrap(err, "initial state"))
			return
		}
		next, changed, err := d.n.step(state, parent)
		if err != nil {
			d.n.gate.fail(errors.Wrap(err, "seed fold"))
			return
		}
		if changed {
			state = next
		}
		d.n.becomeReady(state)
	}()
}

func (d *Derivation[I, O]) parentDidChange(next I) {
	batch := []I{next}
	if err := d.n.enqueue(func() { d.n.fold(batch) }); err != nil {
		d.n.log.WarnCtx(d.n.ctx, "dropping parent change", "error", err)
	}
}

func (d *Derivation[I, O]) Subscribe(fn func(O)) (cancel func()) {
	return d.n.subscribe(fn)
}

func (d *Derivation[I, O]) RegisterDerivation(child Sink[O]) (deregister func()) {
	return d.n.registerDerivation(child)
}

// Ready blocks until the derivation is seeded by its parent, or returns
// the seeding error.
func (d *Derivation[I, O]) Ready(ctx context.Context) error {
	return d.n.gate.Wait(ctx)
}

func (d *Derivation[I, O]) State(ctx context.Context) (O, error) {
	return d.n.currentState(ctx)
}

// Err reports the derivation's terminal failure, if any.
func (d *Derivation[I, O]) Err() error {
	return d.n.errState()
}

func (d *Derivation[I, O]) Stats() NodeStats {
	return d.n.nodeStats()
}

func (d *Derivation[I, O]) ID() uuid.UUID {
	return d.n.id
}
