package cmdq

import (
	"context"
	"sync"
)

// gate is a one-shot readiness latch: it either resolves or fails, once.
// The error is published before done closes, so readers need no lock.
type gate struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newGate() *gate {
	return &gate{done: make(chan struct{})}
}

func (g *gate) resolve() {
	g.once.Do(func() { close(g.done) })
}

func (g *gate) fail(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

func (g *gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ready reports whether the gate has resolved successfully.
func (g *gate) ready() bool {
	select {
	case <-g.done:
		return g.err == nil
	default:
		return false
	}
}

// settled returns the gate's error if it has settled either way.
func (g *gate) settled() (bool, error) {
	select {
	case <-g.done:
		return true, g.err
	default:
		return false, nil
	}
}
