// Package cmdq is an in-process command log with reactive views.
//
// # Overview
//
// A CommandQueue is an append-only, in-memory log of application commands.
// Views attach to a queue: on attachment a view replays a snapshot of the
// log through its reducer, then receives every later push live, in order.
// Views host Derivations, which reduce the parent's state changes instead
// of raw commands; derivations host further derivations, so a single push
// propagates through the whole graph in one wave.
//
// # State machine
//
// Every node (view or derivation) moves Uninitialized -> Initializing ->
// Ready, or ends up Failed if seeding errors out. A one-shot ready gate
// guards the transition: work that arrives while a node is still seeding
// queues behind the gate and drains in arrival order once it resolves.
// A node that failed to seed never becomes ready and never notifies.
//
// # Ordering
//
// Each node owns a serial task executor. Reductions, subscriber catch-ups
// and derivation seeding all ride it, so no two folds over the same state
// ever overlap, even when a reducer blocks. A batch of commands folds into
// a single state transition: subscribers see at most one notification per
// batch, and only if the reducer reported a change.
package cmdq
