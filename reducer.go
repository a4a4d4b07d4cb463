package cmdq

import "context"

// Reducer folds inputs of type I into a state of type S. The core never
// copies state values: Initial and Next must return fresh values and treat
// their arguments as immutable. The bool result of Next is the changed
// flag; when it is false the returned state is taken to be the old one and
// no notification happens.
//
// Next is never called concurrently with itself on the same node and
// always receives the state its own previous call produced.
type Reducer[S, I any] interface {
	Initial(ctx context.Context) (S, error)
	Next(ctx context.Context, state S, input I) (S, bool, error)
}

// FuncReducer adapts a pair of funcs to the Reducer interface.
type FuncReducer[S, I any] struct {
	InitialFn func(ctx context.Context) (S, error)
	NextFn    func(ctx context.Context, state S, input I) (S, bool, error)
}

func (f FuncReducer[S, I]) Initial(ctx context.Context) (S, error) {
	return f.InitialFn(ctx)
}

func (f FuncReducer[S, I]) Next(ctx context.Context, state S, input I) (S, bool, error) {
	return f.NextFn(ctx, state, input)
}
