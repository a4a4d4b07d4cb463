package cmdq

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const waitT = 2 * time.Second
const tickT = time.Millisecond

type sumReducer struct{}

func (sumReducer) Initial(ctx context.Context) (int, error) { return 0, nil }

func (sumReducer) Next(ctx context.Context, state, input int) (int, bool, error) {
	if input == 0 {
		return state, false, nil
	}
	return state + input, true, nil
}

type collectReducer struct{}

func (collectReducer) Initial(ctx context.Context) ([]int, error) { return []int{}, nil }

func (collectReducer) Next(ctx context.Context, state []int, input int) ([]int, bool, error) {
	next := make([]int, len(state), len(state)+1)
	copy(next, state)
	return append(next, input), true, nil
}

// blockingInitial parks Initial until release is closed.
type blockingInitial struct {
	collectReducer
	release chan struct{}
}

func (b *blockingInitial) Initial(ctx context.Context) ([]int, error) {
	<-b.release
	return []int{}, nil
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitT):
		t.Fatal("timed out waiting for a notification")
	}
	var zero T
	return zero
}

func TestQueuePushForwardsToAttachedViews(t *testing.T) {
	q := NewCommandQueue[int]()
	v := NewView[int, int](sumReducer{})
	q.RegisterView(v)

	assert.Nil(t, q.Push(1, 2, 3))
	assert.Equal(t, 3, q.Len())

	sums := make(chan int, 16)
	v.Subscribe(func(s int) { sums <- s })
	assert.Equal(t, 6, recv(t, sums))
}

func TestQueueSnapshotNoDoubleApplication(t *testing.T) {
	q := NewCommandQueue[int]()
	assert.Nil(t, q.Push(1, 2, 3))

	red := &blockingInitial{release: make(chan struct{})}
	v := NewView[int, []int](red)
	q.RegisterView(v)

	// forwarded live while the replay snapshot is still seeding; it must
	// queue behind the ready gate, not race it or apply twice
	assert.Nil(t, q.Push(4))
	close(red.release)

	got := make(chan []int, 16)
	v.Subscribe(func(s []int) { got <- s })
	assert.Equal(t, []int{1, 2, 3, 4}, recv(t, got))
}

func TestLateAttachEqualsEarlyAttach(t *testing.T) {
	q := NewCommandQueue[int]()
	early := NewView[int, []int](collectReducer{})
	q.RegisterView(early)

	assert.Nil(t, q.Push(1))
	assert.Nil(t, q.Push(2, 3))

	late := NewView[int, []int](collectReducer{})
	q.RegisterView(late)

	ctx := context.Background()
	assert.Nil(t, late.Ready(ctx))
	want, err := late.State(ctx)
	assert.Nil(t, err)
	assert.Equal(t, []int{1, 2, 3}, want)

	assert.Eventually(t, func() bool {
		s, err := early.State(ctx)
		return err == nil && len(s) == 3
	}, waitT, tickT)
}

func TestTwoViewsReduceIndependently(t *testing.T) {
	q := NewCommandQueue[int]()
	a := NewView[int, int](sumReducer{})
	b := NewView[int, []int](collectReducer{})
	q.RegisterView(a)
	q.RegisterView(b)

	assert.Nil(t, q.Push(7))

	asums := make(chan int, 16)
	blists := make(chan []int, 16)
	a.Subscribe(func(s int) { asums <- s })
	b.Subscribe(func(s []int) { blists <- s })

	assert.Equal(t, 7, recv(t, asums))
	assert.Equal(t, []int{7}, recv(t, blists))
}

func TestBatchVsSingleSameFinalState(t *testing.T) {
	single := NewCommandQueue[int]()
	batched := NewCommandQueue[int]()
	vs := NewView[int, []int](collectReducer{})
	vb := NewView[int, []int](collectReducer{})
	single.RegisterView(vs)
	batched.RegisterView(vb)

	for _, c := range []int{1, 2, 3, 4} {
		assert.Nil(t, single.Push(c))
	}
	assert.Nil(t, batched.Push(1, 2, 3, 4))

	ctx := context.Background()
	assert.Eventually(t, func() bool {
		a, erra := vs.State(ctx)
		b, errb := vb.State(ctx)
		return erra == nil && errb == nil && len(a) == 4 && len(b) == 4
	}, waitT, tickT)

	a, _ := vs.State(ctx)
	b, _ := vb.State(ctx)
	assert.Equal(t, a, b)

	// batching is a notification-count optimization: one wave, not four
	assert.Equal(t, uint64(1), vb.Stats().Waves)
	assert.Equal(t, uint64(4), vs.Stats().Waves)
}

func TestUnregisterViewStopsForwarding(t *testing.T) {
	q := NewCommandQueue[int]()
	v := NewView[int, int](sumReducer{})
	unregister := q.RegisterView(v)

	assert.Nil(t, q.Push(5))
	ctx := context.Background()
	assert.Eventually(t, func() bool {
		s, err := v.State(ctx)
		return err == nil && s == 5
	}, waitT, tickT)

	unregister()
	unregister() // idempotent
	assert.Nil(t, q.Push(100))
	assert.Equal(t, 2, q.Len())

	s, err := v.State(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 5, s)
	assert.Equal(t, QueueStats{LogLen: 2, Views: 0, Pushes: 2, Commands: 2}, q.Stats())
}

func TestUnregisterViewByValue(t *testing.T) {
	q := NewCommandQueue[int]()
	v := NewView[int, int](sumReducer{})
	q.RegisterView(v)

	q.UnregisterView(v)
	q.UnregisterView(v) // no-op when absent
	assert.Nil(t, q.Push(1))
	assert.Equal(t, 0, q.Stats().Views)
}

func TestQueueSnapshotIsACopy(t *testing.T) {
	q := NewCommandQueue[int]()
	assert.Nil(t, q.Push(1, 2))
	snap := q.Snapshot()
	assert.Nil(t, q.Push(3))
	assert.Equal(t, []int{1, 2}, snap)
}

func TestQueueFingerprint(t *testing.T) {
	enc := func(c int) []byte {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(c))
		return b[:]
	}
	a := NewCommandQueue[int](WithFingerprint(enc))
	b := NewCommandQueue[int](WithFingerprint(enc))

	assert.Nil(t, a.Push(1, 2, 3))
	assert.Nil(t, b.Push(1))
	assert.Nil(t, b.Push(2, 3))
	assert.Equal(t, a.Stats().Fingerprint, b.Stats().Fingerprint)

	assert.Nil(t, b.Push(4))
	assert.NotEqual(t, a.Stats().Fingerprint, b.Stats().Fingerprint)
}

func TestQueuePushEmptyIsNoop(t *testing.T) {
	q := NewCommandQueue[int]()
	assert.Nil(t, q.Push())
	assert.Equal(t, QueueStats{}, q.Stats())
}
