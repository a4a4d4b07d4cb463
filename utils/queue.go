package utils

import (
	"errors"
	"sync"
)

var ErrWouldBlock = errors.New("cmdq: the queue is over capacity")
var ErrClosed = errors.New("cmdq: queue is closed")
var ErrEmpty = errors.New("cmdq: queue is empty")

// Queue is an ordered batch queue: Drain appends items, Feed takes
// everything currently queued. Limit caps the number of queued items;
// Limit<=0 means unbounded. Closing a queue makes both ends fail.
type Queue[T any] struct {
	items  []T
	lock   sync.Mutex
	cond   sync.Cond
	limit  int
	closed bool
}

func NewQueue[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

func (q *Queue[T]) Len() int {
	q.lock.Lock()
	l := len(q.items)
	q.lock.Unlock()
	return l
}

func (q *Queue[T]) Drain(items []T) error {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return ErrClosed
	}
	if q.limit > 0 && len(q.items)+len(items) > q.limit {
		q.lock.Unlock()
		return ErrWouldBlock
	}
	was0 := len(q.items) == 0
	q.items = append(q.items, items...)
	if was0 && q.cond.L != nil {
		q.cond.Broadcast()
	}
	q.lock.Unlock()
	return nil
}

func (q *Queue[T]) Feed() (items []T, err error) {
	q.lock.Lock()
	if len(q.items) == 0 {
		err = ErrEmpty
		if q.closed {
			err = ErrClosed
		}
		q.lock.Unlock()
		return
	}
	wasfull := q.limit > 0 && len(q.items) >= q.limit
	items = q.items
	q.items = nil
	if wasfull && q.cond.L != nil {
		q.cond.Broadcast()
	}
	q.lock.Unlock()
	return
}

func (q *Queue[T]) Close() error {
	q.lock.Lock()
	q.closed = true
	q.items = nil
	if q.cond.L != nil {
		q.cond.Broadcast()
	}
	q.lock.Unlock()
	return nil
}

// Blocking returns a view of the queue where Drain waits for capacity
// and Feed waits for items instead of erroring out.
func (q *Queue[T]) Blocking() *BlockingQueue[T] {
	q.lock.Lock()
	if q.cond.L == nil {
		q.cond.L = &q.lock
	}
	q.lock.Unlock()
	return &BlockingQueue[T]{q}
}

type BlockingQueue[T any] struct {
	queue *Queue[T]
}

func (bq *BlockingQueue[T]) Close() error {
	return bq.queue.Close()
}

func (bq *BlockingQueue[T]) Drain(items []T) error {
	q := bq.queue
	q.lock.Lock()
	for len(items) > 0 {
		if q.closed {
			q.lock.Unlock()
			return ErrClosed
		}
		was0 := len(q.items) == 0
		if q.limit <= 0 {
			q.items = append(q.items, items...)
			items = nil
		} else {
			for !q.closed && q.limit <= len(q.items) {
				q.cond.Wait()
			}
			if q.closed {
				q.lock.Unlock()
				return ErrClosed
			}
			qcap := q.limit - len(q.items)
			if qcap > len(items) {
				qcap = len(items)
			}
			q.items = append(q.items, items[:qcap]...)
			items = items[qcap:]
		}
		if was0 {
			q.cond.Broadcast()
		}
	}
	q.lock.Unlock()
	return nil
}

func (bq *BlockingQueue[T]) Feed() (items []T, err error) {
	q := bq.queue
	q.lock.Lock()
	wasfull := q.limit > 0 && len(q.items) >= q.limit
	for len(q.items) == 0 {
		if q.closed {
			q.lock.Unlock()
			return nil, ErrClosed
		}
		q.cond.Wait()
	}
	items = q.items
	q.items = nil
	if wasfull {
		q.cond.Broadcast()
	}
	q.lock.Unlock()
	return
}
