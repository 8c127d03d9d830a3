package engine

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// workerPool is a fixed set of goroutines, each with its own bounded queue.
// Jobs submitted under the same key always land on the same worker, so they
// run one at a time and in submission order.
type workerPool[T any] struct {
	shards  []chan T
	process func(ctx context.Context, t T)
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// newWorkerPool creates and starts a pool with n goroutines, each with queue
// capacity depth.
func newWorkerPool[T any](ctx context.Context, n, depth int, fn func(context.Context, T)) *workerPool[T] {
	if n < 1 {
		n = 1
	}
	p := &workerPool[T]{
		shards:  make([]chan T, n),
		process: fn,
	}
	for i := range p.shards {
		q := make(chan T, depth)
		p.shards[i] = q
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, q)
		}()
	}
	return p
}

func (p *workerPool[T]) run(ctx context.Context, q <-chan T) {
	for {
		select {
		case t, ok := <-q:
			if !ok {
				return
			}
			p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

func (p *workerPool[T]) shard(key string) chan T {
	return p.shards[xxhash.Sum64String(key)%uint64(len(p.shards))]
}

// Submit enqueues t on key's worker without blocking (returns false if that
// queue is full or the pool is draining).
func (p *workerPool[T]) Submit(key string, t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.shard(key) <- t:
		return true
	default:
		return false
	}
}

// Drain closes the queues and waits for all workers to finish.
func (p *workerPool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.shards {
			close(q)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many jobs are currently queued across all workers.
func (p *workerPool[T]) QueueLen() int {
	n := 0
	for _, q := range p.shards {
		n += len(q)
	}
	return n
}

// QueueCap returns the total queue capacity.
func (p *workerPool[T]) QueueCap() int {
	n := 0
	for _, q := range p.shards {
		n += cap(q)
	}
	return n
}
