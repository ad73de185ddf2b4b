package memory

import "sync"

// dispatcher delivers items to one subscriber callback on a dedicated
// goroutine, in push order, with an unbounded queue. Writers enqueue under
// the store lock without ever blocking on the consumer.
type dispatcher[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool
}

func newDispatcher[T any](fn func(T)) *dispatcher[T] {
	d := &dispatcher[T]{}
	d.cond = sync.NewCond(&d.mu)

	go func() {
		for {
			d.mu.Lock()
			for len(d.queue) == 0 && !d.closed {
				d.cond.Wait()
			}
			if d.closed && len(d.queue) == 0 {
				d.mu.Unlock()
				return
			}
			item := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()

			fn(item)
		}
	}()

	return d
}

func (d *dispatcher[T]) push(item T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, item)
	d.cond.Signal()
}

func (d *dispatcher[T]) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Signal()
}
