package deltaconn

import (
	"context"
	"sync"
)

// loop serializes every mutation of Manager state onto one goroutine.
// post may be called from any goroutine and never blocks.
type loop struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func newLoop() *loop {
	return &loop{notify: make(chan struct{}, 1)}
}

func (l *loop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// runPending runs queued tasks, including ones queued while running, until
// the queue is empty or a task fails.
func (l *loop) runPending(run func(func()) error) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return nil
		}
		for i, fn := range batch {
			if err := run(fn); err != nil {
				l.mu.Lock()
				l.queue = append(batch[i+1:len(batch):len(batch)], l.queue...)
				l.mu.Unlock()
				return err
			}
		}
	}
}

// run drains the queue until ctx is done or a task fails.
func (l *loop) run(ctx context.Context, run func(func()) error) error {
	for {
		if err := l.runPending(run); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}
