package recording

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// task calls fn on every tick until stopped. fn receives a context that is
// canceled by stop and must not block past it.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startTask(clock clockwork.Clock, interval time.Duration, fn func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := clock.NewTicker(interval)

	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				fn(ctx)
			}
		}
	}()

	return t
}

// stop cancels the task and waits for its goroutine to exit
func (t *task) stop() {
	t.once.Do(func() {
		t.cancel()
		<-t.done
	})
}
