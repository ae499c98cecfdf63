package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// listener guards callback delivery for one subscription. Callbacks run under
// the read lock, so once stop has returned none is running and none will start.
// stop must not be called from inside the listener's own callbacks.
type listener struct {
	onChange SnapshotFunc
	onError  ErrorFunc

	mu      sync.RWMutex
	stopped atomic.Bool
	once    sync.Once
	cancel  context.CancelFunc
	done    chan struct{}
}

func newListener(ctx context.Context, onChange SnapshotFunc, onError ErrorFunc) (*listener, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &listener{
		onChange: onChange,
		onError:  onError,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, ctx
}

func (l *listener) snapshot(docs []Document) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped.Load() || l.onChange == nil {
		return
	}
	l.onChange(docs)
}

// fail reports err once and stops the listener.
func (l *listener) fail(err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped.Swap(true) {
		return
	}
	l.cancel()
	if l.onError != nil {
		l.onError(err)
	}
}

func (l *listener) stop() {
	l.once.Do(func() {
		l.stopped.Store(true)
		l.cancel()
		close(l.done)
	})
	// wait out a callback already in flight
	l.mu.Lock()
	l.mu.Unlock()
}

func (l *listener) isStopped() bool {
	return l.stopped.Load()
}
