package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

const DefaultExecutorQueue = 256

// Executor runs tasks one at a time on a single goroutine. Engine bindings
// that need every native call to come from the same thread route them here.
type Executor struct {
	tasks   chan func()
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

func NewExecutor(queue int, log zerolog.Logger) *Executor {
	if queue <= 0 {
		queue = DefaultExecutorQueue
	}
	e := &Executor{
		tasks:   make(chan func(), queue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log,
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.tasks:
			e.run(fn)
		case <-e.done:
			return
		}
	}
}

func (e *Executor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic in engine task")
		}
	}()
	fn()
}

// Submit queues fn without waiting for it. It reports false once the
// executor is closed. Submit blocks while the queue is full.
func (e *Executor) Submit(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.tasks <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Do runs fn on the executor and waits for it. It must not be called from a
// task, which would deadlock.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	ok := e.Submit(func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("engine task panicked: %v", r)
			}
			result <- err
		}()
		err = fn()
	})
	if !ok {
		return ErrExecutorClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrExecutorClosed
		}
	}
}

// Close stops the loop after the task in progress. Queued tasks are dropped.
func (e *Executor) Close() {
	e.once.Do(func() { close(e.done) })
	<-e.stopped
}
