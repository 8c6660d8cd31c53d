package engine

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
)

// wake is the value a suspended fiber is resumed with.
type wake struct {
	value any
	err   error
}

// outcome is what a fiber reports to its driver when it yields.
type outcome struct {
	suspended bool
	value     any
	err       error
}

// fiber is one listener invocation running on its own goroutine.
//
// The driver and the fiber hand control back and forth: the driver sends
// on resume and then blocks on yield; the fiber runs until it finishes or
// suspends and then sends on yield. Only one side runs at a time.
type fiber struct {
	host   *host
	resume chan wake
	yield  chan outcome
}

// start runs fn on a new fiber bound to h and blocks until the fiber
// finishes or suspends.
func (s *Scheduler) start(h *host, fn func(h *host) (any, error)) outcome {
	f := &fiber{
		host:   h,
		resume: make(chan wake),
		yield:  make(chan outcome),
	}
	h.f = f

	go func() {
		out := outcome{}
		defer func() {
			if r := recover(); r != nil {
				slog.Error("listener panicked",
					"bot", h.botID,
					"tag", h.tag,
					"panic", r,
					"stack", string(debug.Stack()),
					"event", "listener_panic")
				out = outcome{err: fmt.Errorf("panic: %v", r)}
			}
			select {
			case f.yield <- out:
			case <-s.closed:
			}
		}()
		v, err := fn(h)
		out = outcome{value: v, err: err}
	}()

	return <-f.yield
}

// suspend parks the fiber until a driver resumes it. It is called on the
// fiber's own goroutine. After teardown the goroutine exits instead.
func (f *fiber) suspend(s *Scheduler) (any, error) {
	f.yield <- outcome{suspended: true}
	select {
	case w := <-f.resume:
		return w.value, w.err
	case <-s.closed:
		runtime.Goexit()
		return nil, nil
	}
}

// resumeFiber resumes a suspended fiber and blocks until it finishes or
// suspends again.
func (s *Scheduler) resumeFiber(f *fiber, w wake) outcome {
	f.resume <- w
	return <-f.yield
}
