package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/botloom/internal/script"
)

// schedule arms a timer whose callback runs as its own root operation.
func (s *Scheduler) schedule(d time.Duration, fire func(ctx context.Context)) int64 {
	id := s.timerSeq.Next()
	s.timers[id] = s.afterFunc(d, func() {
		s.fireTimer(id, fire)
	})
	return id
}

func (s *Scheduler) fireTimer(id int64, fire func(ctx context.Context)) {
	_, err := s.run(context.Background(), "timer", "timer", func(ctx context.Context) {
		if _, ok := s.timers[id]; !ok {
			return
		}
		delete(s.timers, id)
		fire(ctx)
	})
	if err != nil {
		slog.Debug("timer dropped", "timer_id", id, "error", err, "event", "timer_dropped")
	}
}

// setTimeout runs fn on a new fiber bound to h's bot and tag after delay.
func (s *Scheduler) setTimeout(h *host, delay time.Duration, fn func(script.Host)) int64 {
	return s.schedule(delay, func(ctx context.Context) {
		if !s.energy.Consume() {
			return
		}
		th := s.newHost(ctx, h, h.botID, h.tag)
		out := s.start(th, func(th *host) (any, error) {
			fn(th)
			return nil, nil
		})
		s.settle(ctx, th.f, out)
	})
}

func (s *Scheduler) clearTimeout(id int64) bool {
	stop, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	stop()
	return true
}

// sleep suspends h's fiber and resumes it after delay in a new batch.
func (s *Scheduler) sleep(h *host, delay time.Duration) error {
	f := h.f
	s.schedule(delay, func(ctx context.Context) {
		s.continueFiber(ctx, f, wake{})
	})
	_, err := f.suspend(s)
	return err
}

// Timers returns the number of armed timers.
func (s *Scheduler) Timers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
