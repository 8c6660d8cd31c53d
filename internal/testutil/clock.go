package testutil

import (
	"sort"
	"sync"
	"time"
)

// VirtualClock is a manually advanced clock whose timers fire only when
// Advance passes their deadline.
//
// Its AfterFunc method has the shape of engine.TimerFunc, so a scheduler
// built with engine.WithTimerFunc(clock.AfterFunc) runs timers and sleeps
// deterministically.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Timer callbacks run without the mutex held, so they may schedule new
// timers.
type VirtualClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int64
	timers map[int64]*virtualTimer
}

type virtualTimer struct {
	id       int64
	deadline time.Duration
	fire     func()
}

// NewVirtualClock creates a clock at time zero with no timers.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{timers: make(map[int64]*virtualTimer)}
}

// AfterFunc schedules fire at now+d and returns a function that cancels
// it. The cancel function reports whether the timer was still pending.
func (c *VirtualClock) AfterFunc(d time.Duration, fire func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := c.seq
	c.timers[id] = &virtualTimer{id: id, deadline: c.now + d, fire: fire}
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.timers[id]; !ok {
			return false
		}
		delete(c.timers, id)
		return true
	}
}

// Now returns the virtual time elapsed since the clock was created.
func (c *VirtualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of timers that have not fired.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d, firing due timers in deadline
// order. Timers with equal deadlines fire in scheduling order. Timers
// scheduled by a callback fire in the same call when their deadline is
// within the window. It returns the number of timers fired.
func (c *VirtualClock) Advance(d time.Duration) int {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	fired := 0
	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fire()
		fired++
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
	return fired
}

// nextDue removes and returns the earliest timer due by target, moving
// the clock to its deadline.
func (c *VirtualClock) nextDue(target time.Duration) *virtualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	due := make([]*virtualTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if t.deadline <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].id < due[j].id
	})
	t := due[0]
	delete(c.timers, t.id)
	c.now = t.deadline
	return t
}
