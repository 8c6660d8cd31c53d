package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

// TaskState is the lifecycle state of a pending task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskResolved  TaskState = "resolved"
	TaskRejected  TaskState = "rejected"
	TaskIterating TaskState = "iterating"
)

// Task is an asynchronous host request awaiting resolution from outside.
//
// A plain task is destroyed when it is resolved or rejected. An iterable
// task lives until its terminal complete or throw has been consumed.
type Task struct {
	ID    int64
	State TaskState
	BotID string
	Tag   string

	fiber    *fiber
	iterable bool
	waiting  bool
	finished bool
	buffer   []iterItem
}

type iterItem struct {
	value any
	done  bool
	err   error
}

func (s *Scheduler) newTask(h *host, iterable bool) *Task {
	t := &Task{
		ID:       s.taskSeq.Next(),
		State:    TaskPending,
		BotID:    h.botID,
		Tag:      h.tag,
		fiber:    h.f,
		iterable: iterable,
	}
	if iterable {
		t.State = TaskIterating
	}
	s.tasks[t.ID] = t
	slog.Debug("task created", "task_id", t.ID, "bot", t.BotID, "tag", t.Tag, "event", "task_created")
	return t
}

// request emits a, stamped with a new task id, and suspends h until the
// task is resolved or rejected.
func (s *Scheduler) request(h *host, a *ir.HostAction) (any, error) {
	t := s.newTask(h, false)
	a.TaskID = t.ID
	s.record(h, a)
	return h.f.suspend(s)
}

// iterate emits a, stamped with a new task id, and returns an iterator
// over the values delivered for it.
func (s *Scheduler) iterate(h *host, a *ir.HostAction) script.Iterator {
	t := s.newTask(h, true)
	a.TaskID = t.ID
	s.record(h, a)
	return &iterator{s: s, t: t, h: h}
}

// Tasks returns the ids of pending tasks in creation order.
func (s *Scheduler) Tasks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ResolveTask resumes the continuation waiting on a task with value.
func (s *Scheduler) ResolveTask(ctx context.Context, taskID int64, value any) error {
	return s.settleTask(ctx, taskID, wake{value: value})
}

// RejectTask resumes the continuation waiting on a task with an error.
func (s *Scheduler) RejectTask(ctx context.Context, taskID int64, reason error) error {
	return s.settleTask(ctx, taskID, wake{err: reason})
}

func (s *Scheduler) settleTask(ctx context.Context, taskID int64, w wake) error {
	var err error
	_, runErr := s.run(ctx, "resume", "resume task", func(ctx context.Context) {
		err = s.completeTask(ctx, taskID, w)
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// completeTask resumes a plain task. Must run on the timeline.
func (s *Scheduler) completeTask(ctx context.Context, taskID int64, w wake) error {
	t, ok := s.tasks[taskID]
	if !ok || t.iterable {
		return NewTaskNotFoundError(taskID)
	}
	delete(s.tasks, taskID)
	t.State = TaskResolved
	if w.err != nil {
		t.State = TaskRejected
	}
	slog.Debug("task settled", "task_id", taskID, "state", t.State, "event", "task_settled")
	s.continueFiber(ctx, t.fiber, w)
	return nil
}

// feed delivers one item to an iterable task. The waiting continuation is
// resumed right away; otherwise the item is buffered until consumed.
// Must run on the timeline.
func (s *Scheduler) feed(ctx context.Context, taskID int64, item iterItem) error {
	t, ok := s.tasks[taskID]
	if !ok || !t.iterable || t.finished {
		return NewTaskNotFoundError(taskID)
	}
	if item.done {
		t.finished = true
	}
	if !t.waiting {
		t.buffer = append(t.buffer, item)
		return nil
	}
	t.waiting = false
	s.continueFiber(ctx, t.fiber, wake{value: item})
	return nil
}

// iterator is the script.Iterator of an iterable task. Next runs on the
// consuming fiber.
type iterator struct {
	s *Scheduler
	t *Task
	h *host
}

func (it *iterator) Next() (any, bool, error) {
	t := it.t
	if t.State != TaskIterating {
		return nil, false, nil
	}

	var item iterItem
	if len(t.buffer) > 0 {
		item = t.buffer[0]
		t.buffer = t.buffer[1:]
	} else {
		t.waiting = true
		t.fiber = it.h.f
		v, err := it.h.f.suspend(it.s)
		if err != nil {
			return nil, false, err
		}
		item, _ = v.(iterItem)
	}

	if !item.done {
		return item.value, true, nil
	}
	delete(it.s.tasks, t.ID)
	if item.err != nil {
		t.State = TaskRejected
		return nil, false, item.err
	}
	t.State = TaskResolved
	return nil, false, nil
}

// errAsync converts an error string from an async action.
func errAsync(msg string) error {
	if msg == "" {
		msg = "rejected"
	}
	return errors.New(msg)
}
