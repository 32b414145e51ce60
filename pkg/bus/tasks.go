package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrTaskExists is returned when a live task already uses the name
	ErrTaskExists = errors.New("task already exists")
	// ErrNotEnabled is returned when a task is added to a bus that is not enabled
	ErrNotEnabled = errors.New("message bus is not enabled")
)

type task struct {
	name   string
	fn     func(ctx context.Context)
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// AddTask runs fn in its own goroutine under the bus run context. The
// context is cancelled by CancelTask, Disable or Close.
func (b *MessageBus) AddTask(name string, fn func(ctx context.Context)) error {
	b.tasksMu.Lock()
	defer b.tasksMu.Unlock()

	if b.runCtx == nil {
		return fmt.Errorf("add task %s: %w", name, ErrNotEnabled)
	}
	if existing, ok := b.tasks[name]; ok && !existing.finished() {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}

	b.runLocked(name, fn)
	b.logger.Debug().Str("task", name).Msg("task added")
	return nil
}

// runLocked starts fn under the run context. Callers hold tasksMu.
func (b *MessageBus) runLocked(name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(b.runCtx)
	t := &task{name: name, fn: fn, cancel: cancel, done: make(chan struct{})}
	b.tasks[name] = t
	go func() {
		defer close(t.done)
		fn(ctx)
	}()
}

// resumeLocked restarts the tasks a Disable suspended. Subscriber loops
// are relaunched from the subscriber list instead. Callers hold tasksMu.
func (b *MessageBus) resumeLocked() []string {
	names := make([]string, 0, len(b.suspended))
	for name, fn := range b.suspended {
		if _, ok := b.tasks[name]; ok {
			continue
		}
		b.runLocked(name, fn)
		names = append(names, name)
	}
	b.suspended = nil
	sort.Strings(names)
	return names
}

// CancelTask cancels the named task and waits for it to return. A task
// suspended by Disable is forgotten so that Enable does not resume it.
func (b *MessageBus) CancelTask(name string) bool {
	b.tasksMu.Lock()
	t, ok := b.tasks[name]
	delete(b.tasks, name)
	_, wasSuspended := b.suspended[name]
	delete(b.suspended, name)
	b.tasksMu.Unlock()

	if !ok {
		return wasSuspended
	}
	t.cancel()
	<-t.done
	b.logger.Debug().Str("task", name).Msg("task cancelled")
	return true
}

// GetTaskByName reports whether a live task has the given name
func (b *MessageBus) GetTaskByName(name string) bool {
	b.tasksMu.Lock()
	defer b.tasksMu.Unlock()
	t, ok := b.tasks[name]
	return ok && !t.finished()
}

// ClearTasks forgets finished tasks and returns how many were removed
func (b *MessageBus) ClearTasks() int {
	b.tasksMu.Lock()
	defer b.tasksMu.Unlock()
	removed := 0
	for name, t := range b.tasks {
		if t.finished() {
			delete(b.tasks, name)
			removed++
		}
	}
	return removed
}

// TaskNames returns the names of live tasks
func (b *MessageBus) TaskNames() []string {
	b.tasksMu.Lock()
	defer b.tasksMu.Unlock()
	names := make([]string, 0, len(b.tasks))
	for name, t := range b.tasks {
		if !t.finished() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
