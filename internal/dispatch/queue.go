package dispatch

import "sync"

// Queue is a mutex-guarded FIFO of pending tasks. Insertion order is
// execution order among tasks that are simultaneously due. All methods are
// point-in-time snapshots taken under the lock; FIFO order is guaranteed
// within a single producer's submissions, interleaving across producers is
// whatever the lock hands out.
type Queue struct {
	mu    sync.Mutex
	tasks []Task
}

// NewQueue creates an empty task queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a task, preserving FIFO order. Invalid tasks are a no-op.
func (q *Queue) Push(t Task) {
	if !taskValid(t) {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// Pop removes and returns the front task. ok is false when the queue is empty.
func (q *Queue) Pop() (t Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t = q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

// Size returns the number of pending tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Empty reports whether the queue has no pending tasks.
func (q *Queue) Empty() bool {
	return q.Size() == 0
}

// Clear atomically removes all pending tasks. A task already popped and
// executing is unaffected.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.tasks = nil
	q.mu.Unlock()
}
