package cloudsync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task asks the worker to upload one collection. It carries no payload:
// local state is read when the task runs, not when it is queued.
type Task struct {
	ID         string
	Collection Collection
	Queued     time.Time
}

func newTask(c Collection) Task {
	return Task{
		ID:         uuid.NewString(),
		Collection: c,
		Queued:     time.Now(),
	}
}

// TaskQueue is an unbounded FIFO safe for concurrent use. Pop blocks
// until a task is available or the queue is closed.
type TaskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool
}

// NewTaskQueue returns an empty open queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Push appends t and wakes one waiter. It reports false once the queue
// is closed.
func (q *TaskQueue) Push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, t)
	q.cond.Signal()

	return true
}

// Pop removes and returns the oldest task. After Close it returns false
// immediately, even if tasks remain.
func (q *TaskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.closed {
		return Task{}, false
	}

	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]

	return t, true
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

// Close wakes every waiter and rejects further pushes. Queued tasks are
// discarded.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	q.cond.Broadcast()
}
