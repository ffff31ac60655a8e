package spritemerge

// taskQueue holds work deferred to the start of the next tick.
type taskQueue struct {
	tasks []func()
}

func (q *taskQueue) push(fn func()) {
	q.tasks = append(q.tasks, fn)
}

// drain runs the queued tasks in order. Tasks queued while draining run on
// the next drain.
func (q *taskQueue) drain() int {
	batch := q.tasks
	q.tasks = nil
	for i, fn := range batch {
		batch[i] = nil
		fn()
	}
	return len(batch)
}

func (q *taskQueue) len() int { return len(q.tasks) }
