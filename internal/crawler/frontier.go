package crawler

// frontier is a FIFO deque of tasks with block insertion at the front. It is owned
// by a single session goroutine.
type frontier struct {
	tasks []Task
}

func (f *frontier) Len() int {
	return len(f.tasks)
}

func (f *frontier) PushBack(t Task) {
	f.tasks = append(f.tasks, t)
}

// PushFront inserts ts ahead of every queued task, keeping their relative order.
func (f *frontier) PushFront(ts ...Task) {
	if len(ts) == 0 {
		return
	}
	merged := make([]Task, 0, len(ts)+len(f.tasks))
	merged = append(merged, ts...)
	f.tasks = append(merged, f.tasks...)
}

func (f *frontier) Pop() (Task, bool) {
	if len(f.tasks) == 0 {
		return Task{}, false
	}
	t := f.tasks[0]
	f.tasks[0] = Task{}
	f.tasks = f.tasks[1:]
	return t, true
}
