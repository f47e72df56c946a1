package queue

// taskHeap implements container/heap over waiting tasks
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].before(h[j])
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	n := len(*h)
	t := x.(*Task)
	t.index = n
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[0 : n-1]
	return t
}

// before orders higher priority first, then arrival
func (t *Task) before(o *Task) bool {
	if t.Priority != o.Priority {
		return t.Priority > o.Priority
	}
	return t.seq < o.seq
}
