package scheduler

import "container/heap"

// commandQueue is a priority queue of *ExecutableCommand ordered by
// ascending tracker.TotalExecTime, ties broken by insertion order
// (spec.md §4.G, P1). Built on container/heap — a small, fixed-shape
// ordered structure with no ecosystem library worth preferring over the
// standard one.
type commandQueue struct {
	items []*queueItem
	seq   int
}

type queueItem struct {
	cmd   *ExecutableCommand
	order int
	index int
}

func newCommandQueue() *commandQueue {
	q := &commandQueue{}
	heap.Init(q)
	return q
}

func (q *commandQueue) Len() int { return len(q.items) }

func (q *commandQueue) Less(i, j int) bool {
	ti := q.items[i].cmd.Tracker.ExecTime()
	tj := q.items[j].cmd.Tracker.ExecTime()
	if ti != tj {
		return ti < tj
	}
	return q.items[i].order < q.items[j].order
}

func (q *commandQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *commandQueue) Push(x any) {
	it := x.(*queueItem)
	it.index = len(q.items)
	q.items = append(q.items, it)
}

func (q *commandQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return it
}

// Enqueue pushes cmd onto the queue, marking it Waiting.
func (q *commandQueue) Enqueue(cmd *ExecutableCommand) {
	cmd.setState(CommandWaiting)
	q.seq++
	heap.Push(q, &queueItem{cmd: cmd, order: q.seq})
}

// Dequeue pops the lowest-priority-key command, or nil if empty.
func (q *commandQueue) Dequeue() *ExecutableCommand {
	if q.Len() == 0 {
		return nil
	}
	it := heap.Pop(q).(*queueItem)
	return it.cmd
}

// Clear empties the queue and returns everything it held.
func (q *commandQueue) Clear() []*ExecutableCommand {
	out := make([]*ExecutableCommand, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.cmd)
	}
	q.items = nil
	return out
}
