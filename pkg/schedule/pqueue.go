package schedule

import "container/heap"

// MinPriority is the priority assigned to EXPERIMENT_START_TIME_SET and
// EMPTY_SCHEDULE events so they are always ordered before every time-keyed
// event (spec.md §5: "ordered before all time-keyed events").
const MinPriority = -1 << 62

type item struct {
	priority float64
	tiebreak int
	event    *Event
}

// PriorityQueue is the per-supervisor min-heap of (adjusted start_time,
// arrival-order, event) shared by the schedule updater (producer) and the
// VM resource handler's dispatch loop (consumer), guarded by the caller's
// sync.Cond (spec.md §5, §9).
type PriorityQueue struct {
	items  []*item
	nextID int
}

// NewPriorityQueue returns an empty queue ready for use.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{}
	heap.Init((*innerHeap)(pq))
	return pq
}

// Push inserts event at the given priority. Ties are broken by insertion
// order (FIFO), since container/heap gives no such guarantee on its own.
func (pq *PriorityQueue) Push(priority float64, event *Event) {
	it := &item{priority: priority, tiebreak: pq.nextID, event: event}
	pq.nextID++
	heap.Push((*innerHeap)(pq), it)
}

// Len returns the number of queued events.
func (pq *PriorityQueue) Len() int {
	return len(pq.items)
}

// PeekPriority returns the priority of the head event without removing it.
// The caller must ensure Len() > 0.
func (pq *PriorityQueue) PeekPriority() float64 {
	return pq.items[0].priority
}

// Peek returns the priority and event of the head item without removing it.
// The caller must ensure Len() > 0.
func (pq *PriorityQueue) Peek() (priority float64, event *Event) {
	return pq.items[0].priority, pq.items[0].event
}

// Pop removes and returns the lowest-priority (earliest) event.
func (pq *PriorityQueue) Pop() (float64, *Event) {
	it := heap.Pop((*innerHeap)(pq)).(*item)
	return it.priority, it.event
}

// innerHeap adapts PriorityQueue to container/heap.Interface.
type innerHeap PriorityQueue

func (h innerHeap) Len() int { return len(h.items) }

func (h innerHeap) Less(i, j int) bool {
	if h.items[i].priority != h.items[j].priority {
		return h.items[i].priority < h.items[j].priority
	}
	return h.items[i].tiebreak < h.items[j].tiebreak
}

func (h innerHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *innerHeap) Push(x interface{}) {
	h.items = append(h.items, x.(*item))
}

func (h *innerHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}
