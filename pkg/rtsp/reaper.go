package rtsp

import "time"

// reaperEntry is one session's scheduled expiry check, ordered by deadline
// in the SessionManager's priority queue.
type reaperEntry struct {
	session  *Session
	deadline time.Time
	index    int
}

// reaperHeap implements container/heap.Interface, ordering entries by
// soonest deadline first.
type reaperHeap []*reaperEntry

func (h reaperHeap) Len() int { return len(h) }

func (h reaperHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h reaperHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *reaperHeap) Push(x interface{}) {
	entry := x.(*reaperEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *reaperHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}
