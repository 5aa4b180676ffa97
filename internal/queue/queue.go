package queue

import (
	"container/heap"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/google/uuid"
)

// Entry is a snapshot of a registered schedule. Schedule is a clone; mutating
// it does not affect the queue.
type Entry struct {
	Key      string
	Schedule *domain.Schedule
	InFlight bool
}

type item struct {
	key      string
	sched    *domain.Schedule
	seq      uint64
	index    int // position in the heap, -1 when not queued
	inFlight bool
}

// Queue keeps schedules ordered by next run. Excluded schedules and schedules
// currently executing are registered but kept out of the heap, so the head is
// always the earliest runnable one. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	heap  scheduleHeap
	byKey map[string]*item
	seq   uint64
}

func New() *Queue {
	return &Queue{byKey: make(map[string]*item)}
}

// Add registers s and returns its key: the remote ID, or a fresh UUID for
// schedules the backend does not know about yet.
func (q *Queue) Add(s *domain.Schedule) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := s.ID
	if key == "" {
		key = uuid.NewString()
	}
	if _, ok := q.byKey[key]; ok {
		return "", fmt.Errorf("add %s: %w", key, domain.ErrScheduleExists)
	}

	q.seq++
	it := &item{key: key, sched: s.Clone(), seq: q.seq, index: -1}
	q.byKey[key] = it
	q.schedule(it)
	return key, nil
}

func (q *Queue) Get(key string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return it.entry(), true
}

// Update applies def to the schedule under key. Entries in flight are updated
// in place and re-queued by Complete.
func (q *Queue) Update(key string, def domain.Definition, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return fmt.Errorf("update %s: %w", key, domain.ErrScheduleNotFound)
	}
	if err := it.sched.Update(def, now); err != nil {
		return err
	}
	skipServedSlot(it.sched, now)
	if it.index >= 0 {
		heap.Fix(&q.heap, it.index)
	}
	return nil
}

// Replace swaps the schedule under key for a new variant built from def.
func (q *Queue) Replace(key string, def domain.Definition, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return fmt.Errorf("replace %s: %w", key, domain.ErrScheduleNotFound)
	}
	next, err := it.sched.Replace(def, now)
	if err != nil {
		return err
	}
	skipServedSlot(next, now)
	it.sched = next
	if it.index >= 0 {
		heap.Fix(&q.heap, it.index)
	}
	return nil
}

func (q *Queue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return false
	}
	q.unschedule(it)
	delete(q.byKey, key)
	return true
}

// SetExcluded parks or releases the schedule under key.
func (q *Queue) SetExcluded(key string, excluded bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return fmt.Errorf("exclude %s: %w", key, domain.ErrScheduleNotFound)
	}
	it.sched.SetExcluded(excluded)
	if excluded {
		q.unschedule(it)
	} else {
		q.schedule(it)
	}
	return nil
}

// Peek returns the earliest runnable schedule.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return Entry{}, false
	}
	return q.heap[0].entry(), true
}

// PopDue takes up to limit schedules whose next run is at or before now out
// of the heap and marks them in flight.
func (q *Queue) PopDue(now time.Time, limit int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Entry
	for len(due) < limit && len(q.heap) > 0 && !q.heap[0].sched.NextRun().After(now) {
		it := heap.Pop(&q.heap).(*item)
		it.inFlight = true
		due = append(due, it.entry())
	}
	return due
}

// Complete marks the run of key finished at now and re-queues the schedule
// with its recomputed next run. It returns false if the schedule was removed
// while running.
func (q *Queue) Complete(key string, now time.Time) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	it.inFlight = false
	it.sched.Done(now)
	skipServedSlot(it.sched, now)
	q.schedule(it)
	return it.sched.NextRun(), true
}

// List returns every registered schedule ordered by next run.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*item, 0, len(q.byKey))
	for _, it := range q.byKey {
		items = append(items, it)
	}
	slices.SortFunc(items, compareItems)

	out := make([]Entry, len(items))
	for i, it := range items {
		out[i] = it.entry()
	}
	return out
}

// RemoteKeys returns the keys of schedules that carry a remote ID.
func (q *Queue) RemoteKeys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var keys []string
	for key, it := range q.byKey {
		if it.sched.ID != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}

// Runnable is the number of schedules currently in the heap.
func (q *Queue) Runnable() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *Queue) schedule(it *item) {
	if it.index >= 0 || it.inFlight || it.sched.Excluded() {
		return
	}
	heap.Push(&q.heap, it)
}

func (q *Queue) unschedule(it *item) {
	if it.index < 0 {
		return
	}
	heap.Remove(&q.heap, it.index)
}

// skipServedSlot moves s past an occurrence its last run already covered, so
// a slot that stays current all day (monthly) does not fire twice.
func skipServedSlot(s *domain.Schedule, now time.Time) {
	prev, ok := s.PreviousRun()
	if !ok || s.NextRun().After(prev) {
		return
	}
	y, m, d := now.Date()
	s.Reschedule(time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()))
}

func (it *item) entry() Entry {
	return Entry{Key: it.key, Schedule: it.sched.Clone(), InFlight: it.inFlight}
}

// compareItems orders by next run, then by registration order.
func compareItems(a, b *item) int {
	if c := a.sched.Compare(b.sched); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

type scheduleHeap []*item

func (h scheduleHeap) Len() int           { return len(h) }
func (h scheduleHeap) Less(i, j int) bool { return compareItems(h[i], h[j]) < 0 }

func (h scheduleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *scheduleHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
