package proximity

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// workQueue is a de-duplicating FIFO of antennas waiting for contour
// evaluation. It also tracks whether a worker is draining it, so the decision
// to start a worker and the decision of a worker to go idle are made under
// the same lock and no antenna is left behind. Each waiting antenna carries
// the cache generation it was queued under.
type workQueue struct {
	mu      sync.Mutex
	items   []model.Antenna
	queued  map[model.AntennaID]uint64
	running bool
	closed  bool
	notify  chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{
		queued: make(map[model.AntennaID]uint64),
		notify: make(chan struct{}, 1),
	}
}

// push enqueues a under generation gen unless it is already waiting, in
// which case only its generation is updated. added reports whether the queue
// grew; start reports whether the caller must start a worker.
func (q *workQueue) push(a model.Antenna, gen uint64) (added, start bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, false
	}
	if _, dup := q.queued[a.ID]; !dup {
		q.items = append(q.items, a)
		added = true
	}
	q.queued[a.ID] = gen
	if !q.running {
		q.running = true
		start = true
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return added, start
}

// pop waits up to idle for the next antenna and returns it with the
// generation it was queued under. It returns false when ctx is done, the
// queue is closed or the wait timed out on an empty queue. In every false
// case the queue is marked as having no worker.
func (q *workQueue) pop(ctx context.Context, idle time.Duration) (model.Antenna, uint64, bool) {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed || ctx.Err() != nil {
			q.running = false
			q.mu.Unlock()
			return model.Antenna{}, 0, false
		}
		if len(q.items) > 0 {
			a := q.items[0]
			q.items[0] = model.Antenna{}
			q.items = q.items[1:]
			gen := q.queued[a.ID]
			delete(q.queued, a.ID)
			q.mu.Unlock()
			return a, gen, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			return model.Antenna{}, 0, false
		case <-q.notify:
		case <-timer.C:
			q.mu.Lock()
			if len(q.items) == 0 {
				q.running = false
				q.mu.Unlock()
				return model.Antenna{}, 0, false
			}
			q.mu.Unlock()
		}
	}
}

// retain drops waiting antennas whose id is not in keep and returns how many
// were dropped.
func (q *workQueue) retain(keep []model.AntennaID) int {
	set := make(map[model.AntennaID]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, a := range q.items {
		if _, ok := set[a.ID]; ok {
			kept = append(kept, a)
			continue
		}
		delete(q.queued, a.ID)
	}
	dropped := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return dropped
}

// stop marks the queue as having no worker and drops pending work. It
// returns the number of antennas dropped.
func (q *workQueue) stop() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	return q.dropLocked()
}

// close drops pending work and rejects further pushes.
func (q *workQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.running = false
	return q.dropLocked()
}

func (q *workQueue) dropLocked() int {
	n := len(q.items)
	q.items = nil
	clear(q.queued)
	return n
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
