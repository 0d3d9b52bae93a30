package proximity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/monitoring"
)

// DefaultIdleTimeout is how long a worker waits for more work before exiting.
const DefaultIdleTimeout = 15 * time.Second

// Result is the outcome of one contour evaluation. Gen is the cache
// generation the antenna was queued under.
type Result struct {
	ID   model.AntennaID
	Near bool
	Gen  uint64
}

// Worker evaluates queued antennas against their contours in the background.
// A worker goroutine is started on the first Enqueue, holds one oracle
// reference while it runs and exits after the idle timeout. Results go to the
// deliver function, which must drop them once its owner is gone.
type Worker struct {
	oracle   Oracle
	queue    *workQueue
	idle     time.Duration
	position func() model.Position
	deliver  func(ctx context.Context, r Result) bool
	metrics  *monitoring.Metrics
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runs   atomic.Int64
}

// NewWorker creates an idle worker. position returns the observer position
// evaluations run against; deliver hands results back to the owner.
func NewWorker(
	ctx context.Context,
	oracle Oracle,
	idle time.Duration,
	position func() model.Position,
	deliver func(ctx context.Context, r Result) bool,
	metrics *monitoring.Metrics,
) *Worker {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	w := &Worker{
		oracle:   oracle,
		queue:    newWorkQueue(),
		idle:     idle,
		position: position,
		deliver:  deliver,
		metrics:  metrics,
		log:      zap.L().With(zap.String("component", "proximity.worker")),
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	return w
}

// Enqueue schedules a for evaluation under cache generation gen, starting a
// worker goroutine if none is running. Antennas already waiting are not
// queued twice; their generation is updated instead.
func (w *Worker) Enqueue(a model.Antenna, gen uint64) {
	if w.ctx.Err() != nil {
		return
	}
	added, start := w.queue.push(a, gen)
	if added {
		w.metrics.AddQueued(1)
	}
	if start {
		w.wg.Add(1)
		w.runs.Add(1)
		go w.run()
	}
}

// Retain drops waiting antennas whose id is not in keep. An evaluation
// already in flight is not affected.
func (w *Worker) Retain(keep []model.AntennaID) int {
	dropped := w.queue.retain(keep)
	w.metrics.AddQueued(-dropped)
	return dropped
}

// Pending returns the number of antennas waiting for evaluation.
func (w *Worker) Pending() int {
	return w.queue.len()
}

// Runs returns how many worker goroutines have been started.
func (w *Worker) Runs() int64 {
	return w.runs.Load()
}

// Stop cancels any in-flight evaluation, drops queued work and waits for the
// worker goroutine to release the oracle.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.metrics.AddQueued(-w.queue.close())
}

func (w *Worker) run() {
	defer w.wg.Done()
	w.metrics.WorkerStarted()
	defer w.metrics.WorkerStopped()

	h, err := w.oracle.Acquire(w.ctx)
	if err != nil {
		dropped := w.queue.stop()
		w.metrics.AddQueued(-dropped)
		if w.ctx.Err() == nil {
			w.log.Warn("contour dataset unavailable", zap.Int("dropped", dropped), zap.Error(err))
		}
		return
	}
	defer h.Release()
	w.log.Debug("worker started")

	for {
		a, gen, ok := w.queue.pop(w.ctx, w.idle)
		if !ok {
			w.log.Debug("worker idle", zap.Bool("cancelled", w.ctx.Err() != nil))
			return
		}
		w.metrics.AddQueued(-1)
		w.evaluate(h, a, gen)
	}
}

func (w *Worker) evaluate(h ContourHandle, a model.Antenna, gen uint64) {
	start := time.Now()
	inside, err := h.IsInside(w.ctx, a, w.position(), true)
	elapsed := time.Since(start)

	// An evaluation interrupted by Stop is discarded whole.
	if w.ctx.Err() != nil {
		w.metrics.ObserveEvaluation(monitoring.EvalCancelled, elapsed)
		return
	}
	if err != nil {
		w.metrics.ObserveEvaluation(monitoring.EvalUnknown, elapsed)
		if !errors.Is(err, model.ErrContourUnknown) {
			w.log.Warn("contour evaluation failed", zap.Stringer("antenna", a.ID), zap.Error(err))
		}
		return
	}

	outcome := monitoring.EvalOutside
	if inside {
		outcome = monitoring.EvalInside
	}
	w.metrics.ObserveEvaluation(outcome, elapsed)
	w.log.Debug("contour evaluated",
		zap.Stringer("antenna", a.ID),
		zap.Bool("inside", inside),
		zap.Duration("elapsed", elapsed),
	)
	w.deliver(w.ctx, Result{ID: a.ID, Near: inside, Gen: gen})
}
