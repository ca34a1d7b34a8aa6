package streamtemplate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/livefir/streamtemplate/internal/memory"
)

// byteGate bounds the bytes held by the output queue. Workers acquire a
// result's size before enqueuing it; delivery releases the size once the
// chunk leaves the queue. The chunk the in-order delivery is waiting for
// is always admitted even over budget, so the reorder buffer can never
// wedge on its own high-water mark; the overshoot is bounded by one chunk.
type byteGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	budget  int64
	used    int64
	needed  int // next index the ordered delivery requires
	aborted bool
}

func newByteGate(budget int64) *byteGate {
	g := &byteGate{budget: budget}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// acquire blocks until n bytes fit under the budget, unless index is the
// delivery's next needed chunk, the queue is empty, or the gate is
// aborted. A non-positive budget admits everything.
func (g *byteGate) acquire(index int, n int64) {
	if g.budget <= 0 {
		return
	}
	g.mu.Lock()
	for !g.aborted && index != g.needed && g.used > 0 && g.used+n > g.budget {
		g.cond.Wait()
	}
	g.used += n
	g.mu.Unlock()
}

// release returns n bytes to the budget.
func (g *byteGate) release(n int64) {
	if g.budget <= 0 {
		return
	}
	g.mu.Lock()
	g.used -= n
	g.mu.Unlock()
	g.cond.Broadcast()
}

// setNeeded advances the next index the ordered delivery is blocked on.
func (g *byteGate) setNeeded(index int) {
	if g.budget <= 0 {
		return
	}
	g.mu.Lock()
	g.needed = index
	g.mu.Unlock()
	g.cond.Broadcast()
}

// abort unblocks every waiter; used on cancellation so workers parked at
// the gate can observe the dead context and drain.
func (g *byteGate) abort() {
	g.mu.Lock()
	g.aborted = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// executeParallel renders up to MaxInFlight chunks concurrently while the
// consumer still observes document order. Completed chunks pass through a
// reorder buffer bounded two ways: at most MaxInFlight x 2 pending chunks,
// and at most BufferBytes of queued output (the plan's high-water mark,
// already halved under aggressive mode). Slow consumers therefore exert
// backpressure on the workers in both chunk count and bytes.
func (run *renderRun) executeParallel() error {
	total := run.set.Len()
	inFlight := run.plan.MaxInFlight
	window := inFlight * 2
	gate := newByteGate(int64(run.plan.BufferBytes))

	ctx, cancel := context.WithCancel(run.ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	results := make(chan chunkResult, window)
	// credits caps the chunks dispatched but not yet delivered in order at
	// the window, so the reorder buffer never holds more than window chunks.
	credits := make(chan struct{}, window)

	// Unblock gate waiters once the run is cancelled or finished.
	go func() {
		<-gctx.Done()
		gate.abort()
	}()

	// Workers. When aggressive mode has latched, a shared mutex collapses
	// effective concurrency to one without tearing down the pool.
	var aggressiveMu sync.Mutex
	for w := 0; w < inFlight; w++ {
		g.Go(func() error {
			for i := range jobs {
				serialized := run.tracker.Aggressive()
				if serialized {
					aggressiveMu.Lock()
				}
				res := run.renderChunk(i)
				if serialized {
					aggressiveMu.Unlock()
				}
				gate.acquire(res.index, int64(len(res.html)))
				select {
				case results <- res:
				case <-gctx.Done():
					gate.release(int64(len(res.html)))
					return gctx.Err()
				}
			}
			return nil
		})
	}

	// Dispatcher: the pre-dispatch suspension point lives here, so
	// cancellation and memory pressure stop new work from being issued.
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < total; i++ {
			if err := run.suspend(); err != nil {
				return err
			}
			select {
			case credits <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var groupErr error
	groupDone := make(chan struct{})
	go func() {
		groupErr = g.Wait()
		close(results)
		close(groupDone)
	}()

	// Ordered delivery on the caller's goroutine. Out-of-order completions
	// wait in the pending buffer and count against the queue estimate and
	// the byte gate.
	pending := make(map[int]chunkResult, window)
	next := 0
	var fatal error
	for res := range results {
		pending[res.index] = res
		run.tracker.Allocate(memory.ComponentQueue, int64(len(res.html)))

		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			run.tracker.Release(memory.ComponentQueue, int64(len(ready.html)))
			next++
			<-credits
			gate.setNeeded(next)
			gate.release(int64(len(ready.html)))

			if fatal != nil {
				continue // draining: in-flight results are discarded
			}
			if err := run.suspend(); err != nil {
				fatal = err
				cancel()
				continue
			}
			if err := run.deliver(ready); err != nil {
				fatal = err
				cancel()
			}
		}
	}
	<-groupDone

	// Discard anything still buffered after a failure.
	for i, res := range pending {
		run.tracker.Release(memory.ComponentQueue, int64(len(res.html)))
		gate.release(int64(len(res.html)))
		delete(pending, i)
	}

	if fatal != nil {
		return fatal
	}
	// A worker can observe the cancelled context before the dispatcher's
	// suspension point does; report cancellation uniformly either way.
	if run.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, run.ctx.Err())
	}
	if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		return groupErr
	}
	return nil
}
