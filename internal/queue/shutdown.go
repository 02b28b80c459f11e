package queue

import (
	"context"
	"time"
)

// Shutdown stops admission, cancels requests still waiting for a worker,
// gives in-flight requests up to the grace period (or until ctx is done) to
// finish, then cancels whatever is left and joins every worker. It is safe to
// call more than once; later calls wait for the first to complete.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.state != StateRunning {
		q.mu.Unlock()
		<-q.stopped
		return nil
	}
	q.state = StateDraining
	q.mu.Unlock()

	start := time.Now()
	q.log.Info().Msg("shutdown started")
	q.cfg.Publisher.Publish(Event{Name: EventShutdownStart, Fields: map[string]any{}})

	cancelled := q.drainPending()

	// Wait for in-flight requests, polling like an unload drain.
	grace := time.NewTimer(q.cfg.GracePeriod)
	defer grace.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	var err error
wait:
	for q.metrics.inflight.Load() > 0 {
		select {
		case <-tick.C:
		case <-grace.C:
			q.log.Warn().Int64("inflight", q.metrics.inflight.Load()).Msg("grace period elapsed; cancelling in-flight requests")
			break wait
		case <-ctx.Done():
			err = ctx.Err()
			q.log.Warn().Err(err).Msg("shutdown context done; cancelling in-flight requests")
			break wait
		}
	}
	q.cancelAll()
	close(q.quit)
	q.wg.Wait()
	// a worker may have dequeued between the drain and quit; anything left now
	// has no worker to go to
	cancelled += q.drainPending()

	q.mu.Lock()
	q.state = StateStopped
	q.mu.Unlock()
	close(q.stopped)

	q.log.Info().Int("cancelled_queued", cancelled).Dur("dur", time.Since(start)).Msg("shutdown complete")
	q.cfg.Publisher.Publish(Event{Name: EventShutdownDone, Fields: map[string]any{"cancelled_queued": cancelled}})
	return err
}

// drainPending completes every unclaimed request with Cancelled.
func (q *Queue) drainPending() int {
	n := 0
	for {
		select {
		case qr := <-q.pending:
			q.cancelUnclaimed(qr)
			n++
		default:
			return n
		}
	}
}
