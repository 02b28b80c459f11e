package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genserve/internal/model"
	"genserve/internal/stopper"
)

var errConsumerGone = errors.New("stream consumer gone")

// generation accumulates the state of one request while a worker serves it.
type generation struct {
	text strings.Builder
	// sent is how many bytes of text have been streamed.
	sent   int
	tokens int
	steps  int
	reason stopper.FinishReason
	err    error
}

func (g *generation) stop(reason string, err error) {
	g.reason = stopper.Stopped(reason)
	g.err = err
}

func (g *generation) fail(err *Error) {
	g.reason = stopper.Stopped(err.Error())
	g.err = err
}

func (q *Queue) startWorker(id int) {
	q.wg.Add(1)
	go q.runWorker(id)
}

func (q *Queue) runWorker(id int) {
	defer q.wg.Done()
	log := q.log.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")
	for {
		select {
		case <-q.quit:
			log.Debug().Msg("worker exiting")
			return
		case qr := <-q.pending:
			if q.State() != StateRunning {
				q.cancelUnclaimed(qr)
				continue
			}
			if q.serve(log, qr) {
				select {
				case <-q.quit:
				default:
					workerRestarts.Inc()
					q.cfg.Publisher.Publish(Event{Name: EventWorkerReplaced, Fields: map[string]any{"worker": id}})
					log.Warn().Msg("replacing worker after panic")
					q.startWorker(id)
				}
				return
			}
		}
	}
}

// serve runs one request to its terminal result. It reports whether the
// request panicked, in which case the calling worker must be replaced.
func (q *Queue) serve(log zerolog.Logger, qr *queuedRequest) (panicked bool) {
	q.metrics.onClaim()
	defer q.metrics.onRelease()
	rlog := log.With().Str("request_id", qr.id).Uint64("seq", qr.seq).Logger()
	wait := time.Since(qr.submitted)
	rlog.Debug().Dur("wait", wait).Msg("request claimed")
	q.cfg.Publisher.Publish(Event{Name: EventClaimed, RequestID: qr.id, Fields: map[string]any{"seq": qr.seq, "wait": wait}})

	ctx, cancel := q.requestContext(qr)
	defer cancel()

	g := &generation{}
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			rlog.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("worker panic")
			q.cfg.Publisher.Publish(Event{Name: EventWorkerPanic, RequestID: qr.id, Fields: map[string]any{"panic": fmt.Sprint(r)}})
			g.fail(newError(KindWorkerFailure, fmt.Sprint(r), nil))
			q.finish(rlog, qr, g)
		}
	}()
	q.generate(ctx, rlog, qr, g)
	q.finish(rlog, qr, g)
	return false
}

// requestContext derives the decode context: canceled by the caller's
// handle, by the request deadline, or by shutdown.
func (q *Queue) requestContext(qr *queuedRequest) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithDeadline(q.baseCtx, qr.deadline)
	stop := context.AfterFunc(qr.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// interrupted checks the cancellation handle, the deadline, shutdown and a
// dropped stream consumer. It records the reason on g when one applies.
func (q *Queue) interrupted(qr *queuedRequest, g *generation) bool {
	switch {
	case qr.ctx.Err() != nil:
		g.stop(stopper.ReasonCancelled, newError(KindCancelled, stopper.ReasonCancelled, qr.ctx.Err()))
		return true
	case !time.Now().Before(qr.deadline):
		g.stop(stopper.ReasonTimeout, newError(KindTimeout, "", context.DeadlineExceeded))
		return true
	case q.baseCtx.Err() != nil:
		g.stop(stopper.ReasonShutdown, newError(KindCancelled, "queue is shutting down", nil))
		return true
	}
	if qr.streaming() {
		select {
		case <-qr.stream.gone:
			g.stop(stopper.ReasonCancelled, newError(KindCancelled, stopper.ReasonCancelled, errConsumerGone))
			return true
		default:
		}
	}
	return false
}

// generate is the decode loop. Cancellation is only observed between steps
// and inside the backend through ctx.
func (q *Queue) generate(ctx context.Context, log zerolog.Logger, qr *queuedRequest, g *generation) {
	pipe, err := stopper.Build(qr.req.Stopping, q.cfg.EOSTokenID)
	if err != nil {
		g.fail(newError(KindConfigError, "stopping", err))
		return
	}
	if q.interrupted(qr, g) {
		return
	}
	if err := q.modelLock.Acquire(ctx, 1); err != nil {
		if !q.interrupted(qr, g) {
			g.fail(newError(KindCancelled, "waiting for model", err))
		}
		return
	}
	defer q.modelLock.Release(1)

	params := qr.req.Sampling
	if params.MaxTokens == 0 {
		params.MaxTokens = qr.req.Stopping.MaxTokens
	}
	sess, err := q.backend.Start(ctx, qr.req.Prompt, params)
	if err != nil {
		if !q.interrupted(qr, g) {
			g.fail(newError(KindInferenceError, "start session", err))
		}
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("session close")
		}
	}()

	maxTokens := qr.req.Stopping.MaxTokens
	stops := qr.req.Stopping.Stop
	st := &stopper.DecodeState{}
	for {
		if q.interrupted(qr, g) {
			return
		}
		toks, err := sess.Step(ctx)
		if errors.Is(err, model.ErrExhausted) {
			g.reason = stopper.Stopped(stopper.ReasonEOS)
			return
		}
		if err != nil {
			if !q.interrupted(qr, g) {
				g.fail(newError(KindInferenceError, fmt.Sprintf("decode step %d", g.steps), err))
			}
			return
		}
		g.steps++
		if maxTokens > 0 && g.tokens+len(toks) > maxTokens {
			toks = toks[:maxTokens-g.tokens]
		}
		delta := model.JoinText(toks)
		g.tokens += len(toks)
		g.text.WriteString(delta)

		st.TokenIDs = st.TokenIDs[:0]
		for _, t := range toks {
			st.TokenIDs = append(st.TokenIDs, t.ID)
		}
		st.Delta = delta
		st.TokenCount = g.tokens
		reason, stopped := pipe.ShouldStop(st)
		if stopped && len(stops) > 0 {
			if text, found := stopper.TrimStop(g.text.String(), stops); found {
				g.text.Reset()
				g.text.WriteString(text)
			}
		}

		if qr.streaming() {
			text := g.text.String()
			ready := len(text)
			if !stopped {
				ready -= stopper.PendingStopLen(text, stops)
			}
			if ready > g.sent {
				if err := q.send(ctx, qr, StreamChunk{Delta: text[g.sent:ready], Index: g.tokens - 1}); err != nil {
					if !q.interrupted(qr, g) {
						g.stop(stopper.ReasonCancelled, newError(KindCancelled, stopper.ReasonCancelled, err))
					}
					return
				}
				g.sent = ready
			}
		}
		if stopped {
			g.reason = reason
			return
		}
	}
}

// send delivers a non-final chunk. A dropped consumer wins over free buffer
// space so the worker stops within one step of the consumer leaving.
func (q *Queue) send(ctx context.Context, qr *queuedRequest, c StreamChunk) error {
	select {
	case <-qr.stream.gone:
		return errConsumerGone
	default:
	}
	select {
	case qr.stream.ch <- c:
		return nil
	case <-qr.stream.gone:
		return errConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish delivers the terminal result exactly once and records metrics.
func (q *Queue) finish(log zerolog.Logger, qr *queuedRequest, g *generation) {
	qr.finished.Do(func() {
		dur := time.Since(qr.submitted)
		resp := GenerationResponse{
			ID:           qr.id,
			Session:      qr.req.Session,
			Text:         g.text.String(),
			FinishReason: g.reason,
			TokenCount:   g.tokens,
			Duration:     dur,
		}
		outcome := outcomeCompleted
		switch kindOf(g.err) {
		case 0:
		case KindTimeout:
			outcome = outcomeTimeout
		case KindCancelled:
			outcome = outcomeCancelled
		default:
			outcome = outcomeFailed
		}
		if !qr.streaming() && !qr.settled.CompareAndSwap(false, true) {
			switch Kind(qr.abandoned.Load()) {
			case KindTimeout:
				outcome = outcomeTimeout
			case KindCancelled:
				outcome = outcomeCancelled
			}
		}
		q.metrics.observe(outcome, dur, g.tokens)
		ev := log.Info()
		if outcome == outcomeFailed {
			ev = log.Error().Err(g.err)
		}
		ev.Str("outcome", outcome).
			Str("reason", g.reason.Description).
			Int("tokens", g.tokens).
			Dur("dur", dur).
			Msg("request finished")
		q.cfg.Publisher.Publish(Event{Name: EventDone, RequestID: qr.id, Fields: map[string]any{
			"outcome": outcome, "reason": g.reason.Description, "tokens": g.tokens,
		}})

		if !qr.streaming() {
			qr.done <- result{resp: resp, err: g.err}
			return
		}
		// text held back for a possible stop string, if any, rides on the
		// final chunk
		var tail string
		if g.sent < len(resp.Text) {
			tail = resp.Text[g.sent:]
		}
		q.sendFinal(log, qr, StreamChunk{
			Delta:        tail,
			Index:        max(g.tokens-1, 0),
			Done:         true,
			FinishReason: g.reason,
			Err:          g.err,
			Response:     &resp,
		})
	})
}

// sendFinal delivers the done chunk and closes the stream. Shutdown does not
// preempt it: nothing else is sent after it, so the buffer only needs the
// consumer to read once. A consumer that neither reads nor closes is given
// the grace period, then dropped.
func (q *Queue) sendFinal(log zerolog.Logger, qr *queuedRequest, c StreamChunk) {
	defer close(qr.stream.ch)
	select {
	case qr.stream.ch <- c:
		return
	default:
	}
	t := time.NewTimer(q.cfg.GracePeriod)
	defer t.Stop()
	select {
	case qr.stream.ch <- c:
	case <-qr.stream.gone:
	case <-t.C:
		log.Warn().Msg("final chunk dropped: consumer stalled")
	}
}

// cancelUnclaimed completes a request that no worker will serve.
func (q *Queue) cancelUnclaimed(qr *queuedRequest) {
	q.metrics.onUnclaimed()
	g := &generation{}
	g.stop(stopper.ReasonShutdown, newError(KindCancelled, "queue is shutting down", nil))
	q.finish(q.log.With().Str("request_id", qr.id).Logger(), qr, g)
}
