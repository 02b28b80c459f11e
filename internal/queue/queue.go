package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"genserve/internal/model"
	"genserve/internal/stopper"
	"genserve/pkg/types"
)

// Queue admits generation requests and serves them FIFO from a fixed pool of
// workers. Exactly one request holds the model at any time.
type Queue struct {
	cfg     Config
	log     zerolog.Logger
	backend model.Backend
	metrics *Metrics
	started time.Time

	// pending is the bounded admission queue; its capacity is MaxQueueSize.
	pending chan *queuedRequest
	// modelLock is held for the whole of a request's decode.
	modelLock *semaphore.Weighted

	// mu guards state and nextSeq and serializes admission so sequence
	// numbers follow channel order.
	mu      sync.Mutex
	state   State
	nextSeq uint64

	// baseCtx is canceled when Shutdown gives up waiting on in-flight work.
	baseCtx   context.Context
	cancelAll context.CancelFunc
	quit      chan struct{}
	stopped   chan struct{}
	wg        sync.WaitGroup
}

// New validates cfg, applies defaults and starts the worker pool.
func New(cfg Config) (*Queue, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "queue").Logger(),
		backend:   cfg.Backend,
		metrics:   newMetrics(cfg.LatencyWindow),
		started:   time.Now(),
		pending:   make(chan *queuedRequest, cfg.MaxQueueSize),
		modelLock: semaphore.NewWeighted(1),
		state:     StateRunning,
		baseCtx:   ctx,
		cancelAll: cancel,
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.startWorker(i)
	}
	q.log.Info().
		Int("workers", cfg.Workers).
		Int("max_queue_size", cfg.MaxQueueSize).
		Dur("request_timeout", cfg.RequestTimeout).
		Msg("queue started")
	return q, nil
}

// Submit enqueues req and waits for its terminal result. It fails at once
// with a CapacityExceeded error when the admission queue is full. ctx is the
// request's cancellation handle. On Timeout and Cancelled errors the returned
// response carries the partial output if the worker reported before the caller
// gave up waiting. Metrics count the outcome Submit returned, even when the
// worker completes the abandoned generation afterwards.
func (q *Queue) Submit(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	qr, err := q.admit(ctx, req, false)
	if err != nil {
		return GenerationResponse{}, err
	}
	timer := time.NewTimer(time.Until(qr.deadline))
	defer timer.Stop()
	select {
	case res := <-qr.done:
		return res.resp, res.err
	case <-timer.C:
		if res, ok := q.abandon(qr, KindTimeout); ok {
			return res.resp, res.err
		}
		// the worker observes the same deadline at its next step boundary
		return q.interruptedResponse(qr, stopper.ReasonTimeout), newError(KindTimeout, "", context.DeadlineExceeded)
	case <-ctx.Done():
		if res, ok := q.abandon(qr, KindCancelled); ok {
			return res.resp, res.err
		}
		return q.interruptedResponse(qr, stopper.ReasonCancelled), newError(KindCancelled, stopper.ReasonCancelled, ctx.Err())
	}
}

// SubmitStream enqueues req and returns its chunk stream immediately. The
// stream ends with exactly one chunk that has Done set. Closing the stream
// early cancels the request.
func (q *Queue) SubmitStream(ctx context.Context, req GenerationRequest) (*ChunkStream, error) {
	qr, err := q.admit(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return qr.stream, nil
}

// admit builds the queued request and claims a slot without blocking.
func (q *Queue) admit(ctx context.Context, req GenerationRequest, stream bool) (*queuedRequest, error) {
	if req.Stopping.IsZero() {
		req.Stopping = q.cfg.Stopping
	} else if err := req.Stopping.Validate(); err != nil {
		return nil, newError(KindConfigError, "stopping", err)
	}
	req.Stopping.Stop = append([]string(nil), req.Stopping.Stop...)
	if err := ctx.Err(); err != nil {
		return nil, newError(KindCancelled, stopper.ReasonCancelled, err)
	}
	timeout := q.cfg.RequestTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	now := time.Now()
	qr := &queuedRequest{
		id:        uuid.NewString(),
		submitted: now,
		deadline:  now.Add(timeout),
		req:       req,
		ctx:       ctx,
	}
	if stream {
		qr.stream = &ChunkStream{
			ID:   qr.id,
			ch:   make(chan StreamChunk, q.cfg.StreamBuffer),
			gone: make(chan struct{}),
		}
	} else {
		qr.done = make(chan result, 1)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateRunning {
		return nil, newError(KindCancelled, "queue is shutting down", nil)
	}
	qr.seq = q.nextSeq + 1
	select {
	case q.pending <- qr:
		q.nextSeq = qr.seq
		q.metrics.onSubmit()
	default:
		q.metrics.onReject()
		q.log.Debug().Int("max_queue_size", q.cfg.MaxQueueSize).Msg("admission rejected")
		return nil, newError(KindCapacityExceeded, "admission queue is full", nil)
	}
	return qr, nil
}

// abandon records that the batch caller stopped waiting with kind k. When
// the worker settled first its result is returned instead.
func (q *Queue) abandon(qr *queuedRequest, k Kind) (result, bool) {
	qr.abandoned.Store(int32(k))
	if qr.settled.CompareAndSwap(false, true) {
		return result{}, false
	}
	return <-qr.done, true
}

func (q *Queue) interruptedResponse(qr *queuedRequest, reason string) GenerationResponse {
	return GenerationResponse{
		ID:           qr.id,
		Session:      qr.req.Session,
		FinishReason: stopper.Stopped(reason),
		Duration:     time.Since(qr.submitted),
	}
}

// DefaultStopping returns the stopping settings applied to requests that
// carry none.
func (q *Queue) DefaultStopping() stopper.Config {
	s := q.cfg.Stopping
	s.Stop = append([]string(nil), s.Stop...)
	return s
}

// Ready reports whether the queue accepts submissions.
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == StateRunning
}

// State returns the lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Metrics returns a read-only snapshot of the queue counters.
func (q *Queue) Metrics() MetricsSnapshot {
	return q.metrics.snapshot(len(q.pending))
}

// Status builds the health report served on /status.
func (q *Queue) Status() types.QueueStatus {
	m := q.Metrics()
	return types.QueueStatus{
		State:           string(q.State()),
		Workers:         q.cfg.Workers,
		QueueDepth:      m.Depth,
		MaxQueueSize:    q.cfg.MaxQueueSize,
		Inflight:        m.Inflight,
		Submitted:       m.Submitted,
		Completed:       m.Completed,
		Failed:          m.Failed,
		TimedOut:        m.TimedOut,
		Cancelled:       m.Cancelled,
		Rejected:        m.Rejected,
		AvgLatencyMS:    float64(m.AvgLatency) / float64(time.Millisecond),
		TokensPerSecond: m.TokensPerSecond,
		UptimeSeconds:   int64(time.Since(q.started).Seconds()),
	}
}
