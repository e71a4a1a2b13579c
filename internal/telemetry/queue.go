package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Writer persists a batch of documents. Implementations are only ever called
// from the queue's flush goroutine.
type Writer interface {
	Write(ctx context.Context, docs []Document) error
}

// QueueOptions tunes a Queue. Zero fields take the defaults below.
type QueueOptions struct {
	Size          int           // ring capacity; the oldest record is dropped when full
	BatchSize     int           // records per Write
	FlushInterval time.Duration // upper bound on how long a partial batch waits
	MaxTries      uint          // Write attempts per batch on transport failure
	RetryInitial  time.Duration
	RetryMax      time.Duration
	Logger        *slog.Logger
}

const (
	defaultQueueSize     = 4096
	defaultBatchSize     = 64
	defaultFlushInterval = 250 * time.Millisecond
	defaultMaxTries      = 5
	defaultRetryInitial  = 200 * time.Millisecond
	defaultRetryMax      = 5 * time.Second
)

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Size <= 0 {
		o.Size = defaultQueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.BatchSize > o.Size {
		o.BatchSize = o.Size
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.MaxTries == 0 {
		o.MaxTries = defaultMaxTries
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = defaultRetryInitial
	}
	if o.RetryMax <= 0 {
		o.RetryMax = defaultRetryMax
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Enqueued      int64 // accepted by Emit
	Written       int64 // stored by every writer
	Dropped       int64 // overwritten while the ring was full
	Failed        int64 // given up on by at least one writer after retries
	ValidatedOnly int64 // persist=false records that passed through validation
	Serialization int64 // records stored with a stringified payload
	Pending       int   // still in the ring
}

// Queue is the asynchronous Sink. Emit appends to a bounded ring buffer and
// returns immediately; a single flush goroutine drains the ring in emission
// order and hands batches to the Writer.
type Queue struct {
	writer  Writer
	writers []Writer // writer with any Tee unpacked
	opts   QueueOptions
	logger *slog.Logger

	mu      sync.Mutex
	buf     *circularbuffer.Queue
	closed  bool
	started bool

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	enqueued      atomic.Int64
	written       atomic.Int64
	dropped       atomic.Int64
	failed        atomic.Int64
	validatedOnly atomic.Int64
	serialization atomic.Int64
}

func NewQueue(w Writer, opts QueueOptions) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		writer:  w,
		writers: fanout(w),
		opts:    opts,
		logger:  opts.Logger,
		buf:     circularbuffer.New(opts.Size),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the flush goroutine. It is a no-op after the first call.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.loop(ctx)
}

// Emit enqueues rec. It never blocks on I/O.
func (q *Queue) Emit(rec Record) error {
	if q == nil || q.writer == nil {
		return ErrNotInitialized
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrNotInitialized
	}
	if q.buf.Full() {
		q.buf.Dequeue()
		q.dropped.Add(1)
	}
	q.buf.Enqueue(rec)
	full := q.buf.Size() >= q.opts.BatchSize
	q.mu.Unlock()

	q.enqueued.Add(1)
	if full {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close stops accepting records, flushes what is buffered and waits for the
// flush goroutine. ctx bounds the wait.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	if !started {
		q.flushAll(ctx)
		return nil
	}

	close(q.stop)
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending := q.buf.Size()
	q.mu.Unlock()
	return Stats{
		Enqueued:      q.enqueued.Load(),
		Written:       q.written.Load(),
		Dropped:       q.dropped.Load(),
		Failed:        q.failed.Load(),
		ValidatedOnly: q.validatedOnly.Load(),
		Serialization: q.serialization.Load(),
		Pending:       pending,
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			q.flushAll(ctx)
			return
		case <-q.notify:
			q.flushAll(ctx)
		case <-ticker.C:
			q.flushAll(ctx)
		}
	}
}

func (q *Queue) flushAll(ctx context.Context) {
	for {
		batch := q.take()
		if len(batch) == 0 {
			return
		}
		q.flush(ctx, batch)
	}
}

func (q *Queue) take() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.buf.Size()
	if n > q.opts.BatchSize {
		n = q.opts.BatchSize
	}
	batch := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		v, ok := q.buf.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, v.(Record))
	}
	return batch
}

func (q *Queue) flush(ctx context.Context, batch []Record) {
	docs := make([]Document, 0, len(batch))
	for _, rec := range batch {
		doc, err := Normalize(rec)
		if err != nil {
			q.serialization.Add(1)
			q.logger.Warn("storing stringified payload", "event", rec.EventName, "err", err)
		}
		if !rec.Persist {
			q.validatedOnly.Add(1)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return
	}

	failed := false
	for _, w := range q.writers {
		attempts, err := q.write(ctx, w, docs)
		if err != nil {
			failed = true
			q.logger.Error("dropping telemetry batch", "writer", fmt.Sprintf("%T", w), "batch", len(docs), "attempts", attempts, "err", err)
		}
	}
	if failed {
		q.failed.Add(int64(len(docs)))
		return
	}
	q.written.Add(int64(len(docs)))
}

// write retries one writer on its own, so a writer that already stored the
// batch never receives it again because another one failed.
func (q *Queue) write(ctx context.Context, w Writer, docs []Document) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.RetryInitial
	b.MaxInterval = q.opts.RetryMax

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := w.Write(ctx, docs)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrSerialization) {
			return struct{}{}, backoff.Permanent(err)
		}
		q.logger.Warn("telemetry write failed", "attempt", attempt, "batch", len(docs), "err", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(q.opts.MaxTries))
	return attempt, err
}
