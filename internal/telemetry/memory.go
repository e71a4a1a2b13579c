package telemetry

import (
	"context"
	"errors"
	"sync"
)

// MemoryWriter keeps documents in memory. Used for dry runs and tests.
type MemoryWriter struct {
	mu       sync.Mutex
	docs     []Document
	failures int
	failErr  error
	calls    int
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// FailNext makes the next n Write calls fail with err.
func (m *MemoryWriter) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failErr = err
}

func (m *MemoryWriter) Write(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failures > 0 {
		m.failures--
		return &SinkError{Kind: KindTransport, Err: m.failErr}
	}
	m.docs = append(m.docs, docs...)
	return nil
}

// Documents returns a copy of everything written so far.
func (m *MemoryWriter) Documents() []Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Document, len(m.docs))
	copy(out, m.docs)
	return out
}

// Calls reports how many times Write was invoked.
func (m *MemoryWriter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type tee []Writer

// Tee writes every batch to each writer in turn. A failure in one writer
// does not stop the others. A Queue unpacks a Tee and retries each writer
// separately.
func Tee(writers ...Writer) Writer {
	if len(writers) == 1 {
		return writers[0]
	}
	return tee(writers)
}

func (t tee) Write(ctx context.Context, docs []Document) error {
	var errs []error
	for _, w := range t {
		if err := w.Write(ctx, docs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fanout flattens nested Tees into the list of writers they feed.
func fanout(w Writer) []Writer {
	t, ok := w.(tee)
	if !ok {
		if w == nil {
			return nil
		}
		return []Writer{w}
	}
	var out []Writer
	for _, inner := range t {
		out = append(out, fanout(inner)...)
	}
	return out
}
