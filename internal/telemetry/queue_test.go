package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrflow/internal/telemetry"
)

func fastOptions() telemetry.QueueOptions {
	return telemetry.QueueOptions{
		Size:          128,
		BatchSize:     8,
		FlushInterval: 5 * time.Millisecond,
		MaxTries:      4,
		RetryInitial:  time.Millisecond,
		RetryMax:      2 * time.Millisecond,
	}
}

func named(name string) telemetry.Record {
	rec := telemetry.NewRecord(telemetry.TypeTask, name, nil, nil)
	rec.Timestamp = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return rec
}

func eventNames(docs []telemetry.Document) []string {
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.EventName
	}
	return names
}

func closeQueue(t *testing.T, q *telemetry.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
}

func TestQueue_DeliversInEmissionOrder(t *testing.T) {
	mem := telemetry.NewMemoryWriter()
	q := telemetry.NewQueue(mem, fastOptions())
	q.Start(context.Background())

	var want []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("e%02d", i)
		want = append(want, name)
		require.NoError(t, q.Emit(named(name)))
	}
	closeQueue(t, q)

	assert.Equal(t, want, eventNames(mem.Documents()))
	stats := q.Stats()
	assert.Equal(t, int64(20), stats.Enqueued)
	assert.Equal(t, int64(20), stats.Written)
	assert.Zero(t, stats.Pending)
	assert.Greater(t, mem.Calls(), 1, "records are written in batches")
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	mem := telemetry.NewMemoryWriter()
	opts := fastOptions()
	opts.Size = 3
	q := telemetry.NewQueue(mem, opts)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Emit(named(fmt.Sprintf("e%d", i))))
	}
	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, 3, stats.Pending)

	closeQueue(t, q)
	assert.Equal(t, []string{"e2", "e3", "e4"}, eventNames(mem.Documents()))
}

func TestQueue_PersistFalseIsValidatedNotStored(t *testing.T) {
	mem := telemetry.NewMemoryWriter()
	q := telemetry.NewQueue(mem, fastOptions())
	q.Start(context.Background())

	dry := named("dry")
	dry.Persist = false
	require.NoError(t, q.Emit(dry))
	require.NoError(t, q.Emit(named("kept")))
	closeQueue(t, q)

	assert.Equal(t, []string{"kept"}, eventNames(mem.Documents()))
	assert.Equal(t, int64(1), q.Stats().ValidatedOnly)
}

func TestQueue_RetriesTransportFailures(t *testing.T) {
	t.Run("recovers within max tries", func(t *testing.T) {
		mem := telemetry.NewMemoryWriter()
		mem.FailNext(2, errors.New("connection refused"))
		q := telemetry.NewQueue(mem, fastOptions())
		q.Start(context.Background())

		require.NoError(t, q.Emit(named("target_hit")))
		closeQueue(t, q)

		assert.Equal(t, []string{"target_hit"}, eventNames(mem.Documents()))
		assert.Equal(t, 3, mem.Calls())
		assert.Equal(t, int64(1), q.Stats().Written)
		assert.Zero(t, q.Stats().Failed)
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		mem := telemetry.NewMemoryWriter()
		mem.FailNext(100, errors.New("connection refused"))
		opts := fastOptions()
		opts.MaxTries = 2
		q := telemetry.NewQueue(mem, opts)
		q.Start(context.Background())

		require.NoError(t, q.Emit(named("target_miss")))
		closeQueue(t, q)

		assert.Empty(t, mem.Documents())
		assert.Equal(t, 2, mem.Calls())
		assert.Equal(t, int64(1), q.Stats().Failed)
	})
}

func TestQueue_RetriesOnlyTheFailingWriter(t *testing.T) {
	t.Run("healthy writer stores one copy", func(t *testing.T) {
		mongo := telemetry.NewMemoryWriter()
		mongo.FailNext(2, errors.New("server selection timeout"))
		csv := telemetry.NewMemoryWriter()
		q := telemetry.NewQueue(telemetry.Tee(mongo, csv), fastOptions())
		q.Start(context.Background())

		require.NoError(t, q.Emit(named("target_hit")))
		closeQueue(t, q)

		assert.Equal(t, []string{"target_hit"}, eventNames(mongo.Documents()))
		assert.Equal(t, 3, mongo.Calls())
		assert.Equal(t, []string{"target_hit"}, eventNames(csv.Documents()))
		assert.Equal(t, 1, csv.Calls())
		assert.Equal(t, int64(1), q.Stats().Written)
	})

	t.Run("one writer giving up does not starve the others", func(t *testing.T) {
		mongo := telemetry.NewMemoryWriter()
		mongo.FailNext(100, errors.New("server selection timeout"))
		csv := telemetry.NewMemoryWriter()
		console := telemetry.NewMemoryWriter()
		opts := fastOptions()
		opts.MaxTries = 2
		q := telemetry.NewQueue(telemetry.Tee(mongo, telemetry.Tee(csv, console)), opts)

		require.NoError(t, q.Emit(named("target_miss")))
		closeQueue(t, q)

		assert.Equal(t, 2, mongo.Calls())
		assert.Len(t, csv.Documents(), 1)
		assert.Len(t, console.Documents(), 1)
		assert.Equal(t, 1, console.Calls())
		assert.Equal(t, int64(1), q.Stats().Failed)
		assert.Zero(t, q.Stats().Written)
	})
}

func TestQueue_SerializationFailureStillStored(t *testing.T) {
	mem := telemetry.NewMemoryWriter()
	q := telemetry.NewQueue(mem, fastOptions())
	q.Start(context.Background())

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	bad := telemetry.NewRecord(telemetry.TypeSystem, "bad", nil, map[string]any{"loop": cyclic})
	require.NoError(t, q.Emit(bad))
	require.NoError(t, q.Emit(named("good")))
	closeQueue(t, q)

	assert.Equal(t, []string{"bad", "good"}, eventNames(mem.Documents()))
	assert.Equal(t, int64(1), q.Stats().Serialization)
}

func TestQueue_NotInitialized(t *testing.T) {
	t.Run("nil queue", func(t *testing.T) {
		var q *telemetry.Queue
		assert.ErrorIs(t, q.Emit(named("x")), telemetry.ErrNotInitialized)
	})

	t.Run("closed queue", func(t *testing.T) {
		q := telemetry.NewQueue(telemetry.NewMemoryWriter(), fastOptions())
		q.Start(context.Background())
		closeQueue(t, q)
		assert.ErrorIs(t, q.Emit(named("x")), telemetry.ErrNotInitialized)
		assert.NoError(t, q.Close(context.Background()), "second close is a no-op")
	})
}

func TestQueue_ConcurrentSourcesKeepTheirOrder(t *testing.T) {
	mem := telemetry.NewMemoryWriter()
	opts := fastOptions()
	opts.Size = 4096
	q := telemetry.NewQueue(mem, opts)
	q.Start(context.Background())

	const sources, perSource = 8, 100
	var wg sync.WaitGroup
	for s := 0; s < sources; s++ {
		wg.Add(1)
		go func(src int) {
			defer wg.Done()
			for i := 0; i < perSource; i++ {
				rec := telemetry.NewRecord(telemetry.TypeNavigation, "movement_frame", nil, map[string]any{
					"source": src,
					"seq":    i,
				})
				_ = q.Emit(rec)
			}
		}(s)
	}
	wg.Wait()
	closeQueue(t, q)

	docs := mem.Documents()
	require.Len(t, docs, sources*perSource)

	next := make(map[int64]int64)
	for _, d := range docs {
		src := d.EventContext["source"].(int64)
		seq := d.EventContext["seq"].(int64)
		assert.Equal(t, next[src], seq, "source %d out of order", src)
		next[src] = seq + 1
	}
}
