package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan records.ScrapeJob, 1)
	errCh := make(chan error, 1)

	go func() {
		job, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- job
	}()

	require.NoError(t, q.Enqueue(context.Background(), records.ScrapeJob{RunID: "run-1", Sources: []string{"active"}}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "run-1", got.RunID)
		require.Equal(t, []string{"active"}, got.Sources)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), records.ScrapeJob{RunID: "primed"}))
	require.EqualError(t, q.Enqueue(ctx, records.ScrapeJob{}), "enqueue canceled: context canceled")
}

func TestQueueTryEnqueueFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(records.ScrapeJob{RunID: "a"}))
	require.ErrorIs(t, q.TryEnqueue(records.ScrapeJob{RunID: "b"}), records.ErrQueueFull)
	require.Equal(t, 1, q.Len())
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, q.TryEnqueue(records.ScrapeJob{}), ErrQueueClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), records.ScrapeJob{}), ErrQueueClosed)
	// Closing twice should be safe.
	q.Close()
}
