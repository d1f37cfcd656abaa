package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/clock/fake"
	"github.com/JakeFAU/docket-scraper/internal/pipeline"
	"github.com/JakeFAU/docket-scraper/internal/queue/memory"
	"github.com/JakeFAU/docket-scraper/internal/records"
	"github.com/JakeFAU/docket-scraper/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type notifyingRunner struct {
	ran chan pipeline.RunOptions
}

func (r *notifyingRunner) Run(_ context.Context, opts pipeline.RunOptions) (pipeline.Summary, error) {
	r.ran <- opts
	return pipeline.Summary{RunID: opts.RunID, Status: records.RunSuccess}, nil
}

func TestDispatcherSubmitRunsJob(t *testing.T) {
	t.Parallel()

	clock := fake.NewClock(time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC))
	tracker := worker.NewTracker(clock, 0)
	queue := memory.NewQueue(1)
	runner := &notifyingRunner{ran: make(chan pipeline.RunOptions, 1)}
	w := worker.New(queue, runner, tracker, fake.NewSleeper(clock), worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w}, tracker, fixedIDs{id: "run-7"}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	status, err := dispatch.Submit(context.Background(), []string{"active"}, nil)
	require.NoError(t, err)
	require.Equal(t, "run-7", status.RunID)
	require.Equal(t, records.JobQueued, status.State)

	select {
	case opts := <-runner.ran:
		require.Equal(t, pipeline.RunOptions{RunID: "run-7", Sources: []string{"active"}}, opts)
	case <-time.After(time.Second):
		t.Fatal("worker did not run the job")
	}
	require.Eventually(t, func() bool {
		st, ok := dispatch.Job("run-7")
		return ok && st.State == records.JobSucceeded
	}, time.Second, 10*time.Millisecond)
	require.Len(t, dispatch.Jobs(), 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherSubmitForwardsErrors(t *testing.T) {
	t.Parallel()

	clock := fake.NewClock(time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC))
	tracker := worker.NewTracker(clock, 0)
	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, tracker, fixedIDs{id: "run-1"}, clock)

	_, err := dispatch.Submit(context.Background(), nil, []string{"DOE, JOHN"})
	require.EqualError(t, err, "queue enqueue: boom")
	st, ok := dispatch.Job("run-1")
	require.True(t, ok)
	require.Equal(t, records.JobFailed, st.State)
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, records.ScrapeJob) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (records.ScrapeJob, error) {
	<-ctx.Done()
	return records.ScrapeJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
}
