// Package worker executes queued scrape jobs against the orchestrator.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/pipeline"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Defaults for retrying a job while another run holds the orchestrator.
const (
	DefaultBusyRetry    = 30 * time.Second
	DefaultBusyAttempts = 10
)

// Runner executes one scrape pass.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (pipeline.Summary, error)
}

// Config controls Worker behavior.
type Config struct {
	// BusyRetry is the wait between attempts when a run is already active.
	BusyRetry time.Duration
	// BusyAttempts caps those attempts.
	BusyAttempts int
}

// Worker consumes queue items and runs them one at a time.
type Worker struct {
	queue   records.JobQueue
	runner  Runner
	tracker *Tracker
	sleeper records.Sleeper
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue records.JobQueue,
	runner Runner,
	tracker *Tracker,
	sleeper records.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.BusyRetry <= 0 {
		cfg.BusyRetry = DefaultBusyRetry
	}
	if cfg.BusyAttempts <= 0 {
		cfg.BusyAttempts = DefaultBusyAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		runner:  runner,
		tracker: tracker,
		sleeper: sleeper,
		cfg:     cfg,
		logger:  logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Info("queue drained", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job", zap.String("run_id", job.RunID))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job records.ScrapeJob) {
	w.tracker.Start(job.RunID)
	opts := pipeline.RunOptions{RunID: job.RunID, Sources: job.Sources, Names: job.Names}

	var (
		summary pipeline.Summary
		err     error
	)
	for attempt := 1; ; attempt++ {
		summary, err = w.runner.Run(ctx, opts)
		if !errors.Is(err, records.ErrRunInProgress) || attempt >= w.cfg.BusyAttempts {
			break
		}
		w.logger.Info("run in progress; waiting",
			zap.String("run_id", job.RunID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", w.cfg.BusyRetry),
		)
		if sleepErr := w.sleeper.Sleep(ctx, w.cfg.BusyRetry); sleepErr != nil {
			err = sleepErr
			break
		}
	}

	state, errText := deriveFinalState(ctx, summary, err)
	if err != nil {
		w.logger.Error("scrape job failed", zap.String("run_id", job.RunID), zap.Error(err))
		w.tracker.Finish(job.RunID, state, nil, errText)
		return
	}
	w.logger.Info("scrape job finished",
		zap.String("run_id", job.RunID),
		zap.String("state", string(state)),
		zap.Int("count", summary.Count),
	)
	w.tracker.Finish(job.RunID, state, &summary, errText)
}

func deriveFinalState(ctx context.Context, summary pipeline.Summary, err error) (records.JobState, string) {
	switch {
	case ctx.Err() != nil:
		if err != nil {
			return records.JobCanceled, err.Error()
		}
		return records.JobCanceled, summary.Message
	case err != nil:
		return records.JobFailed, err.Error()
	case summary.Status == records.RunError:
		return records.JobFailed, summary.Message
	default:
		return records.JobSucceeded, ""
	}
}
