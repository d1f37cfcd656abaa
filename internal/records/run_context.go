package records

import (
	"time"

	"go.uber.org/zap"
)

// RunContext carries per-run identity and the structured logger through every
// pipeline component, replacing process-wide log state.
type RunContext struct {
	RunID   string
	Source  string
	Started time.Time
	Logger  *zap.Logger
}

// NewRunContext builds a RunContext whose logger is tagged with the run ID.
func NewRunContext(runID string, started time.Time, logger *zap.Logger) *RunContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunContext{
		RunID:   runID,
		Started: started,
		Logger:  logger.With(zap.String("run_id", runID)),
	}
}

// ForSource returns a copy scoped to one source.
func (rc *RunContext) ForSource(source string) *RunContext {
	cp := *rc
	cp.Source = source
	cp.Logger = rc.Log().With(zap.String("source", source))
	return &cp
}

// Log returns the logger, never nil.
func (rc *RunContext) Log() *zap.Logger {
	if rc == nil || rc.Logger == nil {
		return zap.NewNop()
	}
	return rc.Logger
}
