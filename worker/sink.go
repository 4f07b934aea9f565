package worker

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/pricewatch/queue"
)

// Outcome is the structured event emitted for each terminal job outcome
// (completed or failed). Retry cycles are internal to the queue and do
// not produce outcomes.
type Outcome struct {
	JobID    string       `json:"jobId"`
	TargetID string       `json:"targetId"`
	Status   queue.Status `json:"status"`
	Err      string       `json:"error,omitempty"`
}

// Sink consumes terminal outcomes. Implementations must be safe for
// concurrent use by all workers.
type Sink interface {
	JobFinished(ctx context.Context, o Outcome)
}

// SlogSink logs outcomes through a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger}
}

func (s *SlogSink) JobFinished(ctx context.Context, o Outcome) {
	if o.Status == queue.StatusFailed {
		s.Logger.Error("worker: job failed terminally",
			"job_id", o.JobID, "target_id", o.TargetID, "error", o.Err)
		return
	}
	s.Logger.Info("worker: job completed",
		"job_id", o.JobID, "target_id", o.TargetID)
}
