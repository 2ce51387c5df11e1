// Package pipeline wires the three processing stages (categorization,
// subscription detection, reconciliation) to the job queue. The stages
// themselves are pure entry points with no knowledge of scheduling; this
// package owns the job-type dispatch.
package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/spendwise/internal/categorize"
	"github.com/dvloznov/spendwise/internal/jobs"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/reconcile"
	"github.com/dvloznov/spendwise/internal/subscriptions"
)

// Pipeline routes queue jobs to the stage implementations.
type Pipeline struct {
	categorizer *categorize.Categorizer
	detector    *subscriptions.Detector
	engine      *reconcile.Engine
}

// New creates a Pipeline. Any stage may be nil; jobs for a missing stage
// fail and are retried by the queue, which keeps partial deployments honest.
func New(categorizer *categorize.Categorizer, detector *subscriptions.Detector, engine *reconcile.Engine) *Pipeline {
	return &Pipeline{
		categorizer: categorizer,
		detector:    detector,
		engine:      engine,
	}
}

// Handle processes one job. It satisfies jobs.JobHandler.
func (p *Pipeline) Handle(ctx context.Context, job *jobs.PipelineJob) error {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Str("user_id", job.UserID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	switch job.Type {
	case jobs.JobTypeCategorize:
		if p.categorizer == nil {
			return fmt.Errorf("Handle: categorizer not configured")
		}
		stats, err := p.categorizer.CategorizeUser(ctx, job.UserID, job.RedoAll)
		if err != nil {
			return fmt.Errorf("Handle: categorize user %s: %w", job.UserID, err)
		}
		log.Info().
			Int("auto_categorized", stats.AutoCategorized).
			Int("needs_review", stats.NeedsReview).
			Int("questions", stats.QuestionsGenerated).
			Int("failed", stats.Failed).
			Msg("Categorization job complete")
		return nil

	case jobs.JobTypeDetectSubscriptions:
		if p.detector == nil {
			return fmt.Errorf("Handle: detector not configured")
		}
		result, err := p.detector.DetectSubscriptions(ctx, job.UserID)
		if err != nil {
			return fmt.Errorf("Handle: detect subscriptions for user %s: %w", job.UserID, err)
		}
		log.Info().
			Int("detected", result.Detected).
			Int("marked_unused", result.MarkedUnused).
			Msg("Subscription detection job complete")
		return nil

	case jobs.JobTypeReconcile:
		if p.engine == nil {
			return fmt.Errorf("Handle: reconcile engine not configured")
		}
		result, err := p.engine.Reconcile(ctx, job.UserID)
		if err != nil {
			return fmt.Errorf("Handle: reconcile user %s: %w", job.UserID, err)
		}
		log.Info().
			Int("matched", result.Matched).
			Int("candidates", result.Candidates).
			Msg("Reconciliation job complete")
		return nil
	}

	return fmt.Errorf("Handle: unknown job type %q", job.Type)
}

var _ jobs.JobHandler = (&Pipeline{}).Handle
