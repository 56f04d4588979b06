// Package watcher resumes enrollments whose waiting deadline has elapsed. It
// never executes steps itself: a sweep flips due enrollments back to active
// (advancing the cursor past a finished delay node) and the executor picks
// them up afterwards.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/workflow"
)

const (
	// DefaultSweepLimit caps one periodic sweep; the next tick picks up the
	// remainder.
	DefaultSweepLimit = 100

	// DefaultSchedule runs the sweep once a minute.
	DefaultSchedule = "@every 1m"

	defaultDrainConcurrency = 8
)

// SweepResult reports one sweep pass.
type SweepResult struct {
	ReactivatedCount int       `json:"reactivated_count"`
	Timestamp        time.Time `json:"timestamp"`

	// Reactivated carries the flipped enrollments so the caller can hand
	// them straight to the executor.
	Reactivated []*models.Enrollment `json:"-"`
}

// Watcher periodically scans for waiting enrollments whose deadline elapsed
// and reactivates them in a single atomic batch. Sweeps are idempotent: a
// reactivated enrollment is no longer due, so running two sweeps back to back
// reactivates nothing the second time.
type Watcher struct {
	persistence persistence.Persistence
	executor    *workflow.Executor
	tracer      trace.Tracer
	logger      *slog.Logger

	schedule    string
	sweepLimit  int
	concurrency int
}

// NewWatcher creates a watcher. The executor may be nil when the caller only
// wants sweeps (the HTTP trigger does its own draining).
func NewWatcher(p persistence.Persistence, executor *workflow.Executor, schedule string, logger *slog.Logger) *Watcher {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Watcher{
		persistence: p,
		executor:    executor,
		tracer:      otelhelper.Tracer("cadence.watcher"),
		logger:      logger.With("module", "watcher"),
		schedule:    schedule,
		sweepLimit:  DefaultSweepLimit,
		concurrency: defaultDrainConcurrency,
	}
}

// Run sweeps on the configured cron schedule until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(w.schedule, func() {
		if _, err := w.Cycle(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Sweep cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.schedule, err)
	}

	scheduler.Start()
	w.logger.InfoContext(ctx, "Watcher started", "schedule", w.schedule, "sweep_limit", w.sweepLimit)

	<-ctx.Done()

	stopped := scheduler.Stop()
	<-stopped.Done()

	return nil
}

// Cycle runs one sweep and then drains what it reactivated, plus any
// enrollments left active by an earlier step-budget yield.
func (w *Watcher) Cycle(ctx context.Context) (*SweepResult, error) {
	result, err := w.Sweep(ctx, w.sweepLimit)
	if err != nil {
		return nil, err
	}

	if w.executor != nil {
		if err := w.Drain(ctx); err != nil {
			return result, err
		}
	}

	return result, nil
}

// Sweep reactivates up to limit due enrollments at once. The batch commits
// all-or-nothing; a version conflict means a concurrent sweep owns the batch
// and this pass gives up without partial effects.
func (w *Watcher) Sweep(ctx context.Context, limit int) (*SweepResult, error) {
	now := time.Now().UTC()

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "watcher.sweep",
		attribute.Int("cadence.sweep.limit", limit),
	)
	defer span.End()

	due, err := w.persistence.Enrollments().DueEnrollments(ctx, now, limit)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to list due enrollments: %w", err)
	}

	reactivated := make([]*models.Enrollment, 0, len(due))
	definitions := map[string]*models.WorkflowDefinition{}

	for _, enrollment := range due {
		// The store already filtered, but the state may have moved between
		// the read and this pass.
		if enrollment.Status != models.EnrollmentStatusWaiting ||
			enrollment.NextExecutionAt == nil ||
			enrollment.NextExecutionAt.After(now) {
			continue
		}

		if err := w.reactivate(ctx, enrollment, definitions, now); err != nil {
			w.logger.WarnContext(ctx, "Skipping enrollment that cannot resume",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		reactivated = append(reactivated, enrollment)
	}

	if len(reactivated) > 0 {
		if err := w.persistence.Enrollments().UpdateEnrollmentBatch(ctx, reactivated); err != nil {
			otelhelper.SetError(span, err)

			if persistence.IsVersionConflict(err) {
				w.logger.InfoContext(ctx, "Sweep lost a version race, yielding to concurrent sweep")

				return &SweepResult{ReactivatedCount: 0, Timestamp: now}, nil
			}

			return nil, fmt.Errorf("failed to commit sweep batch: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("cadence.sweep.reactivated", len(reactivated)))
	w.logger.InfoContext(ctx, "Sweep completed",
		"due", len(due), "reactivated", len(reactivated), "timestamp", now)

	return &SweepResult{
		ReactivatedCount: len(reactivated),
		Timestamp:        now,
		Reactivated:      reactivated,
	}, nil
}

// reactivate flips one waiting enrollment to active. When the wait came from
// a delay node the cursor advances past it; a retry-backoff wait keeps the
// cursor on the failed node so the executor attempts it again.
func (w *Watcher) reactivate(ctx context.Context, enrollment *models.Enrollment, definitions map[string]*models.WorkflowDefinition, now time.Time) error {
	definition, ok := definitions[enrollment.WorkflowID]
	if !ok {
		var err error

		definition, err = w.persistence.Definitions().DefinitionByID(ctx, enrollment.WorkflowID)
		if err != nil {
			return fmt.Errorf("failed to load definition %s: %w", enrollment.WorkflowID, err)
		}

		definitions[enrollment.WorkflowID] = definition
	}

	node, err := definition.Node(enrollment.CurrentNodeID)
	if err != nil {
		return err
	}

	if err := enrollment.MarkActive(now); err != nil {
		return err
	}

	if node.Type != models.StepTypeDelay {
		return nil
	}

	enrollment.Visit(node.ID)

	if node.NextID == nil {
		// A trailing delay has nothing left to run.
		return enrollment.MarkCompleted(now)
	}

	enrollment.CurrentNodeID = *node.NextID

	return nil
}

// Drain advances every active enrollment, bounded-concurrently. Version
// conflicts inside the executor resolve races with other watcher instances.
func (w *Watcher) Drain(ctx context.Context) error {
	active, err := w.persistence.Enrollments().ActiveEnrollments(ctx, w.sweepLimit*2)
	if err != nil {
		return fmt.Errorf("failed to list active enrollments: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)

	for _, enrollment := range active {
		group.Go(func() error {
			if err := w.executor.Advance(groupCtx, enrollment); err != nil {
				w.logger.ErrorContext(groupCtx, "Failed to advance enrollment",
					"enrollment_id", enrollment.ID, "error", err)
			}

			return nil
		})
	}

	return group.Wait()
}
