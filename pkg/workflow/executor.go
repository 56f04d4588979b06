package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"github.com/cadencehq/cadence/pkg/persistence"
)

const (
	// defaultMaxStepsPerRun bounds one Advance invocation so a long linear
	// graph cannot starve the rest of the batch. The enrollment stays active
	// and a later invocation picks it back up.
	defaultMaxStepsPerRun = 50

	// maxStepRetries is the per-node failure budget before the enrollment is
	// failed permanently.
	maxStepRetries = 3

	// retryBackoff spaces retry attempts; the wait grows linearly with the
	// error count.
	retryBackoff = 30 * time.Second

	// stepTimeout bounds each external effect.
	stepTimeout = 30 * time.Second
)

// Dispatchers bundles the collaborators action steps perform effects through.
type Dispatchers struct {
	Email    dispatch.Notifier
	WhatsApp dispatch.Notifier
	Webhooks dispatch.WebhookDispatcher
	Tasks    *dispatch.TaskSink
	Assigner *dispatch.RoundRobinAssigner
}

// Executor advances enrollments through their definition's node graph. It is
// the only component that executes steps; matching and resumption hand it
// active enrollments and it runs them until they park, finish, fail, or
// exhaust the per-invocation step budget.
//
// Every persisted advance is a compare-and-set on the enrollment version, so
// two executors racing on the same enrollment resolve to exactly one winner;
// the loser drops its work and the per-node idempotency keys downstream make
// the duplicated effects harmless.
type Executor struct {
	persistence persistence.Persistence
	dispatchers Dispatchers
	bus         eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	maxSteps    int
}

// NewExecutor creates a step executor. The event publisher may be nil; then
// lifecycle events are not emitted.
func NewExecutor(p persistence.Persistence, dispatchers Dispatchers, bus eventbus.EventPublisher, logger *slog.Logger) *Executor {
	return &Executor{
		persistence: p,
		dispatchers: dispatchers,
		bus:         bus,
		tracer:      otelhelper.Tracer("cadence.executor"),
		logger:      logger.With("module", "executor"),
		maxSteps:    defaultMaxStepsPerRun,
	}
}

// Advance runs the enrollment forward from its current node until it reaches
// a terminal node, parks on a delay, fails, or hits the per-invocation step
// budget. A version conflict on save means another executor owns this
// enrollment; Advance treats that as a no-op, not an error.
func (x *Executor) Advance(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, x.tracer, "enrollment.advance",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.String(otelhelper.WorkflowIDKey, enrollment.WorkflowID),
		attribute.String(otelhelper.TargetTypeKey, string(enrollment.TargetType)),
		attribute.String(otelhelper.TargetIDKey, enrollment.TargetID),
	)
	defer span.End()

	definition, err := x.persistence.Definitions().DefinitionByID(ctx, enrollment.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)
		x.logger.ErrorContext(ctx, "Skipping enrollment, definition unavailable",
			"enrollment_id", enrollment.ID, "workflow_id", enrollment.WorkflowID, "error", err)

		return fmt.Errorf("failed to load definition %s: %w", enrollment.WorkflowID, err)
	}

	for steps := 0; enrollment.Status == models.EnrollmentStatusActive; steps++ {
		if steps >= x.maxSteps {
			x.logger.InfoContext(ctx, "Step budget reached, yielding enrollment",
				"enrollment_id", enrollment.ID, "steps", steps)

			return nil
		}

		done, err := x.executeCurrentNode(ctx, definition, enrollment)
		if err != nil || done {
			return err
		}
	}

	return nil
}

// executeCurrentNode runs one node and persists the resulting enrollment
// state. It returns done=true when this invocation must stop (the enrollment
// parked, finished, failed, or lost a save race).
func (x *Executor) executeCurrentNode(ctx context.Context, definition *models.WorkflowDefinition, enrollment *models.Enrollment) (bool, error) {
	now := time.Now().UTC()

	node, err := definition.Node(enrollment.CurrentNodeID)
	if err != nil {
		// Dangling node ids are rejected at activation, so this means the
		// graph was corrupted out of band. The enrollment cannot make
		// progress; fail it with the reason on record.
		enrollment.Record(enrollment.CurrentNodeID, models.ExecutionResultFailure, err.Error(), now)

		if markErr := enrollment.MarkFailed(now); markErr != nil {
			return true, markErr
		}

		x.logger.ErrorContext(ctx, "Enrollment failed on missing node",
			"enrollment_id", enrollment.ID, "node_id", enrollment.CurrentNodeID, "error", err)

		_, saveErr := x.save(ctx, enrollment)

		return true, saveErr
	}

	ctx, span := otelhelper.StartSpan(ctx, x.tracer, "node.execute",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.StepTypeKey, string(node.Type)),
	)
	defer span.End()

	switch node.Type {
	case models.StepTypeTrigger:
		// Trigger nodes never execute; the cursor starts past them. Seeing
		// one here means the graph loops back to its start, which is a
		// definition bug worth failing loudly on.
		enrollment.Record(node.ID, models.ExecutionResultFailure, "cursor re-entered trigger node", now)

		if err := enrollment.MarkFailed(now); err != nil {
			return true, err
		}

		_, saveErr := x.save(ctx, enrollment)

		return true, saveErr

	case models.StepTypeDelay:
		return x.executeDelay(ctx, enrollment, node, now)

	case models.StepTypeBranch:
		return x.executeBranch(ctx, enrollment, node, now)

	default:
		return x.executeEffect(ctx, enrollment, node, now)
	}
}

func (x *Executor) executeDelay(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, now time.Time) (bool, error) {
	until, err := delayDeadline(node, now)
	if err != nil {
		return x.recordFailure(ctx, enrollment, node, now, err)
	}

	enrollment.Record(node.ID, models.ExecutionResultSuccess, "waiting until "+until.Format(time.RFC3339), now)

	if err := enrollment.MarkWaiting(until); err != nil {
		return true, err
	}

	x.logger.InfoContext(ctx, "Enrollment parked on delay",
		"enrollment_id", enrollment.ID, "node_id", node.ID, "until", until)

	_, saveErr := x.save(ctx, enrollment)

	return true, saveErr
}

func (x *Executor) executeBranch(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, now time.Time) (bool, error) {
	outcome, detail, err := x.evaluateBranch(ctx, enrollment, node)
	if err != nil {
		return x.recordFailure(ctx, enrollment, node, now, err)
	}

	next := node.FalseNextID
	if outcome {
		next = node.TrueNextID
	}

	if next == nil {
		return x.recordFailure(ctx, enrollment, node, now,
			fmt.Errorf("branch node %s: %w", node.ID, models.ErrMissingBranchTarget))
	}

	enrollment.Visit(node.ID)
	enrollment.Record(node.ID, models.ExecutionResultSuccess, detail, now)
	enrollment.CurrentNodeID = *next
	enrollment.ErrorCount = 0
	enrollment.LastExecutedAt = now

	owned, saveErr := x.save(ctx, enrollment)

	return !owned, saveErr
}

// executeEffect runs one action step, then either advances the cursor or, on
// a terminal node, completes the enrollment.
func (x *Executor) executeEffect(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, now time.Time) (bool, error) {
	effectCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	detail, err := x.performAction(effectCtx, enrollment, node)
	if err != nil {
		return x.recordFailure(ctx, enrollment, node, now, err)
	}

	enrollment.Visit(node.ID)
	enrollment.Record(node.ID, models.ExecutionResultSuccess, detail, now)
	enrollment.ErrorCount = 0
	enrollment.LastExecutedAt = now

	if node.IsTerminal() {
		if err := enrollment.MarkCompleted(now); err != nil {
			return true, err
		}

		x.logger.InfoContext(ctx, "Enrollment completed",
			"enrollment_id", enrollment.ID, "workflow_id", enrollment.WorkflowID,
			"steps", len(enrollment.VisitedNodes))

		owned, saveErr := x.save(ctx, enrollment)
		if saveErr == nil && owned {
			completed := events.EnrollmentCompleted{
				BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent),
				EnrollmentID: enrollment.ID,
				WorkflowID:   enrollment.WorkflowID,
				StepCount:    len(enrollment.VisitedNodes),
			}
			x.publish(ctx, enrollment, completed)
		}

		return true, saveErr
	}

	enrollment.CurrentNodeID = *node.NextID

	owned, saveErr := x.save(ctx, enrollment)

	return !owned, saveErr
}

// recordFailure applies the retry policy: under the budget the enrollment
// parks on a short backoff with the cursor unchanged, so the same node is
// retried; at the budget it fails permanently.
func (x *Executor) recordFailure(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, now time.Time, cause error) (bool, error) {
	enrollment.ErrorCount++
	enrollment.Record(node.ID, models.ExecutionResultFailure, cause.Error(), now)
	enrollment.LastExecutedAt = now

	if enrollment.ErrorCount >= maxStepRetries {
		if err := enrollment.MarkFailed(now); err != nil {
			return true, err
		}

		x.logger.ErrorContext(ctx, "Enrollment failed, retry budget exhausted",
			"enrollment_id", enrollment.ID, "node_id", node.ID, "error", cause)

		owned, saveErr := x.save(ctx, enrollment)
		if saveErr == nil && owned {
			failed := events.EnrollmentFailed{
				BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedEvent),
				EnrollmentID: enrollment.ID,
				WorkflowID:   enrollment.WorkflowID,
				NodeID:       node.ID,
				Error:        cause.Error(),
			}
			x.publish(ctx, enrollment, failed)
		}

		return true, saveErr
	}

	until := now.Add(retryBackoff * time.Duration(enrollment.ErrorCount))
	if err := enrollment.MarkWaiting(until); err != nil {
		return true, err
	}

	x.logger.WarnContext(ctx, "Step failed, enrollment parked for retry",
		"enrollment_id", enrollment.ID, "node_id", node.ID,
		"attempt", enrollment.ErrorCount, "retry_at", until, "error", cause)

	_, saveErr := x.save(ctx, enrollment)

	return true, saveErr
}

// save commits the enrollment with compare-and-set semantics. Losing the race
// is expected under concurrent executors: it returns owned=false and the
// caller must stop advancing this enrollment.
func (x *Executor) save(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	err := x.persistence.Enrollments().UpdateEnrollment(ctx, enrollment)
	if err == nil {
		return true, nil
	}

	if persistence.IsVersionConflict(err) {
		x.logger.InfoContext(ctx, "Enrollment update lost a version race, dropping",
			"enrollment_id", enrollment.ID)

		return false, nil
	}

	return false, fmt.Errorf("failed to persist enrollment %s: %w", enrollment.ID, err)
}

// publish emits a lifecycle event on a best-effort basis; a broker outage
// never blocks or fails the enrollment itself.
func (x *Executor) publish(ctx context.Context, enrollment *models.Enrollment, event eventbus.Event) {
	if x.bus == nil {
		return
	}

	if err := x.bus.Publish(ctx, events.Topic, enrollment.ID, event); err != nil {
		x.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"enrollment_id", enrollment.ID, "event_type", event.GetType(), "error", err)
	}
}

// delayDeadline resolves a delay node's configuration into an absolute
// resume time. Config carries either a relative duration ("48h", "30m") or an
// absolute until timestamp (RFC3339).
func delayDeadline(node *models.StepNode, now time.Time) (time.Time, error) {
	if raw, ok := node.Config["until"]; ok {
		str, ok := raw.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("delay node %s: until must be an RFC3339 string", node.ID)
		}

		until, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return time.Time{}, fmt.Errorf("delay node %s: %w", node.ID, err)
		}

		return until.UTC(), nil
	}

	duration, err := durationConfig(node, "duration")
	if err != nil {
		return time.Time{}, err
	}

	if duration <= 0 {
		return time.Time{}, fmt.Errorf("delay node %s: duration must be positive", node.ID)
	}

	return now.Add(duration), nil
}
