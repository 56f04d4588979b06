package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/memory"
	"github.com/cadencehq/cadence/pkg/watcher"
	"github.com/cadencehq/cadence/pkg/workflow"
)

type noopNotifier struct{}

func (noopNotifier) Send(_ context.Context, _ dispatch.Delivery) error { return nil }

func setupTestApp(p persistence.Persistence) *fiber.App {
	logger := slog.Default()
	idempotency := dispatch.NewMemoryIdempotencyStore()

	dispatchers := workflow.Dispatchers{
		Email:    noopNotifier{},
		WhatsApp: noopNotifier{},
		Webhooks: dispatch.NewHTTPWebhookDispatcher(idempotency, logger),
		Tasks:    dispatch.NewTaskSink(p.Entities(), logger),
		Assigner: dispatch.NewRoundRobinAssigner(p.RoundRobin(), logger),
	}

	engine := workflow.NewEngine(p, dispatchers, idempotency, nil, logger)
	sweeper := watcher.NewWatcher(p, engine.Executor(), watcher.DefaultSchedule, logger)

	return NewAPI(logger, p, engine, sweeper).App()
}

func validWorkflowBody() string {
	return `{
		"name": "Won deal follow-up",
		"trigger": {"type": "field_changed", "entity_type": "deal", "field": "stage", "target_value": "won"},
		"start_node_id": "start",
		"nodes": {
			"start": {"id": "start", "type": "trigger", "next_id": "log"},
			"log": {"id": "log", "type": "log_activity", "config": {"message": "deal won"}}
		}
	}`
}

func closeBody(t *testing.T, resp *http.Response) {
	t.Helper()

	if err := resp.Body.Close(); err != nil {
		t.Logf("Failed to close response body: %v", err)
	}
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Cadence API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_GetWorkflows_Empty(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Workflows  []*models.WorkflowDefinition `json:"workflows"`
		TotalCount int                          `json:"total_count"`
	}

	err = json.NewDecoder(resp.Body).Decode(&listing)
	require.NoError(t, err)
	assert.Empty(t, listing.Workflows)
	assert.Zero(t, listing.TotalCount)
}

func TestAPI_CreateWorkflow_StartsAsDraft(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(validWorkflowBody()))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.WorkflowDefinition

	err = json.NewDecoder(resp.Body).Decode(&created)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.Equal(t, "Won deal follow-up", created.Name)
}

func TestAPI_CreateWorkflow_RejectsShortName(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	body := `{"name": "ab", "trigger": {"type": "entity_created", "entity_type": "deal"}, "start_node_id": "start", "nodes": {"start": {"id": "start", "type": "trigger"}}}`

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetWorkflow_NotFound(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func createWorkflow(t *testing.T, app *fiber.App, body string) models.WorkflowDefinition {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.WorkflowDefinition

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	return created
}

func TestAPI_ActivateWorkflow(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())
	created := createWorkflow(t, app, validWorkflowBody())

	req := httptest.NewRequest(http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var activated models.WorkflowDefinition

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&activated))
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)
}

func TestAPI_ActivateWorkflow_RejectsBrokenGraph(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	// Draft creation accepts the dangling successor; activation must not.
	body := `{
		"name": "Broken graph",
		"trigger": {"type": "entity_created", "entity_type": "deal"},
		"start_node_id": "start",
		"nodes": {"start": {"id": "start", "type": "trigger", "next_id": "ghost"}}
	}`
	created := createWorkflow(t, app, body)

	req := httptest.NewRequest(http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_UpdateActiveWorkflow_Conflicts(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())
	created := createWorkflow(t, app, validWorkflowBody())

	activate := httptest.NewRequest(http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	activateResp, err := app.Test(activate)
	require.NoError(t, err)
	closeBody(t, activateResp)
	require.Equal(t, http.StatusOK, activateResp.StatusCode)

	req := httptest.NewRequest(http.MethodPatch, "/workflows/"+created.ID, strings.NewReader(validWorkflowBody()))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ArchiveWorkflow(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())
	created := createWorkflow(t, app, validWorkflowBody())

	req := httptest.NewRequest(http.MethodDelete, "/workflows/"+created.ID, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_IngestEvent_EnrollsAndExecutes(t *testing.T) {
	p := memory.NewPersistence()
	app := setupTestApp(p)
	created := createWorkflow(t, app, validWorkflowBody())

	activate := httptest.NewRequest(http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	activateResp, err := app.Test(activate)
	require.NoError(t, err)
	closeBody(t, activateResp)
	require.Equal(t, http.StatusOK, activateResp.StatusCode)

	eventBody := `{
		"id": "evt-1",
		"type": "entity_updated",
		"entity_type": "deal",
		"entity_id": "deal-1",
		"before": {"stage": "negotiation"},
		"after": {"stage": "won"}
	}`

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(eventBody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	enrollments, err := p.Enrollments().ListEnrollments(context.Background(), persistence.EnrollmentFilter{})
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollments[0].Status)
}

func TestAPI_IngestEvent_RejectsUnknownEntityType(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	body := `{"id": "evt-1", "type": "entity_created", "entity_type": "invoice", "entity_id": "inv-1", "after": {}}`

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetEnrollments_FiltersByStatus(t *testing.T) {
	p := memory.NewPersistence()
	app := setupTestApp(p)

	due := time.Now().UTC().Add(time.Hour)
	require.NoError(t, p.Enrollments().CreateBatch(context.Background(), []*models.Enrollment{
		{
			ID:         "enr-active",
			WorkflowID: "wf-1",
			TargetType: models.EntityTypeDeal,
			TargetID:   "deal-1",
			Status:     models.EnrollmentStatusActive,
		},
		{
			ID:              "enr-waiting",
			WorkflowID:      "wf-1",
			TargetType:      models.EntityTypeDeal,
			TargetID:        "deal-2",
			Status:          models.EnrollmentStatusWaiting,
			NextExecutionAt: &due,
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/enrollments?status=waiting", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Enrollments []*models.Enrollment `json:"enrollments"`
		TotalCount  int                  `json:"total_count"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Enrollments, 1)
	assert.Equal(t, "enr-waiting", listing.Enrollments[0].ID)
}

func TestAPI_TriggerSweep(t *testing.T) {
	p := memory.NewPersistence()
	app := setupTestApp(p)

	req := httptest.NewRequest(http.MethodPost, "/sweeps", strings.NewReader(`{"limit": 50}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sweep struct {
		Success          bool `json:"success"`
		ReactivatedCount int  `json:"reactivated_count"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sweep))
	assert.True(t, sweep.Success)
	assert.Zero(t, sweep.ReactivatedCount)
}

func TestAPI_TriggerSweep_RejectsOversizedLimit(t *testing.T) {
	app := setupTestApp(memory.NewPersistence())

	req := httptest.NewRequest(http.MethodPost, "/sweeps", strings.NewReader(`{"limit": 10000}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
