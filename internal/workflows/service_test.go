package workflows

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/approval"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/queue"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type fixture struct {
	store *store.SQLStore
	gate  *approval.Gate
	queue *recordingQueue
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "workflows.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	v, err := validation.NewWorkflowValidator(nil, nil)
	require.NoError(t, err)

	gate := approval.NewGate(s, nil)
	q := &recordingQueue{}
	exec := engine.NewExecutor(s, nil)
	return &fixture{store: s, gate: gate, queue: q, svc: NewService(s, v, exec, gate, q, nil)}
}

func immediateDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name:        "fetch and mail",
		TriggerType: schema.TriggerImmediate,
		StartNodeID: "fetch",
		EndNodeIDs:  []string{"mail"},
		Nodes: []schema.Node{
			{ID: "fetch", Type: schema.NodeTypeTool, Tool: "http.request", Arguments: map[string]any{"url": "https://example.com"}},
			{ID: "mail", Type: schema.NodeTypeTool, Tool: "send_gmail", Arguments: map[string]any{"body": "{{fetch.body}}"}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "fetch", Target: "mail"}},
	}
}

func scheduledDef() *schema.WorkflowDefinition {
	def := immediateDef()
	def.Name = "weekly digest"
	def.TriggerType = schema.TriggerScheduled
	def.Frequency = schema.FrequencyWeekly
	def.Schedule = &schema.ScheduleConfig{Time: "09:00", Days: []string{"mon"}}
	return def
}

func TestDefine_Immediate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Define(ctx, "user-1", immediateDef())
	require.NoError(t, err)
	assert.Nil(t, out.Activation)
	assert.True(t, out.Workflow.IsActive)

	got, err := f.store.GetWorkflow(ctx, out.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.OwnerID)
	require.Len(t, got.Nodes, 2)
	require.Len(t, got.Edges, 1)
}

func TestDefine_ScheduledOpensActivationGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Define(ctx, "user-1", scheduledDef())
	require.NoError(t, err)
	assert.False(t, out.Workflow.IsActive)
	require.NotNil(t, out.Activation)
	assert.Equal(t, schema.ApprovalKindAutomation, out.Activation.Kind)
	assert.Equal(t, approval.WorkflowRef(out.Workflow.ID), out.Activation.GateRef)

	latest, err := f.gate.GetLatest(ctx, approval.WorkflowRef(out.Workflow.ID))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, out.Activation.ID, latest.ID)

	// Approving the gate activates the workflow.
	approvals := approval.NewService(f.gate, f.store, f.queue, nil)
	_, err = approvals.Approve(ctx, out.Activation.ID, "user-1")
	require.NoError(t, err)
	wf, err := f.store.GetWorkflow(ctx, out.Workflow.ID)
	require.NoError(t, err)
	assert.True(t, wf.IsActive)

	latest, err = f.gate.GetLatest(ctx, approval.WorkflowRef(out.Workflow.ID))
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestDefine_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Define(ctx, "", immediateDef())
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	def := immediateDef()
	def.Edges = append(def.Edges, schema.Edge{ID: "e2", Source: "mail", Target: "ghost"})
	_, err = f.svc.Define(ctx, "user-1", def)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	bad := scheduledDef()
	bad.Schedule = &schema.ScheduleConfig{Time: "09:00"}
	_, err = f.svc.Define(ctx, "user-1", bad)
	require.Error(t, err, "weekly schedule without days")

	wfs, err := f.svc.List(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, wfs)
}

func TestRun_CreatesManualExecutionAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Define(ctx, "user-1", scheduledDef())
	require.NoError(t, err)

	exec, err := f.svc.Run(ctx, out.Workflow.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionTypeManual, exec.Type)
	assert.Equal(t, schema.ExecutionStatusPending, exec.Status)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, queue.Task{WorkflowID: out.Workflow.ID, UserID: "user-1", ExecutionID: exec.ID}, f.queue.tasks[0])

	wf, err := f.store.GetWorkflow(ctx, out.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, wf.TotalRuns)
}

func TestRun_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Run(ctx, "wf_missing", "user-1")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	out, err := f.svc.Define(ctx, "user-1", immediateDef())
	require.NoError(t, err)

	_, err = f.svc.Run(ctx, out.Workflow.ID, "intruder")
	assert.True(t, schema.HasCode(err, schema.ErrCodeForbidden))

	f.queue.err = errors.New("broker down")
	exec, err := f.svc.Run(ctx, out.Workflow.ID, "user-1")
	assert.True(t, schema.HasCode(err, schema.ErrCodeQueue))
	require.NotNil(t, exec, "the execution exists even when the enqueue fails")
}

func TestActivateDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Define(ctx, "user-1", scheduledDef())
	require.NoError(t, err)

	wf, err := f.svc.Activate(ctx, out.Workflow.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, wf.IsActive)

	wf, err = f.svc.Activate(ctx, out.Workflow.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, wf.IsActive)

	_, err = f.svc.Deactivate(ctx, out.Workflow.ID, "intruder")
	assert.True(t, schema.HasCode(err, schema.ErrCodeForbidden))

	wf, err = f.svc.Deactivate(ctx, out.Workflow.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, wf.IsActive)

	stored, err := f.store.GetWorkflow(ctx, out.Workflow.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Define(ctx, "user-1", immediateDef())
	require.NoError(t, err)
	exec, err := f.svc.Run(ctx, out.Workflow.ID, "user-1")
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, exec.ID, "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, st.Execution.ID)
	require.NotEmpty(t, st.Events)
	assert.Equal(t, schema.EventExecutionCreated, st.Events[0].Type)

	_, err = f.svc.Status(ctx, exec.ID, "intruder", 0)
	assert.True(t, schema.HasCode(err, schema.ErrCodeForbidden))

	execs, err := f.svc.Executions(ctx, out.Workflow.ID, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, exec.ID, execs[0].ID)
}

type failingGate struct{}

func (failingGate) Create(context.Context, approval.Request) (*store.PendingAction, error) {
	return nil, schema.NewError(schema.ErrCodeStore, "pending_actions unavailable")
}

func TestDefine_GateFailureRemovesWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := validation.NewWorkflowValidator(nil, nil)
	require.NoError(t, err)
	svc := NewService(f.store, v, engine.NewExecutor(f.store, nil), failingGate{}, f.queue, nil)

	_, err = svc.Define(ctx, "user-1", scheduledDef())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))

	left, err := svc.List(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}
