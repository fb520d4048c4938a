package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/workflows"
	"github.com/rendis/autoflow/pkg/schema"
)

// WorkflowService is the workflow surface exposed over MCP.
type WorkflowService interface {
	Define(ctx context.Context, owner string, def *schema.WorkflowDefinition) (*workflows.Defined, error)
	Get(ctx context.Context, id, requester string) (*store.Workflow, error)
	List(ctx context.Context, owner string, limit int) ([]*store.Workflow, error)
	Executions(ctx context.Context, id, requester string, limit int) ([]*store.Execution, error)
	Run(ctx context.Context, id, requester string) (*store.Execution, error)
	Status(ctx context.Context, executionID, requester string, since int64) (*workflows.Status, error)
	Activate(ctx context.Context, id, requester string) (*store.Workflow, error)
	Deactivate(ctx context.Context, id, requester string) (*store.Workflow, error)
}

// ApprovalService is the approval surface exposed over MCP.
type ApprovalService interface {
	Pending(ctx context.Context, owner string, limit int) ([]*store.PendingAction, error)
	Approve(ctx context.Context, actionID, requester string) (*store.PendingAction, error)
	Reject(ctx context.Context, actionID, requester string) (*store.PendingAction, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Workflows WorkflowService
	Approvals ApprovalService
	Sessions  *SessionRegistry
	Logger    *slog.Logger
}

// Server wraps an MCP server with autoflow tool handlers.
type Server struct {
	workflows WorkflowService
	approvals ApprovalService
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every autoflow tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	s := &Server{
		workflows: deps.Workflows,
		approvals: deps.Approvals,
		sessions:  sessions,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"autoflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Autoflow runs persisted tool workflows on behalf of a user. Use autoflow.define to store a workflow, autoflow.list to find stored ones, autoflow.run to start one, autoflow.executions and autoflow.status to follow its runs, autoflow.diagram to draw a graph, and autoflow.pending with autoflow.approve or autoflow.reject to answer approval gates. Scheduled workflows fire only once activated."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Bind sets the services after construction. Wiring needs it when the
// services depend on a Notifier built from this server.
func (s *Server) Bind(wf WorkflowService, ap ApprovalService) {
	s.workflows = wf
	s.approvals = ap
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the user to session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: executionsTool(), Handler: s.handleExecutions},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: pendingTool(), Handler: s.handlePending},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: rejectTool(), Handler: s.handleReject},
		{Tool: activateTool(), Handler: s.handleActivate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func userIDOption() mcp.ToolOption {
	return mcp.WithString("user_id", mcp.Required(), mcp.Description("ID of the user acting on the workflow"))
}

func defineTool() mcp.Tool {
	return mcp.NewTool("autoflow.define",
		mcp.WithDescription("Store a workflow graph"),
		userIDOption(),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition: name, trigger_type, frequency, schedule_config, start_node_id, end_node_ids, nodes, edges")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("autoflow.list",
		mcp.WithDescription("List the caller's workflows"),
		userIDOption(),
		mcp.WithNumber("limit", mcp.Description("Maximum number of workflows to return")),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("autoflow.executions",
		mcp.WithDescription("List the executions of a workflow, newest first"),
		userIDOption(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of executions to return")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("autoflow.run",
		mcp.WithDescription("Start a manual execution of a workflow"),
		userIDOption(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("autoflow.status",
		mcp.WithDescription("Get an execution and its event log"),
		userIDOption(),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
		mcp.WithNumber("since", mcp.Description("Only return events after this sequence number")),
	)
}

func pendingTool() mcp.Tool {
	return mcp.NewTool("autoflow.pending",
		mcp.WithDescription("List approval gates awaiting a decision"),
		userIDOption(),
		mcp.WithNumber("limit", mcp.Description("Maximum number of gates to return")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("autoflow.approve",
		mcp.WithDescription("Approve a pending action"),
		userIDOption(),
		mcp.WithString("action_id", mcp.Required(), mcp.Description("ID of the pending action")),
	)
}

func rejectTool() mcp.Tool {
	return mcp.NewTool("autoflow.reject",
		mcp.WithDescription("Reject a pending action"),
		userIDOption(),
		mcp.WithString("action_id", mcp.Required(), mcp.Description("ID of the pending action")),
	)
}

func activateTool() mcp.Tool {
	return mcp.NewTool("autoflow.activate",
		mcp.WithDescription("Activate or deactivate a scheduled workflow"),
		userIDOption(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithBoolean("active", mcp.Description("false to deactivate (default: true)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("autoflow.diagram",
		mcp.WithDescription("Draw a workflow graph as ASCII art, a Mermaid flowchart or a PNG image"),
		userIDOption(),
		mcp.WithString("workflow_id", mcp.Description("Workflow to draw; optional when execution_id is given")),
		mcp.WithString("execution_id", mcp.Description("Overlay the progress of this execution")),
		mcp.WithString("format", mcp.Required(), mcp.Enum("ascii", "mermaid", "image"), mcp.Description("Output format")),
	)
}
