package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/autoflow/internal/diagram"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// handleDefine validates and stores a workflow definition.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Round-trip through JSON to get a typed WorkflowDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	out, err := s.workflows.Define(ctx, userID, &def)
	if err != nil {
		return errorResult("define failed", err), nil
	}
	return marshalResult(out)
}

// handleList lists the caller's workflows.
func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	wfs, err := s.workflows.List(ctx, userID, req.GetInt("limit", 50))
	if err != nil {
		return errorResult("list failed", err), nil
	}
	return marshalResult(map[string]any{"workflows": wfs})
}

// handleExecutions lists the runs of one workflow.
func (s *Server) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	execs, listErr := s.workflows.Executions(ctx, workflowID, userID, req.GetInt("limit", 20))
	if listErr != nil {
		return errorResult("executions query failed", listErr), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

// handleRun starts a manual execution.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	exec, runErr := s.workflows.Run(ctx, workflowID, userID)
	if runErr != nil {
		return errorResult("run failed", runErr), nil
	}
	return marshalResult(exec)
}

// handleStatus returns an execution with its events.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	status, statusErr := s.workflows.Status(ctx, executionID, userID, int64(req.GetInt("since", 0)))
	if statusErr != nil {
		return errorResult("status query failed", statusErr), nil
	}
	return marshalResult(status)
}

// handlePending lists the caller's open approval gates.
func (s *Server) handlePending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	actions, err := s.approvals.Pending(ctx, userID, req.GetInt("limit", 50))
	if err != nil {
		return errorResult("pending query failed", err), nil
	}
	return marshalResult(map[string]any{"actions": actions})
}

// handleApprove approves a pending action.
func (s *Server) handleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	actionID, err := req.RequireString("action_id")
	if err != nil {
		return mcp.NewToolResultError("action_id is required"), nil
	}

	action, approveErr := s.approvals.Approve(ctx, actionID, userID)
	if approveErr != nil {
		return errorResult("approve failed", approveErr), nil
	}
	return marshalResult(action)
}

// handleReject rejects a pending action.
func (s *Server) handleReject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	actionID, err := req.RequireString("action_id")
	if err != nil {
		return mcp.NewToolResultError("action_id is required"), nil
	}

	action, rejectErr := s.approvals.Reject(ctx, actionID, userID)
	if rejectErr != nil {
		return errorResult("reject failed", rejectErr), nil
	}
	return marshalResult(action)
}

// handleActivate toggles whether the dispatcher may fire a workflow.
func (s *Server) handleActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	toggle := s.workflows.Activate
	if !req.GetBool("active", true) {
		toggle = s.workflows.Deactivate
	}
	wf, toggleErr := toggle(ctx, workflowID, userID)
	if toggleErr != nil {
		return errorResult("activation failed", toggleErr), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": wf.ID,
		"is_active":   wf.IsActive,
	})
}

// handleDiagram draws a workflow, with an execution's progress overlaid
// when execution_id is given.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.requireUser(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	workflowID := req.GetString("workflow_id", "")
	executionID := req.GetString("execution_id", "")
	if workflowID == "" && executionID == "" {
		return mcp.NewToolResultError("workflow_id or execution_id is required"), nil
	}

	var (
		exec   *store.Execution
		events []*store.Event
	)
	if executionID != "" {
		status, statusErr := s.workflows.Status(ctx, executionID, userID, 0)
		if statusErr != nil {
			return errorResult("execution lookup failed", statusErr), nil
		}
		if workflowID != "" && workflowID != status.Execution.WorkflowID {
			return mcp.NewToolResultError(fmt.Sprintf("execution %s does not belong to workflow %s", executionID, workflowID)), nil
		}
		exec, events = status.Execution, status.Events
		workflowID = exec.WorkflowID
	}

	wf, wfErr := s.workflows.Get(ctx, workflowID, userID)
	if wfErr != nil {
		return errorResult("workflow lookup failed", wfErr), nil
	}
	def := wf.Definition()
	model, buildErr := diagram.Build(&def, exec, events)
	if buildErr != nil {
		return errorResult("diagram build failed", buildErr), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(wf.Name, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

// requireUser reads user_id and maps it to the calling session for
// approval notifications.
func (s *Server) requireUser(ctx context.Context, req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	userID, err := req.RequireString("user_id")
	if err != nil || userID == "" {
		return "", mcp.NewToolResultError("user_id is required")
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(userID, session.SessionID())
	}
	return userID, nil
}

// errorResult renders err as a tool error, keeping a FlowError's code.
func errorResult(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
