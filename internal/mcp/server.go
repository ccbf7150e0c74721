package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"opzenix/backend/internal/engine"
	"opzenix/backend/internal/repository"
	"opzenix/backend/pkg/models"
)

// Server exposes the workflow service over the Model Context Protocol so
// agent tooling can list, trigger, and inspect automations.
type Server struct {
	mcpServer   *server.MCPServer
	workflows   *engine.Service
	definitions repository.DefinitionStore
	runs        repository.RunStore
}

// NewServer creates the MCP server and registers its tools.
func NewServer(workflows *engine.Service, definitions repository.DefinitionStore, runs repository.RunStore) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"OpZenix Workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflows:   workflows,
		definitions: definitions,
		runs:        runs,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the workflow definitions of a tenant"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant to list workflows for")),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"trigger_workflow",
			mcp.WithDescription("Trigger a workflow run and wait for its outcome"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant owning the workflow")),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow definition to run")),
			mcp.WithObject("input_data", mcp.Description("Input passed to the run's execution context")),
		),
		s.handleTriggerWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_run",
			mcp.WithDescription("Fetch the status and output of a workflow run"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant owning the run")),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run to fetch")),
		),
		s.handleGetRun,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}

	defs, err := s.definitions.ListDefinitions(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(defs)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleTriggerWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	inputData, _ := args["input_data"].(map[string]interface{})

	result, err := s.workflows.Trigger(ctx, engine.TriggerRequest{
		TenantID:    tenantID,
		WorkflowID:  workflowID,
		TriggeredBy: "mcp",
		TriggerType: models.TriggerEvent,
		InputData:   inputData,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to trigger workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	run, err := s.runs.GetRun(ctx, tenantID, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get run: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers mounts the MCP SSE endpoints onto the given mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
