// Package mcp exposes a controller as a Model Context Protocol server so automated
// controllers can read the state, send commands and resolve failures.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/jobctl"
	"github.com/aretw0/jobctl/pkg/controller"
	"github.com/aretw0/jobctl/pkg/decision"
	"github.com/aretw0/jobctl/pkg/domain"
)

// Controller is the part of controller.Controller exposed over MCP.
type Controller interface {
	Snapshot() controller.Status
	Dispatch(ctx context.Context, cmd domain.Command) error
	SelectWorkflow(w domain.Workflow) error
	MachineDisabled(ctx context.Context, reason string) error
	MachineEnabled(ctx context.Context, reason string) error
}

// DecisionsResponse lists failures waiting for a decision.
type DecisionsResponse struct {
	Requests []decision.Request `json:"requests" jsonschema_description:"Pending failures, oldest first"`
}

// Server wraps a controller and exposes it as an MCP server.
type Server struct {
	ctrl      Controller
	mailbox   *decision.Mailbox
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithMailbox enables the decision tools.
func WithMailbox(m *decision.Mailbox) Option {
	return func(s *Server) { s.mailbox = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP server instance.
func NewServer(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:      ctrl,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		mcpServer: server.NewMCPServer("jobctl-mcp", strings.TrimSpace(jobctl.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on port until ctx ends.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: job_state
	s.mcpServer.AddTool(mcp.NewTool("job_state",
		mcp.WithDescription("Get the controller state, the available commands and the current run."),
		mcp.WithOutputSchema[controller.Status](),
	), mcp.NewStructuredToolHandler(s.handleState))

	// TOOL: job_command
	s.mcpServer.AddTool(mcp.NewTool("job_command",
		mcp.WithDescription("Send an operator command: start_or_pause (aliases start, pause, resume), step or abort."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command name")),
		mcp.WithOutputSchema[controller.Status](),
	), mcp.NewStructuredToolHandler(s.handleCommand))

	// TOOL: select_workflow
	s.mcpServer.AddTool(mcp.NewTool("select_workflow",
		mcp.WithDescription("Select the workflow used by the next run (placement or paste). Only allowed while stopped."),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithOutputSchema[controller.Status](),
	), mcp.NewStructuredToolHandler(s.handleSelectWorkflow))

	// TOOL: machine_disabled
	s.mcpServer.AddTool(mcp.NewTool("machine_disabled",
		mcp.WithDescription("Report that the machine became unavailable. Any active run is aborted and start or step are refused until machine_enabled."),
		mcp.WithString("reason", mcp.Description("Why the machine is unavailable")),
		mcp.WithOutputSchema[controller.Status](),
	), mcp.NewStructuredToolHandler(s.handleMachineDisabled))

	// TOOL: machine_enabled
	s.mcpServer.AddTool(mcp.NewTool("machine_enabled",
		mcp.WithDescription("Report that the machine is available again so start and step are accepted."),
		mcp.WithString("reason", mcp.Description("Why the machine is available")),
		mcp.WithOutputSchema[controller.Status](),
	), mcp.NewStructuredToolHandler(s.handleMachineEnabled))

	if s.mailbox == nil {
		return
	}

	// TOOL: list_decisions
	s.mcpServer.AddTool(mcp.NewTool("list_decisions",
		mcp.WithDescription("List operation failures waiting for a retry, skip or pause decision."),
		mcp.WithOutputSchema[DecisionsResponse](),
	), mcp.NewStructuredToolHandler(s.handleListDecisions))

	// TOOL: resolve_decision
	s.mcpServer.AddTool(mcp.NewTool("resolve_decision",
		mcp.WithDescription("Resolve a pending failure with one of its offered options."),
		mcp.WithString("decision", mcp.Required(), mcp.Description("retry, skip or pause")),
		mcp.WithString("id", mcp.Description("Request ID; the oldest pending request when omitted")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if err := s.resolve(args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("resolved"), nil
	})
}

func (s *Server) handleState(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (controller.Status, error) {
	return s.ctrl.Snapshot(), nil
}

func (s *Server) handleCommand(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (controller.Status, error) {
	name, _ := args["command"].(string)
	cmd, err := domain.ParseCommand(name)
	if err != nil {
		return controller.Status{}, err
	}
	if err := s.ctrl.Dispatch(ctx, cmd); err != nil {
		s.logger.Warn("MCP command rejected", "command", cmd, "err", err)
		return controller.Status{}, fmt.Errorf("%s: %w", cmd, err)
	}
	return s.ctrl.Snapshot(), nil
}

func (s *Server) handleSelectWorkflow(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (controller.Status, error) {
	name, _ := args["workflow"].(string)
	w, err := domain.ParseWorkflow(name)
	if err != nil {
		return controller.Status{}, err
	}
	if err := s.ctrl.SelectWorkflow(w); err != nil {
		return controller.Status{}, err
	}
	return s.ctrl.Snapshot(), nil
}

func (s *Server) handleMachineDisabled(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (controller.Status, error) {
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "reported over mcp"
	}
	if err := s.ctrl.MachineDisabled(ctx, reason); err != nil {
		return controller.Status{}, err
	}
	return s.ctrl.Snapshot(), nil
}

func (s *Server) handleMachineEnabled(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (controller.Status, error) {
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "reported over mcp"
	}
	if err := s.ctrl.MachineEnabled(ctx, reason); err != nil {
		return controller.Status{}, err
	}
	return s.ctrl.Snapshot(), nil
}

func (s *Server) handleListDecisions(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (DecisionsResponse, error) {
	return DecisionsResponse{Requests: s.mailbox.Pending()}, nil
}

func (s *Server) resolve(args map[string]any) error {
	name, _ := args["decision"].(string)
	d, err := domain.ParseDecision(name)
	if err != nil {
		return err
	}
	if id, _ := args["id"].(string); id != "" {
		return s.mailbox.Resolve(id, d)
	}
	return s.mailbox.ResolveOldest(d)
}

func (s *Server) registerResources() {
	// EXPOSE: jobctl://transitions
	s.mcpServer.AddResource(mcp.NewResource("jobctl://transitions", "Execution control transition table",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(controller.Transitions())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "jobctl://transitions",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	// EXPOSE: jobctl://state
	s.mcpServer.AddResource(mcp.NewResource("jobctl://state", "Current controller state",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.ctrl.Snapshot())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "jobctl://state",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
