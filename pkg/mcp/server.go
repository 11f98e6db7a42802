package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/soarkit/internal/blobs"
	"github.com/rendis/soarkit/internal/events"
	"github.com/rendis/soarkit/internal/expressions"
	"github.com/rendis/soarkit/internal/interaction"
	"github.com/rendis/soarkit/internal/resolver"
	"github.com/rendis/soarkit/internal/scheduler"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/internal/validation"
)

// SoarkitServerDeps holds the dependencies for creating a SoarkitServer.
type SoarkitServerDeps struct {
	Events      *events.Service
	Interaction *interaction.Service
	Resolver    *resolver.Resolver
	Engine      expressions.Engine
	Validator   *validation.JSONSchemaValidator
	Filter      *expressions.CELFilter
	Scheduler   *scheduler.Scheduler
	Blobs       *blobs.Service
	Store       store.Store
	Logger      *slog.Logger
}

// SoarkitServer wraps an MCP server with soarkit tool handlers.
type SoarkitServer struct {
	events      *events.Service
	interaction *interaction.Service
	resolver    *resolver.Resolver
	engine      expressions.Engine
	validator   *validation.JSONSchemaValidator
	filter      *expressions.CELFilter
	scheduler   *scheduler.Scheduler
	blobs       *blobs.Service
	store       store.Store
	sessions    *SessionRegistry
	notifier    *MCPNotifier
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewSoarkitServer creates a new SoarkitServer with all tools registered.
func NewSoarkitServer(deps SoarkitServerDeps) *SoarkitServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &SoarkitServer{
		events:      deps.Events,
		interaction: deps.Interaction,
		resolver:    deps.Resolver,
		engine:      deps.Engine,
		validator:   deps.Validator,
		filter:      deps.Filter,
		scheduler:   deps.Scheduler,
		blobs:       deps.Blobs,
		store:       deps.Store,
		sessions:    NewSessionRegistry(),
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"soarkit",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(s.hooks()),
		server.WithInstructions("Soarkit creates security events and starts the playbooks that investigate them. Use soarkit.create_events to submit detections, soarkit.check_batch to validate a batch first, soarkit.render and soarkit.resolve to try parameter templates, soarkit.subscribe to receive human interaction requests, soarkit.respond to answer them, soarkit.investigation to open or close an investigation, soarkit.schedule to run a batch on a cron schedule, soarkit.save_blob to store large text for vault references, and soarkit.query to list events, messages, executions and schedules."),
	)

	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	mcpSrv.AddTools(s.tools()...)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SoarkitServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SoarkitServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns the notifier that delivers interaction requests to
// subscribed clients.
func (s *SoarkitServer) Notifier() *MCPNotifier {
	return s.notifier
}

// hooks drops responder subscriptions of sessions that go away.
func (s *SoarkitServer) hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})
	return hooks
}

func (s *SoarkitServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createEventsTool(), Handler: s.handleCreateEvents},
		{Tool: checkBatchTool(), Handler: s.handleCheckBatch},
		{Tool: renderTool(), Handler: s.handleRender},
		{Tool: resolveTool(), Handler: s.handleResolve},
		{Tool: subscribeTool(), Handler: s.handleSubscribe},
		{Tool: requestResponseTool(), Handler: s.handleRequestResponse},
		{Tool: respondTool(), Handler: s.handleRespond},
		{Tool: investigationTool(), Handler: s.handleInvestigation},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: saveBlobTool(), Handler: s.handleSaveBlob},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func createEventsTool() mcp.Tool {
	return mcp.NewTool("soarkit.create_events",
		mcp.WithDescription("Create events from a batch of detections and start their playbook"),
		mcp.WithString("event_type", mcp.Required(), mcp.Description("Type shared by every event of the batch")),
		mcp.WithArray("details", mcp.Description("One object per detection (default: a single empty detection)"), mcp.Items(map[string]any{"type": "object"})),
		mcp.WithArray("dedup_keys", mcp.Description("Detail fields identifying duplicates"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("playbook", mcp.Description("Playbook to start for every non-duplicate event")),
		mcp.WithString("created_at", mcp.Description("ISO8601 UTC timestamp (default: now)")),
		mcp.WithObject("data_types", mcp.Description("Type hints for detail fields")),
		mcp.WithObject("event_meta", mcp.Description("Free-form metadata")),
		mcp.WithString("filter", mcp.Description("CEL expression; details for which it is false are skipped")),
	)
}

func checkBatchTool() mcp.Tool {
	return mcp.NewTool("soarkit.check_batch",
		mcp.WithDescription("Validate an event batch without creating events"),
		mcp.WithObject("batch", mcp.Required(), mcp.Description("Event batch to validate")),
	)
}

func renderTool() mcp.Tool {
	return mcp.NewTool("soarkit.render",
		mcp.WithDescription("Render a template against an execution context"),
		mcp.WithString("template", mcp.Required(), mcp.Description("Template text, e.g. {{context.artifacts.event.details.username}}")),
		mcp.WithObject("context", mcp.Description("Root object exposed to the template as context")),
	)
}

func resolveTool() mcp.Tool {
	return mcp.NewTool("soarkit.resolve",
		mcp.WithDescription("Resolve state parameters ($. paths, vault: references and templates) against an execution context"),
		mcp.WithObject("parameters", mcp.Required(), mcp.Description("Parameters to resolve")),
		mcp.WithObject("context", mcp.Description("Root object the references point into")),
	)
}

func subscribeTool() mcp.Tool {
	return mcp.NewTool("soarkit.subscribe",
		mcp.WithDescription("Receive human interaction requests addressed to a responder on this session"),
		mcp.WithString("responder", mcp.Required(), mcp.Description("Responder name to subscribe as")),
	)
}

func requestResponseTool() mcp.Tool {
	return mcp.NewTool("soarkit.request_response",
		mcp.WithDescription("Pause a playbook state on a human response and notify the subscribed responder"),
		mcp.WithObject("context", mcp.Required(), mcp.Description("Execution context of the waiting state (execution_id, state_name, artifacts, optional task_token)")),
		mcp.WithString("responder", mcp.Required(), mcp.Description("Responder to notify")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message shown to the responder")),
	)
}

func respondTool() mcp.Tool {
	return mcp.NewTool("soarkit.respond",
		mcp.WithDescription("Answer a human interaction request and resume its playbook"),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("ID of the interaction request")),
		mcp.WithObject("response", mcp.Required(), mcp.Description("Response payload")),
	)
}

func investigationTool() mcp.Tool {
	return mcp.NewTool("soarkit.investigation",
		mcp.WithDescription("Open or close an investigation"),
		mcp.WithString("investigation_id", mcp.Required(), mcp.Description("ID of the investigation")),
		mcp.WithString("status", mcp.Required(), mcp.Enum("open", "closed"), mcp.Description("New status")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("soarkit.schedule",
		mcp.WithDescription("Create events from a batch on a cron schedule"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Schedule name")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("5-field cron expression")),
		mcp.WithObject("batch", mcp.Required(), mcp.Description("Event batch to create on every run")),
	)
}

func saveBlobTool() mcp.Tool {
	return mcp.NewTool("soarkit.save_blob",
		mcp.WithDescription("Save text as a blob that templates can read back with vault('<file_id>')"),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text to store")),
		mcp.WithString("prefix", mcp.Description("Prefix of the generated file id")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("soarkit.query",
		mcp.WithDescription("Query events, messages, executions, audit trails or schedules"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("events", "messages", "execution", "audit", "schedules"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (investigation_id, event_type, status, execution_id, fulfilled, enabled, limit)")),
	)
}
