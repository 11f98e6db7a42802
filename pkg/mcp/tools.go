package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

// handleCreateEvents creates the events of a batch and starts their playbook.
func (s *SoarkitServer) handleCreateEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.events == nil {
		return unavailable("event service"), nil
	}
	args := req.GetArguments()
	if _, err := req.RequireString("event_type"); err != nil {
		return mcp.NewToolResultError("event_type is required"), nil
	}

	batch, errResult := s.decodeBatch(args)
	if errResult != nil {
		return errResult, nil
	}

	result, err := s.events.CreateBatch(ctx, batch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event creation failed: %v", err)), nil
	}
	return marshalResult(result)
}

// handleCheckBatch validates a batch and reports every issue found.
func (s *SoarkitServer) handleCheckBatch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.validator == nil {
		return unavailable("validator"), nil
	}
	batch := mcp.ParseStringMap(req, "batch", nil)
	if batch == nil {
		return mcp.NewToolResultError("batch is required"), nil
	}

	var result *schema.ValidationResult
	if s.filter != nil {
		result = s.validator.CheckBatch(batch, s.filter)
	} else {
		result = s.validator.CheckBatch(batch, nil)
	}
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleRender renders a template against a root object.
func (s *SoarkitServer) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.engine == nil {
		return unavailable("template engine"), nil
	}
	tpl, err := req.RequireString("template")
	if err != nil {
		return mcp.NewToolResultError("template is required"), nil
	}
	root := mcp.ParseStringMap(req, "context", map[string]any{})

	out, renderErr := s.engine.Render(ctx, tpl, root)
	if renderErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", renderErr)), nil
	}
	return marshalResult(map[string]any{"result": out})
}

// handleResolve resolves state parameters against a root object.
func (s *SoarkitServer) handleResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.resolver == nil {
		return unavailable("resolver"), nil
	}
	params := mcp.ParseStringMap(req, "parameters", nil)
	if params == nil {
		return mcp.NewToolResultError("parameters is required"), nil
	}
	root := mcp.ParseStringMap(req, "context", map[string]any{})

	resolved, err := s.resolver.ResolveAll(ctx, params, root)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"parameters": resolved})
}

// handleSubscribe registers the calling session as a responder.
func (s *SoarkitServer) handleSubscribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	responder, err := req.RequireString("responder")
	if err != nil {
		return mcp.NewToolResultError("responder is required"), nil
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("subscribing requires a client session"), nil
	}
	s.sessions.Register(responder, session.SessionID())
	return marshalResult(map[string]any{"ok": true, "responder": responder})
}

// handleRequestResponse records an interaction and notifies the responder.
func (s *SoarkitServer) handleRequestResponse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.interaction == nil {
		return unavailable("interaction service"), nil
	}
	root := mcp.ParseStringMap(req, "context", nil)
	if root == nil {
		return mcp.NewToolResultError("context is required"), nil
	}
	responder, err := req.RequireString("responder")
	if err != nil {
		return mcp.NewToolResultError("responder is required"), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required"), nil
	}

	out, dispatchErr := s.interaction.DispatchOutbound(ctx, root, message, s.notifier.Sender(responder, message))
	if dispatchErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("interaction request failed: %v", dispatchErr)), nil
	}
	return marshalResult(out)
}

// handleRespond completes a human interaction.
func (s *SoarkitServer) handleRespond(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.interaction == nil {
		return unavailable("interaction service"), nil
	}
	messageID, err := req.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError("message_id is required"), nil
	}
	response := mcp.ParseStringMap(req, "response", nil)
	if response == nil {
		return mcp.NewToolResultError("response is required"), nil
	}

	if endErr := s.interaction.End(ctx, messageID, response); endErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("response delivery failed: %v", endErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "message_id": messageID})
}

// handleInvestigation opens or closes an investigation.
func (s *SoarkitServer) handleInvestigation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.events == nil {
		return unavailable("event service"), nil
	}
	investigationID, err := req.RequireString("investigation_id")
	if err != nil {
		return mcp.NewToolResultError("investigation_id is required"), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required"), nil
	}

	if setErr := s.events.SetInvestigationStatus(ctx, investigationID, status); setErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status update failed: %v", setErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "investigation_id": investigationID, "status": status})
}

// handleSchedule stores a batch to be created on a cron schedule.
func (s *SoarkitServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return unavailable("scheduler"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	raw := mcp.ParseStringMap(req, "batch", nil)
	if raw == nil {
		return mcp.NewToolResultError("batch is required"), nil
	}

	batch, errResult := s.decodeBatch(raw)
	if errResult != nil {
		return errResult, nil
	}
	job, schedErr := s.scheduler.Schedule(ctx, name, cronExpr, batch)
	if schedErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", schedErr)), nil
	}
	return marshalResult(job)
}

// handleSaveBlob stores text for vault references.
func (s *SoarkitServer) handleSaveBlob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.blobs == nil {
		return unavailable("blob service"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content is required"), nil
	}
	saved, saveErr := s.blobs.Save(ctx, content, req.GetString("prefix", ""))
	if saveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save failed: %v", saveErr)), nil
	}
	return marshalResult(saved)
}

// handleQuery lists events, messages, schedules or an execution's records.
func (s *SoarkitServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return unavailable("store"), nil
	}
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "events":
		return s.queryEvents(ctx, filter)
	case "messages":
		return s.queryMessages(ctx, filter)
	case "execution":
		return s.queryExecution(ctx, filter)
	case "audit":
		return s.queryAudit(ctx, filter)
	case "schedules":
		return s.querySchedules(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *SoarkitServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		InvestigationID: extractString(filter, "investigation_id"),
		EventType:       extractString(filter, "event_type"),
		Status:          extractString(filter, "status"),
		Limit:           extractInt(filter, "limit", 100),
	}
	events, err := s.store.ListEvents(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *SoarkitServer) queryMessages(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	mf := store.MessageFilter{
		ExecutionID: extractString(filter, "execution_id"),
		Limit:       extractInt(filter, "limit", 100),
	}
	if fulfilled, ok := filter["fulfilled"].(bool); ok {
		mf.Fulfilled = &fulfilled
	}
	messages, err := s.store.ListMessages(ctx, mf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"messages": messages})
}

func (s *SoarkitServer) queryExecution(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	executionID := extractString(filter, "execution_id")
	if executionID == "" {
		return mcp.NewToolResultError("execution query requires 'execution_id' in filter"), nil
	}
	rec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(rec)
}

func (s *SoarkitServer) queryAudit(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	executionID := extractString(filter, "execution_id")
	if executionID == "" {
		return mcp.NewToolResultError("audit query requires 'execution_id' in filter"), nil
	}
	entries, err := s.store.ListAudit(ctx, executionID, int64(extractInt(filter, "since", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"audit": entries})
}

func (s *SoarkitServer) querySchedules(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sf := store.ScheduledBatchFilter{Limit: extractInt(filter, "limit", 50)}
	if enabled, ok := filter["enabled"].(bool); ok {
		sf.Enabled = &enabled
	}
	jobs, err := s.store.ListScheduledBatches(ctx, sf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"schedules": jobs})
}

// --- Internal helpers ---

// decodeBatch validates raw against the batch schema and decodes it.
func (s *SoarkitServer) decodeBatch(raw map[string]any) (schema.EventBatch, *mcp.CallToolResult) {
	var batch schema.EventBatch
	if s.validator != nil {
		if err := s.validator.ValidateBatch(raw); err != nil {
			return batch, mcp.NewToolResultError(fmt.Sprintf("invalid batch: %v", err))
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return batch, mcp.NewToolResultError(fmt.Sprintf("invalid batch: %v", err))
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, mcp.NewToolResultError(fmt.Sprintf("invalid batch: %v", err))
	}
	return batch, nil
}

func unavailable(what string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s is not configured", what))
}

func extractString(filter map[string]any, key string) string {
	v, _ := filter[key].(string)
	return v
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
