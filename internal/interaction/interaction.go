// Package interaction pauses a playbook on a human response and resumes it
// when the response arrives.
//
// A state that reaches out to a person calls Init with its execution context
// to record the continuation token under a message id, embeds the message id
// in what it sends, and lets the playbook wait. The component receiving the
// reply calls End with that message id to save the response and resume the
// execution exactly once.
package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"

	"github.com/rendis/soarkit/internal/ids"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/metrics"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/internal/trigger"
	"github.com/rendis/soarkit/pkg/schema"
)

// MessageIDLength is the length of generated message ids.
const MessageIDLength = 6

// Deps holds the collaborators of a Service.
type Deps struct {
	Messages   store.MessageStore
	Executions store.ExecutionStore
	Trigger    trigger.Trigger
	Audit      store.AuditStore
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Service runs the human interaction workflow.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	return &Service{deps: deps, logger: logging.OrDiscard(deps.Logger)}
}

// Sender delivers an outbound message carrying messageID and returns
// whatever the transport reports back.
type Sender func(ctx context.Context, messageID string) (map[string]any, error)

// Init records the continuation token of the state described by root and
// returns the message id to embed in the outbound message. root is the
// execution context a state handler sees: it must carry task_token,
// state_name, execution_id and artifacts.event.investigation_id.
// An empty messageID is generated.
func (s *Service) Init(ctx context.Context, root map[string]any, messageDraft, messageID string) (string, error) {
	investigationID, err := investigationOf(root)
	if err != nil {
		return "", s.fail(ctx, err)
	}
	fields := map[string]string{}
	for _, key := range []string{schema.KeyExecutionID, schema.KeyStateName, schema.KeyTaskToken} {
		v, _ := root[key].(string)
		if v == "" {
			return "", s.fail(ctx, missingKey(key))
		}
		fields[key] = v
	}
	if messageID == "" {
		messageID = ids.GenID(MessageIDLength)
	}

	msg := &schema.ResponseMessage{
		MessageID:       messageID,
		Datetime:        ids.Now(),
		InvestigationID: investigationID,
		Message:         messageDraft,
		ExecutionID:     fields[schema.KeyExecutionID],
		Receiver:        fields[schema.KeyStateName],
		AwaitToken:      fields[schema.KeyTaskToken],
	}
	if err := s.deps.Messages.PutMessage(ctx, msg); err != nil {
		return "", s.fail(ctx, schema.NewErrorf(schema.ErrCodeBootstrap,
			"Failed to initialize human response workflow because %s", err).WithCause(err))
	}

	logging.LogWith(logging.WithIDs(ctx, msg.ExecutionID, msg.Receiver), s.logger).
		InfoContext(ctx, "human interaction initialized", slog.String("message_id", messageID))
	return messageID, nil
}

// DispatchOutbound initializes an interaction and hands the message id to
// send. It returns {response: <send result>, message_id}. When root carries
// no task_token and the trigger is a trigger.TokenIssuer, a token is issued
// for the execution and state named in root.
func (s *Service) DispatchOutbound(ctx context.Context, root map[string]any, messageDraft string, send Sender) (map[string]any, error) {
	root, err := s.withTaskToken(ctx, root)
	if err != nil {
		return nil, err
	}
	messageID, err := s.Init(ctx, root, messageDraft, "")
	if err != nil {
		return nil, err
	}
	resp, err := send(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"response": resp, "message_id": messageID}, nil
}

func (s *Service) withTaskToken(ctx context.Context, root map[string]any) (map[string]any, error) {
	if v, _ := root[schema.KeyTaskToken].(string); v != "" {
		return root, nil
	}
	issuer, ok := s.deps.Trigger.(trigger.TokenIssuer)
	if !ok {
		return root, nil
	}
	executionID, _ := root[schema.KeyExecutionID].(string)
	stateName, _ := root[schema.KeyStateName].(string)
	if executionID == "" || stateName == "" {
		// Init reports the missing key.
		return root, nil
	}
	token, err := issuer.IssueToken(ctx, executionID, stateName)
	if err != nil {
		return nil, s.fail(ctx, schema.NewErrorf(schema.ErrCodeBootstrap,
			"Failed to initialize human response workflow because %s", err).WithCause(err))
	}
	withToken := maps.Clone(root)
	withToken[schema.KeyTaskToken] = token
	return withToken, nil
}

// End completes the interaction identified by messageID with response. It
// saves response as the receiving state's result, resumes the waiting
// execution and marks the message fulfilled. Every failure carries one of
// the interaction error codes.
func (s *Service) End(ctx context.Context, messageID string, response map[string]any) (err error) {
	defer func() { s.deps.Metrics.ResponseDelivered(schema.CodeOf(err)) }()

	msg, err := s.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return s.fail(ctx, schema.NewErrorf(schema.ErrCodeMessageNotFound, "message_id %q not found", messageID))
		}
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeMessageQueryFailed, "failed to query message_id %q", messageID).
			WithCause(err).WithDetails(map[string]any{"error": err.Error()}))
	}
	switch {
	case msg.Fulfilled:
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeMessageUsed, "message_id %q has already been used", messageID))
	case msg.AwaitToken == "":
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeAwaitTokenNotFound, "no await token recorded for message_id %q", messageID))
	case msg.ExecutionID == "":
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeExecutionIDNotFound, "no execution id recorded for message_id %q", messageID))
	case msg.Receiver == "":
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeReceiverNotFound, "no receiver recorded for message_id %q", messageID))
	}

	ctx = logging.WithIDs(ctx, msg.ExecutionID, msg.Receiver)
	rec, err := s.deps.Executions.GetExecution(ctx, msg.ExecutionID)
	if err != nil || rec.Results == nil {
		se := schema.NewErrorf(schema.ErrCodeExecutionResultsMissing, "no execution results for execution %q", msg.ExecutionID)
		if err != nil {
			se = se.WithCause(err)
		}
		return s.fail(ctx, se)
	}

	if response == nil {
		response = map[string]any{}
	}
	if err := s.deps.Executions.SaveStateResults(ctx, msg.ExecutionID, msg.Receiver, response, nil); err != nil {
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeDeliveryFailed,
			"failed to save response of %q: %s", msg.Receiver, err).WithCause(err))
	}

	output := maps.Clone(rec.Results)
	output[schema.KeyExecutionID] = msg.ExecutionID
	nested := map[string]any{msg.Receiver: response}
	maps.Copy(nested, response)
	output[schema.KeyResults] = nested

	if err := s.deps.Trigger.SendSuccess(ctx, msg.AwaitToken, output); err != nil {
		if trigger.IsDeliveryError(err) {
			return s.fail(ctx, err)
		}
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeDeliveryFailed, "failed to deliver response: %s", err).
			WithCause(err).WithDetails(map[string]any{"error": err.Error()}))
	}

	if err := s.deps.Messages.FulfillMessage(ctx, messageID, response); err != nil {
		return s.fail(ctx, schema.NewErrorf(schema.ErrCodeMessageUpdateFailed,
			"failed to mark message_id %q fulfilled", messageID).
			WithCause(err).WithDetails(map[string]any{"error": err.Error()}))
	}

	s.audit(ctx, msg, response)
	logging.LogWith(ctx, s.logger).InfoContext(ctx, "human response delivered", slog.String("message_id", messageID))
	return nil
}

func (s *Service) audit(ctx context.Context, msg *schema.ResponseMessage, response map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	raw, _ := json.Marshal(map[string]any{"message_id": msg.MessageID, "response": response})
	entry := &store.AuditEntry{
		ExecutionID: msg.ExecutionID,
		Kind:        store.AuditResponseDelivered,
		StateName:   msg.Receiver,
		Payload:     raw,
	}
	if err := s.deps.Audit.AppendAudit(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit append failed", slog.String("error", err.Error()))
	}
}

func (s *Service) fail(ctx context.Context, err error) error {
	var se *schema.SoarkitError
	if errors.As(err, &se) {
		return logging.LogThenError(ctx, logging.LogWith(ctx, s.logger), se)
	}
	logging.LogWith(ctx, s.logger).ErrorContext(ctx, err.Error())
	return err
}

func investigationOf(root map[string]any) (string, error) {
	artifacts, ok := root[schema.KeyArtifacts].(map[string]any)
	if !ok {
		return "", missingKey(schema.KeyArtifacts)
	}
	event, ok := artifacts["event"].(map[string]any)
	if !ok {
		return "", missingKey("event")
	}
	id, _ := event["investigation_id"].(string)
	if id == "" {
		return "", missingKey("investigation_id")
	}
	return id, nil
}

func missingKey(key string) *schema.SoarkitError {
	return schema.NewErrorf(schema.ErrCodeBootstrap,
		"Failed to initialize human response workflow because '%s' does not exist in the execution_context", key).
		WithDetails(map[string]any{"key": key})
}
