package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/internal/trigger"
	"github.com/rendis/soarkit/pkg/schema"
)

const (
	executionID     = "mock_execution_id"
	investigationID = "mock_investigation_id"
	stateName       = "HelloWorld"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fixture struct {
	store   *store.LibSQLStore
	trigger *trigger.StoreTrigger
	svc     *Service
	token   string
}

func newFixture(t *testing.T, cfg trigger.Config) *fixture {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()

	event := map[string]any{
		"id":               "mock_event_id",
		"event_type":       "Test Human Interaction Workflow",
		"investigation_id": investigationID,
		"details":          map[string]any{"some": "random text"},
	}
	require.NoError(t, s.CreateExecution(ctx, &schema.ExecutionRecord{
		ExecutionID:     executionID,
		Datetime:        "2021-10-11T15:45:27.000000Z",
		InvestigationID: investigationID,
		Results:         schema.NewExecutionDocument(executionID, event),
	}))

	tr := trigger.NewStoreTrigger(s, cfg, nil)
	token, err := tr.IssueToken(ctx, executionID, stateName)
	require.NoError(t, err)

	return &fixture{
		store:   s,
		trigger: tr,
		token:   token,
		svc:     NewService(Deps{Messages: s, Executions: s, Trigger: tr, Audit: s}),
	}
}

func (f *fixture) root() map[string]any {
	return map[string]any{
		"execution_id": executionID,
		"task_token":   f.token,
		"state_name":   stateName,
		"artifacts": map[string]any{
			"execution_id": executionID,
			"event":        map[string]any{"investigation_id": investigationID},
		},
	}
}

func TestInit(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()

	messageID, err := f.svc.Init(ctx, f.root(), "Hello, World", "")
	require.NoError(t, err)
	assert.Len(t, messageID, MessageIDLength)

	msg, err := f.store.GetMessage(ctx, messageID)
	require.NoError(t, err)
	assert.Equal(t, investigationID, msg.InvestigationID)
	assert.Equal(t, executionID, msg.ExecutionID)
	assert.Equal(t, stateName, msg.Receiver)
	assert.Equal(t, f.token, msg.AwaitToken)
	assert.Equal(t, "Hello, World", msg.Message)
	assert.False(t, msg.Fulfilled)

	custom, err := f.svc.Init(ctx, f.root(), "again", "custom-id")
	require.NoError(t, err)
	assert.Equal(t, "custom-id", custom)
}

func TestInit_MissingKeys(t *testing.T) {
	f := newFixture(t, trigger.Config{})

	for _, key := range []string{"task_token", "state_name", "execution_id", "artifacts"} {
		t.Run(key, func(t *testing.T) {
			root := f.root()
			delete(root, key)
			_, err := f.svc.Init(context.Background(), root, "msg", "")
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeBootstrap))
			assert.Contains(t, err.Error(), key)
		})
	}

	root := f.root()
	root["artifacts"] = map[string]any{"event": map[string]any{}}
	_, err := f.svc.Init(context.Background(), root, "msg", "")
	assert.Contains(t, err.Error(), "investigation_id")
}

func TestEnd(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()

	messageID, err := f.svc.Init(ctx, f.root(), "Hello, World", "")
	require.NoError(t, err)

	response := map[string]any{"response": "Hello, back"}
	require.NoError(t, f.svc.End(ctx, messageID, response))

	rec, err := f.store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	results := rec.Results["results"].(map[string]any)
	assert.Equal(t, response, results[stateName])
	assert.Equal(t, response, results["_Last_Saved_Results"])

	tok, err := f.store.GetTaskToken(ctx, f.token)
	require.NoError(t, err)
	require.NotNil(t, tok.ConsumedAt)
	var output map[string]any
	require.NoError(t, json.Unmarshal(tok.Output, &output))
	assert.Equal(t, executionID, output["execution_id"])
	assert.Equal(t, map[string]any{
		stateName:  map[string]any{"response": "Hello, back"},
		"response": "Hello, back",
	}, output["results"])
	assert.Contains(t, output, "artifacts")
	assert.Contains(t, output, "errors")

	msg, err := f.store.GetMessage(ctx, messageID)
	require.NoError(t, err)
	assert.True(t, msg.Fulfilled)
	assert.Equal(t, response, msg.ResponsePayload)
	assert.NotNil(t, msg.FulfilledAt)

	audit, err := f.store.ListAudit(ctx, executionID, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, store.AuditResponseDelivered, audit[0].Kind)
	assert.Equal(t, stateName, audit[0].StateName)

	err = f.svc.End(ctx, messageID, response)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMessageUsed))
}

func TestEnd_MessageChecks(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()

	put := func(msg schema.ResponseMessage) string {
		require.NoError(t, f.store.PutMessage(ctx, &msg))
		return msg.MessageID
	}

	tests := []struct {
		name      string
		messageID string
		code      string
	}{
		{"unknown", "nope", schema.ErrCodeMessageNotFound},
		{"no token", put(schema.ResponseMessage{MessageID: "m1", ExecutionID: executionID, Receiver: stateName}), schema.ErrCodeAwaitTokenNotFound},
		{"no execution", put(schema.ResponseMessage{MessageID: "m2", AwaitToken: f.token, Receiver: stateName}), schema.ErrCodeExecutionIDNotFound},
		{"no receiver", put(schema.ResponseMessage{MessageID: "m3", AwaitToken: f.token, ExecutionID: executionID}), schema.ErrCodeReceiverNotFound},
		{"no results", put(schema.ResponseMessage{MessageID: "m4", AwaitToken: f.token, ExecutionID: "gone", Receiver: stateName}), schema.ErrCodeExecutionResultsMissing},
		{"fulfilled", put(schema.ResponseMessage{MessageID: "m5", Fulfilled: true}), schema.ErrCodeMessageUsed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.End(ctx, tt.messageID, map[string]any{"ok": true})
			require.Error(t, err)
			assert.Equal(t, tt.code, schema.CodeOf(err))
		})
	}
}

func TestEnd_TokenAlreadyUsed(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()

	first, err := f.svc.Init(ctx, f.root(), "one", "")
	require.NoError(t, err)
	second, err := f.svc.Init(ctx, f.root(), "two", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.End(ctx, first, map[string]any{"answer": "yes"}))
	err = f.svc.End(ctx, second, map[string]any{"answer": "no"})
	assert.Equal(t, schema.ErrCodeTokenAlreadyUsed, schema.CodeOf(err))

	msg, err := f.store.GetMessage(ctx, second)
	require.NoError(t, err)
	assert.False(t, msg.Fulfilled)
}

func TestEnd_TimedOut(t *testing.T) {
	f := newFixture(t, trigger.Config{TokenTTL: time.Millisecond})
	ctx := context.Background()

	messageID, err := f.svc.Init(ctx, f.root(), "late", "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	err = f.svc.End(ctx, messageID, map[string]any{"answer": "yes"})
	assert.Equal(t, schema.ErrCodeDeliveryTimedOut, schema.CodeOf(err))
}

type brokenTrigger struct{ trigger.Trigger }

func (brokenTrigger) SendSuccess(context.Context, string, map[string]any) error {
	return errors.New("connection reset")
}

func TestEnd_DeliveryFailed(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	f.svc = NewService(Deps{Messages: f.store, Executions: f.store, Trigger: brokenTrigger{}})
	ctx := context.Background()

	messageID, err := f.svc.Init(ctx, f.root(), "msg", "")
	require.NoError(t, err)

	err = f.svc.End(ctx, messageID, map[string]any{"answer": "yes"})
	assert.Equal(t, schema.ErrCodeDeliveryFailed, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestDispatchOutbound(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()

	var sent string
	out, err := f.svc.DispatchOutbound(ctx, f.root(), "Approve?", func(_ context.Context, messageID string) (map[string]any, error) {
		sent = messageID
		return map[string]any{"ts": "1634"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, sent, out["message_id"])
	assert.Equal(t, map[string]any{"ts": "1634"}, out["response"])

	_, err = f.svc.DispatchOutbound(ctx, f.root(), "Approve?", func(context.Context, string) (map[string]any, error) {
		return nil, errors.New("channel not found")
	})
	assert.EqualError(t, err, "channel not found")
}

func TestDispatchOutbound_IssuesMissingToken(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()

	root := f.root()
	delete(root, "task_token")
	out, err := f.svc.DispatchOutbound(ctx, root, "Approve?", func(context.Context, string) (map[string]any, error) {
		return map[string]any{}, nil
	})
	require.NoError(t, err)
	_, hasToken := root["task_token"]
	assert.False(t, hasToken)

	messageID := out["message_id"].(string)
	msg, err := f.store.GetMessage(ctx, messageID)
	require.NoError(t, err)
	require.NotEmpty(t, msg.AwaitToken)
	assert.NotEqual(t, f.token, msg.AwaitToken)

	require.NoError(t, f.svc.End(ctx, messageID, map[string]any{"answer": "yes"}))
	tok, err := f.store.GetTaskToken(ctx, msg.AwaitToken)
	require.NoError(t, err)
	assert.NotNil(t, tok.ConsumedAt)
}

func TestDispatchOutbound_NoIssuer(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	f.svc = NewService(Deps{Messages: f.store, Executions: f.store, Trigger: brokenTrigger{}})

	root := f.root()
	delete(root, "task_token")
	_, err := f.svc.DispatchOutbound(context.Background(), root, "Approve?", func(context.Context, string) (map[string]any, error) {
		t.Fatal("send must not be called")
		return nil, nil
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeBootstrap))
	assert.Contains(t, err.Error(), "task_token")
}
