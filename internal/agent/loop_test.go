package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/llm"
	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/mcp"
	"github.com/MeruLocal/hellocfo-sub002/internal/agent"
	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
	"github.com/MeruLocal/hellocfo-sub002/internal/policy"
)

type fakeCompleter struct {
	responses []*llm.ChatCompletionResponse
	calls     int
	seen      [][]llm.ChatMessage
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	f.seen = append(f.seen, append([]llm.ChatMessage(nil), req.Messages...))
	if f.calls >= len(f.responses) {
		// Keep replaying the last response so exhaustion tests can loop.
		f.calls++
		return f.responses[len(f.responses)-1], nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

type invocation struct {
	name string
	args map[string]any
}

type fakeInvoker struct {
	calls  []invocation
	result string
	err    error
}

func (f *fakeInvoker) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, invocation{name: name, args: args})
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

type fakePolicy struct {
	blocked map[string]bool
}

func (f *fakePolicy) Evaluate(_ context.Context, in policy.Input) (string, string, error) {
	if f.blocked[in.ToolName] {
		return policy.DecisionBlock, "not allowed here", nil
	}
	return policy.DecisionAllow, "", nil
}

func terminal(text string) *llm.ChatCompletionResponse {
	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{{Message: &llm.ChatMessage{Role: "assistant", Content: text}}},
		Usage:   &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func withToolCall(id, name, args string) *llm.ChatCompletionResponse {
	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{{Message: &llm.ChatMessage{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{{
				ID:   id,
				Type: "function",
				Function: llm.ToolCallFunction{Name: name, Arguments: args},
			}},
		}}},
		Usage: &llm.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
	}
}

func collectEvents() (agent.Emitter, *[]domain.StreamEvent) {
	events := &[]domain.StreamEvent{}
	return func(ev domain.StreamEvent) { *events = append(*events, ev) }, events
}

func newLoop(c *fakeCompleter, p agent.PolicyEngine, maxIterations int) *agent.Loop {
	if p == nil {
		p = &fakePolicy{}
	}
	return agent.NewLoop(c, p, "test-model", maxIterations)
}

func TestRunTerminalAnswer(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.ChatCompletionResponse{terminal("All paid up!")}}
	emit, events := collectEvents()

	result, err := newLoop(completer, nil, 5).Run(context.Background(), agent.RunInput{
		SystemPrompt: "you are helpful",
		Query:        "am I owed anything?",
		EntityID:     "ent_1",
		Route:        domain.PathCFO,
	}, emit)

	require.NoError(t, err)
	assert.Equal(t, "All paid up!", result.Text)
	assert.Empty(t, result.Outcomes)
	assert.Equal(t, 15, result.Usage.TotalTokens)
	assert.Equal(t, 1, completer.calls)

	// First model call sees system prompt then user query.
	require.Len(t, completer.seen[0], 2)
	assert.Equal(t, "system", completer.seen[0][0].Role)
	assert.Equal(t, "user", completer.seen[0][1].Role)

	require.NotEmpty(t, *events)
	assert.Equal(t, domain.EventTypeThinking, (*events)[0].Type)
}

func TestRunToolIterationInjectsEntity(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.ChatCompletionResponse{
		withToolCall("call_1", "list_invoices", `{"status":"unpaid"}`),
		terminal("You have 2 unpaid invoices."),
	}}
	invoker := &fakeInvoker{result: `[{"id":1},{"id":2}]`}
	emit, events := collectEvents()

	result, err := newLoop(completer, nil, 5).Run(context.Background(), agent.RunInput{
		Query:    "show unpaid invoices",
		Tools:    []mcp.ToolDescriptor{{Name: "list_invoices"}},
		Invoker:  invoker,
		EntityID: "ent_42",
		Route:    domain.PathCFO,
	}, emit)

	require.NoError(t, err)
	assert.Equal(t, "You have 2 unpaid invoices.", result.Text)

	require.Len(t, invoker.calls, 1)
	assert.Equal(t, "list_invoices", invoker.calls[0].name)
	assert.Equal(t, "unpaid", invoker.calls[0].args["status"])
	// The caller's entity always wins, whatever the model put in the args.
	assert.Equal(t, "ent_42", invoker.calls[0].args["entity_id"])

	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Success)
	assert.Equal(t, 43, result.Usage.TotalTokens)

	// Second model call carries the assistant tool-call message and the tool
	// result correlated by id.
	second := completer.seen[1]
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, `[{"id":1},{"id":2}]`, last.Content)

	var types []string
	var toolCall *domain.StreamEvent
	for i, ev := range *events {
		types = append(types, ev.Type)
		if ev.Type == domain.EventTypeToolCall {
			toolCall = &(*events)[i]
		}
	}
	assert.Contains(t, types, domain.EventTypeToolCall)
	assert.Contains(t, types, domain.EventTypeToolResult)

	// The tool_call frame carries the model's arguments verbatim and must
	// encode as a whole.
	require.NotNil(t, toolCall)
	assert.JSONEq(t, `{"status":"unpaid"}`, string(toolCall.Args))
	_, err = json.Marshal(toolCall)
	require.NoError(t, err)
}

func TestRunMalformedArgsStillExecutes(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.ChatCompletionResponse{
		withToolCall("call_1", "list_invoices", `{not json`),
		terminal("done"),
	}}
	invoker := &fakeInvoker{result: "ok"}
	emit, events := collectEvents()

	_, err := newLoop(completer, nil, 5).Run(context.Background(), agent.RunInput{
		Query:    "q",
		Invoker:  invoker,
		EntityID: "ent_9",
	}, emit)

	require.NoError(t, err)
	require.Len(t, invoker.calls, 1)
	assert.Equal(t, map[string]any{"entity_id": "ent_9"}, invoker.calls[0].args)

	// Undecodable arguments fall back to an empty object so the tool_call
	// frame still encodes instead of being dropped by the stream writer.
	var toolCall *domain.StreamEvent
	for i, ev := range *events {
		if ev.Type == domain.EventTypeToolCall {
			toolCall = &(*events)[i]
		}
	}
	require.NotNil(t, toolCall)
	assert.Equal(t, "{}", string(toolCall.Args))
	frame, err := json.Marshal(toolCall)
	require.NoError(t, err)
	assert.True(t, json.Valid(frame))
}

func TestRunToolFailureFeedsBackToModel(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.ChatCompletionResponse{
		withToolCall("call_1", "list_invoices", `{}`),
		terminal("Sorry, I could not fetch that."),
	}}
	invoker := &fakeInvoker{err: fmt.Errorf("upstream 500")}
	emit, _ := collectEvents()

	result, err := newLoop(completer, nil, 5).Run(context.Background(), agent.RunInput{
		Query:    "q",
		Invoker:  invoker,
		EntityID: "ent_1",
	}, emit)

	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.False(t, result.Outcomes[0].Success)
	assert.Contains(t, result.Outcomes[0].Error, "upstream 500")

	// The failure text goes back to the model rather than ending the run.
	second := completer.seen[1]
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Content, "failed")
}

func TestRunPolicyBlockSkipsInvoker(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.ChatCompletionResponse{
		withToolCall("call_1", "delete_invoice", `{"invoice_id":"inv_1"}`),
		terminal("I can't do that here."),
	}}
	invoker := &fakeInvoker{result: "should never run"}
	blocked := &fakePolicy{blocked: map[string]bool{"delete_invoice": true}}
	emit, _ := collectEvents()

	result, err := newLoop(completer, blocked, 5).Run(context.Background(), agent.RunInput{
		Query:    "delete invoice inv_1",
		Invoker:  invoker,
		EntityID: "ent_1",
		Route:    domain.PathCFO,
	}, emit)

	require.NoError(t, err)
	assert.Empty(t, invoker.calls)
	require.Len(t, result.Outcomes, 1)
	assert.False(t, result.Outcomes[0].Success)
	assert.Contains(t, result.Outcomes[0].Error, "Policy denied")
}

func TestRunExhaustionReturnsFixedMessage(t *testing.T) {
	// The model never stops asking for tools; the loop gives up at the
	// ceiling with a user-safe message instead of erroring.
	completer := &fakeCompleter{responses: []*llm.ChatCompletionResponse{
		withToolCall("call_1", "list_invoices", `{}`),
	}}
	invoker := &fakeInvoker{result: "data"}
	emit, _ := collectEvents()

	result, err := newLoop(completer, nil, 3).Run(context.Background(), agent.RunInput{
		Query:    "q",
		Invoker:  invoker,
		EntityID: "ent_1",
	}, emit)

	require.NoError(t, err)
	assert.Equal(t, 3, completer.calls)
	assert.Len(t, invoker.calls, 3)
	assert.Contains(t, result.Text, "wasn't able to finish")
}

func TestRunRealPolicyGatesByRoute(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	completer := &fakeCompleter{responses: []*llm.ChatCompletionResponse{
		withToolCall("call_1", "delete_invoice", `{}`),
		terminal("blocked"),
	}}
	invoker := &fakeInvoker{}
	emit, _ := collectEvents()

	result, runErr := agent.NewLoop(completer, engine, "m", 5).Run(context.Background(), agent.RunInput{
		Query:    "delete it",
		Invoker:  invoker,
		EntityID: "ent_1",
		Route:    domain.PathCFO,
	}, emit)

	require.NoError(t, runErr)
	assert.Empty(t, invoker.calls, "destructive tool must not run on the advisory route")
	require.Len(t, result.Outcomes, 1)
	assert.False(t, result.Outcomes[0].Success)
}
