// Package agent runs the bounded tool-use loop: hand the model a query and a
// tool list, execute whatever it asks for, feed results back, and stop at a
// terminal answer or the iteration ceiling.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/llm"
	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/mcp"
	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
	"github.com/MeruLocal/hellocfo-sub002/internal/policy"
)

// exhaustedMessage is returned verbatim when the loop hits its iteration
// ceiling without a terminal answer.
const exhaustedMessage = "I wasn't able to finish that request within the allowed number of steps. Please try narrowing your question or splitting it into smaller parts."

const resultPreviewLen = 200

// ChatCompleter is the model call the loop depends on.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error)
}

// ToolInvoker executes one named tool against the live session.
type ToolInvoker interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// PolicyEngine gates each invocation before it runs.
type PolicyEngine interface {
	Evaluate(ctx context.Context, input policy.Input) (string, string, error)
}

// Emitter receives progress events as the loop works.
type Emitter func(ev domain.StreamEvent)

// Loop executes bounded tool-use runs. Safe for concurrent Run calls.
type Loop struct {
	completer     ChatCompleter
	policy        PolicyEngine
	model         string
	maxIterations int
}

// NewLoop creates a loop bound to a model and an iteration ceiling.
func NewLoop(completer ChatCompleter, policyEngine PolicyEngine, model string, maxIterations int) *Loop {
	return &Loop{
		completer:     completer,
		policy:        policyEngine,
		model:         model,
		maxIterations: maxIterations,
	}
}

// RunInput is one agent run.
type RunInput struct {
	SystemPrompt string
	History      []llm.ChatMessage
	Query        string
	Tools        []mcp.ToolDescriptor
	Invoker      ToolInvoker
	EntityID     string
	UserID       string
	Route        domain.RoutePath
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	Text     string
	Outcomes []domain.ToolOutcome
	Usage    domain.Usage
}

// Run drives the loop to completion. Tool failures are reported back to the
// model rather than aborting the run; only model-call failures return error.
func (l *Loop) Run(ctx context.Context, in RunInput, emit Emitter) (*RunResult, error) {
	messages := make([]llm.ChatMessage, 0, len(in.History)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: in.SystemPrompt})
	messages = append(messages, in.History...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: in.Query})

	tools := toolDefinitions(in.Tools)
	result := &RunResult{}

	for i := 0; i < l.maxIterations; i++ {
		emit(domain.EventThinking("analyzing"))

		resp, err := l.completer.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
			Model:    l.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed on iteration %d: %w", i+1, err)
		}
		if resp.Usage != nil {
			result.Usage.Add(domain.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			})
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
			return nil, fmt.Errorf("model returned no choices on iteration %d", i+1)
		}
		msg := resp.Choices[0].Message

		// No tool calls means a terminal answer.
		if len(msg.ToolCalls) == 0 {
			result.Text = msg.Content
			return result, nil
		}

		messages = append(messages, *msg)

		for _, call := range msg.ToolCalls {
			name := call.Function.Name
			args := parseArgs(call.Function.Arguments)
			// Every tool operates on the caller's books, never on whatever
			// entity the model decided to name.
			args["entity_id"] = in.EntityID
			if in.UserID != "" {
				args["user_id"] = in.UserID
			}

			emit(domain.EventToolCall(name, toolCallArgs(call.Function.Arguments)))

			text, outcome := l.invoke(ctx, in, name, args)
			result.Outcomes = append(result.Outcomes, outcome)
			if outcome.Success {
				emit(domain.EventToolResult(name, true, preview(text)))
			} else {
				emit(domain.EventToolResult(name, false, outcome.Error))
			}

			messages = append(messages, llm.ChatMessage{
				Role:       "tool",
				Content:    text,
				ToolCallID: call.ID,
			})
		}
	}

	log.Printf("WARN: agent loop exhausted %d iterations for entity %s", l.maxIterations, in.EntityID)
	result.Text = exhaustedMessage
	return result, nil
}

// invoke runs one tool call through the policy gate and the session. The
// returned text always goes back to the model, success or not.
func (l *Loop) invoke(ctx context.Context, in RunInput, name string, args map[string]any) (string, domain.ToolOutcome) {
	decision, reason, err := l.policy.Evaluate(ctx, policy.Input{
		ToolName: name,
		Args:     args,
		UserID:   in.UserID,
		EntityID: in.EntityID,
		Route:    string(in.Route),
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed for %s: %v", name, err)
		decision = policy.DecisionBlock
		reason = "policy evaluation failed"
	}
	if decision != policy.DecisionAllow {
		if reason == "" {
			reason = decision
		}
		msg := fmt.Sprintf("Policy denied call to %s: %s", name, reason)
		return msg, domain.ToolOutcome{Tool: name, Success: false, Error: msg}
	}

	if in.Invoker == nil {
		msg := fmt.Sprintf("Tool %s is not available this turn", name)
		return msg, domain.ToolOutcome{Tool: name, Success: false, Error: msg}
	}

	text, err := in.Invoker.CallTool(ctx, name, args)
	if err != nil {
		log.Printf("ERROR: tool %s failed: %v", name, err)
		msg := fmt.Sprintf("Tool %s failed: %v", name, err)
		return msg, domain.ToolOutcome{Tool: name, Success: false, Error: msg}
	}
	return text, domain.ToolOutcome{Tool: name, Success: true}
}

// toolCallArgs prepares model-produced arguments for the outbound frame.
// Undecodable arguments become an empty object so the frame still encodes.
func toolCallArgs(raw string) json.RawMessage {
	if raw != "" && json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return json.RawMessage("{}")
}

// parseArgs decodes model-produced arguments defensively. Anything
// undecodable becomes an empty argument map so the tool call still goes
// through the policy gate and fails loudly server-side instead of crashing
// the run.
func parseArgs(raw string) map[string]any {
	args := make(map[string]any)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Printf("WARN: model produced undecodable tool arguments: %v", err)
		return make(map[string]any)
	}
	return args
}

// toolDefinitions converts session descriptors into function-calling shape.
func toolDefinitions(descriptors []mcp.ToolDescriptor) []llm.Tool {
	if len(descriptors) == 0 {
		return nil
	}
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		params := d.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// ToolNames flattens run outcomes into the list persisted in turn metadata.
func ToolNames(outcomes []domain.ToolOutcome) []string {
	if len(outcomes) == 0 {
		return nil
	}
	names := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		names = append(names, o.Tool)
	}
	return names
}

func preview(s string) string {
	if len(s) <= resultPreviewLen {
		return s
	}
	return s[:resultPreviewLen] + "..."
}
