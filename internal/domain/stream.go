package domain

import "encoding/json"

// Stream event types emitted to the caller. Each event is one JSON object on
// its own line (newline-delimited frames).
const (
	EventTypeConnected  = "connected"
	EventTypeRouteInfo  = "route_info"
	EventTypeThinking   = "thinking"
	EventTypeToolCall   = "tool_call"
	EventTypeToolResult = "tool_result"
	EventTypeToken      = "token"
	EventTypeResponse   = "response"
	EventTypeDone       = "done"
	EventTypeError      = "error"
	EventTypeHeartbeat  = "heartbeat"
)

// StreamEvent is a single outbound frame. Fields are populated per type; the
// constructors below are the only producers.
type StreamEvent struct {
	Type            string          `json:"type"`
	Path            RoutePath       `json:"path,omitempty"`
	Phase           string          `json:"phase,omitempty"`
	Tool            string          `json:"tool,omitempty"`
	Args            json.RawMessage `json:"args,omitempty"`
	Success         *bool           `json:"success,omitempty"`
	Preview         string          `json:"preview,omitempty"`
	Text            string          `json:"text,omitempty"`
	Message         string          `json:"message,omitempty"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	ToolsUsed       []string        `json:"tools_used,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms,omitempty"`
	Usage           *Usage          `json:"usage,omitempty"`
}

func EventConnected() StreamEvent {
	return StreamEvent{Type: EventTypeConnected}
}

func EventRouteInfo(path RoutePath) StreamEvent {
	return StreamEvent{Type: EventTypeRouteInfo, Path: path}
}

func EventThinking(phase string) StreamEvent {
	return StreamEvent{Type: EventTypeThinking, Phase: phase}
}

func EventToolCall(tool string, args json.RawMessage) StreamEvent {
	return StreamEvent{Type: EventTypeToolCall, Tool: tool, Args: args}
}

// EventToolResult carries a short preview on success and the error text on
// failure; full results only ever reach the model, not the caller.
func EventToolResult(tool string, success bool, preview string) StreamEvent {
	return StreamEvent{Type: EventTypeToolResult, Tool: tool, Success: &success, Preview: preview}
}

func EventToken(text string) StreamEvent {
	return StreamEvent{Type: EventTypeToken, Text: text}
}

func EventResponse(text string) StreamEvent {
	return StreamEvent{Type: EventTypeResponse, Text: text}
}

func EventDone(conversationID string, path RoutePath, toolsUsed []string, executionTimeMs int64, usage *Usage) StreamEvent {
	return StreamEvent{
		Type:            EventTypeDone,
		ConversationID:  conversationID,
		Path:            path,
		ToolsUsed:       toolsUsed,
		ExecutionTimeMs: executionTimeMs,
		Usage:           usage,
	}
}

func EventError(message string) StreamEvent {
	return StreamEvent{Type: EventTypeError, Message: message}
}

func EventHeartbeat() StreamEvent {
	return StreamEvent{Type: EventTypeHeartbeat}
}
