package domain

import (
	"fmt"
	"time"
)

// Conversation is one chat thread scoped to an entity (the business the
// caller acts on behalf of). Message order is append-only; the store is the
// only writer after a turn completes.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	EntityID       string    `json:"entity_id"`
	Seq            int64     `json:"seq"`
	Title          string    `json:"title,omitempty"`
	Preview        string    `json:"preview,omitempty"`
	Mode           RoutePath `json:"mode,omitempty"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DisplayID is the human-readable id shown in the conversation browser,
// derived from the per-entity sequence number.
func (c *Conversation) DisplayID() string {
	return fmt.Sprintf("CONV-%d", c.Seq)
}

// Message is a single turn entry. Immutable once appended.
type Message struct {
	Role      string       `json:"role"` // user | assistant
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

// MessageMeta carries per-turn observability data on assistant messages.
// ToolsAvailable is what the agent loop was offered; a follow-up turn reuses
// it verbatim instead of re-classifying.
type MessageMeta struct {
	Mode           RoutePath `json:"mode,omitempty"`
	ToolsUsed      []string  `json:"tools_used,omitempty"`
	ToolsAvailable []string  `json:"tools_available,omitempty"`
	LatencyMs      int64     `json:"latency_ms,omitempty"`
}

// ConversationSummary is the list-view projection (no message history).
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	DisplayID      string    `json:"display_id"`
	EntityID       string    `json:"entity_id"`
	Title          string    `json:"title,omitempty"`
	Preview        string    `json:"preview,omitempty"`
	Mode           RoutePath `json:"mode,omitempty"`
	MessageCount   int       `json:"message_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CacheEntry is one cached response row. Only read within its TTL window and
// only for non-follow-up read-intent turns.
type CacheEntry struct {
	Key       string    `json:"key"`
	EntityID  string    `json:"entity_id"`
	Category  string    `json:"category"`
	Response  string    `json:"response"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TurnAudit is the per-turn observability row written after a turn completes.
type TurnAudit struct {
	AuditID        string    `json:"audit_id"`
	ConversationID string    `json:"conversation_id"`
	EntityID       string    `json:"entity_id"`
	Route          RoutePath `json:"route"`
	ToolsUsed      []string  `json:"tools_used,omitempty"`
	ToolsAvailable []string  `json:"tools_available,omitempty"`
	LatencyMs      int64     `json:"latency_ms"`
	CacheHit       bool      `json:"cache_hit"`
	CreatedAt      time.Time `json:"created_at"`
}
