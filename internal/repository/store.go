// Package store persists conversations, the response cache and per-turn
// audit records.
package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
)

// Store is the persistence interface used by the chat service. Conversations
// are created lazily: no row exists until AppendTurn persists the first
// completed exchange.
type Store interface {
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, entityID string, limit int) ([]domain.ConversationSummary, error)
	AppendTurn(ctx context.Context, conversationID, entityID string, userMsg, assistantMsg domain.Message, mode domain.RoutePath) error

	CacheGet(ctx context.Context, key string) (*domain.CacheEntry, error)
	CachePut(ctx context.Context, entry domain.CacheEntry) error
	InvalidateCache(ctx context.Context, entityID string, targets []string) error

	RecordTurnAudit(ctx context.Context, audit domain.TurnAudit) error

	Close() error
}

// CacheKey derives the cache key for a query exactly as asked. The raw query
// text goes into the hash untouched, so "Show invoices" and "show invoices"
// occupy different slots.
func CacheKey(entityID, query string) string {
	h := sha1.New()
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
