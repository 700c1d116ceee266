package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
	store "github.com/MeruLocal/hellocfo-sub002/internal/repository"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendSimpleTurn(t *testing.T, s *store.SQLiteStore, conversationID, entityID string) {
	t.Helper()
	err := s.AppendTurn(context.Background(), conversationID, entityID,
		domain.Message{Role: "user", Content: "q"},
		domain.Message{Role: "assistant", Content: "a"},
		domain.PathCFO)
	require.NoError(t, err)
}

func TestAppendTurnCreatesConversationLazily(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No row exists before the first completed turn.
	conv, err := s.GetConversation(ctx, "conv_aaa")
	require.NoError(t, err)
	require.Nil(t, conv)

	appendSimpleTurn(t, s, "conv_aaa", "ent_1")
	conv, err = s.GetConversation(ctx, "conv_aaa")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, int64(1), conv.Seq)
	assert.Equal(t, "CONV-1", conv.DisplayID())
	assert.Len(t, conv.Messages, 2)

	// Second conversation for the same entity gets the next sequence.
	appendSimpleTurn(t, s, "conv_bbb", "ent_1")
	conv2, err := s.GetConversation(ctx, "conv_bbb")
	require.NoError(t, err)
	assert.Equal(t, int64(2), conv2.Seq)

	// A different entity starts from 1 again.
	appendSimpleTurn(t, s, "conv_ccc", "ent_2")
	conv3, err := s.GetConversation(ctx, "conv_ccc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), conv3.Seq)

	// A further turn on an existing conversation keeps its sequence.
	appendSimpleTurn(t, s, "conv_aaa", "ent_1")
	again, err := s.GetConversation(ctx, "conv_aaa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Seq)
	assert.Len(t, again.Messages, 4)
}

func TestGetConversationMissing(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.GetConversation(context.Background(), "conv_nope")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestAppendTurnRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	userMsg := domain.Message{Role: "user", Content: "show me unpaid invoices", Timestamp: now}
	assistantMsg := domain.Message{
		Role:      "assistant",
		Content:   "You have 2 unpaid invoices totalling $700.",
		Timestamp: now,
		Meta: &domain.MessageMeta{
			Mode:           domain.PathCFO,
			ToolsUsed:      []string{"list_invoices"},
			ToolsAvailable: []string{"list_invoices", "aged_receivables_report"},
			LatencyMs:      321,
		},
	}
	require.NoError(t, s.AppendTurn(ctx, "conv_rt", "ent_1", userMsg, assistantMsg, domain.PathCFO))

	conv, err := s.GetConversation(ctx, "conv_rt")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)

	// Messages survive storage byte-exact, metadata included.
	assert.Equal(t, userMsg, conv.Messages[0])
	assert.Equal(t, assistantMsg, conv.Messages[1])

	assert.Equal(t, "show me unpaid invoices", conv.Title)
	assert.Equal(t, "You have 2 unpaid invoices totalling $700.", conv.Preview)
	assert.Equal(t, domain.PathCFO, conv.Mode)

	// A second turn keeps the original title.
	require.NoError(t, s.AppendTurn(ctx, "conv_rt", "ent_1",
		domain.Message{Role: "user", Content: "and overdue ones?", Timestamp: now},
		domain.Message{Role: "assistant", Content: "One is overdue.", Timestamp: now},
		domain.PathCFO))
	conv, err = s.GetConversation(ctx, "conv_rt")
	require.NoError(t, err)
	assert.Equal(t, "show me unpaid invoices", conv.Title)
	assert.Len(t, conv.Messages, 4)
}

func TestListConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendSimpleTurn(t, s, "conv_1", "ent_1")
	appendSimpleTurn(t, s, "conv_2", "ent_1")
	appendSimpleTurn(t, s, "conv_other", "ent_2")

	summaries, err := s.ListConversations(ctx, "ent_1", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, sum := range summaries {
		assert.Equal(t, "ent_1", sum.EntityID)
	}

	// The conversation with the appended turn reports its message count.
	var withTurn *domain.ConversationSummary
	for i := range summaries {
		if summaries[i].ConversationID == "conv_1" {
			withTurn = &summaries[i]
		}
	}
	require.NotNil(t, withTurn)
	assert.Equal(t, 2, withTurn.MessageCount)
	assert.Equal(t, "CONV-1", withTurn.DisplayID)
}

func TestCacheRoundTripAndTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := domain.CacheEntry{
		Key:       store.CacheKey("ent_1", "show me unpaid invoices"),
		EntityID:  "ent_1",
		Category:  "invoices,aging_reports",
		Response:  "You have 2 unpaid invoices.",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, s.CachePut(ctx, entry))

	got, err := s.CacheGet(ctx, entry.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Response, got.Response)
	assert.Equal(t, entry.Category, got.Category)

	// Expired entries read as misses.
	expired := entry
	expired.Key = store.CacheKey("ent_1", "old question")
	expired.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, s.CachePut(ctx, expired))

	got, err = s.CacheGet(ctx, expired.Key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheKeyIsCaseSensitive(t *testing.T) {
	// The raw query text is hashed untouched, so casing matters.
	a := store.CacheKey("ent_1", "Show me unpaid invoices")
	b := store.CacheKey("ent_1", "show me unpaid invoices")
	assert.NotEqual(t, a, b)

	// And the entity is part of the key.
	c := store.CacheKey("ent_2", "Show me unpaid invoices")
	assert.NotEqual(t, a, c)

	// Same inputs, same key.
	assert.Equal(t, a, store.CacheKey("ent_1", "Show me unpaid invoices"))
}

func TestInvalidateCacheByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	put := func(key, entity, category string) {
		require.NoError(t, s.CachePut(ctx, domain.CacheEntry{
			Key: key, EntityID: entity, Category: category,
			Response: "r", ExpiresAt: future,
		}))
	}
	put("k1", "ent_1", "invoices,aging_reports")
	put("k2", "ent_1", "tax")
	put("k3", "ent_2", "invoices")

	// Targeted invalidation removes matching categories for the entity only.
	require.NoError(t, s.InvalidateCache(ctx, "ent_1", []string{"invoices"}))

	got, _ := s.CacheGet(ctx, "k1")
	assert.Nil(t, got)
	got, _ = s.CacheGet(ctx, "k2")
	assert.NotNil(t, got)
	got, _ = s.CacheGet(ctx, "k3")
	assert.NotNil(t, got, "other entities are untouched")

	// Nil targets wipe the whole entity.
	require.NoError(t, s.InvalidateCache(ctx, "ent_1", nil))
	got, _ = s.CacheGet(ctx, "k2")
	assert.Nil(t, got)
	got, _ = s.CacheGet(ctx, "k3")
	assert.NotNil(t, got)
}

func TestRecordTurnAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordTurnAudit(ctx, domain.TurnAudit{
		AuditID:        "aud_1",
		ConversationID: "conv_1",
		EntityID:       "ent_1",
		Route:          domain.PathCFO,
		ToolsUsed:      []string{"list_invoices"},
		ToolsAvailable: []string{"list_invoices", "get_invoice"},
		LatencyMs:      250,
		CacheHit:       false,
		CreatedAt:      time.Now().UTC(),
	})
	assert.NoError(t, err)
}
