package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
)

const titleMaxLen = 60
const previewMaxLen = 120

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			title TEXT,
			preview TEXT,
			mode TEXT,
			messages TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_entity ON conversations(entity_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS response_cache (
			cache_key TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			category TEXT,
			response TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entity ON response_cache(entity_id)`,
		`CREATE TABLE IF NOT EXISTS turn_audit (
			audit_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			route TEXT NOT NULL,
			tools_used TEXT,
			tools_available TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			cache_hit INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_conversation ON turn_audit(conversation_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetConversation retrieves a conversation by ID. Returns nil, nil when the
// conversation does not exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var title, preview, mode sql.NullString
	var messages string

	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, entity_id, seq, title, preview, mode, messages, created_at, updated_at
		 FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&conv.ConversationID, &conv.EntityID, &conv.Seq,
		&title, &preview, &mode, &messages, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conv.Title = title.String
	conv.Preview = preview.String
	conv.Mode = domain.RoutePath(mode.String)
	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode message history: %w", err)
	}
	return &conv, nil
}

// createConversation inserts a new conversation row with the next per-entity
// sequence number.
func (s *SQLiteStore) createConversation(ctx context.Context, conversationID, entityID string) (*domain.Conversation, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM conversations WHERE entity_id = ?`,
		entityID).Scan(&seq)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ConversationID: conversationID,
		EntityID:       entityID,
		Seq:            seq,
		Messages:       []domain.Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, entity_id, seq, messages, created_at, updated_at)
		 VALUES (?, ?, ?, '[]', ?, ?)`,
		conv.ConversationID, conv.EntityID, conv.Seq, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations lists conversation summaries for an entity, most recently
// updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, entityID string, limit int) ([]domain.ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, entity_id, seq, title, preview, mode, messages, updated_at
		 FROM conversations WHERE entity_id = ? ORDER BY updated_at DESC LIMIT ?`,
		entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.ConversationSummary
	for rows.Next() {
		var seq int64
		var sum domain.ConversationSummary
		var title, preview, mode sql.NullString
		var messages string
		if err := rows.Scan(&sum.ConversationID, &sum.EntityID, &seq,
			&title, &preview, &mode, &messages, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		sum.DisplayID = fmt.Sprintf("CONV-%d", seq)
		sum.Title = title.String
		sum.Preview = preview.String
		sum.Mode = domain.RoutePath(mode.String)

		var msgs []domain.Message
		if err := json.Unmarshal([]byte(messages), &msgs); err == nil {
			sum.MessageCount = len(msgs)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// AppendTurn appends a completed user/assistant exchange and refreshes the
// conversation's derived fields, creating the conversation row on the first
// turn. The first user message seeds the title.
func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID, entityID string, userMsg, assistantMsg domain.Message, mode domain.RoutePath) error {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		conv, err = s.createConversation(ctx, conversationID, entityID)
		if err != nil {
			return err
		}
	}

	conv.Messages = append(conv.Messages, userMsg, assistantMsg)
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode message history: %w", err)
	}

	title := conv.Title
	if title == "" {
		title = clip(userMsg.Content, titleMaxLen)
	}
	preview := clip(assistantMsg.Content, previewMaxLen)

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET messages = ?, title = ?, preview = ?, mode = ?, updated_at = ?
		 WHERE conversation_id = ?`,
		string(messages), title, preview, string(mode), time.Now().UTC(), conversationID)
	return err
}

// CacheGet returns the entry for key, or nil if absent or expired. Expired
// rows are deleted on read.
func (s *SQLiteStore) CacheGet(ctx context.Context, key string) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	var category sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT cache_key, entity_id, category, response, expires_at FROM response_cache WHERE cache_key = ?`,
		key).Scan(&entry.Key, &entry.EntityID, &category, &entry.Response, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry.Category = category.String

	if time.Now().After(entry.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE cache_key = ?`, key)
		return nil, nil
	}
	return &entry, nil
}

// CachePut inserts or replaces a cache entry.
func (s *SQLiteStore) CachePut(ctx context.Context, entry domain.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO response_cache (cache_key, entity_id, category, response, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Key, entry.EntityID, entry.Category, entry.Response, entry.ExpiresAt.UTC())
	return err
}

// InvalidateCache deletes cached responses for the entity. A nil target list
// wipes everything for the entity; otherwise only rows whose category tag
// mentions one of the targets are removed.
func (s *SQLiteStore) InvalidateCache(ctx context.Context, entityID string, targets []string) error {
	if len(targets) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE entity_id = ?`, entityID)
		return err
	}

	clauses := make([]string, 0, len(targets))
	args := []any{entityID}
	for _, t := range targets {
		clauses = append(clauses, "category LIKE ?")
		args = append(args, "%"+t+"%")
	}
	query := fmt.Sprintf(`DELETE FROM response_cache WHERE entity_id = ? AND (%s)`,
		strings.Join(clauses, " OR "))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// RecordTurnAudit writes one per-turn audit row.
func (s *SQLiteStore) RecordTurnAudit(ctx context.Context, audit domain.TurnAudit) error {
	toolsUsed, _ := json.Marshal(audit.ToolsUsed)
	toolsAvailable, _ := json.Marshal(audit.ToolsAvailable)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_audit (audit_id, conversation_id, entity_id, route, tools_used, tools_available, latency_ms, cache_hit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.AuditID, audit.ConversationID, audit.EntityID, string(audit.Route),
		string(toolsUsed), string(toolsAvailable), audit.LatencyMs, audit.CacheHit, audit.CreatedAt)
	return err
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
