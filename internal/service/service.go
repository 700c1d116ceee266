// Package service orchestrates one chat turn: routing, cache lookup, tool
// session setup, the agent loop, persistence and the outbound event stream.
package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/llm"
	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/mcp"
	"github.com/MeruLocal/hellocfo-sub002/internal/agent"
	"github.com/MeruLocal/hellocfo-sub002/internal/catalog"
	"github.com/MeruLocal/hellocfo-sub002/internal/config"
	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
	store "github.com/MeruLocal/hellocfo-sub002/internal/repository"
	"github.com/MeruLocal/hellocfo-sub002/internal/router"
)

// historyWindow caps how many stored messages are replayed to the model.
const historyWindow = 20

// ToolSession is one live tool-server session.
type ToolSession interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close()
}

// SessionFactory opens a fresh tool session for one turn, carrying the
// caller's credential. Returning an error wrapping mcp.ErrUnavailable
// degrades the turn instead of failing it.
type SessionFactory func(ctx context.Context, credential string) (ToolSession, error)

// LLMClient is the model gateway surface the service depends on.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) (*llm.Usage, error)
}

// Service handles chat turns and conversation reads.
type Service struct {
	store      store.Store
	llmClient  LLMClient
	loop       *agent.Loop
	cfg        *config.Config
	newSession SessionFactory
}

// New creates the chat service.
func New(st store.Store, llmClient LLMClient, loop *agent.Loop, cfg *config.Config, newSession SessionFactory) *Service {
	return &Service{
		store:      st,
		llmClient:  llmClient,
		loop:       loop,
		cfg:        cfg,
		newSession: newSession,
	}
}

// ListConversations returns conversation summaries for an entity.
func (s *Service) ListConversations(ctx context.Context, entityID string, limit int) ([]domain.ConversationSummary, error) {
	return s.store.ListConversations(ctx, entityID, limit)
}

// GetConversation returns one conversation with full history, or nil.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.store.GetConversation(ctx, conversationID)
}

// HandleChat runs one turn end to end, emitting progress events as it goes.
// All failures are reported through the stream; the returned error only
// covers cases where nothing could be emitted at all.
func (s *Service) HandleChat(ctx context.Context, req domain.ChatRequest, emit agent.Emitter) error {
	start := time.Now()
	emit(domain.EventConnected())

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "conv_" + uuid.New().String()[:8]
	}

	// History is read up front; the row itself is only written when the turn
	// completes, so a failed turn leaves no empty conversation behind.
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		log.Printf("ERROR: failed to load conversation %s: %v", conversationID, err)
		emit(domain.EventError("Could not load the conversation. Please try again."))
		return nil
	}
	if conv == nil {
		conv = &domain.Conversation{ConversationID: conversationID, EntityID: req.EntityID}
	}

	followUp := router.DetectFollowUp(req.Message, conv.Messages)
	var route domain.RoutePath
	if followUp.IsFollowUp && followUp.Mode != "" {
		route = followUp.Mode
	} else {
		route = router.Classify(req.Message)
	}
	emit(domain.EventRouteInfo(route))

	if route == domain.PathGeneralChat {
		return s.handleGeneralChat(ctx, req, conv, start, emit)
	}

	// Cached responses only serve fresh read-intent questions; a follow-up
	// needs the live context it refers back to.
	cacheKey := store.CacheKey(req.EntityID, req.Message)
	if route == domain.PathCFO && !followUp.IsFollowUp {
		if entry, err := s.store.CacheGet(ctx, cacheKey); err != nil {
			log.Printf("WARN: cache lookup failed: %v", err)
		} else if entry != nil {
			return s.finishTurn(ctx, req, conv, turnOutcome{
				route:    route,
				text:     entry.Response,
				cacheHit: true,
				started:  start,
			}, emit)
		}
	}

	// Open the tool session for this turn. An unreachable tool server
	// degrades to a no-tools answer rather than failing the turn.
	var session ToolSession
	var descriptors []mcp.ToolDescriptor
	var selection catalog.Selection

	session, err = s.newSession(ctx, req.Credential)
	if err != nil {
		log.Printf("WARN: tool session unavailable, degrading: %v", err)
		emit(domain.EventThinking("tools_unavailable"))
	} else {
		defer session.Close()
		live, err := session.ListTools(ctx)
		if err != nil {
			log.Printf("WARN: tool listing failed, degrading: %v", err)
			emit(domain.EventThinking("tools_unavailable"))
			session.Close()
			session = nil
		} else {
			descriptors, selection = s.selectTools(req.Message, route, followUp, live)
		}
	}

	history := llmHistory(conv.Messages)
	var invoker agent.ToolInvoker
	if session != nil {
		invoker = session
	}

	result, err := s.loop.Run(ctx, agent.RunInput{
		SystemPrompt: systemPrompt(route),
		History:      history,
		Query:        req.Message,
		Tools:        descriptors,
		Invoker:      invoker,
		EntityID:     req.EntityID,
		UserID:       req.UserID,
		Route:        route,
	}, emit)
	if err != nil {
		log.Printf("ERROR: agent run failed: %v", err)
		emit(domain.EventError(llm.UserMessage(err)))
		return nil
	}

	toolsUsed := agent.ToolNames(result.Outcomes)
	out := turnOutcome{
		route:          route,
		text:           result.Text,
		toolsUsed:      toolsUsed,
		toolsAvailable: selection.Tools,
		usage:          &result.Usage,
		started:        start,
	}

	// Cache only clean read-path answers that actually ran to completion.
	if route == domain.PathCFO && !followUp.IsFollowUp && session != nil && allSucceeded(result.Outcomes) {
		entry := domain.CacheEntry{
			Key:       cacheKey,
			EntityID:  req.EntityID,
			Category:  strings.Join(selection.Categories, ","),
			Response:  result.Text,
			ExpiresAt: time.Now().Add(s.cfg.CacheTTL),
		}
		if err := s.store.CachePut(ctx, entry); err != nil {
			log.Printf("WARN: cache write failed: %v", err)
		}
	}

	s.invalidateAfterWrites(ctx, req.EntityID, result.Outcomes)

	return s.finishTurn(ctx, req, conv, out, emit)
}

// handleGeneralChat streams a small-talk answer token by token. No tools, no
// cache, but the turn is still persisted and audited.
func (s *Service) handleGeneralChat(ctx context.Context, req domain.ChatRequest, conv *domain.Conversation, start time.Time, emit agent.Emitter) error {
	messages := make([]llm.ChatMessage, 0, historyWindow+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: systemPrompt(domain.PathGeneralChat)})
	messages = append(messages, llmHistory(conv.Messages)...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: req.Message})

	var b strings.Builder
	usage, err := s.llmClient.CreateChatCompletionStream(ctx, &llm.ChatCompletionRequest{
		Model:    s.cfg.LLMModel,
		Messages: messages,
	}, func(chunk *llm.StreamChunk) error {
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			return nil
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			b.WriteString(text)
			emit(domain.EventToken(text))
		}
		return nil
	})
	if err != nil {
		log.Printf("ERROR: streaming completion failed: %v", err)
		emit(domain.EventError(llm.UserMessage(err)))
		return nil
	}

	out := turnOutcome{
		route:   domain.PathGeneralChat,
		text:    b.String(),
		started: start,
	}
	if usage != nil {
		out.usage = &domain.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return s.finishTurn(ctx, req, conv, out, emit)
}

// turnOutcome is everything finishTurn needs to persist and close a turn.
type turnOutcome struct {
	route          domain.RoutePath
	text           string
	toolsUsed      []string
	toolsAvailable []string
	usage          *domain.Usage
	cacheHit       bool
	started        time.Time
}

// finishTurn persists the exchange, records the audit row and emits the
// terminal response/done pair.
func (s *Service) finishTurn(ctx context.Context, req domain.ChatRequest, conv *domain.Conversation, out turnOutcome, emit agent.Emitter) error {
	latency := time.Since(out.started).Milliseconds()
	now := time.Now().UTC()

	userMsg := domain.Message{Role: "user", Content: req.Message, Timestamp: now}
	assistantMsg := domain.Message{
		Role:      "assistant",
		Content:   out.text,
		Timestamp: now,
		Meta: &domain.MessageMeta{
			Mode:           out.route,
			ToolsUsed:      out.toolsUsed,
			ToolsAvailable: out.toolsAvailable,
			LatencyMs:      latency,
		},
	}
	if err := s.store.AppendTurn(ctx, conv.ConversationID, req.EntityID, userMsg, assistantMsg, out.route); err != nil {
		log.Printf("ERROR: failed to persist turn for %s: %v", conv.ConversationID, err)
	}

	audit := domain.TurnAudit{
		AuditID:        "turn_" + uuid.New().String()[:8],
		ConversationID: conv.ConversationID,
		EntityID:       req.EntityID,
		Route:          out.route,
		ToolsUsed:      out.toolsUsed,
		ToolsAvailable: out.toolsAvailable,
		LatencyMs:      latency,
		CacheHit:       out.cacheHit,
		CreatedAt:      now,
	}
	if err := s.store.RecordTurnAudit(ctx, audit); err != nil {
		log.Printf("WARN: failed to record turn audit: %v", err)
	}

	emit(domain.EventResponse(out.text))
	var usage *domain.Usage
	if out.usage != nil && out.usage.TotalTokens > 0 {
		usage = out.usage
	}
	emit(domain.EventDone(conv.ConversationID, out.route, out.toolsUsed, latency, usage))
	return nil
}

// selectTools resolves this turn's tool subset. A confirmed follow-up reuses
// the previous turn's selection, filtered to what the server still
// advertises; otherwise selection runs fresh against the live catalog.
func (s *Service) selectTools(query string, route domain.RoutePath, followUp router.FollowUp, live []mcp.ToolDescriptor) ([]mcp.ToolDescriptor, catalog.Selection) {
	byName := make(map[string]mcp.ToolDescriptor, len(live))
	liveTools := make([]catalog.LiveTool, 0, len(live))
	for _, d := range live {
		byName[d.Name] = d
		liveTools = append(liveTools, catalog.LiveTool{Name: d.Name, Description: d.Description})
	}

	var selection catalog.Selection
	if followUp.IsFollowUp && len(followUp.Tools) > 0 {
		selection = catalog.Selection{Tools: followUp.Tools, Strategy: "follow_up_reuse"}
	} else {
		selection = catalog.SelectTools(query, route, liveTools)
	}

	descriptors := make([]mcp.ToolDescriptor, 0, len(selection.Tools))
	kept := make([]string, 0, len(selection.Tools))
	for _, name := range selection.Tools {
		if d, ok := byName[name]; ok {
			descriptors = append(descriptors, d)
			kept = append(kept, name)
		}
	}
	selection.Tools = kept
	return descriptors, selection
}

// invalidateAfterWrites drops cache rows made stale by this turn's writes. An
// unrecognized write tool wipes the whole entity rather than risk serving a
// stale report.
func (s *Service) invalidateAfterWrites(ctx context.Context, entityID string, outcomes []domain.ToolOutcome) {
	var writes []string
	for _, o := range outcomes {
		if o.Success && catalog.IsWriteTool(o.Tool) {
			writes = append(writes, o.Tool)
		}
	}
	if len(writes) == 0 {
		return
	}

	targets, ok := catalog.InvalidationTargets(writes)
	if !ok {
		log.Printf("WARN: unknown write tool among %v, invalidating all cache for entity %s", writes, entityID)
		targets = nil
	}
	if err := s.store.InvalidateCache(ctx, entityID, targets); err != nil {
		log.Printf("WARN: cache invalidation failed for entity %s: %v", entityID, err)
	}
}

// llmHistory converts stored messages to model messages, keeping only the
// most recent window.
func llmHistory(messages []domain.Message) []llm.ChatMessage {
	if len(messages) > historyWindow {
		messages = messages[len(messages)-historyWindow:]
	}
	out := make([]llm.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func allSucceeded(outcomes []domain.ToolOutcome) bool {
	for _, o := range outcomes {
		if !o.Success {
			return false
		}
	}
	return true
}
