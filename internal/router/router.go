// Package router classifies an inbound query into an operating mode and
// detects contextual follow-ups that should reuse the previous turn's tool
// selection. Everything here is a pure function of its inputs.
package router

import (
	"strings"

	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
)

// followUpWordMax is the word-count threshold under which a query with no
// entity keyword is treated as a follow-up candidate.
const followUpWordMax = 6

// writeKeywords signal destructive/write intent (bookkeeper path).
var writeKeywords = []string{
	"create", "add", "new", "record", "make",
	"update", "change", "edit", "modify",
	"delete", "remove", "void", "cancel",
	"send", "email", "issue",
	"pay", "transfer", "mark as paid",
}

// readKeywords signal read/report intent (cfo path).
var readKeywords = []string{
	"show", "list", "view", "get", "find",
	"report", "summary", "overview", "analyze", "compare", "breakdown",
	"how much", "how many", "what is", "what are",
	"balance", "profit", "loss", "cash flow", "revenue",
	"unpaid", "overdue", "outstanding", "aging", "total",
}

// greetings short-circuit classification to general_chat. Matched against
// the trimmed lower-cased query prefix.
var greetings = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "how are you", "what can you do", "help",
}

// contextualPatterns mark longer queries that still refer back to the
// previous turn's subject.
var contextualPatterns = []string{
	"compare that", "compare it", "same for", "what about", "how about",
	"drill down", "break that down", "break it down", "and the", "more detail",
	"show me more", "go deeper", "do that", "do it",
}

// entityKeywords name concrete accounting entities; their presence means the
// query stands on its own and is not a follow-up candidate.
var entityKeywords = []string{
	"invoice", "bill", "customer", "client", "vendor", "supplier",
	"expense", "payment", "account", "report", "tax", "payroll", "estimate",
}

// Classify maps a free-text query to an operating mode using a scored
// keyword heuristic. Ties and zero matches default to the read path.
func Classify(query string) domain.RoutePath {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return domain.PathGeneralChat
	}

	for _, g := range greetings {
		if q == g || strings.HasPrefix(q, g+" ") || strings.HasPrefix(q, g+",") || strings.HasPrefix(q, g+"!") {
			// A greeting followed by a real question is not small talk.
			if len(strings.Fields(q)) <= 4 && !containsAny(q, entityKeywords) {
				return domain.PathGeneralChat
			}
		}
	}

	writeScore := countMatches(q, writeKeywords)
	readScore := countMatches(q, readKeywords)

	if writeScore > readScore {
		return domain.PathBookkeeper
	}
	return domain.PathCFO
}

// FollowUp is the result of follow-up detection. Mode and Tools are reused
// verbatim from the previous assistant turn when IsFollowUp is true.
type FollowUp struct {
	IsFollowUp bool
	Mode       domain.RoutePath
	Tools      []string
}

// DetectFollowUp reports whether the query continues the previous turn's
// topic. A short query with no entity keyword is a candidate; a longer query
// matching a contextual-reference pattern also qualifies. A candidate is
// confirmed only when the most recent assistant message carries non-empty
// tool metadata, which is then reused as-is.
func DetectFollowUp(query string, history []domain.Message) FollowUp {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return FollowUp{}
	}

	candidate := false
	if len(strings.Fields(q)) < followUpWordMax && !containsAny(q, entityKeywords) {
		candidate = true
	} else {
		for _, p := range contextualPatterns {
			if strings.Contains(q, p) {
				candidate = true
				break
			}
		}
	}
	if !candidate {
		return FollowUp{}
	}

	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != "assistant" {
			continue
		}
		if msg.Meta == nil || len(msg.Meta.ToolsAvailable) == 0 {
			return FollowUp{}
		}
		return FollowUp{
			IsFollowUp: true,
			Mode:       msg.Meta.Mode,
			Tools:      msg.Meta.ToolsAvailable,
		}
	}
	return FollowUp{}
}

func countMatches(q string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if matchKeyword(q, kw) {
			n++
		}
	}
	return n
}

// matchKeyword matches multi-word keywords as substrings and single words on
// word boundaries, so "add" does not fire inside "address".
func matchKeyword(q, kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(q, kw)
	}
	for _, w := range strings.FieldsFunc(q, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if w == kw || strings.TrimSuffix(w, "s") == kw {
			return true
		}
	}
	return false
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
