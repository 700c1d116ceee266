package domain

// RoutePath is the operating mode a query is classified into.
type RoutePath string

const (
	// PathBookkeeper handles write-intent queries (create/update/delete).
	PathBookkeeper RoutePath = "bookkeeper"
	// PathCFO handles read/report-intent queries. Default on ties.
	PathCFO RoutePath = "cfo"
	// PathGeneralChat handles greetings and courtesy exchanges; no tools.
	PathGeneralChat RoutePath = "general_chat"
)

// ToolOutcome records one tool invocation requested by the model.
type ToolOutcome struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Usage holds token-usage counters reported by the model provider,
// accumulated across agent loop iterations.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates counters from another usage report.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
