package domain

// ChatRequest is the inbound request to the chat endpoint. Credential is the
// opaque value of the Authorization header; the engine forwards it to the
// auth collaborator and never inspects it.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	EntityID       string `json:"entity_id"`
	UserID         string `json:"user_id"`
	Credential     string `json:"-"`
}
