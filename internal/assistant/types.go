package assistant

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Session is a chat session as the backend reports it. Sessions are owned
// by the backend; clients only cache them.
type Session struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	IsActive      bool       `json:"is_active"`
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Message is a persisted chat message. Content is null on the wire while
// the backend is still composing the assistant turn.
type Message struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Role        Role            `json:"role"`
	Content     *string         `json:"content"`
	ToolCalls   json.RawMessage `json:"tool_calls,omitempty"`
	ToolResults json.RawMessage `json:"tool_results,omitempty"`
	TokenCount  *int            `json:"token_count,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SessionDetail is a session together with its persisted message history.
type SessionDetail struct {
	Session
	Messages []Message `json:"messages"`
}

// ChatRequest is the JSON body for the chat and stream endpoints.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is returned by the non-streaming chat endpoint.
type ChatResponse struct {
	SessionID string   `json:"session_id"`
	Message   string   `json:"message"`
	ToolsUsed []string `json:"tools_used"`
}

// ConfirmRequest is the JSON body for the confirm endpoint.
type ConfirmRequest struct {
	ActionID  string `json:"action_id"`
	Confirmed bool   `json:"confirmed"`
	SessionID string `json:"session_id"`
}

// UpdateSessionRequest carries the mutable session fields for updates.
// Nil fields are left unchanged.
type UpdateSessionRequest struct {
	Title    *string `json:"title,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// ToolNames extracts tool names from a persisted tool_calls payload.
// Backends store either a bare name array or call objects carrying a
// name field; anything else yields nil rather than an error.
func ToolNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		if len(names) == 0 {
			return nil
		}
		return names
	}
	var calls []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil
	}
	names = names[:0]
	for _, c := range calls {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return names
}
