package demo

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/finchat-io/finchat/internal/assistant"
)

// memory holds the demo backend's sessions, messages, and parked
// confirmation actions.
type memory struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	order    []string
	pending  map[string]*pendingAction
	now      func() time.Time
}

type sessionState struct {
	meta     assistant.Session
	messages []assistant.Message
}

func newMemory() *memory {
	return &memory{
		sessions: make(map[string]*sessionState),
		pending:  make(map[string]*pendingAction),
		now:      time.Now,
	}
}

// getOrCreate returns the session with the given id, creating it (and
// minting an id when none is supplied) on first use.
func (m *memory) getOrCreate(id string) (assistant.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if st, ok := m.sessions[id]; ok {
			return st.meta, false
		}
	}
	if id == "" {
		id = shortuuid.New()
	}
	st := &sessionState{
		meta: assistant.Session{
			ID:        id,
			IsActive:  true,
			CreatedAt: m.now().UTC(),
		},
	}
	m.sessions[id] = st
	m.order = append(m.order, id)
	return st.meta, true
}

// appendMessage records one message and updates the session's counters.
// The first user message becomes the session title.
func (m *memory) appendMessage(sessionID string, role assistant.Role, content string, toolCalls []string) assistant.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return assistant.Message{}
	}

	now := m.now().UTC()
	msg := assistant.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   &content,
		CreatedAt: now,
	}
	if len(toolCalls) > 0 {
		if raw, err := json.Marshal(toolCalls); err == nil {
			msg.ToolCalls = raw
		}
	}

	st.messages = append(st.messages, msg)
	st.meta.MessageCount = len(st.messages)
	st.meta.LastMessageAt = &now
	if st.meta.Title == "" && role == assistant.RoleUser {
		st.meta.Title = truncateTitle(content)
	}
	return msg
}

// list returns session metadata, most recently created first.
func (m *memory) list() []assistant.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]assistant.Session, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if st, ok := m.sessions[m.order[i]]; ok {
			out = append(out, st.meta)
		}
	}
	return out
}

func (m *memory) get(id string) (assistant.SessionDetail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return assistant.SessionDetail{}, false
	}
	detail := assistant.SessionDetail{Session: st.meta}
	detail.Messages = make([]assistant.Message, len(st.messages))
	copy(detail.Messages, st.messages)
	return detail, true
}

func (m *memory) update(id string, req assistant.UpdateSessionRequest) (assistant.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return assistant.Session{}, false
	}
	if req.Title != nil {
		st.meta.Title = *req.Title
	}
	if req.IsActive != nil {
		st.meta.IsActive = *req.IsActive
	}
	return st.meta, true
}

func (m *memory) delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for actionID, action := range m.pending {
		if action.SessionID == id {
			delete(m.pending, actionID)
		}
	}
	return true
}

// park stores an action awaiting confirmation.
func (m *memory) park(action *pendingAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[action.ID] = action
}

// take removes and returns a parked action. A second take of the same id
// misses, which is what makes confirmations single-shot.
func (m *memory) take(actionID string) (*pendingAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.pending[actionID]
	if ok {
		delete(m.pending, actionID)
	}
	return action, ok
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= 40 {
		return content
	}
	return string(runes[:40])
}
