package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/finchat-io/finchat/internal/assistant"
	"github.com/finchat-io/finchat/internal/confirm"
)

// ErrTurnInFlight is returned by StartTurn while a previous stream for
// the session is still open. Turns are serialized per session.
var ErrTurnInFlight = errors.New("a turn is already streaming for this session")

// Message is one transcript entry as the UI renders it. A message with
// Streaming set is the client-only in-progress assistant turn; it becomes
// a persisted message only after the stream's done event and the next
// history merge.
type Message struct {
	ID        string
	Role      assistant.Role
	Content   string
	ToolsUsed []string
	// ConfirmationIDs are the action ids whose cards render under this
	// bubble. The cards themselves live in the tracker.
	ConfirmationIDs []string
	Streaming       bool
	Err             string
	CreatedAt       time.Time
}

// State folds chat stream events into the transcript of one session and
// owns the session's confirmation tracker.
type State struct {
	sessionID string
	messages  []Message
	tracker   *confirm.Tracker
	openIdx   int
	inFlight  bool
	now       func() time.Time
	newID     func() string
}

// NewState creates the view state for a session. sessionID may be empty
// for a fresh conversation; the backend assigns one via the session
// event.
func NewState(sessionID string, policy confirm.Policy) *State {
	return &State{
		sessionID: sessionID,
		tracker:   confirm.NewTracker(policy),
		openIdx:   -1,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SessionID returns the backend session id, or "" before one is known.
func (s *State) SessionID() string { return s.sessionID }

// Tracker returns the session's confirmation tracker.
func (s *State) Tracker() *confirm.Tracker { return s.tracker }

// Streaming reports whether a turn's stream is still open.
func (s *State) Streaming() bool { return s.inFlight }

// Messages returns a copy of the transcript in conversation order.
func (s *State) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// StartTurn appends the user's message and marks the turn in flight. It
// refuses to start while a previous stream is still open.
func (s *State) StartTurn(text string) error {
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.messages = append(s.messages, Message{
		ID:        s.newID(),
		Role:      assistant.RoleUser,
		Content:   text,
		CreatedAt: s.now(),
	})
	s.inFlight = true
	return nil
}

// BeginFollowUp marks a confirm round trip in flight. Its events fold
// into a fresh assistant bubble just like a regular turn.
func (s *State) BeginFollowUp() error {
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.inFlight = true
	return nil
}

// Apply folds one stream event into the transcript.
func (s *State) Apply(ev assistant.Event) {
	switch ev := ev.(type) {
	case assistant.SessionEvent:
		s.sessionID = ev.SessionID
	case assistant.TokenEvent:
		idx := s.ensureOpen()
		s.messages[idx].Content += ev.Content
	case assistant.ToolEvent:
		idx := s.ensureOpen()
		s.messages[idx].ToolsUsed = append(s.messages[idx].ToolsUsed, ev.Tool)
	case assistant.ConfirmationRequiredEvent:
		if _, err := s.tracker.Begin(ev); err != nil {
			return
		}
		idx := s.ensureOpen()
		s.messages[idx].ConfirmationIDs = append(s.messages[idx].ConfirmationIDs, ev.ActionID)
	case assistant.ActionResultEvent:
		s.tracker.Resolve(ev)
	case assistant.DoneEvent:
		if s.openIdx >= 0 {
			msg := &s.messages[s.openIdx]
			msg.Streaming = false
			if ev.ToolsUsed != nil {
				msg.ToolsUsed = ev.ToolsUsed
			}
		}
		s.openIdx = -1
		s.inFlight = false
	case assistant.ErrorEvent:
		idx := s.ensureOpen()
		msg := &s.messages[idx]
		msg.Streaming = false
		msg.Err = ev.Error
		s.openIdx = -1
		s.inFlight = false
	}
}

// FailOpen closes the in-progress turn after a transport failure. Those
// arrive as errors rather than events, but the transcript must still
// leave its streaming state.
func (s *State) FailOpen(reason string) {
	if !s.inFlight && s.openIdx < 0 {
		return
	}
	idx := s.ensureOpen()
	msg := &s.messages[idx]
	msg.Streaming = false
	msg.Err = reason
	s.openIdx = -1
	s.inFlight = false
}

// MergeHistory reconciles the transcript with the server's persisted
// history, keyed by message id so replaying the same fetch changes
// nothing. The server list becomes canonical: local messages it has
// persisted are replaced by their server shape, a still-streaming bubble
// survives at the tail, and locally failed bubbles are kept so their
// error stays visible. Client-only overlays (pinned confirmation cards)
// carry over, re-pinning to the last bubble when theirs was replaced.
func (s *State) MergeHistory(history []assistant.Message) {
	overlays := make(map[string][]string, len(s.messages))
	for _, m := range s.messages {
		if len(m.ConfirmationIDs) > 0 {
			overlays[m.ID] = m.ConfirmationIDs
		}
	}

	seen := make(map[string]bool, len(history))
	merged := make([]Message, 0, len(history)+2)
	for _, h := range history {
		seen[h.ID] = true
		m := fromServer(h)
		m.ConfirmationIDs = overlays[h.ID]
		merged = append(merged, m)
	}

	var orphaned []string
	openCarried := -1
	for i, m := range s.messages {
		if seen[m.ID] {
			continue
		}
		switch {
		case i == s.openIdx:
			merged = append(merged, m)
			openCarried = len(merged) - 1
		case m.Err != "":
			merged = append(merged, m)
		default:
			orphaned = append(orphaned, m.ConfirmationIDs...)
		}
	}

	if len(merged) > 0 {
		last := &merged[len(merged)-1]
		for _, id := range orphaned {
			if card, ok := s.tracker.Get(id); ok && !card.Status.Terminal() {
				last.ConfirmationIDs = append(last.ConfirmationIDs, id)
			}
		}
	}

	s.messages = merged
	s.openIdx = openCarried
}

func (s *State) ensureOpen() int {
	if s.openIdx >= 0 {
		return s.openIdx
	}
	s.messages = append(s.messages, Message{
		ID:        s.newID(),
		Role:      assistant.RoleAssistant,
		Streaming: true,
		CreatedAt: s.now(),
	})
	s.openIdx = len(s.messages) - 1
	return s.openIdx
}

func fromServer(h assistant.Message) Message {
	m := Message{
		ID:        h.ID,
		Role:      h.Role,
		ToolsUsed: assistant.ToolNames(h.ToolCalls),
		CreatedAt: h.CreatedAt,
	}
	if h.Content != nil {
		m.Content = *h.Content
	}
	return m
}
