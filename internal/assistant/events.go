package assistant

import (
	"encoding/json"

	"github.com/finchat-io/finchat/internal/sse"
)

// Event names used on chat streams.
const (
	EventSession              = "session"
	EventToken                = "token"
	EventTool                 = "tool"
	EventConfirmationRequired = "confirmation_required"
	EventActionResult         = "action_result"
	EventDone                 = "done"
	EventError                = "error"
)

// Event is one typed occurrence on a chat stream. The concrete types below
// are the complete vocabulary; consumers switch on them.
type Event interface {
	streamEvent()
}

// SessionEvent announces the session id, emitted when the backend creates
// a session for a first message sent without one.
type SessionEvent struct {
	SessionID string `json:"session_id"`
}

// TokenEvent carries one incremental chunk of assistant text.
type TokenEvent struct {
	Content string `json:"content"`
}

// ToolEvent announces a tool invocation by name.
type ToolEvent struct {
	Tool string `json:"tool"`
}

// ConfirmationRequiredEvent asks the user to approve a proposed action
// before the backend will execute it. Details holds display label/value
// pairs describing the action.
type ConfirmationRequiredEvent struct {
	ActionID   string            `json:"action_id"`
	ActionType string            `json:"action_type"`
	Summary    string            `json:"summary"`
	Details    map[string]string `json:"details"`
}

// ActionResultEvent reports the outcome of a previously confirmed action.
type ActionResultEvent struct {
	ActionID string `json:"action_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// DoneEvent terminates a stream normally, listing the tools the backend
// used during the turn.
type DoneEvent struct {
	ToolsUsed []string `json:"tools_used"`
}

// ErrorEvent terminates a stream with a failure the backend reported.
// Transport failures are returned as errors instead, never as events.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (SessionEvent) streamEvent()              {}
func (TokenEvent) streamEvent()                {}
func (ToolEvent) streamEvent()                 {}
func (ConfirmationRequiredEvent) streamEvent() {}
func (ActionResultEvent) streamEvent()         {}
func (DoneEvent) streamEvent()                 {}
func (ErrorEvent) streamEvent()                {}

// IsTerminal reports whether ev ends its stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	}
	return false
}

// decodeFrame maps a raw frame onto its typed event. Frames with unknown
// event names and frames whose data is not valid JSON are dropped so old
// clients keep working against newer backends.
func decodeFrame(f sse.Frame) (Event, bool) {
	data := []byte(f.Data)
	switch f.Event {
	case EventSession:
		var ev SessionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return ev, true
	case EventToken:
		var ev TokenEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return ev, true
	case EventTool:
		var ev ToolEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return ev, true
	case EventConfirmationRequired:
		var ev ConfirmationRequiredEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return ev, true
	case EventActionResult:
		var ev ActionResultEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return ev, true
	case EventDone:
		var ev DoneEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return ev, true
	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return ev, true
	default:
		return nil, false
	}
}
