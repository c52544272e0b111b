package session

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/finchat-io/finchat/internal/assistant"
	"github.com/finchat-io/finchat/internal/confirm"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	st := NewState("", confirm.PolicyQueue)
	seq := 0
	st.newID = func() string {
		seq++
		return "local-" + string(rune('a'+seq-1))
	}
	st.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return st
}

func strptr(s string) *string { return &s }

func serverMessage(id string, role assistant.Role, content string) assistant.Message {
	return assistant.Message{
		ID:        id,
		SessionID: "sess-1",
		Role:      role,
		Content:   strptr(content),
		CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestTokenEventsAppendToOpenMessage(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("what's my net worth?"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}

	st.Apply(assistant.SessionEvent{SessionID: "sess-1"})
	st.Apply(assistant.TokenEvent{Content: "Your net worth "})
	st.Apply(assistant.TokenEvent{Content: "is $12,450."})
	st.Apply(assistant.DoneEvent{ToolsUsed: []string{}})

	if got := st.SessionID(); got != "sess-1" {
		t.Fatalf("SessionID() = %q, want %q", got, "sess-1")
	}
	msgs := st.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != assistant.RoleUser || msgs[0].Content != "what's my net worth?" {
		t.Fatalf("user message = %+v", msgs[0])
	}
	reply := msgs[1]
	if reply.Role != assistant.RoleAssistant {
		t.Fatalf("reply role = %q, want %q", reply.Role, assistant.RoleAssistant)
	}
	if reply.Content != "Your net worth is $12,450." {
		t.Fatalf("reply content = %q", reply.Content)
	}
	if reply.Streaming {
		t.Fatal("reply still marked streaming after done")
	}
	if st.Streaming() {
		t.Fatal("state still in flight after done")
	}
}

func TestErrorEventClosesStreamingMessage(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("hi"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.Apply(assistant.TokenEvent{Content: "Let me ch"})
	st.Apply(assistant.ErrorEvent{Error: "model unavailable"})

	msgs := st.Messages()
	reply := msgs[len(msgs)-1]
	if reply.Streaming {
		t.Fatal("message still streaming after error event")
	}
	if reply.Err != "model unavailable" {
		t.Fatalf("reply.Err = %q, want %q", reply.Err, "model unavailable")
	}
	if reply.Content != "Let me ch" {
		t.Fatalf("partial content lost: %q", reply.Content)
	}
	if st.Streaming() {
		t.Fatal("state still in flight after error event")
	}
}

func TestStartTurnRefusedWhileStreaming(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("first"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := st.StartTurn("second"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("StartTurn() while streaming = %v, want ErrTurnInFlight", err)
	}

	st.Apply(assistant.DoneEvent{})
	if err := st.StartTurn("second"); err != nil {
		t.Fatalf("StartTurn() after done = %v", err)
	}
}

func TestDoneToolsUsedIsAuthoritative(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("spending?"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.Apply(assistant.ToolEvent{Tool: "get_transactions"})
	st.Apply(assistant.TokenEvent{Content: "You spent $310."})
	st.Apply(assistant.DoneEvent{ToolsUsed: []string{"get_transactions", "get_accounts"}})

	msgs := st.Messages()
	reply := msgs[len(msgs)-1]
	want := []string{"get_transactions", "get_accounts"}
	if !reflect.DeepEqual(reply.ToolsUsed, want) {
		t.Fatalf("ToolsUsed = %v, want %v", reply.ToolsUsed, want)
	}
}

func TestConfirmationCardPinsToOpenBubble(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("move $100 to savings"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.Apply(assistant.TokenEvent{Content: "I can set that up."})
	st.Apply(assistant.ConfirmationRequiredEvent{
		ActionID:   "act-1",
		ActionType: "contribute_to_goal",
		Summary:    "Move $100.00 to Savings",
		Details:    map[string]string{"amount": "100.00"},
	})
	st.Apply(assistant.DoneEvent{})

	msgs := st.Messages()
	reply := msgs[len(msgs)-1]
	if !reflect.DeepEqual(reply.ConfirmationIDs, []string{"act-1"}) {
		t.Fatalf("ConfirmationIDs = %v, want [act-1]", reply.ConfirmationIDs)
	}
	card, ok := st.Tracker().Get("act-1")
	if !ok {
		t.Fatal("tracker has no card for act-1")
	}
	if card.Status != confirm.StatusPending {
		t.Fatalf("card status = %q, want %q", card.Status, confirm.StatusPending)
	}
}

func TestActionResultResolvesTrackedCard(t *testing.T) {
	st := newTestState(t)
	st.Apply(assistant.ConfirmationRequiredEvent{ActionID: "act-1", ActionType: "add_transaction", Summary: "Add $25 expense"})
	st.Apply(assistant.DoneEvent{})

	if err := st.Tracker().Confirm("act-1"); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	st.Apply(assistant.ActionResultEvent{ActionID: "act-1", Success: true, Message: "transaction recorded"})

	card, _ := st.Tracker().Get("act-1")
	if card.Status != confirm.StatusExecuted {
		t.Fatalf("card status = %q, want %q", card.Status, confirm.StatusExecuted)
	}
}

func TestFailOpenClosesTurn(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("hello"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.Apply(assistant.TokenEvent{Content: "He"})
	st.FailOpen("connection reset")

	msgs := st.Messages()
	reply := msgs[len(msgs)-1]
	if reply.Streaming || reply.Err != "connection reset" {
		t.Fatalf("reply = %+v, want closed with error", reply)
	}
	if st.Streaming() {
		t.Fatal("state still in flight after FailOpen")
	}
}

func TestFailOpenBeforeFirstTokenCreatesErrorBubble(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("hello"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.FailOpen("dial tcp: connection refused")

	msgs := st.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	reply := msgs[1]
	if reply.Role != assistant.RoleAssistant || reply.Err == "" {
		t.Fatalf("reply = %+v, want assistant error bubble", reply)
	}
}

func TestFailOpenWithoutTurnIsNoop(t *testing.T) {
	st := newTestState(t)
	st.FailOpen("spurious")
	if len(st.Messages()) != 0 {
		t.Fatalf("messages = %v, want none", st.Messages())
	}
}

func TestMergeHistoryIsIdempotent(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("hi"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.Apply(assistant.TokenEvent{Content: "Hello!"})
	st.Apply(assistant.DoneEvent{})

	history := []assistant.Message{
		serverMessage("m1", assistant.RoleUser, "hi"),
		serverMessage("m2", assistant.RoleAssistant, "Hello!"),
	}
	st.MergeHistory(history)
	first := st.Messages()
	st.MergeHistory(history)
	second := st.Messages()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second merge changed state:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if len(second) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(second))
	}
	if second[0].ID != "m1" || second[1].ID != "m2" {
		t.Fatalf("merged ids = %q, %q, want m1, m2", second[0].ID, second[1].ID)
	}
}

func TestMergeHistoryKeepsStreamingTail(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("latest question"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.Apply(assistant.TokenEvent{Content: "Thinking"})

	st.MergeHistory([]assistant.Message{
		serverMessage("m1", assistant.RoleUser, "older question"),
		serverMessage("m2", assistant.RoleAssistant, "older answer"),
	})

	msgs := st.Messages()
	tail := msgs[len(msgs)-1]
	if !tail.Streaming || tail.Content != "Thinking" {
		t.Fatalf("streaming tail = %+v, want preserved", tail)
	}

	// The open bubble keeps folding events after the merge.
	st.Apply(assistant.TokenEvent{Content: "..."})
	st.Apply(assistant.DoneEvent{})
	msgs = st.Messages()
	tail = msgs[len(msgs)-1]
	if tail.Content != "Thinking..." || tail.Streaming {
		t.Fatalf("tail after done = %+v", tail)
	}
}

func TestMergeHistoryKeepsFailedLocalMessage(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("hi"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.FailOpen("stream aborted")

	st.MergeHistory([]assistant.Message{
		serverMessage("m1", assistant.RoleUser, "hi"),
	})

	msgs := st.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[1].Err != "stream aborted" {
		t.Fatalf("failed bubble lost: %+v", msgs[1])
	}
}

func TestMergeHistoryRePinsUnresolvedCards(t *testing.T) {
	st := newTestState(t)
	if err := st.StartTurn("move money"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	st.Apply(assistant.TokenEvent{Content: "Sure."})
	st.Apply(assistant.ConfirmationRequiredEvent{ActionID: "act-1", ActionType: "contribute_to_goal", Summary: "Move $50"})
	st.Apply(assistant.DoneEvent{})

	history := []assistant.Message{
		serverMessage("m1", assistant.RoleUser, "move money"),
		serverMessage("m2", assistant.RoleAssistant, "Sure."),
	}
	st.MergeHistory(history)

	msgs := st.Messages()
	last := msgs[len(msgs)-1]
	if !reflect.DeepEqual(last.ConfirmationIDs, []string{"act-1"}) {
		t.Fatalf("ConfirmationIDs = %v, want [act-1] on last message", last.ConfirmationIDs)
	}

	// Replaying the fetch keeps the pin without duplicating it.
	st.MergeHistory(history)
	msgs = st.Messages()
	last = msgs[len(msgs)-1]
	if !reflect.DeepEqual(last.ConfirmationIDs, []string{"act-1"}) {
		t.Fatalf("ConfirmationIDs after replay = %v, want [act-1]", last.ConfirmationIDs)
	}
}

func TestMergeHistoryDropsResolvedCardPins(t *testing.T) {
	st := newTestState(t)
	st.Apply(assistant.ConfirmationRequiredEvent{ActionID: "act-1", ActionType: "add_transaction", Summary: "Add $5"})
	st.Apply(assistant.DoneEvent{})
	if err := st.Tracker().Cancel("act-1", "changed my mind"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	st.MergeHistory([]assistant.Message{
		serverMessage("m1", assistant.RoleAssistant, "Want me to add it?"),
	})

	msgs := st.Messages()
	if len(msgs[0].ConfirmationIDs) != 0 {
		t.Fatalf("resolved card re-pinned: %v", msgs[0].ConfirmationIDs)
	}
}

func TestMergeHistoryDecodesToolNames(t *testing.T) {
	st := newTestState(t)
	raw, err := json.Marshal([]string{"get_accounts"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := serverMessage("m1", assistant.RoleAssistant, "Here are your accounts.")
	msg.ToolCalls = raw

	st.MergeHistory([]assistant.Message{msg})

	msgs := st.Messages()
	if !reflect.DeepEqual(msgs[0].ToolsUsed, []string{"get_accounts"}) {
		t.Fatalf("ToolsUsed = %v, want [get_accounts]", msgs[0].ToolsUsed)
	}
}
