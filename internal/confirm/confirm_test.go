package confirm

import (
	"errors"
	"testing"

	"github.com/finchat-io/finchat/internal/assistant"
)

func confirmationEvent(id string) assistant.ConfirmationRequiredEvent {
	return assistant.ConfirmationRequiredEvent{
		ActionID:   id,
		ActionType: "create_transaction",
		Summary:    "Add $42.50 groceries expense",
		Details:    map[string]string{"Amount": "$42.50", "Category": "groceries"},
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from   Status
		in     stimulus
		want   Status
		wantOK bool
	}{
		{StatusPending, stimConfirm, StatusConfirming, true},
		{StatusPending, stimCancel, StatusCancelled, true},
		{StatusPending, stimResultSuccess, StatusPending, false},
		{StatusPending, stimResultFailure, StatusPending, false},
		{StatusPending, stimAbort, StatusPending, false},
		{StatusConfirming, stimResultSuccess, StatusExecuted, true},
		{StatusConfirming, stimResultFailure, StatusFailed, true},
		{StatusConfirming, stimAbort, StatusFailed, true},
		{StatusConfirming, stimConfirm, StatusConfirming, false},
		{StatusConfirming, stimCancel, StatusConfirming, false},
		{StatusExecuted, stimResultSuccess, StatusExecuted, false},
		{StatusCancelled, stimConfirm, StatusCancelled, false},
		{StatusFailed, stimResultSuccess, StatusFailed, false},
	}
	for _, tt := range tests {
		got, ok := next(tt.from, tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("next(%s, %s) = (%s, %v), want (%s, %v)", tt.from, tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestConfirmedActionExecutes(t *testing.T) {
	tr := NewTracker(PolicyQueue)

	card, err := tr.Begin(confirmationEvent("a1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if card.Status != StatusPending {
		t.Fatalf("status after begin = %s, want pending", card.Status)
	}

	if err := tr.Confirm("a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if card, _ := tr.Get("a1"); card.Status != StatusConfirming {
		t.Fatalf("status after confirm = %s, want confirming", card.Status)
	}

	resolved, ok := tr.Resolve(assistant.ActionResultEvent{ActionID: "a1", Success: true, Message: "Transaction created"})
	if !ok {
		t.Fatalf("resolve did not apply")
	}
	if resolved.Status != StatusExecuted || resolved.Reason != "Transaction created" {
		t.Fatalf("resolved = %+v, want executed with message", resolved)
	}
}

func TestLocalCancelIsTerminalWithoutNetwork(t *testing.T) {
	tr := NewTracker(PolicyQueue)
	if _, err := tr.Begin(confirmationEvent("a1")); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Declining happens entirely in the tracker. The confirm endpoint is
	// the caller's to invoke and only after Confirm, which never ran here.
	if err := tr.Cancel("a1", "user declined"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	card, _ := tr.Get("a1")
	if card.Status != StatusCancelled || card.Reason != "user declined" {
		t.Fatalf("card = %+v, want cancelled with reason", card)
	}

	// A result arriving afterwards must not resurrect the card.
	if _, ok := tr.Resolve(assistant.ActionResultEvent{ActionID: "a1", Success: true}); ok {
		t.Fatalf("resolve applied to a cancelled card")
	}
	if card, _ := tr.Get("a1"); card.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled to stick", card.Status)
	}
}

func TestResultsCorrelateByActionID(t *testing.T) {
	tr := NewTracker(PolicyQueue)
	for _, id := range []string{"a1", "a2"} {
		if _, err := tr.Begin(confirmationEvent(id)); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
		if err := tr.Confirm(id); err != nil {
			t.Fatalf("confirm %s: %v", id, err)
		}
	}

	// Results arrive in reverse order; each must land on its own card.
	if _, ok := tr.Resolve(assistant.ActionResultEvent{ActionID: "a2", Success: false, Message: "insufficient funds"}); !ok {
		t.Fatalf("resolve a2 did not apply")
	}
	if _, ok := tr.Resolve(assistant.ActionResultEvent{ActionID: "a1", Success: true, Message: "done"}); !ok {
		t.Fatalf("resolve a1 did not apply")
	}

	first, _ := tr.Get("a1")
	second, _ := tr.Get("a2")
	if first.Status != StatusExecuted {
		t.Fatalf("a1 status = %s, want executed", first.Status)
	}
	if second.Status != StatusFailed || second.Reason != "insufficient funds" {
		t.Fatalf("a2 = %+v, want failed with reason", second)
	}
}

func TestLateAndUnknownResultsIgnored(t *testing.T) {
	tr := NewTracker(PolicyQueue)

	if _, ok := tr.Resolve(assistant.ActionResultEvent{ActionID: "ghost", Success: true}); ok {
		t.Fatalf("resolve applied to unknown action id")
	}

	// A result for a card still waiting on the user does not apply either;
	// only confirming cards accept results.
	if _, err := tr.Begin(confirmationEvent("a1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, ok := tr.Resolve(assistant.ActionResultEvent{ActionID: "a1", Success: true}); ok {
		t.Fatalf("resolve applied to a pending card")
	}
}

func TestAbortDuringConfirmingFails(t *testing.T) {
	tr := NewTracker(PolicyQueue)
	if _, err := tr.Begin(confirmationEvent("a1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tr.Confirm("a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := tr.Abort("a1", errors.New("connection reset")); err != nil {
		t.Fatalf("abort: %v", err)
	}
	card, _ := tr.Get("a1")
	if card.Status != StatusFailed || card.Reason != "connection reset" {
		t.Fatalf("card = %+v, want failed with cause", card)
	}
}

func TestFailureResultMarksFailed(t *testing.T) {
	tr := NewTracker(PolicyQueue)
	if _, err := tr.Begin(confirmationEvent("a1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tr.Confirm("a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	card, ok := tr.Resolve(assistant.ActionResultEvent{ActionID: "a1", Success: false, Message: "goal not found"})
	if !ok {
		t.Fatalf("resolve did not apply")
	}
	if card.Status != StatusFailed || card.Reason != "goal not found" {
		t.Fatalf("card = %+v, want failed with message", card)
	}
}

func TestDuplicateBeginIsIdempotent(t *testing.T) {
	tr := NewTracker(PolicyQueue)
	if _, err := tr.Begin(confirmationEvent("a1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tr.Confirm("a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	card, err := tr.Begin(confirmationEvent("a1"))
	if err != nil {
		t.Fatalf("duplicate begin: %v", err)
	}
	if card.Status != StatusConfirming {
		t.Fatalf("duplicate begin reset status to %s", card.Status)
	}
}

func TestPolicyQueueTracksAllCards(t *testing.T) {
	tr := NewTracker(PolicyQueue)
	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := tr.Begin(confirmationEvent(id)); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}
	if got := len(tr.Unresolved()); got != 3 {
		t.Fatalf("unresolved = %d, want 3", got)
	}
	active, ok := tr.Active()
	if !ok || active.ActionID != "a1" {
		t.Fatalf("active = %+v, want oldest pending a1", active)
	}
}

func TestPolicyRejectRefusesSecondCard(t *testing.T) {
	tr := NewTracker(PolicyReject)
	if _, err := tr.Begin(confirmationEvent("a1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tr.Begin(confirmationEvent("a2")); !errors.Is(err, ErrOutstanding) {
		t.Fatalf("err = %v, want ErrOutstanding", err)
	}

	// Once the first card leaves pending, new cards are accepted again.
	if err := tr.Confirm("a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := tr.Begin(confirmationEvent("a2")); err != nil {
		t.Fatalf("begin after confirm: %v", err)
	}
}

func TestPolicyReplaceCancelsWaitingCard(t *testing.T) {
	tr := NewTracker(PolicyReplace)
	if _, err := tr.Begin(confirmationEvent("a1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tr.Begin(confirmationEvent("a2")); err != nil {
		t.Fatalf("begin replacement: %v", err)
	}

	replaced, _ := tr.Get("a1")
	if replaced.Status != StatusCancelled {
		t.Fatalf("a1 status = %s, want cancelled", replaced.Status)
	}
	active, ok := tr.Active()
	if !ok || active.ActionID != "a2" {
		t.Fatalf("active = %+v, want a2", active)
	}

	// A confirming card is in flight and must survive replacement.
	if err := tr.Confirm("a2"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := tr.Begin(confirmationEvent("a3")); err != nil {
		t.Fatalf("begin a3: %v", err)
	}
	inFlight, _ := tr.Get("a2")
	if inFlight.Status != StatusConfirming {
		t.Fatalf("a2 status = %s, want confirming untouched", inFlight.Status)
	}
}
