package confirm

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/finchat-io/finchat/internal/assistant"
)

// Status is the lifecycle state of a proposed action.
type Status string

const (
	// StatusPending means the card is waiting for the user's decision.
	StatusPending Status = "pending"
	// StatusConfirming means the user approved and the confirm round trip
	// is in flight.
	StatusConfirming Status = "confirming"
	// StatusExecuted means the backend ran the action successfully.
	StatusExecuted Status = "executed"
	// StatusCancelled means the user declined before anything ran.
	StatusCancelled Status = "cancelled"
	// StatusFailed means the backend reported failure, or the stream died
	// while the action was confirming.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled || s == StatusFailed
}

// Pending is one tracked confirmation card.
type Pending struct {
	ActionID   string
	ActionType string
	Summary    string
	Details    map[string]string
	Status     Status
	// Reason carries the result message or failure cause once terminal.
	Reason    string
	CreatedAt time.Time
}

// Policy decides what Begin does when another confirmation is already
// waiting on the user.
type Policy string

const (
	// PolicyQueue tracks every confirmation; the UI works through them in
	// arrival order.
	PolicyQueue Policy = "queue"
	// PolicyReplace locally cancels the waiting card and tracks the new
	// one. Cards already confirming are in flight and stay untouched.
	PolicyReplace Policy = "replace"
	// PolicyReject refuses new confirmations while one is waiting.
	PolicyReject Policy = "reject"
)

// ValidPolicy reports whether p is one of the defined policies.
func ValidPolicy(p Policy) bool {
	return p == PolicyQueue || p == PolicyReplace || p == PolicyReject
}

var (
	// ErrUnknownAction means no card is tracked under the given action id.
	ErrUnknownAction = errors.New("unknown action id")
	// ErrOutstanding is returned by Begin under PolicyReject while a card
	// is still waiting on the user.
	ErrOutstanding = errors.New("another confirmation is already pending")
)

type stimulus string

const (
	stimConfirm       stimulus = "confirm"
	stimCancel        stimulus = "cancel"
	stimResultSuccess stimulus = "result_success"
	stimResultFailure stimulus = "result_failure"
	stimAbort         stimulus = "abort"
)

// next is the pure transition function. It returns the successor state
// and whether the stimulus applies to the current one; anything not in
// the table leaves the state alone.
func next(cur Status, in stimulus) (Status, bool) {
	switch cur {
	case StatusPending:
		switch in {
		case stimConfirm:
			return StatusConfirming, true
		case stimCancel:
			return StatusCancelled, true
		}
	case StatusConfirming:
		switch in {
		case stimResultSuccess:
			return StatusExecuted, true
		case stimResultFailure, stimAbort:
			return StatusFailed, true
		}
	}
	return cur, false
}

// Tracker correlates confirmation cards with their outcomes by action id.
// Transitions themselves are pure; the tracker adds indexing plus a mutex
// so the stream reader and the UI loop can share it.
type Tracker struct {
	mu     sync.Mutex
	policy Policy
	byID   map[string]*Pending
	order  []string
	now    func() time.Time
}

// NewTracker creates a Tracker with the given policy, defaulting to
// PolicyQueue.
func NewTracker(policy Policy) *Tracker {
	if policy == "" {
		policy = PolicyQueue
	}
	return &Tracker{
		policy: policy,
		byID:   map[string]*Pending{},
		now:    time.Now,
	}
}

// Begin tracks a confirmation_required event as a pending card. Beginning
// an action id that is already tracked is a no-op returning the existing
// card unchanged.
func (t *Tracker) Begin(ev assistant.ConfirmationRequiredEvent) (Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byID[ev.ActionID]; ok {
		return *existing, nil
	}

	if t.policy != PolicyQueue {
		for _, id := range t.order {
			waiting := t.byID[id]
			if waiting.Status != StatusPending {
				continue
			}
			if t.policy == PolicyReject {
				return Pending{}, ErrOutstanding
			}
			waiting.Status = StatusCancelled
			waiting.Reason = "superseded by a newer confirmation"
		}
	}

	card := &Pending{
		ActionID:   ev.ActionID,
		ActionType: ev.ActionType,
		Summary:    ev.Summary,
		Details:    maps.Clone(ev.Details),
		Status:     StatusPending,
		CreatedAt:  t.now(),
	}
	t.byID[ev.ActionID] = card
	t.order = append(t.order, ev.ActionID)
	return *card, nil
}

// Confirm moves a pending card to confirming. The caller owns the confirm
// request itself; the tracker never touches the network.
func (t *Tracker) Confirm(actionID string) error {
	return t.apply(actionID, stimConfirm, "")
}

// Cancel declines a waiting card locally. No request is made and none
// should be: the backend only ever hears about confirmed actions.
func (t *Tracker) Cancel(actionID, reason string) error {
	return t.apply(actionID, stimCancel, reason)
}

// Abort fails a confirming card whose stream died before a result
// arrived.
func (t *Tracker) Abort(actionID string, cause error) error {
	reason := "confirmation stream aborted"
	if cause != nil {
		reason = cause.Error()
	}
	return t.apply(actionID, stimAbort, reason)
}

// Resolve applies an action_result to its own card, keyed by the event's
// action id. Results for unknown ids, or for cards that are not
// confirming, are ignored; a late result can never reach a different
// card.
func (t *Tracker) Resolve(ev assistant.ActionResultEvent) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	card, ok := t.byID[ev.ActionID]
	if !ok {
		return Pending{}, false
	}
	in := stimResultFailure
	if ev.Success {
		in = stimResultSuccess
	}
	to, ok := next(card.Status, in)
	if !ok {
		return Pending{}, false
	}
	card.Status = to
	card.Reason = ev.Message
	return *card, true
}

// Get returns a copy of the card tracked under actionID.
func (t *Tracker) Get(actionID string) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	card, ok := t.byID[actionID]
	if !ok {
		return Pending{}, false
	}
	return *card, true
}

// Active returns the oldest card still waiting on the user's decision.
func (t *Tracker) Active() (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if card := t.byID[id]; card.Status == StatusPending {
			return *card, true
		}
	}
	return Pending{}, false
}

// Unresolved returns every card not yet in a terminal state, oldest
// first.
func (t *Tracker) Unresolved() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cards []Pending
	for _, id := range t.order {
		if card := t.byID[id]; !card.Status.Terminal() {
			cards = append(cards, *card)
		}
	}
	return cards
}

func (t *Tracker) apply(actionID string, in stimulus, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	card, ok := t.byID[actionID]
	if !ok {
		return ErrUnknownAction
	}
	to, ok := next(card.Status, in)
	if !ok {
		return fmt.Errorf("action %s: cannot %s while %s", actionID, in, card.Status)
	}
	card.Status = to
	if reason != "" {
		card.Reason = reason
	}
	return nil
}
