package store

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/finchat-io/finchat/internal/assistant"
)

func testHistory(sessionID string) []assistant.Message {
	ask := "how much did I spend?"
	answer := "You spent $310 this month."
	return []assistant.Message{
		{
			ID:        "m1",
			SessionID: sessionID,
			Role:      assistant.RoleUser,
			Content:   &ask,
			CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:        "m2",
			SessionID: sessionID,
			Role:      assistant.RoleAssistant,
			Content:   &answer,
			ToolCalls: json.RawMessage(`["get_transactions"]`),
			CreatedAt: time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC),
		},
	}
}

func TestMessageStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	messages := NewMessageStore(db)

	if err := sessions.Upsert(ctx, testSession("sess-1", "Spending", nil), time.Now().UTC()); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	history := testHistory("sess-1")
	if err := messages.ReplaceHistory(ctx, "sess-1", history); err != nil {
		t.Fatalf("replace history: %v", err)
	}

	got, err := messages.ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("order = %q, %q, want m1, m2", got[0].ID, got[1].ID)
	}
	if got[0].Content == nil || *got[0].Content != "how much did I spend?" {
		t.Fatalf("m1 content = %v", got[0].Content)
	}
	var tools []string
	if err := json.Unmarshal(got[1].ToolCalls, &tools); err != nil {
		t.Fatalf("decode tool_calls: %v", err)
	}
	if !reflect.DeepEqual(tools, []string{"get_transactions"}) {
		t.Fatalf("tool_calls = %v", tools)
	}
}

func TestMessageStoreReplaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	messages := NewMessageStore(db)

	if err := sessions.Upsert(ctx, testSession("sess-1", "Spending", nil), time.Now().UTC()); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	history := testHistory("sess-1")
	for i := 0; i < 2; i++ {
		if err := messages.ReplaceHistory(ctx, "sess-1", history); err != nil {
			t.Fatalf("replace %d: %v", i, err)
		}
	}

	got, err := messages.ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(messages) after replay = %d, want 2", len(got))
	}
}

func TestMessageStoreReplaceDropsRemovedMessages(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	messages := NewMessageStore(db)

	if err := sessions.Upsert(ctx, testSession("sess-1", "Spending", nil), time.Now().UTC()); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	history := testHistory("sess-1")
	if err := messages.ReplaceHistory(ctx, "sess-1", history); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := messages.ReplaceHistory(ctx, "sess-1", history[:1]); err != nil {
		t.Fatalf("shrinking replace: %v", err)
	}

	got, err := messages.ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("messages = %+v, want only m1", got)
	}
}
