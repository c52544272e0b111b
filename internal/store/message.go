package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finchat-io/finchat/internal/assistant"
)

// MessageStore caches per-session conversation history.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a new MessageStore.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// ReplaceHistory swaps the cached history of one session for the
// backend's current message list. Replaying the same list is a no-op
// apart from timestamps inside the rows themselves.
func (s *MessageStore) ReplaceHistory(ctx context.Context, sessionID string, msgs []assistant.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	for _, m := range msgs {
		var toolCalls, toolResults *string
		if len(m.ToolCalls) > 0 {
			v := string(m.ToolCalls)
			toolCalls = &v
		}
		if len(m.ToolResults) > 0 {
			v := string(m.ToolResults)
			toolResults = &v
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, tool_calls, tool_results, token_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   content = excluded.content,
			   tool_calls = excluded.tool_calls,
			   tool_results = excluded.tool_results,
			   token_count = excluded.token_count`,
			m.ID, sessionID, string(m.Role), m.Content, toolCalls, toolResults,
			m.TokenCount, m.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history replace: %w", err)
	}
	return nil
}

// ListBySession returns a session's cached messages in conversation order.
func (s *MessageStore) ListBySession(ctx context.Context, sessionID string) ([]assistant.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_calls, tool_results, token_count, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []assistant.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(sc scanner) (*assistant.Message, error) {
	var m assistant.Message
	var role string
	var content sql.NullString
	var toolCalls, toolResults sql.NullString
	var tokenCount sql.NullInt64
	var createdAt *string

	err := sc.Scan(&m.ID, &m.SessionID, &role, &content, &toolCalls, &toolResults, &tokenCount, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	m.Role = assistant.Role(role)
	if content.Valid {
		v := content.String
		m.Content = &v
	}
	if toolCalls.Valid && toolCalls.String != "" {
		m.ToolCalls = json.RawMessage(toolCalls.String)
	}
	if toolResults.Valid && toolResults.String != "" {
		m.ToolResults = json.RawMessage(toolResults.String)
	}
	if tokenCount.Valid {
		v := int(tokenCount.Int64)
		m.TokenCount = &v
	}
	if t := parseTime(createdAt); t != nil {
		m.CreatedAt = *t
	}
	return &m, nil
}
