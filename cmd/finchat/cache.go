package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/finchat-io/finchat/internal/assistant"
	"github.com/finchat-io/finchat/internal/config"
	"github.com/finchat-io/finchat/internal/storage"
	"github.com/finchat-io/finchat/internal/store"
)

// historyCache is the local sqlite mirror of server-side sessions. It
// keeps `finchat sessions` useful offline and seeds resumed chats when
// the backend is unreachable.
type historyCache struct {
	db       *sql.DB
	sessions *store.SessionStore
	messages *store.MessageStore
}

// openHistoryCache opens the cache described by cfg. It returns nil
// without error when history is disabled.
func openHistoryCache(cfg config.HistoryConfig) (*historyCache, error) {
	if cfg.Disabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open history cache: %w", err)
	}
	return &historyCache{
		db:       db,
		sessions: store.NewSessionStore(db),
		messages: store.NewMessageStore(db),
	}, nil
}

func (c *historyCache) Close() error { return c.db.Close() }

// save mirrors one session and its transcript. Cache writes are best
// effort; a failed write never interrupts the chat.
func (c *historyCache) save(ctx context.Context, detail *assistant.SessionDetail) {
	if err := c.sessions.Upsert(ctx, detail.Session, time.Now()); err != nil {
		return
	}
	_ = c.messages.ReplaceHistory(ctx, detail.ID, detail.Messages)
}

// saveLatest fetches the server's current copy of a session and mirrors
// it, so the next offline `sessions show` has the full transcript.
func (c *historyCache) saveLatest(client *assistant.Client, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	detail, err := client.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	c.save(ctx, detail)
}
