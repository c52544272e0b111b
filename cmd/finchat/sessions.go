package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/finchat-io/finchat/internal/assistant"
)

func runSessions(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (default config.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	client := assistant.NewClient(assistant.Config{
		BaseURL:    cfg.API.BaseURL,
		APIVersion: cfg.API.Version,
		Token:      cfg.API.Token,
		Logger:     logger,
	})

	cache, err := openHistoryCache(cfg.History)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Chat.RequestTimeout))
	defer cancel()

	switch fs.Arg(0) {
	case "", "list":
		return listSessions(ctx, client, cache)
	case "show":
		if fs.Arg(1) == "" {
			return fmt.Errorf("usage: finchat sessions show <session_id>")
		}
		return showSession(ctx, client, cache, fs.Arg(1))
	case "rename":
		if fs.Arg(1) == "" || fs.Arg(2) == "" {
			return fmt.Errorf("usage: finchat sessions rename <session_id> <title>")
		}
		return renameSession(ctx, client, cache, fs.Arg(1), strings.Join(fs.Args()[2:], " "))
	case "rm":
		if fs.Arg(1) == "" {
			return fmt.Errorf("usage: finchat sessions rm <session_id>")
		}
		return removeSession(ctx, client, cache, fs.Arg(1))
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", fs.Arg(0))
	}
}

// listSessions prints the server's session list, refreshing the local
// cache on the way. When the backend is unreachable it falls back to the
// cached copy.
func listSessions(ctx context.Context, client *assistant.Client, cache *historyCache) error {
	sessions, err := client.ListSessions(ctx)
	if err == nil {
		if cache != nil {
			_ = cache.sessions.SyncAll(ctx, sessions, time.Now())
		}
		printSessionTable(sessions)
		return nil
	}
	if cache == nil {
		return err
	}
	cached, cerr := cache.sessions.List(ctx)
	if cerr != nil || len(cached) == 0 {
		return err
	}
	fmt.Fprintf(os.Stderr, "backend unreachable (%v), showing cached sessions\n", err)
	sessions = make([]assistant.Session, 0, len(cached))
	for _, c := range cached {
		sessions = append(sessions, c.Session)
	}
	printSessionTable(sessions)
	return nil
}

func showSession(ctx context.Context, client *assistant.Client, cache *historyCache, id string) error {
	detail, err := client.GetSession(ctx, id)
	if err == nil {
		if cache != nil {
			cache.save(ctx, detail)
		}
		printTranscript(sessionTitle(detail.Session), detail.Messages)
		return nil
	}
	if cache == nil {
		return err
	}
	msgs, cerr := cache.messages.ListBySession(ctx, id)
	if cerr != nil || len(msgs) == 0 {
		return err
	}
	fmt.Fprintf(os.Stderr, "backend unreachable (%v), showing cached transcript\n", err)
	title := id
	if cached, gerr := cache.sessions.Get(ctx, id); gerr == nil {
		title = sessionTitle(cached.Session)
	}
	printTranscript(title, msgs)
	return nil
}

func renameSession(ctx context.Context, client *assistant.Client, cache *historyCache, id, title string) error {
	updated, err := client.UpdateSession(ctx, id, assistant.UpdateSessionRequest{Title: &title})
	if err != nil {
		return err
	}
	if cache != nil {
		_ = cache.sessions.Upsert(ctx, *updated, time.Now())
	}
	fmt.Printf("renamed %s to %q\n", updated.ID, updated.Title)
	return nil
}

func removeSession(ctx context.Context, client *assistant.Client, cache *historyCache, id string) error {
	if err := client.DeleteSession(ctx, id); err != nil {
		return err
	}
	if cache != nil {
		_ = cache.sessions.Delete(ctx, id)
	}
	fmt.Printf("deleted session %s\n", id)
	return nil
}

func printSessionTable(sessions []assistant.Session) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMSGS\tLAST ACTIVITY")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, sessionTitle(s), s.MessageCount, lastActivity(s))
	}
	w.Flush()
}

func printTranscript(title string, msgs []assistant.Message) {
	fmt.Printf("%s\n\n", title)
	for _, msg := range msgs {
		ts := msg.CreatedAt.Local().Format("15:04")
		fmt.Printf("[%s] %s: %s\n", ts, msg.Role, messageText(msg))
		if tools := assistant.ToolNames(msg.ToolCalls); len(tools) > 0 {
			fmt.Printf("        tools: %s\n", strings.Join(tools, ", "))
		}
	}
}

func sessionTitle(s assistant.Session) string {
	if strings.TrimSpace(s.Title) == "" {
		return "(untitled)"
	}
	return s.Title
}

func lastActivity(s assistant.Session) string {
	t := s.CreatedAt
	if s.LastMessageAt != nil {
		t = *s.LastMessageAt
	}
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func messageText(msg assistant.Message) string {
	if msg.Content != nil && *msg.Content != "" {
		return *msg.Content
	}
	return "(no content)"
}
