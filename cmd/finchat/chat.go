package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/finchat-io/finchat/internal/assistant"
	"github.com/finchat-io/finchat/internal/confirm"
	"github.com/finchat-io/finchat/internal/session"
)

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (default config.yaml)")
	sessionID := fs.String("session", "", "resume an existing session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("usage: finchat chat [--config <path>] [--session <id>]")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	client := assistant.NewClient(assistant.Config{
		BaseURL:    cfg.API.BaseURL,
		APIVersion: cfg.API.Version,
		Token:      cfg.API.Token,
	})

	state := session.NewState(*sessionID, confirm.Policy(cfg.Chat.ConfirmationPolicy))

	cache, err := openHistoryCache(cfg.History)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	var notice string
	if *sessionID != "" {
		notice = loadTranscript(client, cache, state, *sessionID, time.Duration(cfg.Chat.RequestTimeout))
	}

	p := tea.NewProgram(newChatModel(client, cfg.API.BaseURL, state, notice), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}

	// Mirror the finished conversation so `sessions show` works offline.
	if cache != nil && state.SessionID() != "" {
		cache.saveLatest(client, state.SessionID())
	}
	return nil
}

// loadTranscript seeds the transcript for a resumed session, preferring
// the backend and falling back to the local cache. It returns a note for
// the footer when the backend copy was unavailable.
func loadTranscript(client *assistant.Client, cache *historyCache, state *session.State, sessionID string, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	detail, err := client.GetSession(ctx, sessionID)
	if err == nil {
		state.MergeHistory(detail.Messages)
		if cache != nil {
			cache.save(ctx, detail)
		}
		return ""
	}
	if cache != nil {
		if msgs, cerr := cache.messages.ListBySession(ctx, sessionID); cerr == nil && len(msgs) > 0 {
			state.MergeHistory(msgs)
			return "history from local cache (backend unreachable)"
		}
	}
	return fmt.Sprintf("could not load history: %v", err)
}

var (
	chatAccent = lipgloss.Color("#10B981")
	chatInk    = lipgloss.Color("#022C22")
	chatPaper  = lipgloss.Color("#ECFDF5")
	chatDim    = lipgloss.Color("#6EE7B7")
	chatGray   = lipgloss.Color("#6B7280")
	chatError  = lipgloss.Color("#EF4444")

	chatDimStyle        = lipgloss.NewStyle().Foreground(chatDim)
	chatErrorStyle      = lipgloss.NewStyle().Foreground(chatError)
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(chatPaper)
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(chatAccent)
	toolTagStyle        = lipgloss.NewStyle().Foreground(chatGray)
)

// chatStreamMsg carries one stream outcome to the UI. seq ties the
// message to the stream it came from; anything from an older stream is
// dropped so a cancelled turn's trailing error cannot bleed into the
// next one.
type chatStreamMsg struct {
	seq   int
	Event assistant.Event
	Err   error
	EOF   bool
}

type streamStartedMsg struct{}

type chatModel struct {
	client  *assistant.Client
	apiBase string
	state   *session.State
	notice  string

	input textinput.Model
	spin  spinner.Model
	vp    viewport.Model
	ready bool

	width  int
	height int

	events       chan chatStreamMsg
	streamSeq    int
	cancelStream context.CancelFunc
	confirmingID string
	err          error
}

func newChatModel(client *assistant.Client, apiBase string, state *session.State, notice string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about balances, spending, or goals..."
	ti.CharLimit = 2048
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(chatAccent)

	return chatModel{
		client:  client,
		apiBase: apiBase,
		state:   state,
		notice:  notice,
		input:   ti,
		spin:    sp,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w := bodyWidth(m.width)
		h := transcriptHeight(m.height)
		if !m.ready {
			m.vp = viewport.New(w, h)
			m.ready = true
		} else {
			m.vp.Width = w
			m.vp.Height = h
		}
		m.input.Width = w - 4
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamStartedMsg:
		return m, nil

	case spinner.TickMsg:
		if !m.state.Streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		m.refreshTranscript()
		return m, cmd

	case chatStreamMsg:
		return m.handleStream(msg)

	default:
		return m, nil
	}
}

func (m chatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.stopStream()
		return m, tea.Quit
	case "esc":
		if m.state.Streaming() && m.cancelStream != nil {
			// The pump reports the cancellation as a stream error,
			// which closes the open bubble and settles any in-flight
			// confirmation.
			m.cancelStream()
			return m, nil
		}
		m.stopStream()
		return m, tea.Quit
	case "enter":
		return m.submit()
	case "y", "Y":
		if cmd, ok := m.decide(true); ok {
			return m, cmd
		}
	case "n", "N":
		if cmd, ok := m.decide(false); ok {
			return m, cmd
		}
	case "up", "down", "pgup", "pgdown":
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if err := m.state.StartTurn(text); err != nil {
		m.err = err
		return m, nil
	}
	m.input.Reset()
	m.err = nil
	m.notice = ""

	sessionID := m.state.SessionID()
	cmd := m.openStream(func(ctx context.Context) (*assistant.Stream, error) {
		return m.client.StreamMessage(ctx, text, sessionID)
	})
	m.refreshTranscript()
	return m, cmd
}

// decide applies the user's verdict to the active confirmation card. It
// reports false when no card is waiting so the key falls through to the
// text input.
func (m *chatModel) decide(confirmed bool) (tea.Cmd, bool) {
	if m.input.Value() != "" || m.state.Streaming() {
		return nil, false
	}
	card, ok := m.state.Tracker().Active()
	if !ok {
		return nil, false
	}

	if !confirmed {
		// Declining is local only; nothing is sent to the backend.
		if err := m.state.Tracker().Cancel(card.ActionID, "declined"); err != nil {
			m.err = err
		}
		m.refreshTranscript()
		return nil, true
	}

	if err := m.state.Tracker().Confirm(card.ActionID); err != nil {
		m.err = err
		return nil, true
	}
	if err := m.state.BeginFollowUp(); err != nil {
		m.err = err
		return nil, true
	}
	m.confirmingID = card.ActionID
	m.err = nil

	actionID := card.ActionID
	sessionID := m.state.SessionID()
	cmd := m.openStream(func(ctx context.Context) (*assistant.Stream, error) {
		return m.client.ConfirmAction(ctx, actionID, true, sessionID)
	})
	m.refreshTranscript()
	return cmd, true
}

func (m chatModel) handleStream(msg chatStreamMsg) (tea.Model, tea.Cmd) {
	if msg.seq != m.streamSeq {
		return m, nil
	}
	switch {
	case msg.Err != nil:
		reason := msg.Err.Error()
		if errors.Is(msg.Err, context.Canceled) {
			reason = "cancelled"
		} else {
			m.err = msg.Err
		}
		m.state.FailOpen(reason)
		m.failConfirming(msg.Err)
		m.stopStream()
		m.refreshTranscript()
		return m, nil

	case msg.EOF:
		if m.state.Streaming() {
			m.state.FailOpen("stream closed early")
			m.failConfirming(errors.New("stream closed early"))
		}
		m.stopStream()
		m.refreshTranscript()
		return m, nil

	default:
		m.state.Apply(msg.Event)
		if res, ok := msg.Event.(assistant.ActionResultEvent); ok && res.ActionID == m.confirmingID {
			m.confirmingID = ""
		}
		m.refreshTranscript()
		return m, waitForStreamCmd(m.streamSeq, m.events)
	}
}

// openStream wires a fresh event channel and starts pumping the stream
// opened by open. Each turn gets its own channel and sequence number.
func (m *chatModel) openStream(open func(context.Context) (*assistant.Stream, error)) tea.Cmd {
	events := make(chan chatStreamMsg, 32)
	ctx, cancel := context.WithCancel(context.Background())
	m.events = events
	m.cancelStream = cancel
	m.streamSeq++
	return tea.Batch(
		startStreamCmd(ctx, open, events),
		waitForStreamCmd(m.streamSeq, events),
		m.spin.Tick,
	)
}

// failConfirming settles a card stuck in confirming when its stream died
// before the action result arrived.
func (m *chatModel) failConfirming(cause error) {
	if m.confirmingID == "" {
		return
	}
	_ = m.state.Tracker().Abort(m.confirmingID, cause)
	m.confirmingID = ""
}

func (m *chatModel) stopStream() {
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}
}

func (m *chatModel) refreshTranscript() {
	if !m.ready {
		return
	}
	m.vp.SetContent(m.renderTranscript(m.vp.Width))
	m.vp.GotoBottom()
}

func startStreamCmd(ctx context.Context, open func(context.Context) (*assistant.Stream, error), out chan chatStreamMsg) tea.Cmd {
	return func() tea.Msg {
		go pumpStream(ctx, open, out)
		return streamStartedMsg{}
	}
}

func waitForStreamCmd(seq int, in <-chan chatStreamMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-in
		if !ok {
			return chatStreamMsg{seq: seq, EOF: true}
		}
		msg.seq = seq
		return msg
	}
}

// pumpStream forwards stream events to the UI channel until the stream
// ends. The channel is closed on exit so the reader sees EOF.
func pumpStream(ctx context.Context, open func(context.Context) (*assistant.Stream, error), out chan<- chatStreamMsg) {
	defer close(out)

	stream, err := open(ctx)
	if err != nil {
		out <- chatStreamMsg{Err: err}
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			out <- chatStreamMsg{EOF: true}
			return
		}
		if err != nil {
			out <- chatStreamMsg{Err: err}
			return
		}
		out <- chatStreamMsg{Event: ev}
	}
}

func (m chatModel) View() string {
	if !m.ready {
		return "starting..."
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(chatInk).
		Background(chatAccent).
		Padding(0, 1).
		Render("FinChat")

	statusStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(chatInk).
		Background(chatDim).
		Padding(0, 1)
	if m.err != nil {
		statusStyle = statusStyle.Background(chatError).Foreground(chatPaper)
	}

	sessionLabel := m.state.SessionID()
	if sessionLabel == "" {
		sessionLabel = "new"
	}
	meta := chatDimStyle.Render(fmt.Sprintf("session=%s  api=%s", sessionLabel, m.apiBase))

	inputBar := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(chatAccent).
		Width(bodyWidth(m.width)).
		Padding(0, 1).
		Render(m.input.View())

	return strings.Join([]string{
		title + " " + statusStyle.Render(strings.ToUpper(m.statusLabel())),
		meta,
		m.vp.View(),
		inputBar,
		m.footerLine(),
	}, "\n")
}

func (m chatModel) statusLabel() string {
	switch {
	case m.err != nil:
		return "error"
	case m.confirmingID != "":
		return "confirming"
	case m.state.Streaming():
		return "streaming"
	default:
		return "ready"
	}
}

func (m chatModel) footerLine() string {
	if m.err != nil {
		return chatErrorStyle.Render("error: " + m.err.Error() + "  esc: quit")
	}
	if m.notice != "" {
		return chatDimStyle.Render(m.notice)
	}
	if m.state.Streaming() {
		return chatDimStyle.Render("esc: cancel response  ctrl+c: quit")
	}
	if _, ok := m.state.Tracker().Active(); ok {
		return chatDimStyle.Render("y: approve  n: decline  enter: send  esc: quit")
	}
	return chatDimStyle.Render("enter: send  esc: quit")
}

func (m chatModel) renderTranscript(width int) string {
	msgs := m.state.Messages()
	if len(msgs) == 0 {
		return chatDimStyle.Render("No messages yet. Ask about your accounts, spending, or goals.")
	}
	blocks := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		blocks = append(blocks, m.renderMessage(msg, width))
	}
	return strings.Join(blocks, "\n\n")
}

func (m chatModel) renderMessage(msg session.Message, width int) string {
	var b strings.Builder
	switch msg.Role {
	case assistant.RoleUser:
		b.WriteString(userLabelStyle.Render("you"))
	default:
		b.WriteString(assistantLabelStyle.Render("assistant"))
	}
	b.WriteString("\n")

	content := msg.Content
	if msg.Streaming && content == "" {
		content = m.spin.View() + " thinking..."
	} else if msg.Streaming {
		content += " " + m.spin.View()
	}
	b.WriteString(lipgloss.NewStyle().Width(width).Render(content))

	if len(msg.ToolsUsed) > 0 {
		b.WriteString("\n" + toolTagStyle.Render("tools: "+strings.Join(msg.ToolsUsed, ", ")))
	}
	if msg.Err != "" {
		b.WriteString("\n" + chatErrorStyle.Render("✗ "+msg.Err))
	}
	for _, id := range msg.ConfirmationIDs {
		if card, ok := m.state.Tracker().Get(id); ok {
			b.WriteString("\n" + renderCard(card, width))
		}
	}
	return b.String()
}

// renderCard draws one confirmation card. Pending cards carry the y/n
// hint; resolved cards keep their outcome in the transcript.
func renderCard(card confirm.Pending, width int) string {
	lines := []string{card.Summary}
	for _, k := range sortedKeys(card.Details) {
		lines = append(lines, fmt.Sprintf("  %s: %s", k, card.Details[k]))
	}
	lines = append(lines, cardStatusLine(card))

	border := chatAccent
	switch card.Status {
	case confirm.StatusExecuted:
		border = chatDim
	case confirm.StatusFailed:
		border = chatError
	case confirm.StatusCancelled:
		border = chatGray
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(cardWidth(width)).
		Render(strings.Join(lines, "\n"))
}

// cardStatusLine is the last line of a confirmation card.
func cardStatusLine(card confirm.Pending) string {
	switch card.Status {
	case confirm.StatusPending:
		return "approve? y / n"
	case confirm.StatusConfirming:
		return "confirming..."
	case confirm.StatusExecuted:
		if card.Reason != "" {
			return "✓ " + card.Reason
		}
		return "✓ done"
	case confirm.StatusFailed:
		if card.Reason != "" {
			return "✗ " + card.Reason
		}
		return "✗ failed"
	case confirm.StatusCancelled:
		return "declined"
	default:
		return string(card.Status)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cardWidth(transcriptWidth int) int {
	w := transcriptWidth - 4
	if w < 20 {
		return 20
	}
	return w
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}

// transcriptHeight reserves rows for the title, meta, input, and footer.
func transcriptHeight(terminalHeight int) int {
	h := terminalHeight - 7
	if h < 5 {
		return 5
	}
	return h
}
