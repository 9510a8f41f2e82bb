package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/vpn"
)

// Backend is the part of *vpn.Client the front-ends use.
type Backend interface {
	Subscribe() *vpn.Subscription
	Submit(ctx context.Context, cmd vpn.Command) (vpn.Ack, error)
	Health() vpn.DaemonHealth
}

type keyMap struct {
	Connect    key.Binding
	Disconnect key.Binding
	Reconnect  key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.Disconnect, k.Reconnect, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultKeys = keyMap{
	Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
	Reconnect:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reconnect")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the Bubble Tea model of the status screen.
type Model struct {
	backend Backend
	sub     *vpn.Subscription
	timeout time.Duration

	// Latest snapshot shown
	snap *vpn.Snapshot

	// Display state
	styles  Styles
	keys    keyMap
	help    help.Model
	spinner spinner.Model
	width   int
	now     func() time.Time

	// Result of the last command
	notice    string
	lastError string
}

// NewModel creates the status model. It subscribes to the backend right
// away so no snapshot published after this call is missed.
func NewModel(backend Backend, theme string) Model {
	styles := NewStyles(theme)
	return Model{
		backend: backend,
		sub:     backend.Subscribe(),
		timeout: common.ManagementTimeout,
		styles:  styles,
		keys:    defaultKeys,
		help:    help.New(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Pending)),
		now:     time.Now,
	}
}

// Messages
type tickMsg time.Time
type snapshotMsg struct{ snap *vpn.Snapshot }
type closedMsg struct{}
type ackMsg struct{ ack vpn.Ack }
type errMsg struct{ err error }

// Commands
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForSnapshot(sub *vpn.Subscription) tea.Cmd {
	return func() tea.Msg {
		snap, err := sub.Next(context.Background())
		if err != nil {
			return closedMsg{}
		}
		return snapshotMsg{snap: snap}
	}
}

func (m Model) submit(cmd vpn.Command) tea.Cmd {
	backend, timeout := m.backend, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ack, err := backend.Submit(ctx, cmd)
		if err != nil {
			return errMsg{err: err}
		}
		return ackMsg{ack: ack}
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spinner.Tick, waitForSnapshot(m.sub))
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tickMsg:
		// Refresh uptime and time left
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.snap = msg.snap
		return m, waitForSnapshot(m.sub)

	case closedMsg:
		return m, tea.Quit

	case ackMsg:
		m.lastError = ""
		if msg.ack.Changed {
			m.notice = msg.ack.Command + ": accepted"
		} else {
			m.notice = msg.ack.Command + ": nothing to do"
		}

	case errMsg:
		m.notice = ""
		m.lastError = msg.err.Error()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := m.snap
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.sub.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Connect):
		if snap != nil && snap.CanSecure() {
			return m, m.submit(vpn.ConnectCommand{})
		}
	case key.Matches(msg, m.keys.Disconnect):
		if snap != nil && (snap.CanDisconnect() || snap.IsConnectingOrReconnecting()) {
			return m, m.submit(vpn.DisconnectCommand{})
		}
	case key.Matches(msg, m.keys.Reconnect):
		if snap != nil && snap.CanReconnect() {
			return m, m.submit(vpn.ReconnectCommand{})
		}
	}
	return m, nil
}

// View renders the model
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	// Status section
	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	// Details section
	if rows := Details(m.snap, m.now()); len(rows) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderDetails(rows))
		b.WriteString("\n")
	}

	// Daemon link
	if line := m.renderDaemon(); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
		b.WriteString("\n")
	}

	switch {
	case m.lastError != "":
		b.WriteString("\n")
		b.WriteString(m.styles.Danger.Render(m.lastError))
		b.WriteString("\n")
	case m.notice != "":
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderHeader() string {
	title := m.styles.Title.Render(common.AppName)
	hint := m.styles.Hint.Render("(q to quit)")

	// Calculate spacing
	spacing := strings.Repeat(" ", 4)
	if m.width > 0 {
		spaces := m.width - lipgloss.Width(title) - lipgloss.Width(hint)
		if spaces > 0 {
			spacing = strings.Repeat(" ", spaces)
		}
	}
	return title + spacing + hint
}

func (m Model) renderStatus() string {
	headline := Headline(m.snap)
	switch StatusOf(m.snap) {
	case StatusSecure:
		return m.styles.Secure.Render(headline)
	case StatusPending:
		return m.spinner.View() + " " + m.styles.Pending.Render(headline)
	case StatusUnavailable:
		return m.spinner.View() + " " + m.styles.Muted.Render(headline)
	default:
		return m.styles.Danger.Render(headline)
	}
}

func (m Model) renderDetails(rows [][2]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		value := strings.ReplaceAll(row[1], "\n", ", ")
		lines = append(lines, m.styles.Label.Render(row[0])+m.styles.Value.Render(value))
	}
	return strings.Join(lines, "\n")
}

// renderDaemon describes a degraded daemon link, and nothing when healthy.
func (m Model) renderDaemon() string {
	h := m.backend.Health()
	switch h.State {
	case vpn.HealthUnhealthy, vpn.HealthDegraded:
		line := fmt.Sprintf("Daemon link %s", strings.ToLower(h.State.String()))
		if h.ReconnectAttempts > 0 {
			line += fmt.Sprintf(", %d reconnect attempts", h.ReconnectAttempts)
		}
		if h.LastError != nil {
			line += ": " + h.LastError.Error()
		}
		return m.styles.Banner.Render(line)
	}
	return ""
}

// RunTUI starts the TUI application and blocks until the user quits.
func RunTUI(backend Backend, theme string) error {
	model := NewModel(backend, theme)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
