package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gosupervisor/internal/app"
)

const requestTimeout = 4 * time.Second

// Controller defines the subset of app.App behaviour the TUI needs.
type Controller interface {
	Status() (app.DaemonStatus, error)
	StartDaemon() (*app.DaemonHandle, error)
	List(context.Context, app.ListParams) ([]app.Peer, error)
	Forward(context.Context, app.ForwardParams) (any, error)
	Discover(context.Context, time.Duration) (int, error)
	Watch(context.Context, time.Duration, func(app.Notification) error) error
}

// Model represents the Bubble Tea state.
type Model struct {
	controller Controller

	list  list.Model
	peers []app.Peer

	daemonStatus app.DaemonStatus
	statusMsg    string

	err     error
	loading bool

	width  int
	height int

	// notes carries peer events from the background watch.
	notes     chan app.Notification
	watching  bool
	stopWatch context.CancelFunc

	lastEvent   string
	lastUpdated time.Time
}

// New constructs a TUI model with default styles.
func New(ctrl Controller) *Model {
	delegate := list.NewDefaultDelegate()
	lst := list.New([]list.Item{}, delegate, 0, 0)
	lst.Title = "Supervised peers"
	lst.SetShowHelp(false)
	lst.SetFilteringEnabled(false)
	lst.DisableQuitKeybindings()

	return &Model{
		controller: ctrl,
		list:       lst,
		statusMsg:  "Checking daemon status…",
		loading:    true,
		notes:      make(chan app.Notification, 16),
	}
}

// Run spins up the Bubble Tea program with sensible defaults.
func Run(ctrl Controller) error {
	m := New(ctrl)
	defer m.close()
	prog := tea.NewProgram(m, tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(checkDaemonStatusCmd(m.controller), loadPeersCmd(m.controller))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.height > 5 {
			m.list.SetSize(msg.Width, msg.Height-5)
		}

	case daemonStatusMsg:
		m.daemonStatus = msg.status
		if msg.status.Running {
			if msg.status.PID > 0 {
				m.statusMsg = fmt.Sprintf("Daemon running (pid %d). Press r to refresh, q to quit.", msg.status.PID)
			} else {
				m.statusMsg = "Daemon running. Press r to refresh, q to quit."
			}
			if !m.watching {
				m.watching = true
				return m, tea.Batch(m.startWatch(), waitForNotificationCmd(m.notes))
			}
		} else {
			m.statusMsg = "Daemon is not running. Press s to start it."
			m.peers = nil
			m.list.SetItems(nil)
		}

	case peersLoadedMsg:
		m.loading = false
		m.err = nil
		m.peers = msg.peers
		items := make([]list.Item, 0, len(msg.peers))
		for _, p := range msg.peers {
			items = append(items, peerItem{Peer: p})
		}
		m.list.SetItems(items)
		m.lastUpdated = time.Now()

	case notificationMsg:
		if msg.Attached() {
			m.lastEvent = fmt.Sprintf("pid %d attached", msg.PID)
		} else {
			m.lastEvent = fmt.Sprintf("pid %d detached", msg.PID)
		}
		return m, tea.Batch(loadPeersCmd(m.controller), waitForNotificationCmd(m.notes))

	case watchEndedMsg:
		m.watching = false
		if msg.err != nil {
			m.err = msg.err
		}

	case daemonStartedMsg:
		m.statusMsg = "Daemon started."
		return m, tea.Batch(checkDaemonStatusCmd(m.controller), loadPeersCmd(m.controller))

	case actionDoneMsg:
		m.statusMsg = msg.text
		return m, loadPeersCmd(m.controller)

	case errMsg:
		m.loading = false
		m.err = msg.err

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.close()
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, loadPeersCmd(m.controller)
		case "s":
			if !m.daemonStatus.Running {
				m.statusMsg = "Starting daemon…"
				return m, startDaemonCmd(m.controller)
			}
		case "d":
			if m.daemonStatus.Running {
				return m, discoverCmd(m.controller)
			}
		case "x":
			if current := m.currentPeer(); current != nil {
				m.statusMsg = fmt.Sprintf("Asking pid %d to exit…", current.PID)
				return m, exitPeerCmd(m.controller, current.PID)
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	statusStyle := lipgloss.NewStyle().Bold(true)
	if !m.daemonStatus.Running {
		statusStyle = statusStyle.Foreground(lipgloss.Color("203"))
	} else {
		statusStyle = statusStyle.Foreground(lipgloss.Color("42"))
	}
	b.WriteString(statusStyle.Render(m.statusMsg))
	b.WriteByte('\n')

	if m.loading {
		b.WriteString("Loading peers…\n")
	} else if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
		b.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteByte('\n')
	}

	if len(m.list.Items()) == 0 && !m.loading && m.err == nil && m.daemonStatus.Running {
		b.WriteString("No peers attached.\n")
	} else {
		b.WriteString(m.list.View())
		b.WriteByte('\n')
	}

	if current := m.currentPeer(); current != nil {
		detail := fmt.Sprintf("pid=%d\nunverified", current.PID)
		if current.Verified {
			detail = fmt.Sprintf(
				"pid=%d uid=%d gid=%d\nuser=%s\nlabel=%s\nid=%s",
				current.PID,
				current.UID,
				current.GID,
				valueOrDash(current.User),
				valueOrDash(current.Label),
				valueOrDash(current.ID),
			)
		}
		detailStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginBottom(1)
		b.WriteString(detailStyle.Render(detail))
		b.WriteByte('\n')
	}

	help := "Commands: q quit • r reload • s start daemon • d discover • x exit peer"
	if m.lastEvent != "" {
		help += " • " + m.lastEvent
	}
	if !m.lastUpdated.IsZero() {
		help += fmt.Sprintf(" • last update %s", m.lastUpdated.Format(time.Kitchen))
	}
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

// peerItem adapts app.Peer to the bubbles list item interface.
type peerItem struct {
	Peer app.Peer
}

func (p peerItem) Title() string {
	name := p.Peer.ID
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("[pid=%d] %s", p.Peer.PID, name)
}

func (p peerItem) Description() string {
	if !p.Peer.Verified {
		return "credentials unavailable"
	}
	return fmt.Sprintf("user=%s uid=%d | label=%s", valueOrDash(p.Peer.User), p.Peer.UID, valueOrDash(p.Peer.Label))
}

func (p peerItem) FilterValue() string {
	return fmt.Sprintf("%d %s %s %s", p.Peer.PID, p.Peer.User, p.Peer.Label, p.Peer.ID)
}

func (m *Model) currentPeer() *app.Peer {
	if len(m.peers) == 0 {
		return nil
	}
	idx := m.list.Index()
	if idx < 0 || idx >= len(m.peers) {
		return nil
	}
	return &m.peers[idx]
}

// startWatch runs the event subscription until the model closes.
func (m *Model) startWatch() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.stopWatch = cancel
	ctrl, notes := m.controller, m.notes
	return func() tea.Msg {
		err := ctrl.Watch(ctx, requestTimeout, func(n app.Notification) error {
			select {
			case notes <- n:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		return watchEndedMsg{err: err}
	}
}

func (m *Model) close() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

type daemonStatusMsg struct {
	status app.DaemonStatus
}

type peersLoadedMsg struct {
	peers []app.Peer
}

type notificationMsg struct {
	app.Notification
}

type watchEndedMsg struct{ err error }

type daemonStartedMsg struct{}

type actionDoneMsg struct{ text string }

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

func checkDaemonStatusCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		status, err := ctrl.Status()
		if err != nil {
			return errMsg{err}
		}
		return daemonStatusMsg{status: status}
	}
}

func loadPeersCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		peers, err := ctrl.List(ctx, app.ListParams{Timeout: requestTimeout})
		if err != nil {
			return errMsg{err}
		}
		return peersLoadedMsg{peers: peers}
	}
}

func waitForNotificationCmd(notes <-chan app.Notification) tea.Cmd {
	return func() tea.Msg {
		return notificationMsg{<-notes}
	}
}

func discoverCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		n, err := ctrl.Discover(context.Background(), requestTimeout)
		if err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{text: fmt.Sprintf("Signalled %d unattached instance(s).", n)}
	}
}

func exitPeerCmd(ctrl Controller, pid int) tea.Cmd {
	return func() tea.Msg {
		_, err := ctrl.Forward(context.Background(), app.ForwardParams{Verb: "exit", PID: pid, Timeout: requestTimeout})
		if err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{text: fmt.Sprintf("Exit requested for pid %d.", pid)}
	}
}

func startDaemonCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if _, err := ctrl.StartDaemon(); err != nil {
			return errMsg{err}
		}
		// Give the daemon a moment to bind the socket.
		time.Sleep(300 * time.Millisecond)
		return daemonStartedMsg{}
	}
}
