package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the elapsed timer.
type tickMsg time.Time

// state represents the current phase of a run.
type state int

const (
	stateInit       state = iota
	stateCalling          // calls in flight
	stateRefreshing       // a refresh is running
	stateLoggedOut        // session ended, waiting for calls to drain
	stateDone             // all calls finished
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// maxStatusLines bounds the status log; older lines scroll off.
const maxStatusLines = 12

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the session TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	target  string
	baseURL string

	method    string
	path      string
	total     int
	finished  int
	started   time.Time
	elapsed   time.Duration
	refreshes int

	succeeded int
	failed    int
	errMsg    string

	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state == stateDone || m.state == stateError {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── run messages ─────────────────────────────────────────────────────────

	case MsgBanner:
		m.target = msg.Target
		m.baseURL = msg.BaseURL
		return m, nil

	case MsgCalling:
		m.method = msg.Method
		m.path = msg.Path
		m.total = msg.Count
		m.started = time.Now()
		m.state = stateCalling
		return m, tickAfterSecond()

	case MsgCallOK:
		m.finished++
		m.addStatus(statusOK, fmt.Sprintf("[%s] %d in %s", msg.ID, msg.Status, msg.Elapsed.Round(time.Millisecond)))
		return m, nil

	case MsgCallFailed:
		m.finished++
		m.addStatus(statusWarn, fmt.Sprintf("[%s] failed: %v", msg.ID, msg.Err))
		return m, nil

	// ── session events ───────────────────────────────────────────────────────

	case MsgAccessTokenRejected:
		m.addStatus(statusWarn, "Access token rejected (401)")
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshed:
		m.refreshes++
		if m.state == stateRefreshing {
			m.state = stateCalling
		}
		m.addStatus(statusOK, "Token refreshed successfully")
		return m, nil

	case MsgRefreshReused:
		m.addStatus(statusInfo, "Token already refreshed by another request")
		return m, nil

	case MsgRefreshFailed:
		if m.state == stateRefreshing {
			m.state = stateCalling
		}
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgRetrying:
		m.addStatus(statusInfo, "Retrying call with refreshed token")
		return m, nil

	case MsgTokensRotated:
		m.addStatus(statusOK, "Server issued new tokens")
		return m, nil

	case MsgLoggedOut:
		m.state = stateLoggedOut
		if msg.Reason != nil {
			m.addStatus(statusWarn, fmt.Sprintf("Session ended: %v", msg.Reason))
		} else {
			m.addStatus(statusWarn, "Session ended")
		}
		return m, nil

	case MsgNavigated:
		m.addStatus(statusInfo, "Redirected to "+msg.Route)
		return m, nil

	case MsgDone:
		m.succeeded = msg.Succeeded
		m.failed = msg.Failed
		m.elapsed = msg.Elapsed
		m.state = stateDone
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateDone:
		return tea.NewView(m.viewDone())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while calls are in flight.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  flagctl  "))
	b.WriteString("\n")
	if m.baseURL != "" {
		b.WriteString(styleDim.Render(m.target + ": " + m.baseURL))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch m.state {
	case stateCalling:
		b.WriteString(m.spinner.View())
		fmt.Fprintf(&b, " %s %s  %d/%d  ", m.method, m.path, m.finished, m.total)
		b.WriteString(styleDim.Render(formatDuration(m.elapsed) + " elapsed"))
		b.WriteString("\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateLoggedOut:
		b.WriteString(styleErr.Render("  ✗ Session ended, sign in again"))
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewDone is shown after every call has finished.
func (m Model) viewDone() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.failed == 0 {
		b.WriteString(styleOK.Render("  ✓ All calls succeeded"))
	} else {
		b.WriteString(styleWarn.Render(fmt.Sprintf("  ⚠ %d call(s) failed", m.failed)))
	}
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Succeeded: "))
	fmt.Fprintf(&b, "%d\n", m.succeeded)

	b.WriteString(styleBold.Render("Failed:    "))
	fmt.Fprintf(&b, "%d\n", m.failed)

	b.WriteString(styleBold.Render("Refreshes: "))
	fmt.Fprintf(&b, "%d\n", m.refreshes)

	b.WriteString(styleBold.Render("Elapsed:   "))
	b.WriteString(formatDuration(m.elapsed) + "\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ flagctl failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if n := len(m.statusLines); n > maxStatusLines {
		m.statusLines = m.statusLines[n-maxStatusLines:]
	}
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
