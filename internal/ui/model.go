package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nerrad567/micmon/internal/history"
	"github.com/nerrad567/micmon/internal/monitor"
)

const (
	defaultRefresh = 100 * time.Millisecond
	barWidth       = 34

	// headroom stretches the level bar past the threshold so an active
	// channel is not always pinned at 100%.
	headroom = 2.0

	// historyRefresh is the transition-panel query cadence. Slower than the
	// level refresh: transitions are rare and each poll hits the database.
	historyRefresh = time.Second
	historyLimit   = 5
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(6)

	activeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	quietStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	faintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// StatusSource delivers the shared snapshot the view renders from.
type StatusSource interface {
	Snapshot() monitor.Snapshot
}

// TransitionSource lists recent channel transitions for the history panel.
type TransitionSource interface {
	Recent(ctx context.Context, limit int) ([]history.Transition, error)
}

type tickMsg time.Time

// historyMsg carries a fresh batch of recent transitions; nil means the
// query failed and the panel keeps its previous contents.
type historyMsg []history.Transition

// Model is the bubbletea model for the live monitor display.
type Model struct {
	source      StatusSource
	transitions TransitionSource
	threshold   float64
	refresh     time.Duration

	bars [monitor.NumChannels]progress.Model
	spin spinner.Model

	snap     monitor.Snapshot
	recent   []history.Transition
	quitting bool
}

// NewModel creates the display model. transitions feeds the recent-activity
// panel and may be nil when history is disabled; threshold scales the level
// bars; refresh is the redraw cadence (zero means 100ms).
func NewModel(source StatusSource, transitions TransitionSource, threshold float64, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	var bars [monitor.NumChannels]progress.Model
	for i := range bars {
		bars[i] = progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
		)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle

	return Model{
		source:      source,
		transitions: transitions,
		threshold:   threshold,
		refresh:     refresh,
		bars:        bars,
		spin:        sp,
	}
}

// Init schedules the first refresh.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.tickCmd(), m.spin.Tick}
	if m.transitions != nil {
		cmds = append(cmds, m.historyCmd())
	}
	return tea.Batch(cmds...)
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// historyCmd queries the transition log off the render path; the command
// runs on bubbletea's worker goroutine, not in Update.
func (m Model) historyCmd() tea.Cmd {
	source := m.transitions
	return tea.Tick(historyRefresh, func(time.Time) tea.Msg {
		rows, err := source.Recent(context.Background(), historyLimit)
		if err != nil {
			return historyMsg(nil)
		}
		return historyMsg(rows)
	})
}

// Update handles input and refresh ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.snap = m.source.Snapshot()
		return m, m.tickCmd()

	case historyMsg:
		if msg != nil {
			m.recent = msg
		}
		return m, m.historyCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the full display.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("micmon") + "\n\n")
	b.WriteString(panelStyle.Render(m.connectionView()) + "\n")
	b.WriteString(panelStyle.Render(m.channelsView()) + "\n")
	b.WriteString(panelStyle.Render(m.statsView()) + "\n")
	if m.transitions != nil {
		b.WriteString(panelStyle.Render(m.historyView()) + "\n")
	}
	b.WriteString(faintStyle.Render("q: quit") + "\n")
	return b.String()
}

// connectionView renders the broker connection line.
func (m Model) connectionView() string {
	switch {
	case m.snap.Reconnecting:
		return fmt.Sprintf("%s broker: %s (attempt %d)",
			m.spin.View(),
			warnStyle.Render("reconnecting"),
			m.snap.ReconnectAttempts,
		)
	case m.snap.Connected:
		return "● broker: " + okStyle.Render("connected")
	default:
		return "● broker: " + errorStyle.Render("disconnected")
	}
}

// channelsView renders one level bar per microphone.
func (m Model) channelsView() string {
	lines := make([]string, 0, monitor.NumChannels)
	for ch := monitor.Channel(0); ch < monitor.NumChannels; ch++ {
		st := m.snap.Channels[ch]

		badge := quietStyle.Render("quiet ")
		if st.Active {
			badge = activeStyle.Render("ACTIVE")
		}

		lines = append(lines, fmt.Sprintf("%s %s %s %7.1f",
			labelStyle.Render(ch.String()),
			m.bars[ch].ViewAs(m.scaled(st.Level)),
			badge,
			st.Level,
		))
	}
	return strings.Join(lines, "\n")
}

// scaled maps a raw level onto the bar, with the threshold at the midpoint.
func (m Model) scaled(level float64) float64 {
	if m.threshold <= 0 {
		return 0
	}
	p := level / (m.threshold * headroom)
	if p > 1 {
		p = 1
	}
	return p
}

// historyView renders the most recent recorded transitions, newest first.
func (m Model) historyView() string {
	if len(m.recent) == 0 {
		return faintStyle.Render("no transitions recorded yet")
	}
	lines := make([]string, 0, len(m.recent))
	for _, tr := range m.recent {
		badge := quietStyle.Render("quiet ")
		if tr.Active {
			badge = activeStyle.Render("ACTIVE")
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %7.1f",
			faintStyle.Render(tr.OccurredAt.Format("15:04:05")),
			labelStyle.Render(tr.Channel),
			badge,
			tr.Level,
		))
	}
	return strings.Join(lines, "\n")
}

// statsView renders message counters and the most recent error.
func (m Model) statsView() string {
	lines := []string{
		fmt.Sprintf("messages sent: %d    reconnects: %d",
			m.snap.MessagesSent, m.snap.ReconnectAttempts),
	}
	if m.snap.LastMessage != "" {
		lines = append(lines, faintStyle.Render("last: "+m.snap.LastMessage))
	}
	if m.snap.LastError != "" {
		lines = append(lines, errorStyle.Render(
			fmt.Sprintf("error [%s]: %s", m.snap.LastErrorComponent, m.snap.LastError)))
	}
	return strings.Join(lines, "\n")
}
