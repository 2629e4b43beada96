// Package tui renders a terminal dashboard of the aggregator: cache and
// scheduler state, the last sweep and the pending subjects with tallies.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"vote-aggregator/internal/api"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return runewidth.Truncate(s, width, "")
	}
	return s + strings.Repeat(" ", width-current)
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(text, width-2) + "│"
}

// API is what the dashboard needs from the aggregator.
type API interface {
	Stats(ctx context.Context) (api.StatsResponse, error)
	Pending(ctx context.Context) (api.PendingResponse, error)
	Trigger(ctx context.Context) (int, error)
	SetScheduler(ctx context.Context, run bool) (api.SchedulerView, error)
}

// SnapshotMsg carries one poll of the aggregator.
type SnapshotMsg struct {
	Stats   api.StatsResponse
	Pending api.PendingResponse
	Err     error
	At      time.Time
}

// NoticeMsg reports the outcome of an operator action.
type NoticeMsg struct {
	Text string
	Err  error
}

type tickMsg time.Time

// Model holds the dashboard state.
type Model struct {
	client   API
	interval time.Duration
	stats    api.StatsResponse
	pending  api.PendingResponse
	err      error
	polledAt time.Time
	notice   string
	width    int
	height   int
}

func NewModel(client API, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{client: client, interval: interval}
}

func (m Model) Init() tea.Cmd {
	return m.poll()
}

func (m Model) poll() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msg := SnapshotMsg{At: time.Now()}
		msg.Stats, msg.Err = client.Stats(ctx)
		if msg.Err == nil {
			msg.Pending, msg.Err = client.Pending(ctx)
		}
		return msg
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) trigger() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		n, err := client.Trigger(context.Background())
		return NoticeMsg{Text: fmt.Sprintf("sweep committed %d subject(s)", n), Err: err}
	}
}

func (m Model) toggleScheduler() tea.Cmd {
	client := m.client
	run := m.stats.Scheduler == nil || !m.stats.Scheduler.Running
	return func() tea.Msg {
		view, err := client.SetScheduler(context.Background(), run)
		state := "stopped"
		if view.Running {
			state = "running"
		}
		return NoticeMsg{Text: "scheduler " + state, Err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.err = msg.Err
		m.polledAt = msg.At
		if msg.Err == nil {
			m.stats = msg.Stats
			m.pending = msg.Pending
		}
		return m, m.tick()

	case tickMsg:
		return m, m.poll()

	case NoticeMsg:
		m.notice = msg.Text
		if msg.Err != nil {
			m.notice = "error: " + msg.Err.Error()
		}
		return m, m.poll()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll()
		case "t":
			m.notice = "sweeping..."
			return m, m.trigger()
		case "s":
			return m, m.toggleScheduler()
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderSubjects())
}

func (m Model) renderHeader() string {
	colWidth := (m.width - 4) / 3
	rightColWidth := m.width - colWidth*2 - 4

	cache := okStyle.Render("connected")
	if !m.stats.Cache.Connected {
		cache = errStyle.Render("unreachable")
	}
	sched := "disabled"
	if s := m.stats.Scheduler; s != nil {
		sched = warnStyle.Render("stopped")
		if s.Running {
			sched = okStyle.Render("running") + " every " + s.Interval
		}
	}
	leftLines := []string{
		"cache: " + cache,
		"scheduler: " + sched,
		fmt.Sprintf("pending subjects: %d", m.stats.PendingSubjects),
	}

	middleLines := []string{"last sweep: none"}
	if ls := m.stats.LastSweep; ls != nil {
		middleLines = []string{
			fmt.Sprintf("last sweep: %s (%s)", humanize.Time(ls.FinishedAt), ls.Trigger),
			fmt.Sprintf("evaluated=%d committed=%d", ls.Evaluated, ls.Committed),
			fmt.Sprintf("pending=%d failed=%d", ls.Pending, ls.Failed),
		}
		if ls.Error != "" {
			middleLines = append(middleLines, errStyle.Render("error: "+ls.Error))
		}
	}

	rightLines := []string{"ledger: no blocks seen"}
	if l := m.stats.Ledger; l != nil {
		rightLines = []string{
			"height: " + humanize.Comma(l.Height),
			"block time: " + humanize.Time(l.BlockTime),
		}
	}
	if m.err != nil {
		rightLines = append(rightLines, errStyle.Render("poll failed: "+m.err.Error()))
	} else if !m.polledAt.IsZero() {
		rightLines = append(rightLines, "polled "+m.polledAt.Format("15:04:05"))
	}

	rows := max(len(leftLines), len(middleLines), len(rightLines))
	var lines []string
	for i := 0; i < rows; i++ {
		lines = append(lines, fmt.Sprintf("│ %s │ %s │ %s │",
			fitCell(lineAt(leftLines, i), colWidth-2),
			fitCell(lineAt(middleLines, i), colWidth-2),
			fitCell(lineAt(rightLines, i), rightColWidth-2)))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	return topBorder + "\n" + strings.Join(lines, "\n") + "\n" + separator
}

func (m Model) renderSubjects() string {
	inner := m.width - 2
	header := fmt.Sprintf("%4s %-8s %-20s %10s %10s %6s %6s", "#", "TYPE", "SUBJECT", "APPROVE", "REJECT", "VOTERS", "RATIO")

	var lines []string
	lines = append(lines, formatInfoLine(header, m.width))
	lines = append(lines, separatorLine(m.width))

	maxRows := m.height - 10
	if maxRows < 1 {
		maxRows = 1
	}
	for i, s := range m.pending.Subjects {
		if i >= maxRows {
			lines = append(lines, formatInfoLine(fmt.Sprintf("... %d more", len(m.pending.Subjects)-i), m.width))
			break
		}
		row := fmt.Sprintf("%4d %-8s %-20s %10.2f %10.2f %6d %5.1f%%",
			i+1, s.Type, shorten(s.ID, 20), s.ApproveWeight, s.RejectWeight, s.TotalVoters, s.ApprovalRatio*100)
		lines = append(lines, "│"+padToWidth(row, inner)+"│")
	}
	if len(m.pending.Subjects) == 0 {
		lines = append(lines, formatInfoLine("no pending subjects", m.width))
	}

	notice := "q quit · r refresh · t trigger sweep · s start/stop scheduler"
	if m.notice != "" {
		notice = m.notice + " · " + notice
	}
	lines = append(lines, separatorLine(m.width), formatInfoLine(notice, m.width))
	lines = append(lines, "└"+strings.Repeat("─", max(m.width-2, 0))+"┘")
	return strings.Join(lines, "\n")
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}

// fitCell pads or truncates to a display width, ignoring ANSI styling.
func fitCell(s string, width int) string {
	if width <= 0 {
		return ""
	}
	w := lipgloss.Width(s)
	if w > width {
		return runewidth.Truncate(stripStyle(s), width, "...")
	}
	return s + strings.Repeat(" ", width-w)
}

func stripStyle(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEsc = true
		case inEsc && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'):
			inEsc = false
		case !inEsc:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func shorten(s string, n int) string {
	if runewidth.StringWidth(s) <= n {
		return s
	}
	return runewidth.Truncate(s, n, "...")
}

// Run starts the dashboard and blocks until the user quits or ctx ends.
func Run(ctx context.Context, client API, interval time.Duration) error {
	p := tea.NewProgram(NewModel(client, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
