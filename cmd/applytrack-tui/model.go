package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clawinfra/applytrack/internal/actions"
)

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type tickMsg struct{}

type refreshMsg struct {
	status  queueStatus
	actions []actions.Action
	err     error
}

type syncDoneMsg struct {
	results []actions.Result
	err     error
}

type noticeMsg struct {
	text string
	err  error
}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	primaryColor = lipgloss.Color("#7C3AED") // violet
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	tableBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)

	statusOnline  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	statusOffline = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	statusSyncing = lipgloss.NewStyle().Foreground(warnColor).Bold(true)

	footerStyle = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)
)

var columns = []table.Column{
	{Title: "ID", Width: 12},
	{Title: "Kind", Width: 22},
	{Title: "Pri", Width: 6},
	{Title: "Method", Width: 7},
	{Title: "Endpoint", Width: 28},
	{Title: "Tries", Width: 6},
	{Title: "Age", Width: 8},
	{Title: "Last error", Width: 30},
}

// ─────────────────────────────────────────────────────
// Model
// ─────────────────────────────────────────────────────

type model struct {
	client   *apiClient
	logger   *slog.Logger
	interval time.Duration

	table   table.Model
	status  queueStatus
	actions []actions.Action
	notice  string
	lastErr error
	width   int
	height  int
	now     func() time.Time
}

func newModel(client *apiClient, interval time.Duration, logger *slog.Logger) model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)
	t.SetStyles(s)

	return model{
		client:   client,
		logger:   logger,
		interval: interval,
		table:    t,
		now:      time.Now,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd())
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) refreshCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		st, err := client.Status(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		list, err := client.Actions(ctx)
		return refreshMsg{status: st, actions: list, err: err}
	}
}

func (m model) syncCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		results, err := client.Sync(context.Background())
		return syncDoneMsg{results: results, err: err}
	}
}

func (m model) toggleOnlineCmd() tea.Cmd {
	client := m.client
	target := !m.status.IsOnline
	return func() tea.Msg {
		_, err := client.SetOnline(context.Background(), target)
		state := "offline"
		if target {
			state = "online"
		}
		return noticeMsg{text: "switched " + state, err: err}
	}
}

func (m model) removeCmd(id string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		err := client.Remove(context.Background(), id)
		return noticeMsg{text: "removed " + id, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "s":
			m.notice = "syncing..."
			return m, m.syncCmd()
		case "o":
			return m, m.toggleOnlineCmd()
		case "d":
			if row := m.table.SelectedRow(); row != nil {
				if id := m.fullID(row[0]); id != "" {
					return m, m.removeCmd(id)
				}
			}
			return m, nil
		}

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())

	case refreshMsg:
		m.lastErr = msg.err
		if msg.err != nil {
			m.logger.Warn("refresh failed", "error", msg.err)
			return m, nil
		}
		m.status = msg.status
		m.actions = msg.actions
		m.table.SetRows(m.rows())
		return m, nil

	case syncDoneMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.notice = summarizeResults(msg.results)
		}
		return m, m.refreshCmd()

	case noticeMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.notice = msg.text
		}
		return m, m.refreshCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(m.height-8, 3))
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var state string
	switch {
	case m.status.IsSyncing:
		state = statusSyncing.Render("◉ SYNCING")
	case m.status.IsOnline:
		state = statusOnline.Render("● ONLINE")
	default:
		state = statusOffline.Render("○ OFFLINE")
	}

	header := headerStyle.Render(fmt.Sprintf("  applytrack queue  %d pending", m.status.QueueLength)) + "  " + state

	var line string
	switch {
	case m.lastErr != nil:
		line = errorStyle.Render("error: " + m.lastErr.Error())
	case m.notice != "":
		line = m.notice
	}

	footer := footerStyle.Render("  s: sync │ o: toggle online │ d: delete │ r: refresh │ q: quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		tableBorder.Render(m.table.View()),
		line,
		footer,
	)
}

// ─────────────────────────────────────────────────────
// Rendering helpers
// ─────────────────────────────────────────────────────

func (m model) rows() []table.Row {
	now := m.now()
	rows := make([]table.Row, 0, len(m.actions))
	for _, a := range m.actions {
		rows = append(rows, table.Row{
			shortID(a.ID),
			a.Kind,
			string(a.Priority),
			a.Method,
			a.Endpoint,
			fmt.Sprintf("%d/%d", a.RetryCount, a.MaxRetries),
			formatAge(now.Sub(a.CreatedAt)),
			a.LastError,
		})
	}
	return rows
}

// fullID maps a truncated table id back to the action id.
func (m model) fullID(short string) string {
	for _, a := range m.actions {
		if shortID(a.ID) == short {
			return a.ID
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func summarizeResults(results []actions.Result) string {
	if len(results) == 0 {
		return "nothing synced"
	}
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "synced %d/%d", ok, len(results))
	if failed := len(results) - ok; failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", failed)
	}
	return sb.String()
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
