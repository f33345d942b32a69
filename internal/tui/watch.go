// Package tui renders the live watch view: a terminal table of analysis
// verdicts as they settle, fed by the router's broadcast stream.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahir247/phishlens/internal/bridge"
	"github.com/sahir247/phishlens/internal/router"
	"github.com/sahir247/phishlens/internal/scorer"
	"github.com/sahir247/phishlens/internal/types"
)

const (
	maxRows      = 200
	statusPeriod = 2 * time.Second
)

// --- Messages ---

type resultMsg struct {
	rec *types.AnalysisRecord
	at  time.Time
}

type feedClosedMsg struct{}

type statusMsg struct {
	connected bool
	apiUp     bool
}

// --- Model ---

type row struct {
	at  time.Time
	rec *types.AnalysisRecord
}

type Model struct {
	rt     *router.Router
	br     *bridge.Bridge
	sc     *scorer.Client
	feed   chan router.Envelope
	unsub  func()
	rows   []row // newest first
	cursor int
	offset int

	connected bool
	apiUp     bool

	width  int
	height int
}

// NewModel subscribes to the router broadcast and returns a watch model.
// The subscription lives until the program exits.
func NewModel(rt *router.Router, br *bridge.Bridge, sc *scorer.Client) Model {
	feed := make(chan router.Envelope, 64)
	unsub := rt.Listen(func(env router.Envelope) {
		if env.Type != router.TypeResult || env.Data == nil {
			return
		}
		select {
		case feed <- env:
		default: // viewer lagging, drop
		}
	})
	return Model{rt: rt, br: br, sc: sc, feed: feed, unsub: unsub}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(listenFeed(m.feed), pollStatus(m.br, m.sc))
}

func listenFeed(feed <-chan router.Envelope) tea.Cmd {
	return func() tea.Msg {
		env, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return resultMsg{rec: env.Data, at: time.Now()}
	}
}

func pollStatus(br *bridge.Bridge, sc *scorer.Client) tea.Cmd {
	return func() tea.Msg {
		time.Sleep(statusPeriod)
		ctx, cancel := context.WithTimeout(context.Background(), statusPeriod)
		defer cancel()
		return statusMsg{
			connected: br.Connected(),
			apiUp:     sc.Health(ctx) == nil,
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case resultMsg:
		m.rows = append([]row{{at: msg.at, rec: msg.rec}}, m.rows...)
		if len(m.rows) > maxRows {
			m.rows = m.rows[:maxRows]
		}
		return m, listenFeed(m.feed)

	case feedClosedMsg:
		return m, nil

	case statusMsg:
		m.connected = msg.connected
		m.apiUp = msg.apiUp
		return m, pollStatus(m.br, m.sc)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.unsub != nil {
				m.unsub()
			}
			return m, tea.Quit
		case "c":
			m.rows = nil
			m.cursor = 0
			m.offset = 0
			return m, nil
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.offset {
					m.offset = m.cursor
				}
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
				if m.cursor >= m.offset+m.visibleRows() {
					m.offset = m.cursor - m.visibleRows() + 1
				}
			}
			return m, nil
		}
	}
	return m, nil
}

// visibleRows is the table height: total minus top bar, header and footer.
func (m Model) visibleRows() int {
	h := m.height - 4
	if h < 1 {
		return 1
	}
	return h
}

func tierStyle(t types.Tier) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(t.Color()))
}

func (m Model) View() string {
	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	selectedStyle := lipgloss.NewStyle().Background(lipgloss.Color("236"))

	ext := "extension ○ waiting..."
	if m.connected {
		ext = "extension ● connected"
	}
	api := "api ○ down"
	if m.apiUp {
		api = "api ● up"
	}
	topBar := topBarStyle.Render(fmt.Sprintf("phishlens watch  %s  %s  %d results", ext, api, len(m.rows)))

	var b strings.Builder
	b.WriteString(topBar)
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf(" %-8s %5s %5s  %-7s  %-24s %s", "TIME", "TAB", "RISK", "TIER", "DOMAIN", "REASONS")))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("\n  Waiting for results...\n"))
	} else {
		end := m.offset + m.visibleRows()
		if end > len(m.rows) {
			end = len(m.rows)
		}
		for i := m.offset; i < end; i++ {
			r := m.rows[i]
			tier := types.TierFor(r.rec.RiskScore)
			domain := r.rec.Meta.Domain
			if domain == "" {
				domain = r.rec.URL
			}
			line := fmt.Sprintf(" %-8s %5d %4d%%  %s  %-24s %s",
				r.at.Format("15:04:05"),
				r.rec.TabID,
				types.Pct(r.rec.RiskScore),
				tierStyle(tier).Render(fmt.Sprintf("%-7s", tier)),
				truncate(domain, 24),
				truncate(strings.Join(r.rec.Reasons, "; "), m.reasonsWidth()),
			)
			if i == m.cursor {
				line = selectedStyle.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString(dimStyle.Render(" ↑/↓ scroll · c clear · q quit"))
	return b.String()
}

func (m Model) reasonsWidth() int {
	// Columns before REASONS take ~56 cells.
	w := m.width - 56
	if w < 16 {
		return 16
	}
	return w
}

func truncate(s string, n int) string {
	if n <= 1 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
