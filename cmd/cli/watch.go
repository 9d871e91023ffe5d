package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/betbot/blackpanther/internal/controlplane/server"
	"github.com/betbot/blackpanther/internal/domain"
)

type tickMsg time.Time

type snapshotMsg struct {
	status    server.Status
	positions []domain.Position
	err       error
}

// watchModel 实时刷新状态与持仓
type watchModel struct {
	client   *controlClient
	interval time.Duration

	status    server.Status
	positions []domain.Position
	err       error
	updated   time.Time
	loaded    bool
}

func newWatchModel(c *controlClient, interval time.Duration) watchModel {
	return watchModel{client: c, interval: interval}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.client), tickCmd(m.interval))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, fetchCmd(m.client)
		}
	case tickMsg:
		return m, tea.Batch(fetchCmd(m.client), tickCmd(m.interval))
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.positions = msg.positions
			m.updated = time.Now()
			m.loaded = true
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	if !m.loaded {
		if m.err != nil {
			return downStyle.Render("control plane unreachable: "+m.err.Error()) + "\n\nq: quit\n"
		}
		return "connecting...\n"
	}
	out := renderStatus(m.status) + "\n\n" + renderPositions(m.positions) + "\n\n"
	if m.err != nil {
		out += downStyle.Render("refresh failed: "+m.err.Error()) + "\n"
	}
	out += labelStyle.Render("updated "+m.updated.Format("15:04:05")) + "  r: refresh  q: quit\n"
	return out
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(c *controlClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := c.Status(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		pos, err := c.Positions(ctx)
		return snapshotMsg{status: st, positions: pos, err: err}
	}
}
