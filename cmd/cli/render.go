package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/blackpanther/internal/controlplane/server"
	"github.com/betbot/blackpanther/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("1")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func signed(v float64, format string) string {
	s := fmt.Sprintf(format, v)
	if v < 0 {
		return downStyle.Render(s)
	}
	return upStyle.Render(s)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func renderStatus(st server.Status) string {
	var b strings.Builder
	mode := st.Mode
	if st.DryRun {
		mode += " (dry-run)"
	}
	b.WriteString(headerStyle.Render("🐆 BLACK PANTHER · "+mode) + "\n\n")

	kill := upStyle.Render("off")
	if st.KillSwitch {
		kill = alertStyle.Render("ENGAGED")
	}
	lines := []string{
		row("Kill switch", kill),
		row("Equity", fmt.Sprintf("$%.2f", st.Equity)),
		row("Start equity", fmt.Sprintf("$%.2f", st.StartEquity)),
		row("Drawdown", signed(-st.DrawdownPct, "%.2f%%")),
		row("Daily PnL", signed(st.DailyPnL, "$%.2f")),
		row("Latency", fmt.Sprintf("%.0f ms", st.LatencyMs)),
		row("Positions", fmt.Sprintf("%d", st.OpenPositions)),
		row("Strategies", strings.Join(st.Strategies, ", ")),
		row("Session", st.SessionDay),
		row("Uptime", st.Uptime),
	}
	for _, e := range st.Errors {
		lines = append(lines, row("Error", downStyle.Render(e)))
	}
	b.WriteString(borderStyle.Render(strings.Join(lines, "\n")))
	return b.String()
}

func renderPositions(positions []domain.Position) string {
	if len(positions) == 0 {
		return labelStyle.Render("no open positions")
	}
	lines := []string{fmt.Sprintf("%-14s %-6s %-12s %14s %14s", "SYMBOL", "SIDE", "STRATEGY", "ENTRY", "SIZE")}
	for _, p := range positions {
		lines = append(lines, fmt.Sprintf("%-14s %-6s %-12s %14.6f %14.6f", p.Symbol, p.Side, p.Strategy, p.EntryPrice, p.Size))
	}
	return borderStyle.Render(strings.Join(lines, "\n"))
}

func renderTrades(trades []domain.Trade) string {
	if len(trades) == 0 {
		return labelStyle.Render("no trades")
	}
	lines := []string{fmt.Sprintf("%-17s %-12s %-14s %-6s %14s %14s %12s", "TIME", "STRATEGY", "SYMBOL", "SIDE", "ENTRY", "EXIT", "PNL")}
	for _, t := range trades {
		exit, pnl := "-", "open"
		if t.ExitPrice != nil {
			exit = fmt.Sprintf("%.6f", *t.ExitPrice)
		}
		if t.PnL != nil {
			pnl = signed(*t.PnL, "%.2f")
		}
		lines = append(lines, fmt.Sprintf("%-17s %-12s %-14s %-6s %14.6f %14s %12s",
			t.Timestamp.Local().Format("01-02 15:04:05"), t.Strategy, t.Symbol, t.Side, t.EntryPrice, exit, pnl))
	}
	return borderStyle.Render(strings.Join(lines, "\n"))
}

func renderStats(s domain.StrategyStats, days int) string {
	lines := []string{
		row("Trades", fmt.Sprintf("%d", s.TotalTrades)),
		row("Win rate", fmt.Sprintf("%.1f%%", s.WinRate)),
		row("Total PnL", signed(s.TotalPnL, "$%.2f")),
		row("Avg PnL", signed(s.AvgPnL, "$%.2f")),
	}
	return headerStyle.Render(fmt.Sprintf("%s · last %d days", s.Strategy, days)) + "\n\n" +
		borderStyle.Render(strings.Join(lines, "\n"))
}
