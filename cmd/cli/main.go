package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const usage = `usage: cli [flags] <command> [args]

commands:
  status               show balance, drawdown, latency, kill switch and positions
  kill [reason...]     engage the kill switch and close every position
  reset                release the kill switch
  trades [limit]       recent trades (default 20)
  stats <strategy> [days]
  watch                live dashboard

flags:
`

func main() {
	addr := flag.String("addr", getenv("CONTROL_PLANE_URL", "http://127.0.0.1:8088"), "control plane base URL")
	token := flag.String("token", os.Getenv("CONTROL_PLANE_TOKEN"), "bearer token for kill/reset")
	interval := flag.Duration("interval", 2*time.Second, "watch refresh interval")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	c := newControlClient(*addr, *token)
	if err := run(context.Background(), c, flag.Arg(0), flag.Args()[1:], *interval); err != nil {
		fmt.Fprintln(os.Stderr, downStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, c *controlClient, cmd string, args []string, interval time.Duration) error {
	switch cmd {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		pos, err := c.Positions(ctx)
		if err != nil {
			return err
		}
		fmt.Println(renderStatus(st))
		fmt.Println(renderPositions(pos))

	case "kill":
		reason := strings.TrimSpace(strings.Join(args, " "))
		if err := c.Kill(ctx, reason); err != nil {
			return err
		}
		fmt.Println(alertStyle.Render("🚨 kill switch engaged, positions closed"))

	case "reset":
		if err := c.Reset(ctx); err != nil {
			return err
		}
		fmt.Println(upStyle.Render("✅ kill switch released"))

	case "trades":
		limit := 20
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			limit = n
		}
		trades, err := c.Trades(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Println(renderTrades(trades))

	case "stats":
		if len(args) == 0 {
			return fmt.Errorf("stats requires a strategy name")
		}
		days := 7
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid days %q", args[1])
			}
			days = n
		}
		stats, err := c.Stats(ctx, args[0], days)
		if err != nil {
			return err
		}
		fmt.Println(renderStats(stats, days))

	case "watch":
		p := tea.NewProgram(newWatchModel(c, interval), tea.WithAltScreen())
		_, err := p.Run()
		return err

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
