// Package notify 把交易事件推送到 Telegram。
// 未配置 token / chat id 时自动降级为仅写日志。
package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	sdkhttp "github.com/betbot/blackpanther/pkg/sdk/http"
)

var log = logrus.WithField("component", "notify")

// Config Telegram 配置
type Config struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Timeout  time.Duration
}

// Telegram Bot API 告警
type Telegram struct {
	cfg     Config
	client  *sdkhttp.Client
	enabled bool
}

// NewTelegram 创建 Telegram 告警器
func NewTelegram(cfg Config) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	t := &Telegram{
		cfg:     cfg,
		enabled: cfg.BotToken != "" && cfg.ChatID != "",
	}
	t.client = sdkhttp.NewClient(cfg.BaseURL, sdkhttp.WithTimeout(cfg.Timeout), sdkhttp.WithRetry(0))
	if !t.enabled {
		log.Warnf("Telegram 未配置，告警仅写日志")
	}
	return t
}

// Enabled 是否真正发送
func (t *Telegram) Enabled() bool { return t.enabled }

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send 发送一条 HTML 消息；失败只记日志
func (t *Telegram) Send(ctx context.Context, message string) {
	if !t.enabled {
		log.Debugf("Telegram disabled. Message: %s", message)
		return
	}
	_, err := t.client.DoRequest(ctx, http.MethodPost, "/bot"+t.cfg.BotToken+"/sendMessage", &sdkhttp.RequestOptions{
		Data: sendMessageRequest{ChatID: t.cfg.ChatID, Text: message, ParseMode: "HTML"},
	}, nil)
	if err != nil {
		log.Errorf("Telegram send failed: %s", redact(err.Error(), t.cfg.BotToken))
	}
}

// TradeEntry 开仓通知
func (t *Telegram) TradeEntry(ctx context.Context, strategy, symbol, side string, price, size float64, meta map[string]any) {
	emoji := "🔴"
	if s := strings.ToUpper(side); s == "BUY" || s == "LONG" {
		emoji = "🟢"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>TRADE ENTRY</b>\n\n", emoji)
	fmt.Fprintf(&b, "Strategy: <code>%s</code>\n", esc(strategy))
	fmt.Fprintf(&b, "Symbol: <code>%s</code>\n", esc(symbol))
	fmt.Fprintf(&b, "Side: <code>%s</code>\n", esc(strings.ToUpper(side)))
	fmt.Fprintf(&b, "Price: <code>$%s</code>\n", money(price))
	fmt.Fprintf(&b, "Size: <code>%g</code>\n", size)
	writeDetails(&b, "Signals", meta)
	t.Send(ctx, b.String())
}

// TradeExit 平仓通知
func (t *Telegram) TradeExit(ctx context.Context, strategy, symbol string, entry, exit, pnl, pnlPct float64) {
	emoji, color := "💸", "🔴"
	if pnl > 0 {
		emoji, color = "💰", "🟢"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>TRADE EXIT</b>\n\n", emoji)
	fmt.Fprintf(&b, "Strategy: <code>%s</code>\n", esc(strategy))
	fmt.Fprintf(&b, "Symbol: <code>%s</code>\n", esc(symbol))
	fmt.Fprintf(&b, "Entry: <code>$%s</code>\n", money(entry))
	fmt.Fprintf(&b, "Exit: <code>$%s</code>\n", money(exit))
	fmt.Fprintf(&b, "PnL: %s <code>$%s (%+.2f%%)</code>\n", color, money(pnl), pnlPct)
	t.Send(ctx, b.String())
}

// Signal 信号通知
func (t *Telegram) Signal(ctx context.Context, strategy, symbol, signalType, confidence string, details map[string]any) {
	var b strings.Builder
	b.WriteString("📡 <b>SIGNAL DETECTED</b>\n\n")
	fmt.Fprintf(&b, "Strategy: <code>%s</code>\n", esc(strategy))
	fmt.Fprintf(&b, "Symbol: <code>%s</code>\n", esc(symbol))
	fmt.Fprintf(&b, "Signal: <code>%s</code>\n", esc(signalType))
	fmt.Fprintf(&b, "Confidence: <code>%s</code>\n", esc(confidence))
	writeDetails(&b, "Details", details)
	t.Send(ctx, b.String())
}

// Warning 警告
func (t *Telegram) Warning(ctx context.Context, message string) {
	t.Send(ctx, "⚠️ <b>WARNING</b>\n\n"+esc(message))
}

// Critical 严重告警
func (t *Telegram) Critical(ctx context.Context, message string) {
	t.Send(ctx, "🚨 <b>CRITICAL ALERT</b>\n\n"+esc(message))
}

// DailySummary 日终汇总
func (t *Telegram) DailySummary(ctx context.Context, s domain.DailySummary) {
	emoji := "📉"
	if s.TotalPnL > 0 {
		emoji = "📈"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>DAILY SUMMARY</b> %s\n\n", emoji, esc(s.Date))
	fmt.Fprintf(&b, "Total PnL: <code>$%s</code>\n", money(s.TotalPnL))
	fmt.Fprintf(&b, "Trades: <code>%d</code>\n", s.TradeCount)
	fmt.Fprintf(&b, "Win Rate: <code>%.1f%%</code>\n", s.WinRate)
	if s.TradeCount > 0 {
		fmt.Fprintf(&b, "\n🏆 Best: <code>%s</code> $%s\n", esc(s.BestSymbol), money(s.BestTrade))
		fmt.Fprintf(&b, "💀 Worst: <code>%s</code> $%s\n", esc(s.WorstSymbol), money(s.WorstTrade))
	}
	t.Send(ctx, b.String())
}

// Startup 启动通知
func (t *Telegram) Startup(ctx context.Context, mode string, strategies []string) {
	var b strings.Builder
	b.WriteString("🐆 <b>BLACKPANTHER ONLINE</b>\n\n")
	fmt.Fprintf(&b, "Mode: <code>%s</code>\n", esc(mode))
	fmt.Fprintf(&b, "Strategies: <code>%s</code>\n", esc(strings.Join(strategies, ", ")))
	t.Send(ctx, b.String())
}

func writeDetails(b *strings.Builder, title string, kv map[string]any) {
	if len(kv) == 0 {
		return
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "\n<b>%s:</b>\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "• %s: <code>%s</code>\n", esc(k), esc(fmt.Sprint(kv[k])))
	}
}

func esc(s string) string { return html.EscapeString(s) }

// money 千分位两位小数，例如 -1234.5 -> -1,234.50
func money(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac := s[:len(s)-3], s[len(s)-3:]

	var out []byte
	for i := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	if neg {
		return "-" + string(out) + frac
	}
	return string(out) + frac
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}
