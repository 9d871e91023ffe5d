// Package ledger 是交易日志（trade_journal），保存每笔开平仓记录并提供统计。
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/blackpanther/internal/domain"
)

var log = logrus.WithField("component", "ledger")

// tsLayout 定长 UTC 时间格式，保证按字符串比较与时间顺序一致
const tsLayout = "2006-01-02T15:04:05.000000Z"

// ErrTradeNotFound 更新不存在的交易
var ErrTradeNotFound = errors.New("ledger: trade not found")

// Ledger SQLite 交易账本
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）账本数据库
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("📊 交易账本已打开: %s", path)
	return l, nil
}

// Close 关闭数据库
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trade_journal (
  id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  entry_price REAL,
  exit_price REAL,
  pnl_usd REAL,
  meta_data TEXT NOT NULL DEFAULT '{}',
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_journal_timestamp ON trade_journal(timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_journal_strategy ON trade_journal(strategy);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_journal_symbol ON trade_journal(symbol);`,
	}
	for _, q := range stmts {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// LogTrade 写入一笔交易，返回交易 ID（未指定时生成 uuid）
func (l *Ledger) LogTrade(ctx context.Context, t domain.Trade) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = l.now()
	}
	meta := t.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode meta: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
INSERT INTO trade_journal (id, timestamp, strategy, symbol, side, entry_price, exit_price, pnl_usd, meta_data, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, t.ID, fmtTS(t.Timestamp), t.Strategy, t.Symbol, t.Side, t.EntryPrice,
		nullFloat(t.ExitPrice), nullFloat(t.PnL), string(metaJSON), fmtTS(l.now()))
	if err != nil {
		return "", fmt.Errorf("insert trade: %w", err)
	}
	log.Infof("Trade logged: %s %s %s", t.Strategy, t.Side, t.Symbol)
	return t.ID, nil
}

// UpdateTradeExit 补写平仓价与盈亏
func (l *Ledger) UpdateTradeExit(ctx context.Context, id string, exitPrice, pnl float64) error {
	res, err := l.db.ExecContext(ctx, `UPDATE trade_journal SET exit_price = ?, pnl_usd = ? WHERE id = ?`, exitPrice, pnl, id)
	if err != nil {
		return fmt.Errorf("update trade exit: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// DailyPnL 今天（UTC）已实现盈亏合计
func (l *Ledger) DailyPnL(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx,
		`SELECT SUM(COALESCE(pnl_usd, 0)) FROM trade_journal WHERE timestamp >= ?`,
		fmtTS(dayStart(l.now())),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query daily pnl: %w", err)
	}
	return total.Float64, nil
}

// StrategyStats 最近 days 天的策略统计
func (l *Ledger) StrategyStats(ctx context.Context, strategy string, days int) (domain.StrategyStats, error) {
	if days <= 0 {
		days = 30
	}
	since := l.now().Add(-time.Duration(days) * 24 * time.Hour)

	stats := domain.StrategyStats{Strategy: strategy}
	var wins int
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN COALESCE(pnl_usd, 0) > 0 THEN 1 ELSE 0 END), 0),
       SUM(COALESCE(pnl_usd, 0))
FROM trade_journal
WHERE strategy = ? AND timestamp >= ?
`, strategy, fmtTS(since)).Scan(&stats.TotalTrades, &wins, &total)
	if err != nil {
		return stats, fmt.Errorf("query strategy stats: %w", err)
	}
	if stats.TotalTrades == 0 {
		return stats, nil
	}
	stats.TotalPnL = total.Float64
	stats.WinRate = float64(wins) / float64(stats.TotalTrades) * 100
	stats.AvgPnL = stats.TotalPnL / float64(stats.TotalTrades)
	return stats, nil
}

// RecentTrades 最近 limit 笔交易（按时间倒序）
func (l *Ledger) RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, timestamp, strategy, symbol, side, entry_price, exit_price, pnl_usd, meta_data
FROM trade_journal
ORDER BY timestamp DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// Summary 区间 [from, to) 内已平仓交易的汇总
func (l *Ledger) Summary(ctx context.Context, from, to time.Time) (domain.DailySummary, error) {
	out := domain.DailySummary{Date: from.UTC().Format("2006-01-02")}
	rows, err := l.db.QueryContext(ctx, `
SELECT symbol, pnl_usd FROM trade_journal
WHERE timestamp >= ? AND timestamp < ? AND pnl_usd IS NOT NULL
`, fmtTS(from), fmtTS(to))
	if err != nil {
		return out, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	wins := 0
	for rows.Next() {
		var (
			symbol string
			pnl    float64
		)
		if err := rows.Scan(&symbol, &pnl); err != nil {
			return out, err
		}
		if out.TradeCount == 0 || pnl > out.BestTrade {
			out.BestTrade, out.BestSymbol = pnl, symbol
		}
		if out.TradeCount == 0 || pnl < out.WorstTrade {
			out.WorstTrade, out.WorstSymbol = pnl, symbol
		}
		if pnl > 0 {
			wins++
		}
		out.TotalPnL += pnl
		out.TradeCount++
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	if out.TradeCount > 0 {
		out.WinRate = float64(wins) / float64(out.TradeCount) * 100
	}
	return out, nil
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		var (
			t         domain.Trade
			ts, meta  string
			entry     sql.NullFloat64
			exit, pnl sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &ts, &t.Strategy, &t.Symbol, &t.Side, &entry, &exit, &pnl, &meta); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.EntryPrice = entry.Float64
		if exit.Valid {
			v := exit.Float64
			t.ExitPrice = &v
		}
		if pnl.Valid {
			v := pnl.Float64
			t.PnL = &v
		}
		if parsed, err := time.Parse(tsLayout, ts); err == nil {
			t.Timestamp = parsed
		}
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &t.Meta)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func fmtTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
