// Package state 是所有组件共享的唯一可变状态：熔断开关、持仓镜像、日内权益、信号缓存、基差与 CVD。
// 每个操作都是单键原子操作（Badger 事务），组件之间不做跨键事务。
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
)

var log = logrus.WithField("component", "state")

// ErrNotFound 键不存在
var ErrNotFound = errors.New("state: key not found")

const (
	keyKillSwitch  = "state:kill_switch"
	keyStartEquity = "risk:start_equity"
	keyDailyPnL    = "risk:daily_pnl"
	keyLatency     = "risk:latency_ms"
	keySession     = "risk:session_day"

	prefixPosition = "position:"
	prefixSignal   = "signal:"
	prefixBasis    = "basis:"
	prefixCVD      = "cvd:"
)

// DefaultSignalTTL 信号缓存默认有效期
const DefaultSignalTTL = 5 * time.Minute

// Options 打开参数
type Options struct {
	Dir       string
	InMemory  bool
	SignalTTL time.Duration
}

// Store 基于 Badger 的状态存储
type Store struct {
	db        *badger.DB
	signalTTL time.Duration
}

// Open 打开状态存储
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Dir) == "" {
			return nil, errors.New("state: dir is required")
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("打开状态存储失败: %w", err)
	}
	ttl := opts.SignalTTL
	if ttl <= 0 {
		ttl = DefaultSignalTTL
	}
	log.Infof("状态存储已打开 (inMemory=%v dir=%s)", opts.InMemory, opts.Dir)
	return &Store{db: db, signalTTL: ttl}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), b)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

func (s *Store) del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// getFloatOrZero 键不存在时返回 0
func (s *Store) getFloatOrZero(ctx context.Context, key string) (float64, error) {
	v, err := s.getFloat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return v, err
}

func (s *Store) getFloat(ctx context.Context, key string) (float64, error) {
	var v float64
	if err := s.get(ctx, key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// ---- kill switch ----

// SetKillSwitch 设置熔断开关
func (s *Store) SetKillSwitch(ctx context.Context, active bool) error {
	return s.put(ctx, keyKillSwitch, active, 0)
}

// KillSwitch 读取熔断开关，未设置视为 false
func (s *Store) KillSwitch(ctx context.Context) (bool, error) {
	var v bool
	err := s.get(ctx, keyKillSwitch, &v)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return v, err
}

// ---- positions ----

// SetPosition 写入持仓镜像
func (s *Store) SetPosition(ctx context.Context, pos domain.Position) error {
	if pos.Symbol == "" {
		return errors.New("state: position symbol is empty")
	}
	return s.put(ctx, prefixPosition+pos.Symbol, pos, 0)
}

// GetPosition 读取持仓，不存在返回 ErrNotFound
func (s *Store) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var p domain.Position
	if err := s.get(ctx, prefixPosition+symbol, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// HasPosition 是否存在持仓
func (s *Store) HasPosition(ctx context.Context, symbol string) (bool, error) {
	_, err := s.GetPosition(ctx, symbol)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeletePosition 删除持仓
func (s *Store) DeletePosition(ctx context.Context, symbol string) error {
	return s.del(ctx, prefixPosition+symbol)
}

// AllPositions 前缀扫描全部持仓
func (s *Store) AllPositions(ctx context.Context) (map[string]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Position)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixPosition)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			symbol := strings.TrimPrefix(string(item.Key()), prefixPosition)
			err := item.Value(func(val []byte) error {
				var p domain.Position
				if err := json.Unmarshal(val, &p); err != nil {
					return err
				}
				out[symbol] = p
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode position %s: %w", symbol, err)
			}
		}
		return nil
	})
	return out, err
}

// ---- daily equity ----

// SetStartEquity 记录日初权益
func (s *Store) SetStartEquity(ctx context.Context, v float64) error {
	return s.put(ctx, keyStartEquity, v, 0)
}

// StartEquity 日初权益，未设置返回 0
func (s *Store) StartEquity(ctx context.Context) (float64, error) {
	return s.getFloatOrZero(ctx, keyStartEquity)
}

// SetDailyPnL 记录日内盈亏
func (s *Store) SetDailyPnL(ctx context.Context, v float64) error {
	return s.put(ctx, keyDailyPnL, v, 0)
}

// DailyPnL 日内盈亏，未设置返回 0
func (s *Store) DailyPnL(ctx context.Context) (float64, error) {
	return s.getFloatOrZero(ctx, keyDailyPnL)
}

// SetSessionDay 记录当前交易日（UTC，yyyy-mm-dd）
func (s *Store) SetSessionDay(ctx context.Context, day string) error {
	return s.put(ctx, keySession, day, 0)
}

// SessionDay 当前交易日，未设置返回空串
func (s *Store) SessionDay(ctx context.Context) (string, error) {
	var day string
	err := s.get(ctx, keySession, &day)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return day, err
}

// SetLatency 记录最近一次交易所往返延迟
func (s *Store) SetLatency(ctx context.Context, ms float64) error {
	return s.put(ctx, keyLatency, ms, 0)
}

// Latency 最近一次延迟（毫秒）
func (s *Store) Latency(ctx context.Context) (float64, error) {
	return s.getFloatOrZero(ctx, keyLatency)
}

// ---- signals ----

func signalKey(strategy, symbol string) string {
	return prefixSignal + strategy + ":" + symbol
}

// CacheSignal 缓存信号，过期后自动消失
func (s *Store) CacheSignal(ctx context.Context, sig domain.Signal) error {
	if sig.Strategy == "" || sig.Symbol == "" {
		return errors.New("state: signal strategy/symbol is empty")
	}
	return s.put(ctx, signalKey(sig.Strategy, sig.Symbol), sig, s.signalTTL)
}

// CachedSignal 读取未过期的信号
func (s *Store) CachedSignal(ctx context.Context, strategy, symbol string) (*domain.Signal, error) {
	var sig domain.Signal
	if err := s.get(ctx, signalKey(strategy, symbol), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// ---- indicators ----

// SetBasis 记录最新基差
func (s *Store) SetBasis(ctx context.Context, symbol string, basis float64) error {
	return s.put(ctx, prefixBasis+symbol, basis, 0)
}

// Basis 最新基差
func (s *Store) Basis(ctx context.Context, symbol string) (float64, error) {
	return s.getFloat(ctx, prefixBasis+symbol)
}

// SetCVD 记录最新 CVD
func (s *Store) SetCVD(ctx context.Context, symbol string, cvd float64) error {
	return s.put(ctx, prefixCVD+symbol, cvd, 0)
}

// CVD 最新 CVD
func (s *Store) CVD(ctx context.Context, symbol string) (float64, error) {
	return s.getFloat(ctx, prefixCVD+symbol)
}
