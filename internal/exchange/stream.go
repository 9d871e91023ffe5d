package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/pkg/cache"
)

var streamLog = logrus.WithField("component", "mark_price_stream")

// MarkPrice 永续标记价格 + 资金费率快照
type MarkPrice struct {
	Symbol      string
	Price       float64
	FundingRate float64
	HasFunding  bool
	EventTime   time.Time
}

// MarkSource 提供最新标记价格（过期数据视为不存在）
type MarkSource interface {
	Mark(symbol string) (MarkPrice, bool)
}

// MarkPriceStream 订阅 Binance !markPrice@arr 推送并写入 TTL 缓存。
// 网关读价格时先查缓存，断线期间数据过期后自动回退到 REST。
type MarkPriceStream struct {
	wsURL    string
	proxyURL string

	marks *cache.InMemoryCache[string, MarkPrice]
	ttl   time.Duration

	connMu sync.Mutex
	conn   *websocket.Conn

	readTimeout    time.Duration
	reconnectDelay time.Duration
}

// NewMarkPriceStream ttl 为单条价格的有效期，<=0 时为 10s
func NewMarkPriceStream(wsURL, proxyURL string, ttl time.Duration) *MarkPriceStream {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &MarkPriceStream{
		wsURL:          strings.TrimSpace(wsURL),
		proxyURL:       strings.TrimSpace(proxyURL),
		marks:          cache.NewInMemoryCache[string, MarkPrice](ttl),
		ttl:            ttl,
		readTimeout:    30 * time.Second,
		reconnectDelay: time.Second,
	}
}

// Mark 实现 MarkSource
func (s *MarkPriceStream) Mark(symbol string) (MarkPrice, bool) {
	return s.marks.Get(ToBinanceSymbol(symbol))
}

// Size 当前缓存的合约数
func (s *MarkPriceStream) Size() int { return s.marks.Size() }

// Run 阻塞直到 ctx 取消；断线后自动重连
func (s *MarkPriceStream) Run(ctx context.Context) {
	defer s.marks.Close()
	go func() {
		<-ctx.Done()
		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.connMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.dial(ctx)
		if err != nil {
			streamLog.Warnf("连接 mark price WS 失败: %v", err)
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		streamLog.Infof("✅ mark price 推送已连接: %s", s.wsURL)

		if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			streamLog.Warnf("mark price readLoop 退出: %v", err)
		}

		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		_ = conn.Close()
		s.connMu.Unlock()

		select {
		case <-time.After(s.reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *MarkPriceStream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	if s.proxyURL != "" {
		if p, err := url.Parse(s.proxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(p)
		}
	}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	return conn, err
}

func (s *MarkPriceStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	type combined struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg = bytes.TrimSpace(msg)
		if len(msg) > 0 && msg[0] == '{' {
			var c combined
			if err := json.Unmarshal(msg, &c); err == nil && len(c.Data) > 0 {
				msg = c.Data
			}
		}
		s.handleMessage(msg)
	}
}

type markPriceEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	FundingRate string `json:"r"`
}

// handleMessage 兼容数组（!markPrice@arr）和单个事件（<symbol>@markPrice）
func (s *MarkPriceStream) handleMessage(msg []byte) {
	var events []markPriceEvent
	if len(msg) > 0 && msg[0] == '[' {
		if err := json.Unmarshal(msg, &events); err != nil {
			return
		}
	} else {
		var ev markPriceEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			return
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		if ev.EventType != "markPriceUpdate" || ev.Symbol == "" {
			continue
		}
		px, ok := parseFloat(ev.MarkPrice)
		if !ok || px <= 0 {
			continue
		}
		m := MarkPrice{
			Symbol:    strings.ToUpper(ev.Symbol),
			Price:     px,
			EventTime: time.UnixMilli(ev.EventTime).UTC(),
		}
		if r, ok := parseFloat(ev.FundingRate); ok {
			m.FundingRate = r
			m.HasFunding = true
		}
		s.marks.Set(m.Symbol, m, s.ttl)
	}
}
