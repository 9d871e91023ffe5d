package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports"
)

var (
	_ ports.Gateway   = (*DryRunGateway)(nil)
	_ ports.SpotVenue = (*DryRunSpotVenue)(nil)
)

var dryRunSeq atomic.Int64

func nextDryRunID() string {
	return fmt.Sprintf("dry-%d", dryRunSeq.Add(1))
}

// DryRunGateway 行情透传，下单/平仓/杠杆只在本地模拟，不发送到交易所
type DryRunGateway struct {
	ports.Gateway

	paperBalance float64

	mu        sync.Mutex
	positions map[string]float64 // symbol -> 带符号数量（正多负空）
	entries   map[string]float64
}

// NewDryRunGateway paperBalance 在真实余额查询失败时使用
func NewDryRunGateway(inner ports.Gateway, paperBalance float64) *DryRunGateway {
	return &DryRunGateway{
		Gateway:      inner,
		paperBalance: paperBalance,
		positions:    make(map[string]float64),
		entries:      make(map[string]float64),
	}
}

func (d *DryRunGateway) GetBalance(ctx context.Context) (domain.Balance, error) {
	bal, err := d.Gateway.GetBalance(ctx)
	if err != nil {
		if d.paperBalance <= 0 {
			return domain.Balance{}, err
		}
		log.Debugf("[dry-run] 余额查询失败，使用模拟余额 %.2f: %v", d.paperBalance, err)
		return domain.Balance{Total: d.paperBalance, Free: d.paperBalance}, nil
	}
	return bal, nil
}

func (d *DryRunGateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	sym := ToBinanceSymbol(req.Symbol)
	price := req.Price
	if req.Type != domain.OrderTypeLimit || price <= 0 {
		var err error
		if req.Market == domain.MarketSpot {
			price, err = d.Gateway.GetSpotPrice(ctx, sym)
		} else {
			price, err = d.Gateway.GetPerpPrice(ctx, sym)
		}
		if err != nil {
			return nil, err
		}
	}
	market := req.Market
	if market == "" {
		market = domain.MarketPerp
	}
	if market == domain.MarketPerp {
		d.applyFill(sym, req.Side, req.Amount, price)
	}

	log.Infof("🧪 [dry-run] 模拟成交: %s %s %.6f %s @ %.6f", market, req.Side, req.Amount, sym, price)
	return &domain.Order{
		OrderID:     nextDryRunID(),
		Symbol:      sym,
		Side:        req.Side,
		Amount:      req.Amount,
		FilledPrice: price,
		Status:      "FILLED",
		Market:      market,
		CreatedAt:   time.Now(),
		Simulated:   true,
	}, nil
}

func (d *DryRunGateway) applyFill(sym string, side domain.Side, amount, price float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delta := amount
	if side == domain.SideSell {
		delta = -amount
	}
	cur := d.positions[sym]
	next := cur + delta
	if abs(next) < 1e-12 {
		delete(d.positions, sym)
		delete(d.entries, sym)
		return
	}
	switch {
	case cur == 0 || (cur > 0) != (next > 0):
		// 新开仓或反手
		d.entries[sym] = price
	case (cur > 0) == (delta > 0):
		d.entries[sym] = (d.entries[sym]*abs(cur) + price*abs(delta)) / abs(next)
	}
	d.positions[sym] = next
}

func (d *DryRunGateway) GetPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.ExchangePosition, 0, len(d.positions))
	for sym, amt := range d.positions {
		side := domain.PositionSideLong
		if amt < 0 {
			side = domain.PositionSideShort
		}
		out = append(out, domain.ExchangePosition{Symbol: sym, Side: side, Contracts: abs(amt), Entry: d.entries[sym]})
	}
	return out, nil
}

func (d *DryRunGateway) ClosePosition(ctx context.Context, symbol string) (*domain.Order, error) {
	sym := ToBinanceSymbol(symbol)
	d.mu.Lock()
	amt := d.positions[sym]
	d.mu.Unlock()
	if amt == 0 {
		return nil, nil
	}
	side := domain.SideSell
	if amt < 0 {
		side = domain.SideBuy
	}
	return d.CreateOrder(ctx, domain.OrderRequest{
		Symbol: sym,
		Side:   side,
		Amount: abs(amt),
		Type:   domain.OrderTypeMarket,
		Market: domain.MarketPerp,
	})
}

func (d *DryRunGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	log.Infof("🧪 [dry-run] 撤销挂单: %q", symbol)
	return ctx.Err()
}

func (d *DryRunGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	log.Infof("🧪 [dry-run] 设置杠杆 %dx: %s", leverage, ToBinanceSymbol(symbol))
	return ctx.Err()
}

// DryRunSpotVenue 现货场所的模拟下单包装
type DryRunSpotVenue struct {
	ports.SpotVenue
	paperBalance float64
}

func NewDryRunSpotVenue(inner ports.SpotVenue, paperBalance float64) *DryRunSpotVenue {
	return &DryRunSpotVenue{SpotVenue: inner, paperBalance: paperBalance}
}

func (d *DryRunSpotVenue) GetBalance(ctx context.Context) (domain.Balance, error) {
	bal, err := d.SpotVenue.GetBalance(ctx)
	if err != nil {
		if d.paperBalance <= 0 {
			return domain.Balance{}, err
		}
		return domain.Balance{Total: d.paperBalance, Free: d.paperBalance}, nil
	}
	return bal, nil
}

func (d *DryRunSpotVenue) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	price := req.Price
	if req.Type != domain.OrderTypeLimit || price <= 0 {
		var err error
		if price, err = d.SpotVenue.GetPrice(ctx, req.Symbol); err != nil {
			return nil, err
		}
	}
	sym := ToGateSymbol(req.Symbol)
	log.Infof("🧪 [dry-run] 模拟现货成交: %s %.8f %s @ %.8f", req.Side, req.Amount, sym, price)
	return &domain.Order{
		OrderID:     nextDryRunID(),
		Symbol:      sym,
		Side:        req.Side,
		Amount:      req.Amount,
		FilledPrice: price,
		Status:      "closed",
		Market:      domain.MarketSpot,
		CreatedAt:   time.Now(),
		Simulated:   true,
	}, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
