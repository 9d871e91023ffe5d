package main

import (
	"context"
	"net/http"
	"time"

	"github.com/betbot/blackpanther/internal/controlplane/server"
	"github.com/betbot/blackpanther/internal/domain"
	sdkhttp "github.com/betbot/blackpanther/pkg/sdk/http"
)

// controlClient 控制面 HTTP 客户端
type controlClient struct {
	http *sdkhttp.Client
}

func newControlClient(addr, token string) *controlClient {
	opts := []sdkhttp.Option{sdkhttp.WithTimeout(40 * time.Second), sdkhttp.WithRetry(1)}
	if token != "" {
		opts = append(opts, sdkhttp.WithHeader("Authorization", "Bearer "+token))
	}
	return &controlClient{http: sdkhttp.NewClient(addr, opts...)}
}

func (c *controlClient) Status(ctx context.Context) (server.Status, error) {
	var st server.Status
	_, err := c.http.DoRequest(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

func (c *controlClient) Positions(ctx context.Context) ([]domain.Position, error) {
	var out struct {
		Positions []domain.Position `json:"positions"`
	}
	_, err := c.http.DoRequest(ctx, http.MethodGet, "/api/positions", nil, &out)
	return out.Positions, err
}

func (c *controlClient) Trades(ctx context.Context, limit int) ([]domain.Trade, error) {
	var out struct {
		Trades []domain.Trade `json:"trades"`
	}
	_, err := c.http.DoRequest(ctx, http.MethodGet, "/api/trades", &sdkhttp.RequestOptions{
		Params: map[string]any{"limit": limit},
	}, &out)
	return out.Trades, err
}

func (c *controlClient) Stats(ctx context.Context, strategy string, days int) (domain.StrategyStats, error) {
	var out domain.StrategyStats
	_, err := c.http.DoRequest(ctx, http.MethodGet, "/api/stats/"+strategy, &sdkhttp.RequestOptions{
		Params: map[string]any{"days": days},
	}, &out)
	return out, err
}

func (c *controlClient) Kill(ctx context.Context, reason string) error {
	_, err := c.http.DoRequest(ctx, http.MethodPost, "/api/killswitch/trigger", &sdkhttp.RequestOptions{
		Data: map[string]string{"reason": reason},
	}, nil)
	return err
}

func (c *controlClient) Reset(ctx context.Context) error {
	_, err := c.http.DoRequest(ctx, http.MethodPost, "/api/killswitch/reset", nil, nil)
	return err
}
