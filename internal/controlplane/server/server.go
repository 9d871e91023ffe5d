package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/metrics"
	"github.com/betbot/blackpanther/internal/ports"
)

var log = logrus.WithField("component", "controlplane")

// KillSwitch 熔断开关的人工操作入口（risk.Monitor 实现）
type KillSwitch interface {
	ManualShutdown(ctx context.Context, reason string) error
	ResetKillSwitch(ctx context.Context) error
	Triggered() bool
}

type Config struct {
	Mode       string
	DryRun     bool
	Strategies []string
	// Token 非空时写操作需要 Authorization: Bearer <token>
	Token string
}

type Server struct {
	cfg     Config
	store   ports.StateStore
	ledger  ports.Ledger
	gateway ports.Gateway
	kill    KillSwitch

	started time.Time
	now     func() time.Time
}

func New(cfg Config, store ports.StateStore, ledger ports.Ledger, gateway ports.Gateway, kill KillSwitch) (*Server, error) {
	if store == nil || ledger == nil || kill == nil {
		return nil, errors.New("store, ledger and kill switch are required")
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		ledger:  ledger,
		gateway: gateway,
		kill:    kill,
		started: time.Now(),
		now:     time.Now,
	}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/status", s.wrap(s.handleStatus))
	api.GET("/positions", s.wrap(s.handlePositions))
	api.GET("/trades", s.wrap(s.handleTrades))
	api.GET("/stats/:strategy", s.wrap(s.handleStats))

	kill := api.Group("/killswitch")
	kill.POST("/trigger", s.wrap(s.requireToken(s.handleKillTrigger)))
	kill.POST("/reset", s.wrap(s.requireToken(s.handleKillReset)))

	return r
}

// StartAsync 非阻塞启动，ctx.Done() 时优雅关闭
func (s *Server) StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("control plane exited: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Infof("control plane listening on http://%s", srv.Addr)
	return srv, nil
}

type paramsKeyType string

const paramsKey paramsKeyType = "blackpanther_path_params"

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}

func (s *Server) requireToken(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.Token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func queryInt(r *http.Request, key string, def, lo, hi int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return min(max(n, lo), hi)
}

// Status /api/status 响应
type Status struct {
	Mode          string    `json:"mode"`
	DryRun        bool      `json:"dryRun"`
	Strategies    []string  `json:"strategies"`
	KillSwitch    bool      `json:"killSwitch"`
	Equity        float64   `json:"equity"`
	StartEquity   float64   `json:"startEquity"`
	DrawdownPct   float64   `json:"drawdownPct"`
	DailyPnL      float64   `json:"dailyPnl"`
	LatencyMs     float64   `json:"latencyMs"`
	OpenPositions int       `json:"openPositions"`
	SessionDay    string    `json:"sessionDay"`
	Uptime        string    `json:"uptime"`
	Time          time.Time `json:"time"`
	Errors        []string  `json:"errors,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st := Status{
		Mode:       s.cfg.Mode,
		DryRun:     s.cfg.DryRun,
		Strategies: s.cfg.Strategies,
		KillSwitch: s.kill.Triggered(),
		Uptime:     s.now().Sub(s.started).Truncate(time.Second).String(),
		Time:       s.now().UTC(),
	}
	fail := func(what string, err error) {
		st.Errors = append(st.Errors, what+": "+err.Error())
	}

	if killed, err := s.store.KillSwitch(ctx); err != nil {
		fail("kill switch", err)
	} else if killed {
		st.KillSwitch = true
	}
	if v, err := s.store.StartEquity(ctx); err != nil {
		fail("start equity", err)
	} else {
		st.StartEquity = v
	}
	if v, err := s.store.Latency(ctx); err != nil {
		fail("latency", err)
	} else {
		st.LatencyMs = v
	}
	if v, err := s.store.SessionDay(ctx); err == nil {
		st.SessionDay = v
	}
	if pos, err := s.store.AllPositions(ctx); err != nil {
		fail("positions", err)
	} else {
		st.OpenPositions = len(pos)
	}
	if v, err := s.ledger.DailyPnL(ctx); err != nil {
		fail("daily pnl", err)
	} else {
		st.DailyPnL = v
	}
	if s.gateway != nil {
		if bal, err := s.gateway.GetBalance(ctx); err != nil {
			fail("balance", err)
		} else {
			st.Equity = bal.Total
			if st.StartEquity > 0 {
				st.DrawdownPct = (st.StartEquity - bal.Total) / st.StartEquity * 100
			}
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	m, err := s.store.AllPositions(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]domain.Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	limit := queryInt(r, "limit", 50, 1, 500)
	trades, err := s.ledger.RecentTrades(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	strategy := strings.TrimSpace(pathParam(r, "strategy"))
	if strategy == "" {
		writeError(w, http.StatusBadRequest, "strategy is required")
		return
	}
	days := queryInt(r, "days", 7, 1, 365)
	stats, err := s.ledger.StrategyStats(ctx, strategy, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type triggerRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleKillTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
	}
	if s.kill.Triggered() {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "kill switch already active"})
		return
	}
	reason := strings.TrimSpace(req.Reason)
	log.Warnf("kill switch requested via control plane: %q", reason)

	// 平仓不随请求取消中断
	if err := s.kill.ManualShutdown(context.WithoutCancel(r.Context()), reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":         false,
			"killSwitch": true,
			"error":      err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "killSwitch": true})
}

func (s *Server) handleKillReset(w http.ResponseWriter, r *http.Request) {
	if err := s.kill.ResetKillSwitch(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info("kill switch reset via control plane")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "killSwitch": false})
}
