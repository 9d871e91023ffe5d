package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// sample 从默认注册表中读取指定指标（标签全部匹配）的值
func sample(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestObserveOrder(t *testing.T) {
	labels := map[string]string{"strategy": "cashcow", "venue": "binance", "result": "error"}
	before := sample(t, "blackpanther_orders_total", labels)
	ObserveOrder("cashcow", "binance", errors.New("boom"))
	ObserveOrder("cashcow", "binance", nil)
	if got := sample(t, "blackpanther_orders_total", labels); got != before+1 {
		t.Fatalf("got=%v want=%v", got, before+1)
	}
}

func TestSetKillSwitch(t *testing.T) {
	SetKillSwitch(true)
	if got := sample(t, "blackpanther_kill_switch_active", nil); got != 1 {
		t.Fatalf("got=%v want=1", got)
	}
	SetKillSwitch(false)
	if got := sample(t, "blackpanther_kill_switch_active", nil); got != 0 {
		t.Fatalf("got=%v want=0", got)
	}
}

func TestStartAsyncServesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := StartAsync(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	LatencyMs.Set(42)

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "blackpanther_exchange_latency_ms 42") {
		t.Fatalf("latency gauge missing from /metrics output")
	}
}

func TestStartAsyncServesPprof(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := StartAsync(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr + "/debug/pprof/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status got=%d want=200", resp.StatusCode)
	}
}
