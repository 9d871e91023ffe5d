package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_RunsAllCallbacks(t *testing.T) {
	m := NewManager()
	var n int32
	for _, name := range []string{"cashcow", "sniper", "sniper"} {
		m.OnShutdown(name, func(ctx context.Context) { atomic.AddInt32(&n, 1) })
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if pending := m.Shutdown(ctx); len(pending) != 0 {
		t.Fatalf("pending got=%v want none", pending)
	}
	if got := atomic.LoadInt32(&n); got != 3 {
		t.Fatalf("got=%d want=3", got)
	}
}

func TestManager_ReportsStuckComponents(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown("risk-monitor", func(ctx context.Context) { <-release })
	m.OnShutdown("cashcow", func(ctx context.Context) {})
	m.OnShutdown("trendkiller", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	pending := m.Shutdown(ctx)
	if len(pending) != 2 || pending[0] != "risk-monitor" || pending[1] != "trendkiller" {
		t.Fatalf("pending got=%v want=[risk-monitor trendkiller]", pending)
	}
}

func TestManager_Empty(t *testing.T) {
	if pending := NewManager().Shutdown(context.Background()); pending != nil {
		t.Fatalf("pending got=%v want nil", pending)
	}
}
