package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDoRequest_DecodesAndKeepsRawQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "symbol=BTCUSDT&timestamp=1&signature=abc" {
			t.Errorf("raw query got=%q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"101.5"}`))
	}))
	defer srv.Close()

	var out struct {
		Price string `json:"price"`
	}
	c := NewClient(srv.URL + "/")
	_, err := c.DoRequest(context.Background(), http.MethodGet, "/fapi/v1/ticker/price",
		&RequestOptions{RawQuery: "symbol=BTCUSDT&timestamp=1&signature=abc"}, &out)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if out.Price != "101.5" {
		t.Fatalf("price got=%q want=101.5", out.Price)
	}
}

func TestDoRequest_NonSuccessReturnsHTTPError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.DoRequest(context.Background(), http.MethodPost, "/fapi/v1/order", nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := StatusCode(err); got != http.StatusBadRequest {
		t.Fatalf("status got=%d want=400", got)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("POST must not be retried, hits=%d", hits)
	}
}
