package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractScore(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"SCORE: 85\nSUMMARY: strong rumors", 85},
		{"score:12 nothing credible", 12},
		{"I'd rate this 73/100.", 73},
		{"roughly 64 out of 100 overall", 64},
		{"SCORE: 250", 100},
		{"no numbers here", 50},
		{"SCORE: 99999999999999999999999", 100},
	}
	for _, c := range cases {
		if got := ExtractScore(c.text); got != c.want {
			t.Fatalf("ExtractScore(%q) got=%d want=%d", c.text, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if Classify(61) != MoodBullish || Classify(60) != MoodNeutral || Classify(40) != MoodNeutral || Classify(39) != MoodBearish {
		t.Fatalf("unexpected mood boundaries")
	}
}

func TestBaseAsset(t *testing.T) {
	for in, want := range map[string]string{
		"PEPE/USDT": "PEPE", "wif_usdt": "WIF", "BTCUSDT": "BTC", "BTC/USDT:USDT": "BTC",
	} {
		if got := BaseAsset(in); got != want {
			t.Fatalf("BaseAsset(%s) got=%s want=%s", in, got, want)
		}
	}
}

func TestCheckListingRumors_Unconfigured(t *testing.T) {
	c := NewClient(Config{})
	r, err := c.CheckListingRumors(context.Background(), "PEPE_USDT")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if r.Score != 0 {
		t.Fatalf("score got=%d want=0", r.Score)
	}
}

func TestCheckListingRumors_Server(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "sonar-pro" || req.MaxTokens != 500 {
			t.Errorf("unexpected body %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"SCORE: 82\nSUMMARY: listing rumors from several KOLs"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL})
	r, err := c.CheckListingRumors(context.Background(), "PEPE_USDT")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if r.Score != 82 {
		t.Fatalf("score got=%d want=82", r.Score)
	}

	s := c.AnalyzeTokenSentiment(context.Background(), "PEPE_USDT")
	if s.Mood != MoodBullish {
		t.Fatalf("mood got=%s want=BULLISH", s.Mood)
	}
}

func TestCheckListingRumors_ServerErrorScoresZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL})
	r, err := c.CheckListingRumors(context.Background(), "PEPE_USDT")
	if err != nil || r.Score != 0 {
		t.Fatalf("got=%+v,%v want score 0", r, err)
	}
}
