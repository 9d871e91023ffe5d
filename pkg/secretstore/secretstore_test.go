package secretstore

import (
	"strings"
	"testing"
)

func TestStore_FillCredentials(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.SetString(KeyBinanceAPIKey, "k-from-store"); err != nil {
		t.Fatalf("set: %v", err)
	}

	apiKey, secret := "k-from-env", "s-from-env"
	err = s.Fill(map[string]*string{
		KeyBinanceAPIKey:    &apiKey,
		KeyBinanceAPISecret: &secret,
	})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if apiKey != "k-from-store" {
		t.Fatalf("apiKey got=%q want=k-from-store", apiKey)
	}
	if secret != "s-from-env" {
		t.Fatalf("secret got=%q want=s-from-env", secret)
	}
}

func TestParseKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	b, err := ParseKey("0x" + hexKey)
	if err != nil || len(b) != 32 {
		t.Fatalf("hex key: len=%d err=%v", len(b), err)
	}
	if b, err := ParseKey(""); err != nil || b != nil {
		t.Fatalf("empty key should return nil,nil")
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatalf("short key should fail")
	}
}

func TestStore_ImportEnv(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	written, err := s.ImportEnv(map[string]string{
		"GATEIO_API_KEY":     "gk",
		"BINANCE_API_KEY":    " bk ",
		"TELEGRAM_BOT_TOKEN": "",
		"UNRELATED":          "x",
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if strings.Join(written, ",") != KeyBinanceAPIKey+","+KeyGateAPIKey {
		t.Fatalf("written=%v", written)
	}
	if v, ok, _ := s.GetString(KeyBinanceAPIKey); !ok || v != "bk" {
		t.Fatalf("binance key got=%q ok=%v", v, ok)
	}
	if _, ok, _ := s.GetString(KeyTelegramToken); ok {
		t.Fatalf("empty value must not be stored")
	}
}
