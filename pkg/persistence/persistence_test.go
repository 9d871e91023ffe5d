package persistence

import (
	"testing"
)

type Extra struct {
	Blacklist map[string]bool `persistence:"blacklist"`
}

type sample struct {
	Counter int            `persistence:"counter"`
	Hedges  map[string]int `persistence:"hedges"`
	Skip    string
	*Extra
}

func TestSaveLoadFields_JSONFile(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	src := &sample{
		Counter: 7,
		Hedges:  map[string]int{"BTCUSDT": 1},
		Skip:    "x",
		Extra:   &Extra{Blacklist: map[string]bool{"PEPE_USDT": true}},
	}
	if err := SaveFields(src, "cashcow", svc); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := &sample{Extra: &Extra{}}
	if err := LoadFields(dst, "cashcow", svc); err != nil {
		t.Fatalf("load: %v", err)
	}
	if dst.Counter != 7 || dst.Hedges["BTCUSDT"] != 1 {
		t.Fatalf("got=%+v", dst)
	}
	if !dst.Blacklist["PEPE_USDT"] {
		t.Fatalf("nested field not restored: %+v", dst.Extra)
	}
	if dst.Skip != "" {
		t.Fatalf("untagged field must not be restored")
	}
}

func TestLoadFields_MissingIsNotError(t *testing.T) {
	dst := &sample{Counter: 3}
	if err := LoadFields(dst, "nothing", NewMemoryService()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if dst.Counter != 3 {
		t.Fatalf("got=%d want=3", dst.Counter)
	}
}
