package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store keeps exchange and alerting credentials in an encrypted Badger DB.
// Encryption is done by Badger itself (value log + key registry).
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil opens without encryption
	ReadOnly      bool
	InMemory      bool
}

// Well-known credential keys.
const (
	KeyBinanceAPIKey    = "binance.api_key"
	KeyBinanceAPISecret = "binance.api_secret"
	KeyGateAPIKey       = "gate.api_key"
	KeyGateAPISecret    = "gate.api_secret"
	KeyTelegramToken    = "telegram.bot_token"
	KeyPerplexityAPIKey = "perplexity.api_key"
)

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString returns (value, found, err).
func (s *Store) GetString(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("secretstore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return "", false, errors.New("secretstore: key is empty")
	}
	var (
		out   string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

func (s *Store) SetString(key string, val string) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return errors.New("secretstore: key is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

// Fill overwrites each *dst with the stored value when the key exists and
// the stored value is non-empty. Missing keys leave *dst unchanged.
func (s *Store) Fill(dst map[string]*string) error {
	for key, ptr := range dst {
		v, ok, err := s.GetString(key)
		if err != nil {
			return fmt.Errorf("secretstore: read %s: %w", key, err)
		}
		if ok && v != "" && ptr != nil {
			*ptr = v
		}
	}
	return nil
}

// ParseKey expects 32 bytes encoded as hex (optionally 0x-prefixed) or base64.
// Returns nil for empty input.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}

// EnvKeys maps the environment variable names used in .env files to store keys.
var EnvKeys = map[string]string{
	"BINANCE_API_KEY":    KeyBinanceAPIKey,
	"BINANCE_API_SECRET": KeyBinanceAPISecret,
	"GATEIO_API_KEY":     KeyGateAPIKey,
	"GATEIO_API_SECRET":  KeyGateAPISecret,
	"TELEGRAM_BOT_TOKEN": KeyTelegramToken,
	"PERPLEXITY_API_KEY": KeyPerplexityAPIKey,
}

// ImportEnv writes every recognised, non-empty variable of env into the store
// and returns the store keys it wrote. Unknown variables are ignored.
func (s *Store) ImportEnv(env map[string]string) ([]string, error) {
	var written []string
	for name, key := range EnvKeys {
		v := strings.TrimSpace(env[name])
		if v == "" {
			continue
		}
		if err := s.SetString(key, v); err != nil {
			return written, fmt.Errorf("secretstore: write %s: %w", key, err)
		}
		written = append(written, key)
	}
	sort.Strings(written)
	return written, nil
}
