package openai

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

const maxKeyAttempts = 3

var (
	ErrNoKeys        = errors.New("no API keys configured")
	ErrAllKeysFailed = errors.New("all API keys failed")
)

// KeyRing holds one client per API key and retries a call on a different
// key when it fails.
type KeyRing struct {
	keys    []string
	clients map[string]*goopenai.Client
}

func NewKeyRing(raw string, build func(key string) *goopenai.Client) *KeyRing {
	keys := ParseKeys(raw)
	clients := make(map[string]*goopenai.Client, len(keys))
	for _, k := range keys {
		clients[k] = build(k)
	}
	return &KeyRing{keys: keys, clients: clients}
}

// ParseKeys splits a comma-separated key list, dropping blanks.
func ParseKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (r *KeyRing) Len() int { return len(r.keys) }

// Try calls fn with up to three distinct keys in random order and returns
// the first success.
func (r *KeyRing) Try(ctx context.Context, fn func(*goopenai.Client) error) error {
	if len(r.keys) == 0 {
		return ErrNoKeys
	}

	order := make([]string, len(r.keys))
	copy(order, r.keys)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var lastErr error
	for _, key := range order[:min(maxKeyAttempts, len(order))] {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(r.clients[key])
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("key %s: %w", maskKey(key), err)
	}
	return fmt.Errorf("%w: %w", ErrAllKeysFailed, lastErr)
}

func maskKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
