package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/xela07ax/cors-relay/internal/infra"
)

// RuleIDCounter выдает id правил принуждения. Значение сохраняется до использования,
// поэтому после рестарта id не повторяются.
type RuleIDCounter struct {
	kv Backend
	mu sync.Mutex
}

func NewRuleIDCounter(kv Backend) *RuleIDCounter {
	return &RuleIDCounter{kv: kv}
}

// Next увеличивает счетчик, сохраняет и возвращает новое значение.
func (c *RuleIDCounter) Next(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.current(ctx)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	if err := c.set(ctx, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Current возвращает последний выданный id (0, если не выдавался).
func (c *RuleIDCounter) Current(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current(ctx)
}

// Reset сбрасывает счетчик в ноль.
func (c *RuleIDCounter) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(ctx, 0)
}

func (c *RuleIDCounter) current(ctx context.Context) (int, error) {
	raw, ok, err := c.kv.Get(ctx, infra.KVKeyRuleID)
	if err != nil {
		return 0, fmt.Errorf("store: read %s: %w", infra.KVKeyRuleID, err)
	}
	if !ok || len(raw) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("store: decode %s: %w", infra.KVKeyRuleID, err)
	}
	return n, nil
}

func (c *RuleIDCounter) set(ctx context.Context, n int) error {
	if err := c.kv.Set(ctx, infra.KVKeyRuleID, []byte(strconv.Itoa(n))); err != nil {
		return fmt.Errorf("store: write %s: %w", infra.KVKeyRuleID, err)
	}
	return nil
}
