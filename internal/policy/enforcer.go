// Package policy: примитив принуждения: сессионный набор правил перезаписи заголовков.
package policy

import (
	"context"
	"errors"

	"github.com/xela07ax/cors-relay/internal/domain"
)

var (
	ErrDuplicateRuleID = errors.New("rule id already installed")
	ErrInvalidRuleID   = errors.New("rule id must be positive")
)

// Engine: то, что синхронизатор знает о движке правил.
// UpdateRules применяется целиком: сначала удаления, потом добавления.
type Engine interface {
	ListRules(ctx context.Context) ([]domain.EnforcementRule, error)
	UpdateRules(ctx context.Context, update domain.RuleUpdate) error
}
