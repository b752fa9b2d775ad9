package policy

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/domain"
)

// MemoEngine держит правила в памяти процесса, как сессионные правила браузера:
// после рестарта набор пуст и восстанавливается синхронизатором.
type MemoEngine struct {
	mu     sync.RWMutex
	rules  map[int]domain.EnforcementRule
	logger *zap.Logger
}

func NewMemoEngine(logger *zap.Logger) *MemoEngine {
	return &MemoEngine{
		rules:  make(map[int]domain.EnforcementRule),
		logger: logger.Named("enforcer"),
	}
}

// ListRules возвращает правила по возрастанию id.
func (e *MemoEngine) ListRules(_ context.Context) ([]domain.EnforcementRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sorted(), nil
}

func (e *MemoEngine) UpdateRules(_ context.Context, update domain.RuleUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Изменения собираются на копии: при ошибке набор не меняется.
	next := make(map[int]domain.EnforcementRule, len(e.rules)+len(update.AddRules))
	for id, r := range e.rules {
		next[id] = r
	}
	for _, id := range update.RemoveRuleIDs {
		delete(next, id)
	}
	for _, r := range update.AddRules {
		if r.ID <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidRuleID, r.ID)
		}
		if _, ok := next[r.ID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateRuleID, r.ID)
		}
		next[r.ID] = r
	}
	e.rules = next

	e.logger.Debug("rules updated",
		zap.Int("added", len(update.AddRules)),
		zap.Int("removed", len(update.RemoveRuleIDs)),
		zap.Int("total", len(next)),
	)
	return nil
}

// Evaluate находит правило, которое сработало бы для запроса с initiatorHost на requestHost.
// Из подходящих побеждает больший приоритет, при равенстве: меньший id.
func (e *MemoEngine) Evaluate(initiatorHost, requestHost, resourceType string) (domain.EnforcementRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.byPriority() {
		if matches(r.Condition, initiatorHost, requestHost, resourceType) {
			return r, true
		}
	}
	return domain.EnforcementRule{}, false
}

// EvaluateOrigin: как Evaluate, но среди правил именно этого origin'а. Origin'ы с общим
// hostname (разные схема или порт) не получают заголовки друг друга.
func (e *MemoEngine) EvaluateOrigin(origin, requestHost, resourceType string) (domain.EnforcementRule, bool) {
	initiator, err := domain.OriginHostname(origin)
	if err != nil {
		return domain.EnforcementRule{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.byPriority() {
		if r.AllowOrigin() == origin && matches(r.Condition, initiator, requestHost, resourceType) {
			return r, true
		}
	}
	return domain.EnforcementRule{}, false
}

func (e *MemoEngine) sorted() []domain.EnforcementRule {
	out := make([]domain.EnforcementRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.EnforcementRule) int { return a.ID - b.ID })
	return out
}

func (e *MemoEngine) byPriority() []domain.EnforcementRule {
	out := e.sorted()
	slices.SortStableFunc(out, func(a, b domain.EnforcementRule) int { return b.Priority - a.Priority })
	return out
}

func matches(c domain.RuleCondition, initiatorHost, requestHost, resourceType string) bool {
	initiatorHost = strings.ToLower(initiatorHost)
	requestHost = strings.ToLower(requestHost)

	if len(c.InitiatorDomains) > 0 && !slices.ContainsFunc(c.InitiatorDomains, func(d string) bool {
		return domainMatch(initiatorHost, d)
	}) {
		return false
	}
	if len(c.RequestDomains) > 0 && !slices.ContainsFunc(c.RequestDomains, func(d string) bool {
		return domainMatch(requestHost, d)
	}) {
		return false
	}
	if len(c.ResourceTypes) > 0 && !slices.Contains(c.ResourceTypes, resourceType) {
		return false
	}
	if c.DomainType == domain.DomainTypeThirdParty && initiatorHost == requestHost {
		return false
	}
	return true
}

// domainMatch: домен совпадает сам с собой и со всеми поддоменами.
func domainMatch(host, d string) bool {
	d = strings.ToLower(d)
	return host == d || strings.HasSuffix(host, "."+d)
}
