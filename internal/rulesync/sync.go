// Package rulesync держит живые правила принуждения согласованными с сохраненными записями доступа.
package rulesync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/policy"
)

// Значения заголовков, которые правило ставит в ответ безусловно.
const (
	HeaderAllowOrigin      = domain.HeaderAllowOrigin
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"

	AllowedMethods = "PUT, GET, HEAD, POST, DELETE, OPTIONS"
	rulePriority   = 1
)

// IDCounter: персистентный счетчик id правил.
type IDCounter interface {
	Next(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

type Synchronizer struct {
	engine  policy.Engine
	counter IDCounter
	logger  *zap.Logger
}

func NewSynchronizer(engine policy.Engine, counter IDCounter, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{engine: engine, counter: counter, logger: logger.Named("rulesync")}
}

// BuildRule проецирует запись в правило. Без хостов правило открывает любые адреса.
func BuildRule(id int, rec *domain.PermissionRecord) (domain.EnforcementRule, error) {
	hostname, err := domain.OriginHostname(rec.Origin)
	if err != nil {
		return domain.EnforcementRule{}, fmt.Errorf("%w: %v", domain.ErrInvalidOrigin, err)
	}

	cond := domain.RuleCondition{
		InitiatorDomains: []string{hostname},
		ResourceTypes:    []string{domain.ResourceXMLHTTPRequest, domain.ResourceImage},
		DomainType:       domain.DomainTypeThirdParty,
	}
	if rec.AllHosts() {
		cond.URLFilter = "*"
	} else {
		cond.RequestDomains = append([]string(nil), rec.Hosts...)
	}

	return domain.EnforcementRule{
		ID:       id,
		Priority: rulePriority,
		Action: domain.RuleAction{
			Type: domain.ActionModifyHeaders,
			ResponseHeaders: []domain.HeaderOperation{
				{Header: HeaderAllowOrigin, Operation: domain.HeaderOpSet, Value: rec.Origin},
				{Header: HeaderAllowMethods, Operation: domain.HeaderOpSet, Value: AllowedMethods},
				{Header: HeaderAllowHeaders, Operation: domain.HeaderOpSet, Value: "*"},
				{Header: HeaderAllowCredentials, Operation: domain.HeaderOpSet, Value: "true"},
			},
		},
		Condition: cond,
	}, nil
}

// Install ставит правило для новой записи и возвращает его id.
func (s *Synchronizer) Install(ctx context.Context, rec *domain.PermissionRecord) (int, error) {
	id, err := s.counter.Next(ctx)
	if err != nil {
		return 0, err
	}
	rule, err := BuildRule(id, rec)
	if err != nil {
		return 0, err
	}
	if err := s.engine.UpdateRules(ctx, domain.RuleUpdate{AddRules: []domain.EnforcementRule{rule}}); err != nil {
		return 0, fmt.Errorf("rulesync: install rule for %s: %w", rec.Origin, err)
	}
	s.logger.Info("rule installed", zap.String("origin", rec.Origin), zap.Int("rule_id", id))
	return id, nil
}

// Replace меняет правило origin'а одним пакетом: старый id удаляется, новый ставится.
func (s *Synchronizer) Replace(ctx context.Context, oldRuleID int, rec *domain.PermissionRecord) (int, error) {
	id, err := s.counter.Next(ctx)
	if err != nil {
		return 0, err
	}
	rule, err := BuildRule(id, rec)
	if err != nil {
		return 0, err
	}
	update := domain.RuleUpdate{
		RemoveRuleIDs: []int{oldRuleID},
		AddRules:      []domain.EnforcementRule{rule},
	}
	if err := s.engine.UpdateRules(ctx, update); err != nil {
		return 0, fmt.Errorf("rulesync: replace rule for %s: %w", rec.Origin, err)
	}
	s.logger.Info("rule replaced",
		zap.String("origin", rec.Origin), zap.Int("old_rule_id", oldRuleID), zap.Int("rule_id", id))
	return id, nil
}

// Remove снимает все живые правила origin'а. Отсутствие правила не ошибка.
func (s *Synchronizer) Remove(ctx context.Context, origin string) error {
	rules, err := s.engine.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("rulesync: list rules: %w", err)
	}
	var ids []int
	for _, r := range rules {
		if RuleOrigin(r) == origin {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.engine.UpdateRules(ctx, domain.RuleUpdate{RemoveRuleIDs: ids}); err != nil {
		return fmt.Errorf("rulesync: remove rules for %s: %w", origin, err)
	}
	s.logger.Info("rule removed", zap.String("origin", origin), zap.Ints("rule_ids", ids))
	return nil
}

// FindRule возвращает живое правило origin'а.
func (s *Synchronizer) FindRule(ctx context.Context, origin string) (domain.EnforcementRule, bool, error) {
	rules, err := s.engine.ListRules(ctx)
	if err != nil {
		return domain.EnforcementRule{}, false, fmt.Errorf("rulesync: list rules: %w", err)
	}
	for _, r := range rules {
		if RuleOrigin(r) == origin {
			return r, true, nil
		}
	}
	return domain.EnforcementRule{}, false, nil
}

// ReconcileAll сносит все живые правила и ставит по одному на запись, id с 1 в порядке records.
// Повторный вызов с теми же записями дает тот же набор.
func (s *Synchronizer) ReconcileAll(ctx context.Context, records []*domain.PermissionRecord) error {
	// Запись без правила нарушила бы пару запись-правило: до сброса счетчика проверяем все origin'ы.
	for _, rec := range records {
		if _, err := domain.OriginHostname(rec.Origin); err != nil {
			return fmt.Errorf("rulesync: reconcile record %s: %w: %v", rec.Origin, domain.ErrInvalidOrigin, err)
		}
	}

	live, err := s.engine.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("rulesync: list rules: %w", err)
	}
	if err := s.counter.Reset(ctx); err != nil {
		return err
	}

	update := domain.RuleUpdate{RemoveRuleIDs: make([]int, 0, len(live))}
	for _, r := range live {
		update.RemoveRuleIDs = append(update.RemoveRuleIDs, r.ID)
	}
	for _, rec := range records {
		id, err := s.counter.Next(ctx)
		if err != nil {
			return err
		}
		rule, err := BuildRule(id, rec)
		if err != nil {
			return err
		}
		update.AddRules = append(update.AddRules, rule)
	}

	if err := s.engine.UpdateRules(ctx, update); err != nil {
		return fmt.Errorf("rulesync: reconcile: %w", err)
	}
	s.logger.Info("rules reconciled", zap.Int("removed", len(live)), zap.Int("installed", len(update.AddRules)))
	return nil
}

// RuleOrigin: origin, которому принадлежит правило.
func RuleOrigin(r domain.EnforcementRule) string {
	return r.AllowOrigin()
}
