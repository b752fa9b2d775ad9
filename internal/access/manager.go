// Package access: изменения доступа origin'ов. Каждая операция двигает запись
// в хранилище и живое правило вместе: сначала правило, потом запись.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/audit"
	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/rulesync"
	"github.com/xela07ax/cors-relay/internal/store"
)

type Manager struct {
	store   *store.RuleStore
	sync    *rulesync.Synchronizer
	auditor audit.Auditor
	logger  *zap.Logger
	now     func() time.Time
	changed func(ctx context.Context, origin string)

	// mu сериализует изменения внутри процесса, чтобы правило и запись не разъехались.
	mu sync.Mutex
}

func NewManager(s *store.RuleStore, syncer *rulesync.Synchronizer, auditor audit.Auditor, logger *zap.Logger) *Manager {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Manager{
		store:   s,
		sync:    syncer,
		auditor: auditor,
		logger:  logger.Named("access"),
		now:     time.Now,
	}
}

// OnChange подписывает fn на каждое успешное изменение доступа origin'а.
func (m *Manager) OnChange(fn func(ctx context.Context, origin string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = fn
}

// Lookup возвращает действующую запись origin'а. Доступ действует, только если
// есть и запись, и ее живое правило.
func (m *Manager) Lookup(ctx context.Context, origin string) (*domain.PermissionRecord, error) {
	rec, err := m.store.GetByOrigin(ctx, origin)
	if err != nil || rec == nil {
		return nil, err
	}
	_, ok, err := m.sync.FindRule(ctx, origin)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Warn("record without live rule", zap.String("origin", origin))
		return nil, nil
	}
	return rec, nil
}

// Info: ответ getAllowedInfo.
func (m *Manager) Info(ctx context.Context, origin string) (domain.AllowedInfo, error) {
	rec, err := m.Lookup(ctx, origin)
	if err != nil {
		return domain.AllowedInfo{}, err
	}
	return domain.InfoFor(rec), nil
}

// Covers сообщает, что запрос хостов уже удовлетворен действующей записью.
func (m *Manager) Covers(ctx context.Context, origin string, hosts []string) (bool, error) {
	rec, err := m.Lookup(ctx, origin)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.Covers(hosts), nil
}

// List возвращает все записи от новых к старым.
func (m *Manager) List(ctx context.Context) ([]*domain.PermissionRecord, error) {
	return m.store.GetAll(ctx)
}

// GrantHosts добавляет хосты, подтвержденные человеком.
// Запись «все хосты» не сужается и не сливается.
func (m *Manager) GrantHosts(ctx context.Context, origin string, hosts []string) (*domain.PermissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetByOrigin(ctx, origin)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return m.create(ctx, domain.NewUserGrant(origin, hosts, m.now()))
	}
	if rec.AllHosts() {
		return rec, nil
	}

	union := domain.UnionHosts(rec.Hosts, hosts)
	rule, live, err := m.sync.FindRule(ctx, origin)
	if err != nil {
		return nil, err
	}
	if len(union) == len(rec.Hosts) && live {
		return rec, nil
	}

	updated := *rec
	updated.Hosts = union
	updated.UpdatedAt = m.now()

	var newRuleID int
	if live {
		newRuleID, err = m.sync.Replace(ctx, rule.ID, &updated)
	} else {
		newRuleID, err = m.sync.Install(ctx, &updated)
	}
	if err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, &updated); err != nil {
		// Правило уже расширено: возвращаем его к сохраненной записи.
		var rbErr error
		if live {
			_, rbErr = m.sync.Replace(ctx, newRuleID, rec)
		} else {
			rbErr = m.sync.Remove(ctx, origin)
		}
		if rbErr != nil {
			m.logger.Error("rule rollback failed", zap.String("origin", origin), zap.Error(rbErr))
		}
		return nil, err
	}

	m.logGrant(ctx, origin, updated.Hosts)
	return &updated, nil
}

// GrantAll: доступ ко всем хостам, объявленный страницей. Любая существующая
// запись побеждает: вызов ничего не меняет.
func (m *Manager) GrantAll(ctx context.Context, origin string) (*domain.PermissionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetByOrigin(ctx, origin)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		return rec, false, nil
	}
	rec, err = m.create(ctx, domain.NewPageGrant(origin, m.now()))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Revoke снимает правило и удаляет запись. Отсутствующая запись не ошибка.
func (m *Manager) Revoke(ctx context.Context, origin string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetByOrigin(ctx, origin)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if err := m.sync.Remove(ctx, origin); err != nil {
		return false, err
	}
	if err := m.store.Delete(ctx, rec.ID); err != nil {
		return false, err
	}

	m.auditor.Log(audit.RelayEvent{Kind: audit.KindRevoke, Origin: origin, Status: audit.StatusSuccess})
	m.logger.Info("access revoked", zap.String("origin", origin))
	m.notify(ctx, origin)
	return true, nil
}

// Reconcile восстанавливает живые правила по хранилищу. Вызывается до приема трафика.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.GetAll(ctx)
	if err != nil {
		return err
	}
	return m.sync.ReconcileAll(ctx, records)
}

func (m *Manager) create(ctx context.Context, rec *domain.PermissionRecord) (*domain.PermissionRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if _, err := m.sync.Install(ctx, rec); err != nil {
		return nil, err
	}
	if err := m.store.Add(ctx, rec); err != nil {
		if rmErr := m.sync.Remove(ctx, rec.Origin); rmErr != nil {
			m.logger.Error("rule cleanup failed", zap.String("origin", rec.Origin), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("access: persist grant for %s: %w", rec.Origin, err)
	}
	m.logGrant(ctx, rec.Origin, rec.Hosts)
	return rec, nil
}

func (m *Manager) logGrant(ctx context.Context, origin string, hosts []string) {
	m.auditor.Log(audit.RelayEvent{Kind: audit.KindGrant, Origin: origin, Hosts: hosts, Status: audit.StatusSuccess})
	m.logger.Info("access granted", zap.String("origin", origin), zap.Strings("hosts", hosts))
	m.notify(ctx, origin)
}

// notify вызывается под m.mu.
func (m *Manager) notify(ctx context.Context, origin string) {
	if m.changed != nil {
		m.changed(ctx, origin)
	}
}
