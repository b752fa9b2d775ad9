// Package store хранит PermissionRecord'ы поверх key-value бэкенда.
// Вся коллекция лежит под одним ключом: прочитать целиком, изменить, записать целиком.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/infra"
)

var api = sonic.ConfigStd

// RuleStore: CRUD над записями доступа, ключ уникальности: origin.
// Мьютекс сериализует read-modify-write внутри процесса. Между процессами
// действует last-writer-wins.
type RuleStore struct {
	kv     Backend
	mu     sync.Mutex
	logger *zap.Logger
}

func NewRuleStore(kv Backend, logger *zap.Logger) *RuleStore {
	return &RuleStore{kv: kv, logger: logger.Named("store")}
}

// GetAll возвращает записи от новых к старым (по убыванию ULID).
func (s *RuleStore) GetAll(ctx context.Context) ([]*domain.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// GetByOrigin возвращает запись origin'а или nil, если ее нет.
func (s *RuleStore) GetByOrigin(ctx context.Context, origin string) (*domain.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexByOrigin(records, origin); i >= 0 {
		return records[i], nil
	}
	return nil, nil
}

// Add сохраняет новую запись. Вторая запись для того же origin'а: ErrDuplicateOrigin.
func (s *RuleStore) Add(ctx context.Context, rec *domain.PermissionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	if indexByOrigin(records, rec.Origin) >= 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOrigin, rec.Origin)
	}
	if err := s.save(ctx, append(records, rec)); err != nil {
		return err
	}
	s.logger.Debug("record added", zap.String("origin", rec.Origin), zap.String("id", rec.ID))
	return nil
}

// Update заменяет запись с тем же ID.
func (s *RuleStore) Update(ctx context.Context, rec *domain.PermissionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(records, func(r *domain.PermissionRecord) bool { return r.ID == rec.ID })
	if i < 0 {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, rec.ID)
	}
	if j := indexByOrigin(records, rec.Origin); j >= 0 && j != i {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOrigin, rec.Origin)
	}
	records[i] = rec
	if err := s.save(ctx, records); err != nil {
		return err
	}
	s.logger.Debug("record updated", zap.String("origin", rec.Origin), zap.Strings("hosts", rec.Hosts))
	return nil
}

// Delete удаляет запись по ID. Отсутствующая запись не ошибка.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(records, func(r *domain.PermissionRecord) bool { return r.ID == id })
	if err := s.save(ctx, kept); err != nil {
		return err
	}
	s.logger.Debug("record deleted", zap.String("id", id))
	return nil
}

func (s *RuleStore) load(ctx context.Context) ([]*domain.PermissionRecord, error) {
	raw, ok, err := s.kv.Get(ctx, infra.KVKeyRules)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", infra.KVKeyRules, err)
	}
	if !ok || len(raw) == 0 {
		return []*domain.PermissionRecord{}, nil
	}

	var records []*domain.PermissionRecord
	if err := api.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", infra.KVKeyRules, err)
	}
	slices.SortFunc(records, func(a, b *domain.PermissionRecord) int {
		return strings.Compare(b.ID, a.ID)
	})
	return records, nil
}

func (s *RuleStore) save(ctx context.Context, records []*domain.PermissionRecord) error {
	if records == nil {
		records = []*domain.PermissionRecord{}
	}
	raw, err := api.Marshal(records)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", infra.KVKeyRules, err)
	}
	if err := s.kv.Set(ctx, infra.KVKeyRules, raw); err != nil {
		return fmt.Errorf("store: write %s: %w", infra.KVKeyRules, err)
	}
	return nil
}

func indexByOrigin(records []*domain.PermissionRecord, origin string) int {
	return slices.IndexFunc(records, func(r *domain.PermissionRecord) bool { return r.Origin == origin })
}
