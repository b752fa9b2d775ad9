package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/codec"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// AccessControl: операции над записями доступа, нужные каналу сообщений.
type AccessControl interface {
	GrantLookup
	Info(ctx context.Context, origin string) (domain.AllowedInfo, error)
	GrantAll(ctx context.Context, origin string) (*domain.PermissionRecord, bool, error)
	Revoke(ctx context.Context, origin string) (bool, error)
	List(ctx context.Context) ([]*domain.PermissionRecord, error)
}

// ConsentBroker: рукопожатие согласия.
type ConsentBroker interface {
	RequestHosts(ctx context.Context, origin string, hosts []string) (domain.Decision, error)
	Accept(ctx context.Context, origin string, hosts []string) error
	Reject(origin string)
}

// Service: единая точка входа для всех сообщений канала. HTTP и gRPC
// адаптеры только разбирают транспорт и зовут сюда.
type Service struct {
	access     AccessControl
	consent    ConsentBroker
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
}

func NewService(access AccessControl, consent ConsentBroker, dispatcher *Dispatcher, metrics *Metrics, logger *zap.Logger) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		access:     access,
		consent:    consent,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.Named("service"),
	}
}

// Ping: проверка живости канала.
func (s *Service) Ping(context.Context) string { return "pong" }

func (s *Service) GetAllowedInfo(ctx context.Context, origin string) (domain.AllowedInfo, error) {
	origin, err := normalize(origin)
	if err != nil {
		return domain.AllowedInfo{}, err
	}
	return s.access.Info(ctx, origin)
}

// RequestHosts ждет решения человека. Отмена ctx (страница ушла) возвращает ctx.Err().
func (s *Service) RequestHosts(ctx context.Context, origin string, hosts []string) (domain.Decision, error) {
	origin, err := normalize(origin)
	if err != nil {
		return domain.DecisionReject, err
	}
	hosts = domain.UnionHosts(nil, hosts)
	if len(hosts) == 0 {
		return domain.DecisionReject, fmt.Errorf("%w: hosts must not be empty", domain.ErrInvalidRequest)
	}

	decision, err := s.consent.RequestHosts(ctx, origin, hosts)
	if err != nil {
		return decision, err
	}
	s.metrics.ConsentDecisions.WithLabelValues(string(decision)).Inc()
	return decision, nil
}

// AcceptRequestHosts: решение подтверждающего «разрешить».
func (s *Service) AcceptRequestHosts(ctx context.Context, origin string, hosts []string) error {
	origin, err := normalize(origin)
	if err != nil {
		return err
	}
	hosts = domain.UnionHosts(nil, hosts)
	if len(hosts) == 0 {
		return fmt.Errorf("%w: hosts must not be empty", domain.ErrInvalidRequest)
	}
	return s.consent.Accept(ctx, origin, hosts)
}

// RejectRequestHosts: решение подтверждающего «отказать».
func (s *Service) RejectRequestHosts(_ context.Context, origin string) error {
	origin, err := normalize(origin)
	if err != nil {
		return err
	}
	s.consent.Reject(origin)
	return nil
}

// RequestAllHosts: страница объявляет доступ ко всем хостам. Существующая запись не трогается.
func (s *Service) RequestAllHosts(ctx context.Context, origin string) error {
	origin, err := normalize(origin)
	if err != nil {
		return err
	}
	_, created, err := s.access.GrantAll(ctx, origin)
	if err != nil {
		return err
	}
	if !created {
		s.logger.Debug("request all hosts ignored: record exists", zap.String("origin", origin))
	}
	return nil
}

// Delete отзывает доступ origin'а.
func (s *Service) Delete(ctx context.Context, origin string) error {
	origin, err := normalize(origin)
	if err != nil {
		return err
	}
	_, err = s.access.Revoke(ctx, origin)
	return err
}

// GetAllRules: все записи от новых к старым.
func (s *Service) GetAllRules(ctx context.Context) ([]*domain.PermissionRecord, error) {
	return s.access.List(ctx)
}

// Request: запрос страницы через релей.
func (s *Service) Request(ctx context.Context, origin string, req *codec.SerializedRequest) (*codec.SerializedResponse, error) {
	origin, err := normalize(origin)
	if err != nil {
		return nil, err
	}
	if req == nil || req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", domain.ErrInvalidRequest)
	}
	return s.dispatcher.Handle(ctx, origin, req)
}

func normalize(origin string) (string, error) {
	if origin == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidOrigin)
	}
	o, err := domain.NormalizeOrigin(origin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidOrigin, err)
	}
	return o, nil
}
