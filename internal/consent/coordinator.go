// Package consent проводит рукопожатие страница → релей → подтверждающий.
package consent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/audit"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// Grants: то, что координатору нужно от слоя доступа.
type Grants interface {
	Lookup(ctx context.Context, origin string) (*domain.PermissionRecord, error)
	GrantHosts(ctx context.Context, origin string, hosts []string) (*domain.PermissionRecord, error)
}

// Surface показывает запрос человеку (аналог открытия окна подтверждения).
type Surface interface {
	Activate(ctx context.Context, token string, req domain.ConsentRequest) error
}

// Pending: запрос, отданный подтверждающему.
type Pending struct {
	Token   string                `json:"token"`
	Request domain.ConsentRequest `json:"request"`
}

type pending struct {
	token  string
	req    domain.ConsentRequest
	future *Future
}

// Coordinator владеет почтовым ящиком на один слот и ожидающими future.
// Слот хранит еще не показанный запрос и очищается при чтении. Future живет,
// пока по нему не примут решение, даже после того как слот прочитан.
type Coordinator struct {
	grants  Grants
	surface Surface
	auditor audit.Auditor
	logger  *zap.Logger

	mu      sync.Mutex
	slot    *pending
	waiting map[string]*pending // token → запрос в ожидании решения
}

func NewCoordinator(grants Grants, surface Surface, auditor audit.Auditor, logger *zap.Logger) *Coordinator {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Coordinator{
		grants:  grants,
		surface: surface,
		auditor: auditor,
		logger:  logger.Named("consent"),
		waiting: make(map[string]*pending),
	}
}

// SetSurface подключает поверхность после создания. Нужна, когда поверхность сама зависит от координатора.
func (c *Coordinator) SetSurface(s Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = s
}

// RequestHosts блокируется до решения человека или отмены ctx.
// Запросы, уже покрытые действующей записью, принимаются сразу.
func (c *Coordinator) RequestHosts(ctx context.Context, origin string, hosts []string) (domain.Decision, error) {
	rec, err := c.grants.Lookup(ctx, origin)
	if err != nil {
		return domain.DecisionReject, err
	}
	if rec != nil && rec.Covers(hosts) {
		c.logger.Debug("hosts already granted", zap.String("origin", origin), zap.Strings("hosts", hosts))
		return domain.DecisionAccept, nil
	}

	req := domain.ConsentRequest{Origin: origin, Hosts: domain.UnionHosts(nil, hosts)}
	p := &pending{token: uuid.NewString(), req: req, future: NewFuture()}
	if err := p.future.Begin(); err != nil {
		return domain.DecisionReject, err
	}

	c.mu.Lock()
	// Последний запрос побеждает: непрочитанный предыдущий вытесняется отказом.
	if prev := c.slot; prev != nil {
		c.finishLocked(prev, domain.ConsentRejected)
		c.logger.Info("pending request superseded", zap.String("origin", prev.req.Origin))
	}
	c.slot = p
	c.waiting[p.token] = p
	surface := c.surface
	c.mu.Unlock()

	c.logger.Info("awaiting approval", zap.String("origin", origin), zap.Strings("hosts", req.Hosts))
	start := time.Now()

	if surface == nil {
		c.resolve(p, domain.ConsentRejected)
	} else if err := surface.Activate(ctx, p.token, req.Clone()); err != nil {
		c.logger.Warn("approver surface unavailable", zap.Error(err))
		c.resolve(p, domain.ConsentRejected)
	}

	select {
	case <-p.future.Done():
	case <-ctx.Done():
		// Страница ушла: дальше ждать некому.
		c.resolve(p, domain.ConsentAbandoned)
		if p.future.Status() != domain.ConsentAccepted {
			return domain.DecisionReject, ctx.Err()
		}
	}

	status := p.future.Status()
	decision := domain.DecisionFor(status)
	c.auditor.Log(audit.RelayEvent{
		Kind:       audit.KindConsent,
		Origin:     origin,
		Hosts:      req.Hosts,
		Decision:   string(decision),
		Status:     string(status),
		DurationMs: time.Since(start).Milliseconds(),
	})
	return decision, nil
}

// TakePending отдает непрочитанный запрос и очищает слот.
func (c *Coordinator) TakePending() (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return Pending{}, false
	}
	p := c.slot
	c.slot = nil
	return Pending{Token: p.token, Request: p.req.Clone()}, true
}

// Accept применяет подтвержденные хосты и будит ожидающих этого origin'а.
// Слот очищается до применения. Повторная доставка безопасна: объединение хостов ничего не меняет.
func (c *Coordinator) Accept(ctx context.Context, origin string, hosts []string) error {
	targets := c.detach(func(p *pending) bool { return p.req.Origin == origin })
	return c.accept(ctx, origin, hosts, targets)
}

// AcceptToken подтверждает конкретный запрос, ранее отданный через TakePending.
func (c *Coordinator) AcceptToken(ctx context.Context, token string) error {
	targets := c.detach(func(p *pending) bool { return p.token == token })
	if len(targets) == 0 {
		return domain.ErrAlreadyProcessed
	}
	req := targets[0].req
	return c.accept(ctx, req.Origin, req.Hosts, targets)
}

// Reject отклоняет ожидающие запросы origin'а. Хранилище не меняется.
func (c *Coordinator) Reject(origin string) {
	for _, p := range c.detach(func(p *pending) bool { return p.req.Origin == origin }) {
		c.complete(p, domain.ConsentRejected)
	}
	c.logger.Info("request rejected", zap.String("origin", origin))
}

// RejectToken отклоняет конкретный запрос.
func (c *Coordinator) RejectToken(token string) {
	for _, p := range c.detach(func(p *pending) bool { return p.token == token }) {
		c.complete(p, domain.ConsentRejected)
	}
}

// Abandon: поверхность закрыли без решения. Для страницы это отказ.
func (c *Coordinator) Abandon(token string) {
	for _, p := range c.detach(func(p *pending) bool { return p.token == token }) {
		c.complete(p, domain.ConsentAbandoned)
		c.logger.Info("request abandoned", zap.String("origin", p.req.Origin))
	}
}

// Waiting: число запросов, ожидающих решения.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

func (c *Coordinator) accept(ctx context.Context, origin string, hosts []string, targets []*pending) error {
	_, err := c.grants.GrantHosts(ctx, origin, hosts)
	status := domain.ConsentAccepted
	if err != nil {
		c.logger.Error("grant failed", zap.String("origin", origin), zap.Error(err))
		status = domain.ConsentRejected
	}
	for _, p := range targets {
		c.complete(p, status)
	}
	return err
}

// detach снимает подходящие запросы со слота и из ожидания.
func (c *Coordinator) detach(match func(*pending) bool) []*pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot != nil && match(c.slot) {
		c.slot = nil
	}
	var out []*pending
	for token, p := range c.waiting {
		if match(p) {
			out = append(out, p)
			delete(c.waiting, token)
		}
	}
	return out
}

func (c *Coordinator) resolve(p *pending, status domain.ConsentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(p, status)
}

func (c *Coordinator) finishLocked(p *pending, status domain.ConsentStatus) {
	if c.slot == p {
		c.slot = nil
	}
	delete(c.waiting, p.token)
	c.complete(p, status)
}

func (c *Coordinator) complete(p *pending, status domain.ConsentStatus) {
	if err := p.future.Complete(status); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
		c.logger.Error("consent transition failed", zap.String("origin", p.req.Origin), zap.Error(err))
	}
}
