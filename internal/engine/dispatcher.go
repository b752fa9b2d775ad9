package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/audit"
	"github.com/xela07ax/cors-relay/internal/codec"
	"github.com/xela07ax/cors-relay/internal/connectors"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// GrantLookup: действующая запись origin'а или nil.
type GrantLookup interface {
	Lookup(ctx context.Context, origin string) (*domain.PermissionRecord, error)
}

// RuleEvaluator подбирает живое правило origin'а для целевого хоста.
type RuleEvaluator interface {
	EvaluateOrigin(origin, requestHost, resourceType string) (domain.EnforcementRule, bool)
}

// bufferGauge: журнал, умеющий отдать заполненность буфера.
type bufferGauge interface {
	Len() int
}

// Dispatcher пропускает запрос страницы в сеть, только если у origin'а есть доступ к хосту.
type Dispatcher struct {
	grants    GrantLookup
	transport Transport
	rules     RuleEvaluator
	auditor   audit.Auditor
	metrics   *Metrics
	logger    *zap.Logger
}

func NewDispatcher(grants GrantLookup, transport Transport, rules RuleEvaluator, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		grants:    grants,
		transport: transport,
		rules:     rules,
		auditor:   auditor,
		metrics:   metrics,
		logger:    logger.Named("dispatcher"),
	}
}

// Handle выполняет сериализованный запрос от имени origin'а.
// Отказ (ErrNotPermitted) возвращается до любого сетевого вызова.
func (d *Dispatcher) Handle(ctx context.Context, origin string, req *codec.SerializedRequest) (*codec.SerializedResponse, error) {
	start := time.Now()
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	d.metrics.TotalRequests.WithLabelValues(method).Inc()

	event := audit.RelayEvent{
		TraceID: TraceIDFromContext(ctx),
		Kind:    audit.KindRelay,
		Origin:  origin,
		Method:  method,
	}
	status := "error"
	defer func() {
		d.metrics.RequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
		event.DurationMs = time.Since(start).Milliseconds()
		d.auditor.Log(event)
		if g, ok := d.auditor.(bufferGauge); ok {
			d.metrics.AuditBufferFill.Set(float64(g.Len()))
		}
	}()

	target, err := url.Parse(req.URL)
	if err != nil || target.Hostname() == "" {
		d.metrics.ErrorTotal.WithLabelValues("bad_request").Inc()
		event.Status = audit.StatusFailed
		event.Error = "unparsable target url"
		return nil, fmt.Errorf("%w: target url %q", domain.ErrInvalidRequest, req.URL)
	}
	host := strings.ToLower(target.Hostname())
	event.TargetHost = host

	// 1. Доступ: запись и ее живое правило
	rec, err := d.grants.Lookup(ctx, origin)
	if err != nil {
		event.Status = audit.StatusFailed
		event.Error = err.Error()
		return nil, err
	}
	if !rec.Allows(host) {
		status = "denied"
		d.metrics.ErrorTotal.WithLabelValues("not_permitted").Inc()
		event.Status = audit.StatusDenied
		d.logger.Info("relay denied", zap.String("origin", origin), zap.String("host", host))
		return nil, fmt.Errorf("%w: %s → %s", domain.ErrNotPermitted, origin, host)
	}

	// 2. Сетевой вызов как есть, редиректы только в пределах записи
	ctx = connectors.WithHostPolicy(ctx, rec.Allows)
	httpReq, err := codec.DeserializeRequest(ctx, req)
	if err != nil {
		d.metrics.ErrorTotal.WithLabelValues("bad_request").Inc()
		event.Status = audit.StatusFailed
		event.Error = err.Error()
		return nil, err
	}
	resp, err := d.transport.RoundTrip(ctx, origin, httpReq)
	if err != nil {
		var throttled *connectors.ThrottleError
		if errors.As(err, &throttled) {
			d.metrics.ErrorTotal.WithLabelValues("throttled").Inc()
		} else {
			d.metrics.ErrorTotal.WithLabelValues("network_failure").Inc()
		}
		event.Status = audit.StatusFailed
		event.Error = err.Error()
		return nil, &domain.NetworkError{URL: req.URL, Err: err}
	}

	// 3. Заголовки живого правила, как их поставил бы движок
	if d.rules != nil {
		if rule, ok := d.rules.EvaluateOrigin(origin, host, domain.ResourceXMLHTTPRequest); ok {
			rule.Action.ApplyResponseHeaders(resp.Header)
		}
	}

	out, err := codec.SerializeResponse(resp)
	if err != nil {
		d.metrics.ErrorTotal.WithLabelValues("network_failure").Inc()
		event.Status = audit.StatusFailed
		event.Error = err.Error()
		return nil, &domain.NetworkError{URL: req.URL, Err: err}
	}

	status = strconv.Itoa(out.Status)
	event.HTTPStatus = out.Status
	event.Status = audit.StatusSuccess
	return out, nil
}
