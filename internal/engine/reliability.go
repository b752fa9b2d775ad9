package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/cors-relay/internal/connectors"
)

// Transport: исходящий вызов от имени origin'а.
type Transport interface {
	RoundTrip(ctx context.Context, origin string, req *http.Request) (*http.Response, error)
}

type ReliabilityOptions struct {
	RateLimit float64 // запросов в секунду на origin, 0 значит без лимита
	RateBurst int

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration // время, через которое CB попробует "закрыться"
	CBFailures    uint32        // подряд ошибок транспорта до размыкания
}

// ReliabilityWrapper: лимит на origin и предохранитель на целевой хост.
// Ретраев нет: ошибка транспорта уходит странице как есть.
type ReliabilityWrapper struct {
	next    connectors.Fetcher
	opts    ReliabilityOptions
	metrics *Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

func NewReliabilityWrapper(next connectors.Fetcher, opts ReliabilityOptions, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if opts.CBFailures == 0 {
		opts.CBFailures = 5
	}
	if opts.CBTimeout <= 0 {
		opts.CBTimeout = 30 * time.Second
	}
	return &ReliabilityWrapper{
		next:     next,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.Named("reliability"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (w *ReliabilityWrapper) RoundTrip(ctx context.Context, origin string, req *http.Request) (*http.Response, error) {
	host := strings.ToLower(req.URL.Hostname())

	// 1. Rate Limiter
	if l := w.limiter(origin); l != nil {
		if !l.Allow() {
			return nil, &connectors.ThrottleError{
				Host:       host,
				RetryAfter: time.Duration(float64(time.Second) / w.opts.RateLimit),
				Cause:      fmt.Errorf("rate limit exceeded for %s", origin),
			}
		}
	}

	// 2. Circuit Breaker
	result, err := w.breaker(host).Execute(func() (interface{}, error) {
		return w.next.Do(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &connectors.ThrottleError{Host: host, RetryAfter: w.opts.CBTimeout, Cause: err}
	}
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func (w *ReliabilityWrapper) limiter(origin string) *rate.Limiter {
	if w.opts.RateLimit <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.limiters[origin]
	if !ok {
		burst := w.opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(w.opts.RateLimit), burst)
		w.limiters[origin] = l
	}
	return l
}

func (w *ReliabilityWrapper) breaker(host string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cb, ok := w.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: w.opts.CBMaxRequests,
		Interval:    w.opts.CBInterval,
		Timeout:     w.opts.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= w.opts.CBFailures
		},
		// Отмена со стороны страницы: не вина хоста.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("circuit breaker state changed",
				zap.String("host", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if w.metrics != nil {
				w.metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			}
		},
	})
	w.breakers[host] = cb
	return cb
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
