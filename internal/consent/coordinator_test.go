package consent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/access"
	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/policy"
	"github.com/xela07ax/cors-relay/internal/repository/memory"
	"github.com/xela07ax/cors-relay/internal/rulesync"
	"github.com/xela07ax/cors-relay/internal/store"
)

type activation struct {
	token string
	req   domain.ConsentRequest
}

type fakeSurface struct {
	activated chan activation
	err       error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{activated: make(chan activation, 8)}
}

func (s *fakeSurface) Activate(_ context.Context, token string, req domain.ConsentRequest) error {
	if s.err != nil {
		return s.err
	}
	s.activated <- activation{token: token, req: req}
	return nil
}

func (s *fakeSurface) next(t *testing.T) activation {
	t.Helper()
	select {
	case a := <-s.activated:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("surface was not activated")
		return activation{}
	}
}

func newCoordinator(t *testing.T) (*Coordinator, *fakeSurface, *access.Manager, *store.RuleStore) {
	t.Helper()
	kv := memory.NewKV()
	s := store.NewRuleStore(kv, zap.NewNop())
	syncer := rulesync.NewSynchronizer(policy.NewMemoEngine(zap.NewNop()), store.NewRuleIDCounter(kv), zap.NewNop())
	m := access.NewManager(s, syncer, nil, zap.NewNop())
	surface := newFakeSurface()
	return NewCoordinator(m, surface, nil, zap.NewNop()), surface, m, s
}

type result struct {
	decision domain.Decision
	err      error
}

func requestAsync(c *Coordinator, ctx context.Context, origin string, hosts ...string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		d, err := c.RequestHosts(ctx, origin, hosts)
		ch <- result{d, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("requester was never resolved")
		return result{}
	}
}

func TestFutureCompletesOnce(t *testing.T) {
	f := NewFuture()
	assert.ErrorIs(t, f.Complete(domain.ConsentAccepted), domain.ErrInvalidTransition)

	require.NoError(t, f.Begin())
	require.NoError(t, f.Complete(domain.ConsentAccepted))
	assert.ErrorIs(t, f.Complete(domain.ConsentRejected), domain.ErrAlreadyProcessed)
	assert.Equal(t, domain.ConsentAccepted, f.Status())

	select {
	case <-f.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestAcceptCreatesRecordAndUnionsOnRepeat(t *testing.T) {
	ctx := context.Background()
	c, surface, _, s := newCoordinator(t)

	res := requestAsync(c, ctx, "https://b.test", "api.b.test")
	act := surface.next(t)
	assert.Equal(t, domain.ConsentRequest{Origin: "https://b.test", Hosts: []string{"api.b.test"}}, act.req)

	pending, ok := c.TakePending()
	require.True(t, ok)
	assert.Equal(t, act.token, pending.Token)
	_, ok = c.TakePending()
	assert.False(t, ok, "slot is cleared on read")

	require.NoError(t, c.Accept(ctx, "https://b.test", []string{"api.b.test"}))
	assert.Equal(t, result{decision: domain.DecisionAccept}, await(t, res))

	rec, err := s.GetByOrigin(ctx, "https://b.test")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []string{"api.b.test"}, rec.Hosts)
	assert.Equal(t, domain.GrantedByUser, rec.GrantedBy)

	// Повтор уже покрыт записью и принимается без показа человеку.
	d, err := c.RequestHosts(ctx, "https://b.test", []string{"api.b.test"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, d)
	assert.Empty(t, surface.activated)

	// Повторная доставка подтверждения не дублирует хост.
	require.NoError(t, c.Accept(ctx, "https://b.test", []string{"api.b.test"}))
	rec, _ = s.GetByOrigin(ctx, "https://b.test")
	assert.Equal(t, []string{"api.b.test"}, rec.Hosts)
	assert.Zero(t, c.Waiting())
}

func TestRejectLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	c, surface, _, s := newCoordinator(t)

	res := requestAsync(c, ctx, "https://b.test", "api.b.test")
	surface.next(t)

	c.Reject("https://b.test")
	assert.Equal(t, result{decision: domain.DecisionReject}, await(t, res))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAbandonedSurfaceRejects(t *testing.T) {
	ctx := context.Background()
	c, surface, _, _ := newCoordinator(t)

	res := requestAsync(c, ctx, "https://b.test", "api.b.test")
	surface.next(t)

	p, ok := c.TakePending()
	require.True(t, ok)
	c.Abandon(p.Token)

	assert.Equal(t, result{decision: domain.DecisionReject}, await(t, res))

	// Решение, пришедшее после закрытия поверхности, ни к чему не привязано.
	assert.ErrorIs(t, c.AcceptToken(ctx, p.Token), domain.ErrAlreadyProcessed)
}

func TestLastRequestWinsTheSlot(t *testing.T) {
	ctx := context.Background()
	c, surface, _, _ := newCoordinator(t)

	first := requestAsync(c, ctx, "https://b.test", "api.b.test")
	surface.next(t)
	second := requestAsync(c, ctx, "https://c.test", "api.c.test")
	surface.next(t)

	// Вытесненный непрочитанный запрос получает отказ, а не зависает.
	assert.Equal(t, result{decision: domain.DecisionReject}, await(t, first))

	p, ok := c.TakePending()
	require.True(t, ok)
	assert.Equal(t, "https://c.test", p.Request.Origin)

	require.NoError(t, c.AcceptToken(ctx, p.Token))
	assert.Equal(t, result{decision: domain.DecisionAccept}, await(t, second))
}

func TestSurfaceFailureRejects(t *testing.T) {
	c, surface, _, _ := newCoordinator(t)
	surface.err = domain.ErrNoApprover

	d, err := c.RequestHosts(context.Background(), "https://b.test", []string{"api.b.test"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReject, d)
	assert.Zero(t, c.Waiting())
}

func TestRequesterCancellation(t *testing.T) {
	c, surface, _, _ := newCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())

	res := requestAsync(c, ctx, "https://b.test", "api.b.test")
	surface.next(t)
	cancel()

	r := await(t, res)
	assert.Equal(t, domain.DecisionReject, r.decision)
	assert.True(t, errors.Is(r.err, context.Canceled))
	assert.Zero(t, c.Waiting())
	_, ok := c.TakePending()
	assert.False(t, ok)
}

func TestPageGrantShortCircuits(t *testing.T) {
	ctx := context.Background()
	c, surface, m, _ := newCoordinator(t)

	_, _, err := m.GrantAll(ctx, "https://a.test")
	require.NoError(t, err)

	d, err := c.RequestHosts(ctx, "https://a.test", []string{"api.x.test"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, d)
	assert.Empty(t, surface.activated)
}

func TestConcurrentRequestsAllResolve(t *testing.T) {
	ctx := context.Background()
	c, surface, _, _ := newCoordinator(t)

	var wg sync.WaitGroup
	results := make(chan result, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := c.RequestHosts(ctx, "https://b.test", []string{"api.b.test"})
			results <- result{d, err}
		}()
	}
	for i := 0; i < 5; i++ {
		surface.next(t)
	}

	require.NoError(t, c.Accept(ctx, "https://b.test", []string{"api.b.test"}))
	wg.Wait()
	close(results)

	accepted := 0
	for r := range results {
		require.NoError(t, r.err)
		if r.decision == domain.DecisionAccept {
			accepted++
		}
	}
	// Последний запрос дожил до решения, вытесненные получили отказ.
	assert.GreaterOrEqual(t, accepted, 1)
	assert.Zero(t, c.Waiting())
}
