package rulesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/policy"
	"github.com/xela07ax/cors-relay/internal/repository/memory"
	"github.com/xela07ax/cors-relay/internal/store"
)

func newSync(t *testing.T) (*Synchronizer, *policy.MemoEngine, *store.RuleIDCounter) {
	t.Helper()
	engine := policy.NewMemoEngine(zap.NewNop())
	counter := store.NewRuleIDCounter(memory.NewKV())
	return NewSynchronizer(engine, counter, zap.NewNop()), engine, counter
}

func TestBuildRuleShape(t *testing.T) {
	now := time.Now()

	all, err := BuildRule(7, domain.NewPageGrant("https://a.test:8443", now))
	require.NoError(t, err)
	assert.Equal(t, 7, all.ID)
	assert.Equal(t, 1, all.Priority)
	assert.Equal(t, domain.ActionModifyHeaders, all.Action.Type)
	assert.Equal(t, []string{"a.test"}, all.Condition.InitiatorDomains)
	assert.Equal(t, "*", all.Condition.URLFilter)
	assert.Nil(t, all.Condition.RequestDomains)
	assert.Equal(t, []string{"xmlhttprequest", "image"}, all.Condition.ResourceTypes)
	assert.Equal(t, "thirdParty", all.Condition.DomainType)
	assert.Equal(t, []domain.HeaderOperation{
		{Header: "Access-Control-Allow-Origin", Operation: "set", Value: "https://a.test:8443"},
		{Header: "Access-Control-Allow-Methods", Operation: "set", Value: "PUT, GET, HEAD, POST, DELETE, OPTIONS"},
		{Header: "Access-Control-Allow-Headers", Operation: "set", Value: "*"},
		{Header: "Access-Control-Allow-Credentials", Operation: "set", Value: "true"},
	}, all.Action.ResponseHeaders)

	scoped, err := BuildRule(8, domain.NewUserGrant("https://b.test", []string{"api.b.test"}, now))
	require.NoError(t, err)
	assert.Equal(t, []string{"api.b.test"}, scoped.Condition.RequestDomains)
	assert.Empty(t, scoped.Condition.URLFilter)
}

func TestInstallUsesPersistedCounter(t *testing.T) {
	ctx := context.Background()
	s, engine, counter := newSync(t)

	id1, err := s.Install(ctx, domain.NewPageGrant("https://a.test", time.Now()))
	require.NoError(t, err)
	id2, err := s.Install(ctx, domain.NewUserGrant("https://b.test", []string{"api.b.test"}, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)

	cur, err := counter.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cur)

	rules, _ := engine.ListRules(ctx)
	assert.Len(t, rules, 2)
}

func TestReplaceSwapsRuleInOneBatch(t *testing.T) {
	ctx := context.Background()
	s, engine, _ := newSync(t)

	rec := domain.NewUserGrant("https://b.test", []string{"api.b.test"}, time.Now())
	oldID, err := s.Install(ctx, rec)
	require.NoError(t, err)

	rec.Hosts = domain.UnionHosts(rec.Hosts, []string{"cdn.b.test"})
	newID, err := s.Replace(ctx, oldID, rec)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)

	rules, _ := engine.ListRules(ctx)
	require.Len(t, rules, 1)
	assert.Equal(t, newID, rules[0].ID)
	assert.Equal(t, []string{"api.b.test", "cdn.b.test"}, rules[0].Condition.RequestDomains)
}

func TestFindAndRemoveByOrigin(t *testing.T) {
	ctx := context.Background()
	s, engine, _ := newSync(t)

	// Один hostname, разные origin'ы: правила различаются по Allow-Origin.
	_, err := s.Install(ctx, domain.NewPageGrant("https://a.test", time.Now()))
	require.NoError(t, err)
	_, err = s.Install(ctx, domain.NewPageGrant("http://a.test", time.Now()))
	require.NoError(t, err)

	r, ok, err := s.FindRule(ctx, "http://a.test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, r.ID)

	require.NoError(t, s.Remove(ctx, "https://a.test"))
	require.NoError(t, s.Remove(ctx, "https://missing.test"))

	_, ok, _ = s.FindRule(ctx, "https://a.test")
	assert.False(t, ok)
	rules, _ := engine.ListRules(ctx)
	require.Len(t, rules, 1)
	assert.Equal(t, "http://a.test", RuleOrigin(rules[0]))
}

func TestReconcileAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, engine, counter := newSync(t)

	now := time.Now()
	records := []*domain.PermissionRecord{
		domain.NewUserGrant("https://b.test", []string{"api.b.test"}, now.Add(time.Second)),
		domain.NewPageGrant("https://a.test", now),
	}

	// Мусорные правила от прошлой сессии должны исчезнуть.
	_, err := s.Install(ctx, domain.NewPageGrant("https://stale.test", now))
	require.NoError(t, err)
	_, err = s.Install(ctx, domain.NewPageGrant("https://stale2.test", now))
	require.NoError(t, err)

	require.NoError(t, s.ReconcileAll(ctx, records))
	first, err := engine.ListRules(ctx)
	require.NoError(t, err)

	require.NoError(t, s.ReconcileAll(ctx, records))
	second, err := engine.ListRules(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 2)
	assert.Equal(t, 1, second[0].ID)
	assert.Equal(t, "https://b.test", RuleOrigin(second[0]))
	assert.Equal(t, 2, second[1].ID)
	assert.Equal(t, "https://a.test", RuleOrigin(second[1]))

	cur, _ := counter.Current(ctx)
	assert.Equal(t, 2, cur)
}

func TestReconcileAllRejectsRecordWithoutHostname(t *testing.T) {
	ctx := context.Background()
	s, engine, counter := newSync(t)

	now := time.Now()
	id, err := s.Install(ctx, domain.NewPageGrant("https://a.test", now))
	require.NoError(t, err)

	records := []*domain.PermissionRecord{
		domain.NewPageGrant("https://a.test", now),
		domain.NewPageGrant("http://:8080", now),
	}
	err = s.ReconcileAll(ctx, records)
	assert.ErrorIs(t, err, domain.ErrInvalidOrigin)

	// Живой набор и счетчик остались прежними.
	rules, err := engine.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, id, rules[0].ID)
	cur, _ := counter.Current(ctx)
	assert.Equal(t, id, cur)
}
