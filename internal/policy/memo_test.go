package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/domain"
)

func rule(id int, initiator string, hosts ...string) domain.EnforcementRule {
	c := domain.RuleCondition{
		InitiatorDomains: []string{initiator},
		ResourceTypes:    []string{domain.ResourceXMLHTTPRequest, domain.ResourceImage},
		DomainType:       domain.DomainTypeThirdParty,
	}
	if len(hosts) > 0 {
		c.RequestDomains = hosts
	} else {
		c.URLFilter = "*"
	}
	return domain.EnforcementRule{ID: id, Priority: 1, Condition: c,
		Action: domain.RuleAction{Type: domain.ActionModifyHeaders}}
}

func TestMemoEngineRemovalsBeforeAdds(t *testing.T) {
	ctx := context.Background()
	e := NewMemoEngine(zap.NewNop())

	require.NoError(t, e.UpdateRules(ctx, domain.RuleUpdate{AddRules: []domain.EnforcementRule{rule(2, "a.test"), rule(1, "b.test")}}))

	// Удаление и повторное добавление того же id в одном пакете допустимо.
	require.NoError(t, e.UpdateRules(ctx, domain.RuleUpdate{
		RemoveRuleIDs: []int{2},
		AddRules:      []domain.EnforcementRule{rule(2, "c.test")},
	}))

	rules, err := e.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 1, rules[0].ID)
	assert.Equal(t, []string{"c.test"}, rules[1].Condition.InitiatorDomains)
}

func TestMemoEngineRejectsBadBatchAtomically(t *testing.T) {
	ctx := context.Background()
	e := NewMemoEngine(zap.NewNop())
	require.NoError(t, e.UpdateRules(ctx, domain.RuleUpdate{AddRules: []domain.EnforcementRule{rule(1, "a.test")}}))

	err := e.UpdateRules(ctx, domain.RuleUpdate{
		RemoveRuleIDs: []int{1},
		AddRules:      []domain.EnforcementRule{rule(3, "b.test"), rule(3, "c.test")},
	})
	assert.ErrorIs(t, err, ErrDuplicateRuleID)

	err = e.UpdateRules(ctx, domain.RuleUpdate{AddRules: []domain.EnforcementRule{rule(0, "b.test")}})
	assert.ErrorIs(t, err, ErrInvalidRuleID)

	rules, _ := e.ListRules(ctx)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].ID)
}

func TestMemoEngineEvaluate(t *testing.T) {
	ctx := context.Background()
	e := NewMemoEngine(zap.NewNop())
	require.NoError(t, e.UpdateRules(ctx, domain.RuleUpdate{AddRules: []domain.EnforcementRule{
		rule(1, "a.test"),
		rule(2, "b.test", "api.b.test"),
	}}))

	tests := []struct {
		name      string
		initiator string
		target    string
		resource  string
		wantID    int
		wantMatch bool
	}{
		{"all hosts", "a.test", "anything.test", domain.ResourceXMLHTTPRequest, 1, true},
		{"subdomain initiator", "www.a.test", "x.test", domain.ResourceImage, 1, true},
		{"scoped host", "b.test", "api.b.test", domain.ResourceXMLHTTPRequest, 2, true},
		{"scoped subdomain", "b.test", "v2.api.b.test", domain.ResourceXMLHTTPRequest, 2, true},
		{"host outside list", "b.test", "evil.test", domain.ResourceXMLHTTPRequest, 0, false},
		{"first party", "a.test", "a.test", domain.ResourceXMLHTTPRequest, 0, false},
		{"wrong resource type", "a.test", "x.test", "script", 0, false},
		{"unknown initiator", "c.test", "x.test", domain.ResourceXMLHTTPRequest, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := e.Evaluate(tt.initiator, tt.target, tt.resource)
			assert.Equal(t, tt.wantMatch, ok)
			if tt.wantMatch {
				assert.Equal(t, tt.wantID, r.ID)
			}
		})
	}
}

func originRule(id int, origin, initiator string) domain.EnforcementRule {
	r := rule(id, initiator)
	r.Action.ResponseHeaders = []domain.HeaderOperation{
		{Header: domain.HeaderAllowOrigin, Operation: domain.HeaderOpSet, Value: origin},
	}
	return r
}

func TestMemoEngineEvaluateOriginSeparatesSharedHostname(t *testing.T) {
	ctx := context.Background()
	e := NewMemoEngine(zap.NewNop())
	require.NoError(t, e.UpdateRules(ctx, domain.RuleUpdate{AddRules: []domain.EnforcementRule{
		originRule(1, "http://a.test", "a.test"),
		originRule(2, "https://a.test", "a.test"),
		originRule(3, "http://localhost:3000", "localhost"),
	}}))

	r, ok := e.EvaluateOrigin("https://a.test", "api.x.test", domain.ResourceXMLHTTPRequest)
	require.True(t, ok)
	assert.Equal(t, 2, r.ID)

	r, ok = e.EvaluateOrigin("http://a.test", "api.x.test", domain.ResourceXMLHTTPRequest)
	require.True(t, ok)
	assert.Equal(t, 1, r.ID)

	_, ok = e.EvaluateOrigin("http://localhost:4000", "api.x.test", domain.ResourceXMLHTTPRequest)
	assert.False(t, ok, "same hostname on another port has no rule of its own")

	_, ok = e.EvaluateOrigin("not an origin", "api.x.test", domain.ResourceXMLHTTPRequest)
	assert.False(t, ok)
}
