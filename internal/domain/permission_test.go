package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionRecordValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		record  *PermissionRecord
		wantErr bool
	}{
		{
			name:   "page grant without hosts",
			record: NewPageGrant("https://a.test", now),
		},
		{
			name:   "user grant with hosts",
			record: NewUserGrant("https://b.test", []string{"api.b.test"}, now),
		},
		{
			name: "user grant without hosts",
			record: &PermissionRecord{
				ID: NewRecordID(now), Origin: "https://b.test", GrantedBy: GrantedByUser,
			},
			wantErr: true,
		},
		{
			name: "empty host set",
			record: &PermissionRecord{
				ID: NewRecordID(now), Origin: "https://b.test", GrantedBy: GrantedByUser, Hosts: []string{},
			},
			wantErr: true,
		},
		{
			name: "duplicate hosts",
			record: &PermissionRecord{
				ID: NewRecordID(now), Origin: "https://b.test", GrantedBy: GrantedByUser,
				Hosts: []string{"x.test", "x.test"},
			},
			wantErr: true,
		},
		{
			name: "unknown source",
			record: &PermissionRecord{
				ID: NewRecordID(now), Origin: "https://b.test", GrantedBy: "website",
			},
			wantErr: true,
		},
		{
			name: "origin without scheme",
			record: &PermissionRecord{
				ID: NewRecordID(now), Origin: "b.test", GrantedBy: GrantedByPage,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRecord))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestUnionHosts(t *testing.T) {
	got := UnionHosts([]string{"api.b.test", "cdn.b.test"}, []string{"API.b.test", " img.b.test ", ""})
	assert.Equal(t, []string{"api.b.test", "cdn.b.test", "img.b.test"}, got)

	assert.Equal(t, []string{"api.b.test"}, UnionHosts([]string{"api.b.test"}, []string{"api.b.test"}))
	assert.Empty(t, UnionHosts(nil, nil))
}

func TestRecordAllowsAndCovers(t *testing.T) {
	now := time.Now()
	all := NewPageGrant("https://a.test", now)
	scoped := NewUserGrant("https://b.test", []string{"api.b.test"}, now)

	assert.True(t, all.Allows("anything.test"))
	assert.True(t, scoped.Allows("API.B.TEST"))
	assert.False(t, scoped.Allows("evil.test"))
	assert.True(t, scoped.Covers([]string{"api.b.test"}))
	assert.False(t, scoped.Covers([]string{"api.b.test", "cdn.b.test"}))

	var missing *PermissionRecord
	assert.False(t, missing.Allows("api.b.test"))
}

func TestNormalizeOrigin(t *testing.T) {
	got, err := NormalizeOrigin("HTTPS://A.test:8443/some/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://a.test:8443", got)

	_, err = NormalizeOrigin("not an origin")
	assert.Error(t, err)

	// Порт без hostname: правило для такого origin'а не построить.
	_, err = NormalizeOrigin("http://:8080")
	assert.Error(t, err)
	assert.ErrorIs(t, (&PermissionRecord{
		ID: NewRecordID(time.Now()), Origin: "http://:8080", GrantedBy: GrantedByPage,
	}).Validate(), ErrInvalidRecord)

	host, err := OriginHostname("https://a.test:8443")
	require.NoError(t, err)
	assert.Equal(t, "a.test", host)
}

func TestInfoFor(t *testing.T) {
	now := time.Now()

	assert.Equal(t, AllowedInfo{Enabled: false, Type: GrantTypeSpecific, Hosts: []string{}}, InfoFor(nil))
	assert.Equal(t, AllowedInfo{Enabled: true, Type: GrantTypeAll}, InfoFor(NewPageGrant("https://a.test", now)))
	assert.Equal(t,
		AllowedInfo{Enabled: true, Type: GrantTypeSpecific, Hosts: []string{"api.b.test"}},
		InfoFor(NewUserGrant("https://b.test", []string{"api.b.test"}, now)),
	)
}

func TestRecordIDsSortByCreation(t *testing.T) {
	now := time.Now()
	first := NewRecordID(now)
	second := NewRecordID(now)
	third := NewRecordID(now.Add(time.Millisecond))

	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestNetworkErrorIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&NetworkError{URL: "https://api.b.test/x", Err: cause})

	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAllowedInfoJSON(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		info AllowedInfo
		want string
	}{
		{"no record", InfoFor(nil), `{"enabled":false,"type":"specific","hosts":[]}`},
		{"nil hosts still listed", AllowedInfo{Type: GrantTypeSpecific}, `{"enabled":false,"type":"specific","hosts":[]}`},
		{"all hosts", InfoFor(NewPageGrant("https://a.test", now)), `{"enabled":true,"type":"all"}`},
		{"specific hosts", InfoFor(NewUserGrant("https://b.test", []string{"api.b.test"}, now)),
			`{"enabled":true,"type":"specific","hosts":["api.b.test"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := sonic.ConfigStd.Marshal(tt.info)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}
