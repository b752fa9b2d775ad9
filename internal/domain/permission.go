package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// GrantSource показывает, кто выдал доступ origin'у.
type GrantSource string

const (
	// GrantedByPage: страница сама объявила доступ ко всем хостам (requestAllHosts).
	GrantedByPage GrantSource = "page"
	// GrantedByUser: человек подтвердил конкретный список хостов через диалог согласия.
	GrantedByUser GrantSource = "user"
)

// PermissionRecord: персистентная запись о доступе одного origin'а.
// Hosts == nil означает «все хосты» и допустимо только для GrantedByPage.
type PermissionRecord struct {
	ID        string      `json:"id"`     // ULID, сортируется по времени создания
	Origin    string      `json:"origin"` // scheme://host[:port], уникальный ключ
	GrantedBy GrantSource `json:"grantedBy"`
	Hosts     []string    `json:"hosts,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllHosts сообщает, что запись разрешает любые целевые хосты.
func (r *PermissionRecord) AllHosts() bool {
	return r.Hosts == nil
}

// Allows решает, покрывает ли запись целевой хост.
func (r *PermissionRecord) Allows(host string) bool {
	if r == nil {
		return false
	}
	if r.AllHosts() {
		return true
	}
	return slices.Contains(r.Hosts, strings.ToLower(host))
}

// Covers проверяет, что все запрошенные хосты уже есть в записи.
func (r *PermissionRecord) Covers(hosts []string) bool {
	for _, h := range hosts {
		if !r.Allows(h) {
			return false
		}
	}
	return true
}

// Validate проверяет инварианты записи перед сохранением.
func (r *PermissionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if _, err := NormalizeOrigin(r.Origin); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	switch r.GrantedBy {
	case GrantedByPage:
	case GrantedByUser:
		if r.Hosts == nil {
			return fmt.Errorf("%w: user grant for %s must be host-scoped", ErrInvalidRecord, r.Origin)
		}
	default:
		return fmt.Errorf("%w: unknown grant source %q", ErrInvalidRecord, r.GrantedBy)
	}
	if r.Hosts != nil {
		if len(r.Hosts) == 0 {
			return fmt.Errorf("%w: empty host set for %s", ErrInvalidRecord, r.Origin)
		}
		if len(UnionHosts(nil, r.Hosts)) != len(r.Hosts) {
			return fmt.Errorf("%w: duplicate hosts for %s", ErrInvalidRecord, r.Origin)
		}
	}
	return nil
}

// NewPageGrant создает запись «все хосты», объявленную самой страницей.
func NewPageGrant(origin string, now time.Time) *PermissionRecord {
	return &PermissionRecord{
		ID:        NewRecordID(now),
		Origin:    origin,
		GrantedBy: GrantedByPage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewUserGrant создает запись с явно подтвержденным списком хостов.
func NewUserGrant(origin string, hosts []string, now time.Time) *PermissionRecord {
	return &PermissionRecord{
		ID:        NewRecordID(now),
		Origin:    origin,
		GrantedBy: GrantedByUser,
		Hosts:     UnionHosts(nil, hosts),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UnionHosts объединяет множества хостов с сохранением порядка первого появления.
// Хосты приводятся к нижнему регистру, пустые строки отбрасываются.
func UnionHosts(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, h := range list {
			h = strings.ToLower(strings.TrimSpace(h))
			if h == "" {
				continue
			}
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

// NormalizeOrigin приводит origin к виду scheme://host[:port] и отбрасывает путь.
func NormalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("invalid origin %q: scheme and host required", raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// OriginHostname возвращает hostname origin'а без порта.
func OriginHostname(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	return strings.ToLower(u.Hostname()), nil
}

// GrantType: форма ответа getAllowedInfo.
type GrantType string

const (
	GrantTypeAll      GrantType = "all"
	GrantTypeSpecific GrantType = "specific"
)

// AllowedInfo: то, что страница узнает о своем доступе.
type AllowedInfo struct {
	Enabled bool      `json:"enabled"`
	Type    GrantType `json:"type"`
	Hosts   []string  `json:"hosts"`
}

// MarshalJSON: у "specific" поле hosts есть всегда (пустой массив, а не null),
// у "all" его нет совсем.
func (i AllowedInfo) MarshalJSON() ([]byte, error) {
	type wire struct {
		Enabled bool      `json:"enabled"`
		Type    GrantType `json:"type"`
		Hosts   *[]string `json:"hosts,omitempty"`
	}
	w := wire{Enabled: i.Enabled, Type: i.Type}
	if i.Type != GrantTypeAll {
		hosts := i.Hosts
		if hosts == nil {
			hosts = []string{}
		}
		w.Hosts = &hosts
	}
	return sonic.ConfigStd.Marshal(w)
}

// DisabledInfo: ответ для origin'а без активного доступа.
func DisabledInfo() AllowedInfo {
	return AllowedInfo{Enabled: false, Type: GrantTypeSpecific, Hosts: []string{}}
}

// InfoFor проецирует запись в AllowedInfo.
func InfoFor(r *PermissionRecord) AllowedInfo {
	if r == nil {
		return DisabledInfo()
	}
	if r.AllHosts() {
		return AllowedInfo{Enabled: true, Type: GrantTypeAll}
	}
	return AllowedInfo{Enabled: true, Type: GrantTypeSpecific, Hosts: slices.Clone(r.Hosts)}
}
