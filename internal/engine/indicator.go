package engine

import (
	"context"
	"sync"

	"github.com/xela07ax/cors-relay/internal/domain"
)

const (
	IndicatorEnabled  = "enabled"
	IndicatorDisabled = "disabled"
)

// SurfaceTracker помнит активную страницу. Индикатор не хранится, а считается из записей при чтении.
type SurfaceTracker struct {
	grants GrantLookup

	mu     sync.RWMutex
	origin string
}

func NewSurfaceTracker(grants GrantLookup) *SurfaceTracker {
	return &SurfaceTracker{grants: grants}
}

// SetActive переключает активную страницу. Пустой или кривой URL: активной страницы нет.
func (t *SurfaceTracker) SetActive(rawURL string) string {
	origin, err := domain.NormalizeOrigin(rawURL)
	if err != nil {
		origin = ""
	}
	t.mu.Lock()
	t.origin = origin
	t.mu.Unlock()
	return origin
}

// Active возвращает origin активной страницы или "".
func (t *SurfaceTracker) Active() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.origin
}

// Indicator: "enabled", если у активной страницы есть действующий доступ.
func (t *SurfaceTracker) Indicator(ctx context.Context) (string, error) {
	origin := t.Active()
	if origin == "" {
		return IndicatorDisabled, nil
	}
	rec, err := t.grants.Lookup(ctx, origin)
	if err != nil {
		return IndicatorDisabled, err
	}
	if rec == nil {
		return IndicatorDisabled, nil
	}
	return IndicatorEnabled, nil
}
