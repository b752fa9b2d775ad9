package audit

import "time"

// EventKind: тип события журнала.
type EventKind string

const (
	KindRelay   EventKind = "RELAY"   // запрос через релей
	KindGrant   EventKind = "GRANT"   // выдан или расширен доступ
	KindRevoke  EventKind = "REVOKE"  // доступ отозван
	KindConsent EventKind = "CONSENT" // исход диалога согласия
)

// Статусы событий релея.
const (
	StatusSuccess = "SUCCESS"
	StatusDenied  = "DENIED"
	StatusFailed  = "FAILED"
)

type RelayEvent struct {
	ID      string    `json:"id"`       // UUID события
	TraceID string    `json:"trace_id"` // Сквозной ID запроса
	Kind    EventKind `json:"kind"`
	Origin  string    `json:"origin"` // Кто делал

	// Для KindRelay
	Method     string `json:"method,omitempty"`
	TargetHost string `json:"target_host,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`

	// Для KindGrant/KindConsent
	Hosts    []string `json:"hosts,omitempty"`
	Decision string   `json:"decision,omitempty"`

	// Результат
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"` // Время обработки
	Error      string    `json:"error,omitempty"`
}
