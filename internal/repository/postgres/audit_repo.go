package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/cors-relay/internal/audit"
)

// AuditRepo: приемник журнала, пакетная вставка в relay_audit.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.RelayEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице relay_audit
	const numFields = 13
	var placeholders strings.Builder
	vals := make([]any, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", i*numFields+f)
		}
		placeholders.WriteString(")")

		vals = append(vals,
			e.ID, e.TraceID, string(e.Kind), e.Origin, e.Method, e.TargetHost, e.HTTPStatus,
			e.Hosts, e.Decision, e.Status, e.DurationMs, e.Error, e.Timestamp,
		)
	}

	query := "INSERT INTO relay_audit (id, trace_id, kind, origin, method, target_host, http_status, " +
		"hosts, decision, status, duration_ms, error, timestamp) VALUES " + placeholders.String()

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}
