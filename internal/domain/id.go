package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	// Monotonic гарантирует строгий рост ID внутри одной миллисекунды.
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewRecordID генерирует ULID для PermissionRecord.
// Лексикографический порядок строк совпадает с порядком создания.
func NewRecordID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
