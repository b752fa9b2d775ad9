package consent

import (
	"sync"

	"github.com/xela07ax/cors-relay/internal/domain"
)

// Future: исход одного запроса согласия. Завершается ровно один раз.
type Future struct {
	mu     sync.Mutex
	status domain.ConsentStatus
	done   chan struct{}
}

func NewFuture() *Future {
	return &Future{status: domain.ConsentIdle, done: make(chan struct{})}
}

// Begin: запрос показан подтверждающему, ждем решения.
func (f *Future) Begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.status.CanTransitionTo(domain.ConsentAwaitingApproval); err != nil {
		return err
	}
	f.status = domain.ConsentAwaitingApproval
	return nil
}

// Complete переводит future в терминальное состояние. Повтор: ErrAlreadyProcessed.
func (f *Future) Complete(status domain.ConsentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.status.CanTransitionTo(status); err != nil {
		return err
	}
	f.status = status
	close(f.done)
	return nil
}

func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) Status() domain.ConsentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}
