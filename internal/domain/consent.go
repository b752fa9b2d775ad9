package domain

import (
	"errors"
	"slices"
)

// ConsentStatus: состояния конечного автомата согласия.
type ConsentStatus string

const (
	ConsentIdle             ConsentStatus = "IDLE"
	ConsentAwaitingApproval ConsentStatus = "AWAITING_APPROVAL"
	ConsentAccepted         ConsentStatus = "ACCEPTED"
	ConsentRejected         ConsentStatus = "REJECTED"
	// ConsentAbandoned: поверхность подтверждения закрыли без решения. Для запрашивающего это отказ.
	ConsentAbandoned ConsentStatus = "ABANDONED"
)

var (
	ErrInvalidTransition = errors.New("invalid consent status transition")
	ErrAlreadyProcessed  = errors.New("consent request already processed")
)

// Terminal сообщает, что из состояния переходов нет.
func (s ConsentStatus) Terminal() bool {
	return s == ConsentAccepted || s == ConsentRejected || s == ConsentAbandoned
}

// CanTransitionTo проверяет правила конечного автомата.
func (s ConsentStatus) CanTransitionTo(next ConsentStatus) error {
	if s.Terminal() {
		return ErrAlreadyProcessed
	}
	switch s {
	case ConsentIdle:
		if next != ConsentAwaitingApproval {
			return ErrInvalidTransition
		}
	case ConsentAwaitingApproval:
		if !next.Terminal() {
			return ErrInvalidTransition
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}

// Decision: то, что получает запрашивающая страница.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// DecisionFor сворачивает терминальное состояние в ответ странице.
func DecisionFor(s ConsentStatus) Decision {
	if s == ConsentAccepted {
		return DecisionAccept
	}
	return DecisionReject
}

// ConsentRequest: ожидающий запрос страницы, виден подтверждающему ровно один раз.
type ConsentRequest struct {
	Origin string   `json:"origin"`
	Hosts  []string `json:"hosts"`
}

// Clone нужен, чтобы слот почтового ящика не делил слайс с вызывающим.
func (c ConsentRequest) Clone() ConsentRequest {
	return ConsentRequest{Origin: c.Origin, Hosts: slices.Clone(c.Hosts)}
}
