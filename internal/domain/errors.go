package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateOrigin: попытка добавить вторую запись для того же origin'а (ошибка вызывающего).
	ErrDuplicateOrigin = errors.New("permission record already exists for origin")
	// ErrNotFound: update/delete по отсутствующей записи.
	ErrNotFound = errors.New("permission record not found")
	// ErrInvalidRecord: нарушены инварианты PermissionRecord.
	ErrInvalidRecord = errors.New("invalid permission record")

	// ErrNotPermitted: релей отказал: у origin'а нет доступа к целевому хосту.
	ErrNotPermitted = errors.New("cross-origin request not permitted")
	// ErrUnsupportedBodyEncoding: тег тела сообщения не распознан.
	ErrUnsupportedBodyEncoding = errors.New("unsupported body encoding")
	// ErrNetworkFailure: сетевой вызов релея не удался.
	ErrNetworkFailure = errors.New("network failure")

	// ErrNoApprover: нет подключенной поверхности подтверждения.
	ErrNoApprover = errors.New("no approver surface connected")
	// ErrInvalidOrigin: origin запроса отсутствует или не разбирается.
	ErrInvalidOrigin = errors.New("invalid origin")
	// ErrInvalidRequest: запрос страницы не прошел проверку формы (пустые хосты, кривой URL).
	ErrInvalidRequest = errors.New("invalid request")
)

// NetworkError оборачивает ошибку транспорта как есть: без ретраев и переупаковки текста.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is позволяет проверять errors.Is(err, ErrNetworkFailure).
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetworkFailure
}
