package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/codec"
	"github.com/xela07ax/cors-relay/internal/connectors"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// maxBodyBytes ограничивает тело входящего сообщения.
const maxBodyBytes = 32 << 20

// ErrorBody: единый формат ошибки канала.
type ErrorBody struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrInvalidRequest, err)
	}
	return data, nil
}

func readJSON(r *http.Request, dst any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	reqID := middleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = "req_" + uuid.NewString()
	}
	writeJSON(w, status, ErrorBody{RequestID: reqID, Error: ErrorDetail{Code: code, Message: message}})
}

// writeDomainError переводит ошибки релея в статусы HTTP.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var throttled *connectors.ThrottleError
	switch {
	case errors.Is(err, domain.ErrNotPermitted):
		writeError(w, r, http.StatusForbidden, "not_permitted", err.Error())
	case errors.Is(err, domain.ErrUnsupportedBodyEncoding):
		writeError(w, r, http.StatusBadRequest, "unsupported_body_encoding", err.Error())
	case errors.Is(err, domain.ErrInvalidOrigin):
		writeError(w, r, http.StatusBadRequest, "invalid_origin", err.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &throttled):
		w.Header().Set("Retry-After", strconv.Itoa(int(throttled.RetryAfter.Seconds()+0.5)))
		writeError(w, r, http.StatusServiceUnavailable, "throttled", err.Error())
	case errors.Is(err, domain.ErrNetworkFailure):
		writeError(w, r, http.StatusBadGateway, "network_failure", err.Error())
	case errors.Is(err, domain.ErrAlreadyProcessed):
		writeError(w, r, http.StatusConflict, "already_processed", err.Error())
	default:
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
