package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/codec"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// PageService: сообщения, которые может слать страница.
type PageService interface {
	Ping(ctx context.Context) string
	GetAllowedInfo(ctx context.Context, origin string) (domain.AllowedInfo, error)
	RequestHosts(ctx context.Context, origin string, hosts []string) (domain.Decision, error)
	RequestAllHosts(ctx context.Context, origin string) error
	Request(ctx context.Context, origin string, req *codec.SerializedRequest) (*codec.SerializedResponse, error)
}

type HostsRequest struct {
	Hosts []string `json:"hosts"`
}

type DecisionResponse struct {
	Result domain.Decision `json:"result"`
}

// PageHandler: канал страницы. Origin берется из заголовка Origin, его ставит браузер.
type PageHandler struct {
	service PageService
	logger  *zap.Logger
}

func NewPageHandler(s PageService, logger *zap.Logger) *PageHandler {
	return &PageHandler{service: s, logger: logger.Named("page")}
}

// CORS отражает Origin страницы: канал открыт любому origin'у, доступ решают записи.
func (h *PageHandler) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-ID")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *PageHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Ping(r.Context()))
}

func (h *PageHandler) AllowedInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.GetAllowedInfo(r.Context(), r.Header.Get("Origin"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// RequestHosts держит соединение, пока человек не решит. Обрыв соединения: отказ.
func (h *PageHandler) RequestHosts(w http.ResponseWriter, r *http.Request) {
	var req HostsRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	decision, err := h.service.RequestHosts(r.Context(), r.Header.Get("Origin"), req.Hosts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Отвечать уже некому
			return
		}
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DecisionResponse{Result: decision})
}

func (h *PageHandler) RequestAllHosts(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RequestAllHosts(r.Context(), r.Header.Get("Origin")); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Request выполняет сериализованный запрос страницы через релей.
func (h *PageHandler) Request(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	req, err := codec.DecodeRequest(data)
	if err != nil {
		if !errors.Is(err, domain.ErrUnsupportedBodyEncoding) {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp, err := h.service.Request(r.Context(), r.Header.Get("Origin"), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
