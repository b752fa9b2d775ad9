package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/domain"
)

// RulesService: страница настроек: список и отзыв доступов.
type RulesService interface {
	GetAllRules(ctx context.Context) ([]*domain.PermissionRecord, error)
	Delete(ctx context.Context, origin string) error
}

type RulesHandler struct {
	service RulesService
	logger  *zap.Logger
}

func NewRulesHandler(s RulesService, logger *zap.Logger) *RulesHandler {
	return &RulesHandler{service: s, logger: logger.Named("rules")}
}

func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetAllRules(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Delete: DELETE /v1/rules?origin=... Отсутствующая запись тоже 204.
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.URL.Query().Get("origin")); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
