package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// SurfaceTracker: активная страница и индикатор доступа для нее.
type SurfaceTracker interface {
	SetActive(rawURL string) string
	Active() string
	Indicator(ctx context.Context) (string, error)
}

type ActiveRequest struct {
	URL string `json:"url"`
}

type IndicatorResponse struct {
	Origin    string `json:"origin,omitempty"`
	Indicator string `json:"indicator"`
}

type SurfaceHandler struct {
	tracker SurfaceTracker
	logger  *zap.Logger
}

func NewSurfaceHandler(t SurfaceTracker, logger *zap.Logger) *SurfaceHandler {
	return &SurfaceHandler{tracker: t, logger: logger.Named("surface")}
}

// SetActive: активирована, создана или обновлена вкладка.
func (h *SurfaceHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	origin := h.tracker.SetActive(req.URL)
	h.respond(w, r, origin)
}

func (h *SurfaceHandler) Indicator(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.tracker.Active())
}

func (h *SurfaceHandler) respond(w http.ResponseWriter, r *http.Request, origin string) {
	state, err := h.tracker.Indicator(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, IndicatorResponse{Origin: origin, Indicator: state})
}
