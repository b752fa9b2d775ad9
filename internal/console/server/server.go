package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/console/handler"
	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/engine"
	"github.com/xela07ax/cors-relay/internal/infra/auth"
)

// Handlers: обработчики бизнес-доменов канала.
type Handlers struct {
	Auth     *handler.AuthHandler     // /auth/token
	Page     *handler.PageHandler     // /v1/page (сообщения страницы)
	Approver *handler.ApproverHandler // /v1/approver (HITL)
	Hub      *handler.ApproverHub     // /v1/approver/session (websocket)
	Rules    *handler.RulesHandler    // /v1/rules (страница настроек)
	Surface  *handler.SurfaceHandler  // /v1/surface (активная вкладка и индикатор)
}

type RelayServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator
	h             Handlers
}

// NewRelayServer собирает HTTP-границу релея со всеми зависимостями.
func NewRelayServer(logger *zap.Logger, validator auth.TokenValidator, h Handlers) *RelayServer {
	s := &RelayServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("http"),
		authValidator: validator,
		h:             h,
	}
	s.routes()
	return s
}

func (s *RelayServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.h.Auth.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. КАНАЛ СТРАНИЦЫ (origin из заголовка Origin) ---
	r.Route("/v1/page", func(r chi.Router) {
		r.Use(s.h.Page.CORS)
		r.Get("/ping", s.h.Page.Ping)
		r.Get("/allowed-info", s.h.Page.AllowedInfo)
		r.Post("/request-hosts", s.h.Page.RequestHosts)
		r.Post("/request-all-hosts", s.h.Page.RequestAllHosts)
		r.Post("/request", s.h.Page.Request)
	})

	// --- 4. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен со скоупом approver) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, domain.ScopeApprover, s.logger))

		// Human-in-the-loop (Consent)
		r.Route("/v1/approver", func(r chi.Router) {
			r.Get("/session", s.h.Hub.Serve)
			r.Get("/pending", s.h.Approver.Pending)
			r.Post("/accept", s.h.Approver.Accept)
			r.Post("/reject", s.h.Approver.Reject)
		})

		// Страница настроек
		r.Route("/v1/rules", func(r chi.Router) {
			r.Get("/", s.h.Rules.List)
			r.Delete("/", s.h.Rules.Delete)
		})

		// Активная вкладка
		r.Route("/v1/surface", func(r chi.Router) {
			r.Post("/active", s.h.Surface.SetActive)
			r.Get("/indicator", s.h.Surface.Indicator)
		})
	})
}

// ServeHTTP позволяет использовать RelayServer как стандартный http.Handler
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
