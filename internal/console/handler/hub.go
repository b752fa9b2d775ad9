package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/consent"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// ConsentMailbox: сторона координатора, видимая подтверждающему.
type ConsentMailbox interface {
	TakePending() (consent.Pending, bool)
	AcceptToken(ctx context.Context, token string) error
	RejectToken(token string)
	Abandon(token string)
}

// Сообщения сессии подтверждающего.
const (
	MsgConsent = "consent"
	MsgAccept  = "accept"
	MsgReject  = "reject"
	MsgResult  = "result"
	MsgError   = "error"
	MsgPing    = "ping"
	MsgPong    = "pong"
)

type SessionMessage struct {
	Type   string   `json:"type"`
	Token  string   `json:"token,omitempty"`
	Origin string   `json:"origin,omitempty"`
	Hosts  []string `json:"hosts,omitempty"`
	Error  string   `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	// Сессию открывает страница настроек релея, токен уже проверен middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ApproverHub держит websocket-сессии подтверждающих и служит координатору поверхностью.
// Закрытие сессии без решения по показанному запросу: Abandoned.
type ApproverHub struct {
	mailbox ConsentMailbox
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	polling  bool // без сессий запрос ждет в слоте GET /v1/approver/pending
}

type session struct {
	conn *websocket.Conn
	wake chan struct{}

	writeMu sync.Mutex
	mu      sync.Mutex
	shown   map[string]struct{} // показанные и еще не решенные токены
}

func NewApproverHub(mailbox ConsentMailbox, logger *zap.Logger) *ApproverHub {
	return &ApproverHub{
		mailbox:  mailbox,
		logger:   logger.Named("approver_hub"),
		sessions: make(map[*session]struct{}),
	}
}

// EnablePolling разрешает ждать подтверждающего, опрашивающего REST, когда сессий нет.
func (h *ApproverHub) EnablePolling(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polling = on
}

// Activate будит сессии: первая, успевшая забрать слот, покажет запрос.
// Без сессий запрос отклоняется сразу, если не включен опрос.
func (h *ApproverHub) Activate(_ context.Context, _ string, req domain.ConsentRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) == 0 {
		if h.polling {
			h.logger.Debug("no approver session, request left for polling", zap.String("origin", req.Origin))
			return nil
		}
		return domain.ErrNoApprover
	}
	for s := range h.sessions {
		s.signal()
	}
	return nil
}

// Sessions: число подключенных подтверждающих.
func (h *ApproverHub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Serve: GET /v1/approver/session.
func (h *ApproverHub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s := &session{conn: conn, wake: make(chan struct{}, 1), shown: make(map[string]struct{})}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("approver connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pushLoop(ctx, s)
	}()

	s.signal() // запрос мог прийти раньше сессии
	h.readLoop(ctx, s)

	cancel()
	<-done
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	_ = conn.Close()

	for _, token := range s.undecided() {
		h.mailbox.Abandon(token)
	}
	h.logger.Info("approver disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *ApproverHub) pushLoop(ctx context.Context, s *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			p, ok := h.mailbox.TakePending()
			if !ok {
				continue
			}
			s.markShown(p.Token)
			msg := SessionMessage{Type: MsgConsent, Token: p.Token, Origin: p.Request.Origin, Hosts: p.Request.Hosts}
			if err := s.write(msg); err != nil {
				h.logger.Warn("push consent failed", zap.Error(err))
				// Сессия мертва: readLoop увидит ошибку и отпустит запрос
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (h *ApproverHub) readLoop(ctx context.Context, s *session) {
	for {
		var msg SessionMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("approver session read ended", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case MsgAccept:
			if !s.decide(msg.Token) {
				_ = s.write(SessionMessage{Type: MsgError, Token: msg.Token, Error: domain.ErrAlreadyProcessed.Error()})
				continue
			}
			if err := h.mailbox.AcceptToken(ctx, msg.Token); err != nil {
				_ = s.write(SessionMessage{Type: MsgError, Token: msg.Token, Error: err.Error()})
				continue
			}
			_ = s.write(SessionMessage{Type: MsgResult, Token: msg.Token})
		case MsgReject:
			if s.decide(msg.Token) {
				h.mailbox.RejectToken(msg.Token)
			}
			_ = s.write(SessionMessage{Type: MsgResult, Token: msg.Token})
		case MsgPing:
			_ = s.write(SessionMessage{Type: MsgPong})
		default:
			_ = s.write(SessionMessage{Type: MsgError, Error: "unknown message type"})
		}
	}
}

func (s *session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) write(msg SessionMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

func (s *session) markShown(token string) {
	s.mu.Lock()
	s.shown[token] = struct{}{}
	s.mu.Unlock()
}

// decide снимает токен с показанных. false: токен этой сессии не показывался или уже решен.
func (s *session) decide(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shown[token]; !ok {
		return false
	}
	delete(s.shown, token)
	return true
}

func (s *session) undecided() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.shown))
	for token := range s.shown {
		out = append(out, token)
	}
	return out
}
