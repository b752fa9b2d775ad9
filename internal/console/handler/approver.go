package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// ApproverService: решения подтверждающего по origin'у.
type ApproverService interface {
	AcceptRequestHosts(ctx context.Context, origin string, hosts []string) error
	RejectRequestHosts(ctx context.Context, origin string) error
}

// DecideRequest: token решает конкретный запрос, иначе решение применяется к origin'у.
type DecideRequest struct {
	Token  string   `json:"token,omitempty"`
	Origin string   `json:"origin,omitempty"`
	Hosts  []string `json:"hosts,omitempty"`
}

type PendingResponse struct {
	Token  string   `json:"token"`
	Origin string   `json:"origin"`
	Hosts  []string `json:"hosts"`
}

type ApproverHandler struct {
	service ApproverService
	mailbox ConsentMailbox
	logger  *zap.Logger
}

func NewApproverHandler(s ApproverService, mailbox ConsentMailbox, logger *zap.Logger) *ApproverHandler {
	return &ApproverHandler{service: s, mailbox: mailbox, logger: logger.Named("approver")}
}

// Pending отдает непрочитанный запрос и очищает слот. Пусто: 204.
func (h *ApproverHandler) Pending(w http.ResponseWriter, r *http.Request) {
	p, ok := h.mailbox.TakePending()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, PendingResponse{Token: p.Token, Origin: p.Request.Origin, Hosts: p.Request.Hosts})
}

func (h *ApproverHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var err error
	if req.Token != "" {
		err = h.mailbox.AcceptToken(r.Context(), req.Token)
	} else {
		err = h.service.AcceptRequestHosts(r.Context(), req.Origin, req.Hosts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ApproverHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if req.Token != "" {
		h.mailbox.RejectToken(req.Token)
	} else if err := h.service.RejectRequestHosts(r.Context(), req.Origin); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
