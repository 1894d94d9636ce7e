package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/auth"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/service"
)

// MailSyncer runs one sync invocation.
type MailSyncer interface {
	Sync(ctx context.Context, userID string, provider mail.ProviderName) (*service.SyncResult, error)
}

// MailHandler covers the mailbox connect flow and both sync triggers.
//
//	GET    /api/mail/connections               → list connected providers
//	GET    /api/mail/{provider}/connect        → redirect to provider consent
//	GET    /api/mail/{provider}/callback       → finish consent, store grant
//	DELETE /api/mail/{provider}                → forget grant
//	POST   /api/mail/{provider}/sync           → sync as the session user
//	POST   /api/internal/mail/{provider}/sync  → sync for {"user_id"} (shared secret)
type MailHandler struct {
	connect *service.MailConnectService
	sync    MailSyncer
	appURL  string
	secure  bool
	logger  *slog.Logger
}

func NewMailHandler(connect *service.MailConnectService, sync MailSyncer, appURL string, secureCookies bool, logger *slog.Logger) *MailHandler {
	return &MailHandler{
		connect: connect,
		sync:    sync,
		appURL:  strings.TrimRight(appURL, "/"),
		secure:  secureCookies,
		logger:  logger,
	}
}

type internalSyncRequest struct {
	UserID string `json:"user_id"`
}

type connectionsResponse struct {
	Available   []mail.ProviderName  `json:"available"`
	Connections []service.Connection `json:"connections"`
}

// HandleConnections handles GET /api/mail/connections.
func (h *MailHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	conns, err := h.connect.Connections(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, connectionsResponse{
		Available:   h.connect.Available(),
		Connections: conns,
	})
}

// HandleConnect handles GET /api/mail/{provider}/connect.
func (h *MailHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	name, err := providerParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	state := auth.NewState()
	target, err := h.connect.AuthURL(name, state)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	auth.SetStateCookie(w, string(name), state, h.secure)
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleCallback handles GET /api/mail/{provider}/callback?code=&state=.
//
// The browser always ends up back on the settings page; the outcome travels
// in the query string because there is no page to render here.
func (h *MailHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	name, err := providerParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()

	if !auth.ConsumeState(w, r, string(name), q.Get("state")) {
		h.logger.Warn("mail callback: state mismatch", slog.String("provider", string(name)))
		h.redirectSettings(w, r, name, "state_mismatch")
		return
	}
	if denied := q.Get("error"); denied != "" {
		h.logger.Info("mail callback: consent denied",
			slog.String("provider", string(name)),
			slog.String("reason", denied),
		)
		h.redirectSettings(w, r, name, "access_denied")
		return
	}

	if _, err := h.connect.Complete(r.Context(), userID, name, q.Get("code")); err != nil {
		reason := "internal_error"
		switch {
		case errors.Is(err, apperror.ErrValidation):
			reason = "missing_code"
		case errors.Is(err, apperror.ErrProvider):
			reason = "exchange_failed"
		}
		h.logger.Error("mail callback: connect failed",
			slog.String("provider", string(name)),
			slog.String("error", err.Error()),
		)
		h.redirectSettings(w, r, name, reason)
		return
	}
	h.redirectSettings(w, r, name, "")
}

// HandleDisconnect handles DELETE /api/mail/{provider}.
func (h *MailHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	name, err := providerParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.connect.Disconnect(r.Context(), userID, name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSync handles POST /api/mail/{provider}/sync.
func (h *MailHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	name, err := providerParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.runSync(w, r, userID, name)
}

// HandleInternalSync handles POST /api/internal/mail/{provider}/sync.
//
// Called by trusted backend jobs; the route sits behind
// auth.RequireInternalSecret instead of a user session.
func (h *MailHandler) HandleInternalSync(w http.ResponseWriter, r *http.Request) {
	name, err := providerParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req internalSyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, h.logger, apperror.ValidationFailed("user_id", "user_id is required"))
		return
	}
	h.runSync(w, r, userID, name)
}

func (h *MailHandler) runSync(w http.ResponseWriter, r *http.Request, userID string, name mail.ProviderName) {
	result, err := h.sync.Sync(r.Context(), userID, name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *MailHandler) redirectSettings(w http.ResponseWriter, r *http.Request, name mail.ProviderName, reason string) {
	q := url.Values{}
	if reason == "" {
		q.Set(string(name), "connected")
	} else {
		q.Set(string(name), "error")
		q.Set("reason", reason)
	}
	http.Redirect(w, r, h.appURL+"/settings?"+q.Encode(), http.StatusFound)
}
