package handler_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/auth"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/service"
)

func TestMailSync_ResponseShape(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.newUser(t, "rep@example.com")
	env.syncer.result = &service.SyncResult{Provider: mail.Gmail, Synced: 3, ContactsScanned: 2, ContactsFailed: 1}

	rr := env.do(t, http.MethodPost, "/api/mail/gmail/sync", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"provider":"gmail","synced":3,"contacts_scanned":2,"contacts_failed":1}`, rr.Body.String())
	assert.Equal(t, []string{user.ID + "/gmail"}, env.syncer.calls)
}

func TestMailSync_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not connected", apperror.NotConnected("gmail"), http.StatusNotFound, "not_connected"},
		{"auth expired", apperror.AuthExpired("gmail", errors.New("invalid_grant")), http.StatusUnauthorized, "auth_expired"},
		{"provider", apperror.Provider("gmail", errors.New("503")), http.StatusBadGateway, "provider_error"},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, token := env.newUser(t, "rep@example.com")
			env.syncer.err = tt.err

			rr := env.do(t, http.MethodPost, "/api/mail/gmail/sync", token, nil)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, errorCode(t, rr))
			assert.NotContains(t, rr.Body.String(), "disk full")
		})
	}
}

func TestMailSync_UnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.newUser(t, "rep@example.com")

	rr := env.do(t, http.MethodPost, "/api/mail/yahoo/sync", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", errorCode(t, rr))
	assert.Empty(t, env.syncer.calls)
}

func internalSync(env *testEnv, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/internal/mail/outlook/sync", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(auth.InternalSecretHeader, secret)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func TestInternalSync(t *testing.T) {
	env := newTestEnv(t)

	rr := internalSync(env, "", `{"user_id":"u-1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = internalSync(env, "wrong", `{"user_id":"u-1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = internalSync(env, "internal-secret", `{"user_id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation_error", errorCode(t, rr))

	rr = internalSync(env, "internal-secret", ``)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Empty(t, env.syncer.calls)

	rr = internalSync(env, "internal-secret", `{"user_id":"u-1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"u-1/outlook"}, env.syncer.calls)
	assert.Contains(t, rr.Body.String(), `"provider":"outlook"`)
}

// connectAndCallback runs the browser side of the consent flow: it follows
// the connect redirect, then calls back with the returned state and the
// state cookie.
func connectAndCallback(t *testing.T, env *testEnv, token string, mutate func(q url.Values)) *httptest.ResponseRecorder {
	t.Helper()
	rr := env.do(t, http.MethodGet, "/api/mail/gmail/connect", token, nil)
	require.Equal(t, http.StatusFound, rr.Code, rr.Body.String())

	var stateCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "oauth_state_gmail" {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	require.NotEmpty(t, stateCookie.Value)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example", loc.Host)
	assert.Equal(t, stateCookie.Value, loc.Query().Get("state"))

	q := url.Values{"code": {"auth-code"}, "state": {stateCookie.Value}}
	if mutate != nil {
		mutate(q)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/mail/gmail/callback?"+q.Encode(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: stateCookie.Name, Value: stateCookie.Value})
	out := httptest.NewRecorder()
	env.router.ServeHTTP(out, req)
	return out
}

func TestMailConnect_CallbackStoresGrant(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.newUser(t, "rep@example.com")
	env.connector.grant = &mail.Grant{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
		AccountEmail: "rep@gmail.example",
	}

	rr := connectAndCallback(t, env, token, nil)
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "http://app.test/settings?gmail=connected", rr.Header().Get("Location"))
	assert.Equal(t, []string{"auth-code"}, env.connector.codes)

	rr = env.do(t, http.MethodGet, "/api/mail/connections", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Available   []string             `json:"available"`
		Connections []service.Connection `json:"connections"`
	}](t, rr)
	assert.Equal(t, []string{"gmail"}, body.Available)
	require.Len(t, body.Connections, 1)
	assert.Equal(t, "rep@gmail.example", body.Connections[0].AccountEmail)
	assert.NotContains(t, rr.Body.String(), "access")

	rr = env.do(t, http.MethodDelete, "/api/mail/gmail", token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/mail/gmail", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_connected", errorCode(t, rr))
}

func TestMailConnect_CallbackFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(q url.Values)
		exchErr error
		reason  string
	}{
		{"state mismatch", func(q url.Values) { q.Set("state", "forged") }, nil, "state_mismatch"},
		{"missing state", func(q url.Values) { q.Del("state") }, nil, "state_mismatch"},
		{"consent denied", func(q url.Values) { q.Set("error", "access_denied") }, nil, "access_denied"},
		{"missing code", func(q url.Values) { q.Del("code") }, nil, "missing_code"},
		{"exchange failed", nil, errors.New("invalid_grant"), "exchange_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, token := env.newUser(t, "rep@example.com")
			env.connector.err = tt.exchErr

			rr := connectAndCallback(t, env, token, tt.mutate)
			require.Equal(t, http.StatusFound, rr.Code)
			loc := rr.Header().Get("Location")
			assert.True(t, strings.HasPrefix(loc, "http://app.test/settings?"), loc)
			assert.Contains(t, loc, "gmail=error")
			assert.Contains(t, loc, "reason="+tt.reason)

			rr = env.do(t, http.MethodGet, "/api/mail/connections", token, nil)
			assert.Contains(t, rr.Body.String(), `"connections":[]`)
		})
	}
}

func TestMailConnect_UnconfiguredProvider(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.newUser(t, "rep@example.com")

	rr := env.do(t, http.MethodGet, "/api/mail/outlook/connect", token, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
}
