package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoUser writes the user ID the middleware stored in the context.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := UserIDFromContext(r.Context())
	w.Write([]byte(id))
})

func TestRequireAuth_BearerAndCookie(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate("user-1")
	h := RequireAuth(ts, nil, discardLogger())(echoUser)

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", rec.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", rec.Body.String())
	})
}

func TestRequireAuth_Unauthorized(t *testing.T) {
	ts := newTestTokenService(t)
	expired, _ := ts.GenerateWithDuration("user-1", -time.Minute)
	h := RequireAuth(ts, nil, discardLogger())(echoUser)

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "Bearer nope",
		"expired": "Bearer " + expired,
		"scheme":  "Basic dXNlcjpwYXNz",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized","message":"valid authentication required"}`, rec.Body.String())
		})
	}
}

func TestRequireAuth_ProvisionsExternalIdentity(t *testing.T) {
	v := stubVerifier{id: &Identity{UserID: "ext-1", Email: "e@x.com", External: true}}
	var provisioned *Identity
	provision := func(_ context.Context, id *Identity) error {
		provisioned = id
		return nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer external")
	rec := httptest.NewRecorder()
	RequireAuth(v, provision, discardLogger())(echoUser).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ext-1", rec.Body.String())
	if assert.NotNil(t, provisioned) {
		assert.Equal(t, "e@x.com", provisioned.Email)
	}
}

func TestRequireAuth_ProvisionFailure(t *testing.T) {
	v := stubVerifier{id: &Identity{UserID: "ext-1", External: true}}
	provision := func(context.Context, *Identity) error { return errors.New("db down") }

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer external")
	rec := httptest.NewRecorder()
	RequireAuth(v, provision, discardLogger())(echoUser).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"internal_error","message":"an unexpected error occurred"}`, rec.Body.String())
}

func TestRequireInternalSecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"match", "s3cret", "s3cret", http.StatusNoContent},
		{"mismatch", "s3cret", "guess", http.StatusForbidden},
		{"missing header", "s3cret", "", http.StatusForbidden},
		{"route disabled", "", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/internal/mail/gmail/sync", nil)
			if tc.sent != "" {
				req.Header.Set(InternalSecretHeader, tc.sent)
			}
			rec := httptest.NewRecorder()
			RequireInternalSecret(tc.configured)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusForbidden {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestStateCookie_SingleUse(t *testing.T) {
	state := NewState()
	assert.NotEmpty(t, state)
	assert.NotEqual(t, state, NewState())

	rec := httptest.NewRecorder()
	SetStateCookie(rec, "gmail", state, false)
	cookies := rec.Result().Cookies()
	if !assert.Len(t, cookies, 1) {
		return
	}
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/mail/gmail/callback", nil)
	req.AddCookie(cookies[0])

	assert.False(t, ConsumeState(httptest.NewRecorder(), req, "gmail", "forged"))
	assert.False(t, ConsumeState(httptest.NewRecorder(), req, "outlook", state))
	assert.False(t, ConsumeState(httptest.NewRecorder(), req, "gmail", ""))

	clear := httptest.NewRecorder()
	assert.True(t, ConsumeState(clear, req, "gmail", state))
	cleared := clear.Result().Cookies()
	if assert.Len(t, cleared, 1) {
		assert.Equal(t, -1, cleared[0].MaxAge)
	}
}
