package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/revtrack/internal/auth"
	"github.com/sakif/revtrack/internal/handler"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository/sqlite"
	"github.com/sakif/revtrack/internal/service"
)

const testSecret = "handler-test-secret-0123456789"

// testEnv is a fully wired API on an in-memory database. Only the mail
// provider and the sync job are faked.
type testEnv struct {
	db        *sqlite.DB
	tokens    *auth.TokenService
	router    chi.Router
	connector *fakeConnector
	syncer    *fakeSyncer
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := quietLogger()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)

	env := &testEnv{
		db:        db,
		tokens:    tokens,
		connector: &fakeConnector{name: mail.Gmail},
		syncer:    &fakeSyncer{},
	}

	authSvc := service.NewAuthService(db.Users(), tokens, auth.NewPasswordServiceForTest(4), logger)
	dealSvc := service.NewDealService(db.Deals(), db.Activities(), logger)
	activitySvc := service.NewActivityService(db.Deals(), db.Activities(), logger)
	goalSvc := service.NewGoalService(db.Goals(), logger)
	connectSvc := service.NewMailConnectService(connectorRegistry{env.connector}, db.MailTokens(), logger)

	authH := handler.NewAuthHandler(authSvc, false, logger)
	dealH := handler.NewDealHandler(dealSvc, logger)
	activityH := handler.NewActivityHandler(activitySvc, logger)
	goalH := handler.NewGoalHandler(goalSvc, logger)
	mailH := handler.NewMailHandler(connectSvc, env.syncer, "http://app.test", false, logger)

	r := chi.NewRouter()
	r.Post("/auth/signup", authH.HandleSignup)
	r.Post("/auth/login", authH.HandleLogin)
	r.Post("/auth/logout", authH.HandleLogout)
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireInternalSecret("internal-secret"))
			r.Post("/internal/mail/{provider}/sync", mailH.HandleInternalSync)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens, authSvc.EnsureExternalUser, logger))
			r.Get("/me", authH.HandleMe)
			r.Get("/pipeline", dealH.HandlePipeline)
			r.Get("/deals", dealH.HandleList)
			r.Post("/deals", dealH.HandleCreate)
			r.Get("/deals/{id}", dealH.HandleGet)
			r.Put("/deals/{id}", dealH.HandleUpdate)
			r.Patch("/deals/{id}/stage", dealH.HandleMoveStage)
			r.Delete("/deals/{id}", dealH.HandleDelete)
			r.Get("/deals/{id}/activities", activityH.HandleList)
			r.Post("/deals/{id}/activities", activityH.HandleCreate)
			r.Delete("/activities/{id}", activityH.HandleDelete)
			r.Get("/goals", goalH.HandleList)
			r.Put("/goals", goalH.HandlePut)
			r.Delete("/goals/{id}", goalH.HandleDelete)
			r.Get("/mail/connections", mailH.HandleConnections)
			r.Get("/mail/{provider}/connect", mailH.HandleConnect)
			r.Get("/mail/{provider}/callback", mailH.HandleCallback)
			r.Delete("/mail/{provider}", mailH.HandleDisconnect)
			r.Post("/mail/{provider}/sync", mailH.HandleSync)
		})
	})
	env.router = r
	return env
}

// newUser creates a user directly in the database and returns a session
// token for it.
func (e *testEnv) newUser(t *testing.T, email string) (*model.User, string) {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "x"}
	require.NoError(t, e.db.Users().Create(context.Background(), u))
	token, err := e.tokens.Generate(u.ID)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

type fakeConnector struct {
	name      mail.ProviderName
	grant     *mail.Grant
	err       error
	codes     []string
	lastState string
}

func (c *fakeConnector) Name() mail.ProviderName { return c.name }

func (c *fakeConnector) AuthURL(state string) string {
	c.lastState = state
	return "https://accounts.example/auth?state=" + state
}

func (c *fakeConnector) Exchange(_ context.Context, code string) (*mail.Grant, error) {
	c.codes = append(c.codes, code)
	if c.err != nil {
		return nil, c.err
	}
	if c.grant == nil {
		return nil, errors.New("no grant")
	}
	g := *c.grant
	return &g, nil
}

// connectorRegistry exposes a single connector.
type connectorRegistry struct{ c *fakeConnector }

func (r connectorRegistry) Connector(name mail.ProviderName) (mail.Connector, bool) {
	if name != r.c.name {
		return nil, false
	}
	return r.c, true
}

func (r connectorRegistry) Names() []mail.ProviderName { return []mail.ProviderName{r.c.name} }

type fakeSyncer struct {
	result *service.SyncResult
	err    error
	calls  []string
}

func (f *fakeSyncer) Sync(_ context.Context, userID string, p mail.ProviderName) (*service.SyncResult, error) {
	f.calls = append(f.calls, userID+"/"+string(p))
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &service.SyncResult{Provider: p}, nil
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[handler.ErrorResponse](t, rr).Error
}
