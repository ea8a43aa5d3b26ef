package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/command"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/query"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/auth"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/kvstore"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/interface/http/handlers"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

const jwtSecret = "http-test-secret-with-more-than-32-characters"

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	t        *testing.T
	handler  http.Handler
	profiles *kvstore.ProfileRepository
	verifier *auth.JWTVerifier
}

func newHarness(t *testing.T, mutate func(*Dependencies)) *harness {
	t.Helper()

	store := kvstore.NewMemoryStore()
	profiles := kvstore.NewProfileRepository(store, nil)
	history := kvstore.NewHistoryRepository(store, nil)
	certs := kvstore.NewCertificateRepository(store, nil)
	lock := kvstore.NewUserLock(kvstore.NewLocalLocker(), time.Second)
	clock := timeutil.NewStepClock(t0, time.Second)

	verifier, err := auth.NewJWTVerifier(auth.JWTVerifierConfig{
		Secret: jwtSecret,
		Clock:  timeutil.FixedClock{T: t0},
	})
	require.NoError(t, err)
	provider := auth.NewLocalIdentityProvider(verifier, bcrypt.MinCost)

	initialize := command.NewInitializeFluencyHandler(profiles, history, lock, clock, nil, nil)
	issue := command.NewIssueCertificateHandler(certs, kvstore.NewCounterAllocator(store), clock, nil, nil)

	deps := Dependencies{
		Authenticator:     auth.NewProfileAuthenticator(verifier, profiles, nil),
		SetFluencyLevel:   command.NewSetFluencyLevelHandler(profiles, history, lock, issue, clock, nil, nil),
		GetFluencyLevel:   query.NewGetFluencyLevelHandler(profiles, initialize, nil),
		GetFluencyHistory: query.NewGetFluencyHistoryHandler(profiles, history),
		Certificates:      query.NewCertificatesHandler(certs),
		BulkMigrate:       command.NewBulkMigrateHandler(profiles, initialize, clock, nil, nil),
		RegisterLearner:   command.NewRegisterLearnerHandler(provider, profiles, initialize, clock, nil, nil),
		SignIn:            provider,
		Metrics: func() map[string]any {
			return map[string]any{"event_bus": map[string]int{"published": 3}}
		},
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	h := &harness{
		t:        t,
		handler:  NewServer(DefaultConfig(), deps).Handler(),
		profiles: profiles,
		verifier: verifier,
	}
	h.seed("t1", "Mevrouw de Vries", identity.RoleTeacher, fluency.C1)
	h.seed("s1", "Sam", identity.RoleStudent, fluency.A1)
	return h
}

// seed stores a profile; an empty level leaves it unmigrated.
func (h *harness) seed(id, name string, role identity.Role, level fluency.Level) {
	h.t.Helper()
	p := fluency.NewProfile(id, name, id+"@school.nl", role, t0.Add(-time.Hour))
	if level != "" {
		p.ApplyLevel(level, t0.Add(-time.Hour), shared.SystemActorID)
	}
	require.NoError(h.t, h.profiles.Save(context.Background(), p))
}

func (h *harness) token(userID string) string {
	h.t.Helper()
	tok, err := h.verifier.Issue(identity.Caller{UserID: userID, Email: userID + "@school.nl"})
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(h.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorResponse](t, rec).Error
}

// ─────────────────────────────────────────────────────────────────────────────
// Fluency
// ─────────────────────────────────────────────────────────────────────────────

func TestListLevels_NoAuth(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/fluency/levels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	levels := decode[[]fluency.Metadata](t, rec)
	require.Len(t, levels, 5)
	assert.Equal(t, fluency.A1, levels[0].Code)
	assert.Equal(t, fluency.C1, levels[4].Code)
}

func TestGetFluency_RequiresToken(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/fluency/s1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing authorization token", errorOf(t, rec))

	rec = h.do(http.MethodGet, "/fluency/s1", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", errorOf(t, rec))
}

func TestGetFluency(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/fluency/s1", h.token("s1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decode[query.FluencyLevelDTO](t, rec)
	assert.Equal(t, "s1", dto.UserID)
	assert.Equal(t, fluency.A1, dto.FluencyLevel)
	assert.Equal(t, "Beginner", dto.Metadata.Name)

	rec = h.do(http.MethodGet, "/fluency/ghost", h.token("s1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", errorOf(t, rec))
}

func TestSetFluency_UpgradeIssuesCertificate(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPatch, "/fluency/s1", h.token("t1"), map[string]string{"level": "A2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Success       bool             `json:"success"`
		UserID        string           `json:"userId"`
		PreviousLevel fluency.Level    `json:"previousLevel"`
		NewLevel      fluency.Level    `json:"newLevel"`
		UpdatedBy     string           `json:"fluencyLevelUpdatedBy"`
		Metadata      fluency.Metadata `json:"metadata"`
		Certificate   *struct {
			ID                string `json:"id"`
			CertificateNumber string `json:"certificateNumber"`
		} `json:"certificate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "s1", res.UserID)
	assert.Equal(t, fluency.A1, res.PreviousLevel)
	assert.Equal(t, fluency.A2, res.NewLevel)
	assert.Equal(t, "t1", res.UpdatedBy)
	assert.Equal(t, fluency.A2, res.Metadata.Code)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, "DLA-2025-A2-000001", res.Certificate.CertificateNumber)

	// Downgrade answers without a certificate.
	rec = h.do(http.MethodPatch, "/fluency/s1", h.token("t1"), map[string]string{"level": "A1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"certificate"`)

	rec = h.do(http.MethodGet, "/fluency/history/s1", h.token("s1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]fluency.HistoryEntry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, fluency.A1, entries[0].NewLevel)
	assert.Equal(t, fluency.A2, entries[1].NewLevel)

	rec = h.do(http.MethodGet, "/certificates/s1", h.token("s1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	certs := decode[[]map[string]any](t, rec)
	require.Len(t, certs, 1)

	path := "/certificates/s1/" + res.Certificate.ID
	rec = h.do(http.MethodGet, path, h.token("s1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/certificates/t1/"+res.Certificate.ID, h.token("s1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Certificate not found", errorOf(t, rec))
}

func TestSetFluency_Errors(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		token  string
		path   string
		body   any
		status int
		msg    string
	}{
		{"student is forbidden", "s1", "/fluency/s1", map[string]string{"level": "A2"}, http.StatusForbidden, "Only teachers can perform this action"},
		{"student with bad body is still forbidden", "s1", "/fluency/s1", "{", http.StatusForbidden, "Only teachers can perform this action"},
		{"unknown user", "t1", "/fluency/ghost", map[string]string{"level": "A2"}, http.StatusNotFound, "User not found"},
		{"unknown level", "t1", "/fluency/s1", map[string]string{"level": "B3"}, http.StatusBadRequest, "Invalid fluency level"},
		{"lowercase level", "t1", "/fluency/s1", map[string]string{"level": "a2"}, http.StatusBadRequest, "Invalid fluency level"},
		{"missing level", "t1", "/fluency/s1", map[string]string{}, http.StatusBadRequest, "Invalid fluency level"},
		{"skipping a level", "t1", "/fluency/s1", map[string]string{"level": "B1"}, http.StatusBadRequest, "Invalid level transition. Can only move one level at a time"},
		{"malformed body", "t1", "/fluency/s1", "{", http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPatch, tt.path, h.token(tt.token), tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, errorOf(t, rec))
		})
	}

	// Nothing above changed the learner.
	p, err := h.profiles.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, fluency.A1, p.FluencyLevel)
}

func TestBulkMigrate(t *testing.T) {
	h := newHarness(t, nil)
	h.seed("s2", "Noor", identity.RoleStudent, "")

	rec := h.do(http.MethodPost, "/fluency/migrate", h.token("s1"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/fluency/migrate", h.token("t1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[bulkMigrateResponse](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.MigratedCount)
	assert.Equal(t, 2, res.SkippedCount)
	assert.Zero(t, res.FailedCount)
}

func TestOptionalRoutes_Unregistered(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.BulkMigrate = nil
		d.RegisterLearner = nil
		d.SignIn = nil
	})

	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodPost, "/fluency/migrate", h.token("t1"), nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/signup", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/signin", "", nil).Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Accounts
// ─────────────────────────────────────────────────────────────────────────────

func TestSignupThenSignIn(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/signup", "", signupRequest{
		Email: "Lotte@Example.nl", Password: "geheim123", Name: "Lotte",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[signupResponse](t, rec)
	assert.True(t, created.Success)
	assert.Equal(t, "lotte@example.nl", created.Email)
	assert.Equal(t, identity.RoleStudent, created.Role)
	assert.Equal(t, fluency.A1, created.FluencyLevel)

	rec = h.do(http.MethodPost, "/signup", "", signupRequest{
		Email: "lotte@example.nl", Password: "geheim123", Name: "Lotte",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "A user with this email already exists", errorOf(t, rec))

	rec = h.do(http.MethodPost, "/signin", "", signInRequest{Email: "lotte@example.nl", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/signin", "", signInRequest{Email: "lotte@example.nl", Password: "geheim123"})
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[signInResponse](t, rec)
	assert.Equal(t, "bearer", tok.TokenType)

	rec = h.do(http.MethodGet, "/fluency/"+created.UserID, tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fluency.A1, decode[query.FluencyLevelDTO](t, rec).FluencyLevel)
}

func TestSignup_TeacherRole(t *testing.T) {
	h := newHarness(t, nil)
	teacherSignup := signupRequest{Email: "piet@school.nl", Password: "geheim123", Name: "Piet", Role: "teacher"}

	rec := h.do(http.MethodPost, "/signup", "", teacherSignup)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Only teachers can perform this action", errorOf(t, rec))

	// No account was created, so the self-made teacher cannot sign in.
	rec = h.do(http.MethodPost, "/signin", "", signInRequest{Email: teacherSignup.Email, Password: teacherSignup.Password})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/signup", h.token("s1"), teacherSignup)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/signup", "not-a-jwt", teacherSignup)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/signup", h.token("t1"), teacherSignup)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, identity.RoleTeacher, decode[signupResponse](t, rec).Role)
}

func TestSignup_Validation(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/signup", "", signupRequest{Email: "nope", Password: "x", Name: "N"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(errorOf(t, rec), "Invalid "))
}

// ─────────────────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────────────────

func TestHealthEndpoints(t *testing.T) {
	checker := handlers.NewDependencyChecker("test", time.Second)
	checker.Require("store", handlers.PingFunc(func(context.Context) error { return nil }))
	checker.Watch("identity_provider", handlers.PingFunc(func(context.Context) error { return errors.New("connection refused") }))

	h := newHarness(t, func(d *Dependencies) { d.HealthChecker = checker })

	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[handlers.HealthStatus](t, rec)
	assert.True(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "connection refused", status.Checks["identity_provider"].Message)

	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/live", "", nil).Code)

	checker.Require("store", handlers.PingFunc(func(context.Context) error { return errors.New("down") }))
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/health", "", nil).Code)
}

func TestHealth_SlowDependencyTimesOut(t *testing.T) {
	checker := handlers.NewDependencyChecker("test", 20*time.Millisecond)
	checker.Require("store", handlers.PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h := newHarness(t, func(d *Dependencies) { d.HealthChecker = checker })

	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status := decode[handlers.HealthStatus](t, rec)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["store"].Message)
	assert.Equal(t, "Some checks failed: store", status.Message)
}

func TestMetrics(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[map[string]any](t, rec)
	assert.Contains(t, m, "uptime_seconds")
	assert.Contains(t, m, "goroutines")
	assert.Equal(t, "test", m["version"])
	assert.Contains(t, m, "event_bus")
}

func TestMiddleware(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/fluency/s1", nil)
	req.Header.Set("Origin", "https://app.example.nl")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = h.do(http.MethodGet, "/fluency/levels", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRecovery(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Metrics = func() map[string]any { panic("boom") }
	})

	rec := h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", errorOf(t, rec))
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 2
	srv := NewServer(cfg, Dependencies{})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fluency/levels", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusForError(shared.ErrInvalidCredentials))
	assert.Equal(t, http.StatusBadRequest, statusForError(shared.ErrInvalidTransition))
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(shared.ErrIdentityProviderDown))
	assert.Equal(t, http.StatusInternalServerError, statusForError(shared.ErrFluencyWriteFailed))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.New("boom")))
}

func TestWriteError_ServerFailuresCarryCause(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{})
	req := httptest.NewRequest(http.MethodPut, "/fluency/s1", nil)

	rec := httptest.NewRecorder()
	s.writeError(rec, req, shared.ErrFluencyWriteFailed.Wrap(errors.New("kv_store: connection refused")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to persist fluency level change: kv_store: connection refused", errorOf(t, rec))

	rec = httptest.NewRecorder()
	s.writeError(rec, req, errors.New("boom"))
	assert.Equal(t, "boom", errorOf(t, rec))

	rec = httptest.NewRecorder()
	s.writeError(rec, req, shared.ErrTeacherRoleRequired)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Only teachers can perform this action", errorOf(t, rec))

	rec = httptest.NewRecorder()
	s.writeError(rec, req, shared.ErrIdentityProviderDown.Wrap(errors.New("dial tcp: timeout")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Identity provider is unavailable: dial tcp: timeout", errorOf(t, rec))
}
