package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/command"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/query"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/certificate"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/interface/http/handlers"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLUENCY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetFluency handles GET /fluency/{userId}.
func (s *Server) handleGetFluency(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetFluencyLevel.Handle(r.Context(), query.GetFluencyLevelQuery{
		UserID: r.PathValue("userId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

type setFluencyRequest struct {
	Level string `json:"level"`
}

type setFluencyResponse struct {
	Success               bool                     `json:"success"`
	UserID                string                   `json:"userId"`
	PreviousLevel         fluency.Level            `json:"previousLevel"`
	NewLevel              fluency.Level            `json:"newLevel"`
	FluencyLevelUpdatedAt time.Time                `json:"fluencyLevelUpdatedAt"`
	FluencyLevelUpdatedBy string                   `json:"fluencyLevelUpdatedBy"`
	Metadata              fluency.Metadata         `json:"metadata"`
	Certificate           *certificate.Certificate `json:"certificate,omitempty"`
}

// handleSetFluency handles PATCH /fluency/{userId}.
func (s *Server) handleSetFluency(w http.ResponseWriter, r *http.Request) {
	caller, _ := handlers.CallerFromContext(r.Context())

	// Non-teachers are refused before the body is looked at.
	if err := identity.RequireRole(caller, identity.RoleTeacher); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req setFluencyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.SetFluencyLevel.Handle(r.Context(), command.SetFluencyLevelCommand{
		Caller: caller,
		UserID: r.PathValue("userId"),
		Level:  req.Level,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, setFluencyResponse{
		Success:               true,
		UserID:                res.UserID,
		PreviousLevel:         res.PreviousLevel,
		NewLevel:              res.NewLevel,
		FluencyLevelUpdatedAt: res.UpdatedAt,
		FluencyLevelUpdatedBy: res.UpdatedBy,
		Metadata:              res.NewLevel.Metadata(),
		Certificate:           res.Certificate,
	})
}

// handleGetHistory handles GET /fluency/history/{userId}.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.GetFluencyHistory.Handle(r.Context(), query.GetFluencyHistoryQuery{
		UserID: r.PathValue("userId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*fluency.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type bulkMigrateResponse struct {
	Success       bool `json:"success"`
	MigratedCount int  `json:"migratedCount"`
	SkippedCount  int  `json:"skippedCount"`
	FailedCount   int  `json:"failedCount"`
}

// handleBulkMigrate handles POST /fluency/migrate.
func (s *Server) handleBulkMigrate(w http.ResponseWriter, r *http.Request) {
	caller, _ := handlers.CallerFromContext(r.Context())

	res, err := s.deps.BulkMigrate.Handle(r.Context(), command.BulkMigrateCommand{Caller: caller})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkMigrateResponse{
		Success:       true,
		MigratedCount: res.MigratedCount,
		SkippedCount:  res.SkippedCount,
		FailedCount:   res.FailedCount,
	})
}

// handleListLevels handles GET /fluency/levels.
func (s *Server) handleListLevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, query.ListLevels())
}

// ══════════════════════════════════════════════════════════════════════════════
// CERTIFICATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListCertificates handles GET /certificates/{userId}.
func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := s.deps.Certificates.List(r.Context(), query.ListCertificatesQuery{
		UserID: r.PathValue("userId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if certs == nil {
		certs = []*certificate.Certificate{}
	}
	writeJSON(w, http.StatusOK, certs)
}

// handleGetCertificate handles GET /certificates/{userId}/{certificateId}.
func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := s.deps.Certificates.Get(r.Context(), query.GetCertificateQuery{
		UserID:        r.PathValue("userId"),
		CertificateID: r.PathValue("certificateId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type signupResponse struct {
	Success      bool          `json:"success"`
	UserID       string        `json:"userId"`
	Email        string        `json:"email"`
	Name         string        `json:"name"`
	Role         identity.Role `json:"role"`
	FluencyLevel fluency.Level `json:"fluencyLevel"`
}

// handleSignup handles POST /signup.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, _ := handlers.CallerFromContext(r.Context())
	res, err := s.deps.RegisterLearner.Handle(r.Context(), command.RegisterLearnerCommand{
		Caller:   caller,
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("learner signed up", logger.UserID(res.UserID))

	writeJSON(w, http.StatusCreated, signupResponse{
		Success:      true,
		UserID:       res.UserID,
		Email:        res.Profile.Email,
		Name:         res.Profile.Name,
		Role:         res.Profile.EffectiveRole(),
		FluencyLevel: res.Profile.EffectiveLevel(),
	})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleSignIn handles POST /signin.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.deps.SignIn.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{AccessToken: token, TokenType: "bearer"})
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONAL HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleReady handles GET /ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":  status.Ready,
		"checks": status.Checks,
	})
}

// handleLive handles GET /live.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := map[string]any{
		"uptime_seconds": int64(s.Uptime().Seconds()),
		"version":        s.deps.Version,
		"goroutines":     runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"num_gc":            mem.NumGC,
		},
	}
	if s.deps.Metrics != nil {
		for k, v := range s.deps.Metrics() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}
