package config

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, "Europe/Amsterdam", cfg.App.Location.String())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, AuthLocal, cfg.Auth.Provider)
	assert.Equal(t, devJWTSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, ":8080", cfg.HTTP.Addr())
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.True(t, cfg.Features.IsEnabled(FeatureLazyMigration, nil))
}

func TestFromEnv_Supabase(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-role")
	t.Setenv("SUPABASE_JWT_SECRET", testSecret)
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/postgres")
	t.Setenv("HTTP_CORS_ORIGINS", "https://app.example.nl, http://localhost:5173,")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, AuthSupabase, cfg.Auth.Provider)
	assert.Equal(t, "authenticated", cfg.Auth.JWTAudience)
	assert.Equal(t, StorePostgres, cfg.Store.Backend)
	assert.Equal(t, []string{"https://app.example.nl", "http://localhost:5173"}, cfg.HTTP.CORSOrigins)
}

func TestFromEnv_DatabaseURLFromParts(t *testing.T) {
	t.Setenv("DB_HOST", "db.abc.supabase.co")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres:pw@db.abc.supabase.co:5432/postgres?sslmode=require", cfg.Database.URL)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "etcd"}, "Backend"},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}, "DATABASE_URL is required"},
		{"supabase without key", map[string]string{"SUPABASE_URL": "https://abc.supabase.co", "JWT_SECRET": testSecret}, "SUPABASE_SERVICE_ROLE_KEY"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "JWTSecret"},
		{"bad port", map[string]string{"PORT": "70000"}, "Port"},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}, "LogLevel"},
		{"memory store in production", map[string]string{"APP_ENV": "production", "JWT_SECRET": testSecret}, "memory store"},
		{"min above max conns", map[string]string{"DB_MIN_CONNS": "20"}, "MinConns"},
		{"single data connection", map[string]string{"DB_MAX_CONNS": "1", "DB_MIN_CONNS": "0"}, "Database.MaxConns"},
		{"no lock connections", map[string]string{"DB_LOCK_CONNS": "0"}, "LockConns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromEnv_BadTimezone(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "APP_TIMEZONE")
}

func TestValidate_RedactsSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "tiny-secret")
	_, err := FromEnv()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "tiny-secret")
	assert.Contains(t, err.Error(), "[REDACTED]")
}

// ─────────────────────────────────────────────────────────────────────────────
// Feature flags
// ─────────────────────────────────────────────────────────────────────────────

func TestFeatureFlags_EnvOverrides(t *testing.T) {
	t.Setenv("FEATURE_FLUENCY_LAZY_MIGRATION", "false")
	t.Setenv("FEATURE_SIGNUP_ENABLED", "0")
	t.Setenv("FEATURE_CERTIFICATE_ISSUANCE", "not-a-value")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureLazyMigration, nil))
	assert.False(t, ff.IsEnabled(FeatureSignup, nil))
	assert.True(t, ff.IsEnabled(FeatureCertificateIssuance, nil))
	assert.False(t, ff.IsEnabled("unknown.feature", nil))
}

func TestFeatureFlags_RolloutIsStablePerLearner(t *testing.T) {
	t.Setenv("FEATURE_CERTIFICATE_ISSUANCE", "50")
	ff := LoadFeatureFlags()
	assert.True(t, ff.IsEnabled(FeatureCertificateIssuance, nil))

	in := 0
	for i := 0; i < 1000; i++ {
		id := "user-" + strconv.Itoa(i)
		first := ff.EnabledFor(FeatureCertificateIssuance, id)
		assert.Equal(t, first, ff.EnabledFor(FeatureCertificateIssuance, id))
		assert.Equal(t, first, LoadFeatureFlags().EnabledFor(FeatureCertificateIssuance, id))
		if first {
			in++
		}
	}
	assert.Greater(t, in, 0)
	assert.Less(t, in, 1000)

	assert.True(t, ff.IsEnabled(FeatureCertificateIssuance, &FeatureContext{UserID: "t1", IsTeacher: true}))
}

func TestFeatureFlags_FullAndZeroRollout(t *testing.T) {
	t.Setenv("FEATURE_FLUENCY_LAZY_MIGRATION", "0")
	t.Setenv("FEATURE_CERTIFICATE_ISSUANCE", "150")

	ff := LoadFeatureFlags()
	for _, id := range []string{"a", "b", "c"} {
		assert.False(t, ff.EnabledFor(FeatureLazyMigration, id))
		assert.True(t, ff.EnabledFor(FeatureCertificateIssuance, id), "out-of-range value is ignored")
	}
}

func TestFeatureFlags_All(t *testing.T) {
	all := NewFeatureFlags().All()
	require.Len(t, all, 4)
	assert.Equal(t, FeatureCertificateIssuance, all[0].Name)
	assert.Equal(t, FeatureSignup, all[3].Name)
}
