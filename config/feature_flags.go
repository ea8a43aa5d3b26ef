package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags holds feature toggles. A feature may be rolled out to a
// percentage of learners; a learner's bucket is stable across restarts.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`

	// RolloutPercent (0-100) of learners the feature applies to.
	RolloutPercent int `json:"rolloutPercent"`
}

// FeatureContext identifies the learner a per-learner feature is evaluated
// for. Teachers are always inside the rollout.
type FeatureContext struct {
	UserID    string
	IsTeacher bool
}

// Predefined feature flag names.
const (
	// Profiles found without a level are given A1 when read. Per learner.
	FeatureLazyMigration = "fluency.lazy_migration"

	// Teachers may trigger bulk migration over HTTP.
	FeatureBulkMigration = "fluency.bulk_migration"

	// Upgrades issue certificates. Per learner.
	FeatureCertificateIssuance = "certificate.issuance"

	// POST /signup is served.
	FeatureSignup = "signup.enabled"
)

// LoadFeatureFlags returns the defaults with environment overrides applied.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	for _, f := range []Feature{
		{Name: FeatureLazyMigration, Description: "Assign A1 to unmigrated profiles on read", Enabled: true, RolloutPercent: 100},
		{Name: FeatureBulkMigration, Description: "Expose POST /fluency/migrate", Enabled: true, RolloutPercent: 100},
		{Name: FeatureCertificateIssuance, Description: "Issue a certificate on every upgrade", Enabled: true, RolloutPercent: 100},
		{Name: FeatureSignup, Description: "Expose POST /signup", Enabled: true, RolloutPercent: 100},
	} {
		f := f
		ff.features[f.Name] = &f
	}
	return ff
}

// loadFromEnvironment reads FEATURE_<NAME>=true|false|<percent>.
//
//	FEATURE_FLUENCY_LAZY_MIGRATION=false
//	FEATURE_CERTIFICATE_ISSUANCE=25    (a quarter of learners)
//
// Values that are neither a boolean nor 0-100 are ignored.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey maps "fluency.lazy_migration" to
// "FEATURE_FLUENCY_LAZY_MIGRATION".
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled reports whether a feature applies. A nil ctx asks whether the
// feature is on for anyone; with a ctx a partial rollout is decided per
// learner.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" && !ctx.IsTeacher {
		return inRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// EnabledFor is IsEnabled for a single learner.
func (ff *FeatureFlags) EnabledFor(featureName, userID string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{UserID: userID})
}

// inRollout buckets a learner by hashing the feature name and user id.
func inRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName))
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// All returns a copy of every feature sorted by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
