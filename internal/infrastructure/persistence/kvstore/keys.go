package kvstore

import (
	"strconv"
	"strings"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

// Key layout. Identifier segments never contain the separator, so a prefix
// ending in ":" only ever matches one user's records.
const (
	userPrefix        = "user:"
	historyPrefix     = "fluency-history:"
	certificatePrefix = "certificate:"
	counterPrefix     = "certificate-counter:"
	fluencyLockPrefix = "lock:fluency:"
)

// UserKey is user:{id}.
func UserKey(userID string) string {
	return userPrefix + userID
}

// UserPrefix matches every profile key.
func UserPrefix() string {
	return userPrefix
}

// HistoryKey is fluency-history:{userId}:{timestamp}.
func HistoryKey(userID string, at time.Time) string {
	return HistoryPrefix(userID) + shared.SortableTimestamp(at)
}

// HistoryPrefix matches one user's history entries.
func HistoryPrefix(userID string) string {
	return historyPrefix + userID + shared.IDSeparator
}

// CertificateKey is certificate:{userId}:{certificateId}.
func CertificateKey(userID, certID string) string {
	return CertificatePrefix(userID) + certID
}

// CertificatePrefix matches one user's certificates.
func CertificatePrefix(userID string) string {
	return certificatePrefix + userID + shared.IDSeparator
}

// CounterKey is certificate-counter:{year}:{level}.
func CounterKey(year int, level fluency.Level) string {
	return counterPrefix + strconv.Itoa(year) + shared.IDSeparator + string(level)
}

// FluencyLockKey is lock:fluency:{userId}.
func FluencyLockKey(userID string) string {
	return fluencyLockPrefix + userID
}

// isSingleSegment reports whether key is prefix followed by exactly one ID.
func isSingleSegment(key, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || rest == "" || strings.Contains(rest, shared.IDSeparator) {
		return "", false
	}
	return rest, true
}
