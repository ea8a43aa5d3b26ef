// Package fluency holds the CEFR fluency ladder and the learner profile it is
// recorded on.
//
// The ladder is a closed, totally ordered set A1 < A2 < B1 < B2 < C1. A learner
// moves along it one step at a time in either direction; there are no
// self-loops and no terminal state. Every accepted move is recorded as an
// append-only HistoryEntry.
package fluency

import (
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

// Level is a CEFR fluency level.
type Level string

// Ladder members in ascending order.
const (
	A1 Level = "A1"
	A2 Level = "A2"
	B1 Level = "B1"
	B2 Level = "B2"
	C1 Level = "C1"
)

// DefaultLevel is assumed for profiles that were never initialized.
const DefaultLevel = A1

var ladder = [...]Level{A1, A2, B1, B2, C1}

// Levels returns the ladder in ascending order.
func Levels() []Level {
	out := make([]Level, len(ladder))
	copy(out, ladder[:])
	return out
}

// Index returns the position of l on the ladder, or -1 when l is not a ladder member.
func (l Level) Index() int {
	for i, m := range ladder {
		if m == l {
			return i
		}
	}
	return -1
}

// IsValid reports whether l is one of the five ladder members.
func (l Level) IsValid() bool {
	return l.Index() >= 0
}

// String returns the level code.
func (l Level) String() string {
	return string(l)
}

// ParseLevel accepts exactly one of the five codes. Matching is case-sensitive
// and no trimming is applied, so "a1" and " A1" are rejected.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.IsValid() {
		return "", shared.ErrInvalidLevel
	}
	return l, nil
}

// IsAdjacent reports whether from and to are neighbours on the ladder.
func IsAdjacent(from, to Level) bool {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 {
		return false
	}
	d := i - j
	return d == 1 || d == -1
}

// IsUpgrade reports whether moving from -> to climbs the ladder.
func IsUpgrade(from, to Level) bool {
	i, j := from.Index(), to.Index()
	return i >= 0 && j > i
}

// ValidateTransition returns ErrInvalidTransition unless from -> to is a single step.
func ValidateTransition(from, to Level) error {
	if !IsAdjacent(from, to) {
		return shared.ErrInvalidTransition
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// METADATA
// ══════════════════════════════════════════════════════════════════════════════

// Metadata is the static display information of a level.
type Metadata struct {
	Code        Level  `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

var metadata = map[Level]Metadata{
	A1: {
		Code:        A1,
		Name:        "Beginner",
		Description: "Can understand and use familiar everyday expressions and very basic phrases.",
		Color:       "#22c55e",
		Icon:        "🌱",
	},
	A2: {
		Code:        A2,
		Name:        "Elementary",
		Description: "Can communicate in simple and routine tasks on familiar topics.",
		Color:       "#14b8a6",
		Icon:        "🌿",
	},
	B1: {
		Code:        B1,
		Name:        "Intermediate",
		Description: "Can deal with most situations likely to arise while travelling in the Netherlands.",
		Color:       "#3b82f6",
		Icon:        "🌷",
	},
	B2: {
		Code:        B2,
		Name:        "Upper Intermediate",
		Description: "Can interact with a degree of fluency and spontaneity with native speakers.",
		Color:       "#8b5cf6",
		Icon:        "🚲",
	},
	C1: {
		Code:        C1,
		Name:        "Advanced",
		Description: "Can express ideas fluently and spontaneously without much obvious searching for expressions.",
		Color:       "#f97316",
		Icon:        "🏆",
	},
}

// Metadata returns the display information of l. Unknown levels yield the zero value.
func (l Level) Metadata() Metadata {
	return metadata[l]
}

// AllMetadata returns metadata for every ladder member in ascending order.
func AllMetadata() []Metadata {
	out := make([]Metadata, 0, len(ladder))
	for _, l := range ladder {
		out = append(out, metadata[l])
	}
	return out
}
