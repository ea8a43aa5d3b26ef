package fluency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

func TestIsAdjacent_AllPairs(t *testing.T) {
	levels := Levels()
	for i, from := range levels {
		for j, to := range levels {
			want := i-j == 1 || j-i == 1
			assert.Equalf(t, want, IsAdjacent(from, to), "%s -> %s", from, to)

			err := ValidateTransition(from, to)
			if want {
				assert.NoErrorf(t, err, "%s -> %s", from, to)
			} else {
				assert.Truef(t, errors.Is(err, shared.ErrInvalidTransition), "%s -> %s", from, to)
			}
		}
	}
}

func TestIsAdjacent_RejectsUnknownLevels(t *testing.T) {
	assert.False(t, IsAdjacent("A0", A1))
	assert.False(t, IsAdjacent(C1, "C2"))
	assert.False(t, IsUpgrade("", A1))
}

func TestIsUpgrade(t *testing.T) {
	assert.True(t, IsUpgrade(A1, A2))
	assert.True(t, IsUpgrade(B2, C1))
	assert.False(t, IsUpgrade(A2, A1))
	assert.False(t, IsUpgrade(B1, B1))
}

func TestParseLevel(t *testing.T) {
	for _, code := range []string{"A1", "A2", "B1", "B2", "C1"} {
		l, err := ParseLevel(code)
		require.NoError(t, err)
		assert.Equal(t, Level(code), l)
	}

	for _, bad := range []string{"a1", "B3", "", "D1", " A1", "A1 ", "C2"} {
		_, err := ParseLevel(bad)
		assert.Truef(t, errors.Is(err, shared.ErrInvalidLevel), "%q", bad)
		assert.Truef(t, errors.Is(err, shared.ErrInvalidInput), "%q", bad)
	}
}

func TestLadderOrder(t *testing.T) {
	assert.Equal(t, []Level{A1, A2, B1, B2, C1}, Levels())
	for i, l := range Levels() {
		assert.Equal(t, i, l.Index())
	}
	assert.Equal(t, -1, Level("X").Index())
}

func TestMetadata(t *testing.T) {
	all := AllMetadata()
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, Levels()[i], m.Code)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.Color)
		assert.NotEmpty(t, m.Icon)
	}
	assert.Equal(t, "Beginner", A1.Metadata().Name)
	assert.Equal(t, Metadata{}, Level("Z9").Metadata())
}
