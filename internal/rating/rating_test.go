package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathrush/backend/internal/models"
)

func TestExpectedScoreComplement(t *testing.T) {
	ratings := []int{-400, 0, 200, 1000, 1500, 2000, 2800}
	for _, a := range ratings {
		for _, b := range ratings {
			sum := ExpectedScore(a, b) + ExpectedScore(b, a)
			assert.InDelta(t, 1.0, sum, 1e-9, "expected scores for %d vs %d must sum to 1", a, b)
		}
	}
}

func TestExpectedScoreEqualRatings(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1200, 1200), 1e-9)
}

func TestUpdateRatingsDrawIsZeroSum(t *testing.T) {
	ratings := []int{100, 200, 800, 1000, 1600, 2400}
	for _, a := range ratings {
		for _, b := range ratings {
			newA, newB := UpdateRatings(a, b, ScoreDraw, DefaultK)
			assert.Equal(t, newA-a, -(newB - b),
				"draw adjustment for %d vs %d must be symmetric", a, b)
		}
	}
}

func TestUpdateRatingsKnownValues(t *testing.T) {
	// 200 vs 1000 is an eight-hundred point gap: the underdog winning takes
	// nearly the full K from the favourite.
	newA, newB := UpdateRatings(200, 1000, ScoreWin, 32)
	assert.Equal(t, 232, newA)
	assert.Equal(t, 968, newB)

	// Equal ratings, decisive result: exactly half of K moves.
	newA, newB = UpdateRatings(1000, 1000, ScoreWin, 32)
	assert.Equal(t, 1016, newA)
	assert.Equal(t, 984, newB)

	// A draw between equals moves nothing.
	newA, newB = UpdateRatings(1000, 1000, ScoreDraw, 32)
	assert.Equal(t, 1000, newA)
	assert.Equal(t, 1000, newB)
}

func TestForBot(t *testing.T) {
	r, ok := ForBot(models.OpponentBot1000)
	require.True(t, ok)
	assert.Equal(t, 1000, r)

	r, ok = ForBot(models.OpponentBot2000)
	require.True(t, ok)
	assert.Equal(t, 2000, r)

	_, ok = ForBot(models.OpponentHuman)
	assert.False(t, ok)
}
