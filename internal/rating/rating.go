package rating

import (
	"math"

	"github.com/mathrush/backend/internal/models"
)

// DefaultK is the K-factor applied to every rated game.
const DefaultK = 32

// Outcome values for UpdateRatings, from player one's perspective.
const (
	ScoreLoss = 0.0
	ScoreDraw = 0.5
	ScoreWin  = 1.0
)

// ExpectedScore returns the probability estimate that a player rated ratingA
// beats a player rated ratingB under the Elo model.
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

// UpdateRatings computes both players' new ratings after a game.
// scoreA is 1, 0 or 0.5 for a win, loss or draw by player A. Both sides are
// rounded to the nearest integer.
func UpdateRatings(ratingA, ratingB int, scoreA float64, k int) (newA, newB int) {
	expectedA := ExpectedScore(ratingA, ratingB)
	expectedB := ExpectedScore(ratingB, ratingA)
	scoreB := 1.0 - scoreA

	newA = int(math.Round(float64(ratingA) + float64(k)*(scoreA-expectedA)))
	newB = int(math.Round(float64(ratingB) + float64(k)*(scoreB-expectedB)))
	return newA, newB
}

// ForBot returns the fixed rating assigned to a bot tier. The second return
// is false for human opponents.
func ForBot(t models.OpponentType) (int, bool) {
	switch t {
	case models.OpponentBot1000:
		return 1000, true
	case models.OpponentBot2000:
		return 2000, true
	}
	return 0, false
}
