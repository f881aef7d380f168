// Package trigger reacts to game-record changes and runs the rating update
// exactly once per finished game. Delivery is at-least-once; the idempotency
// guard is the safety net.
package trigger

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/rating"
	"github.com/mathrush/backend/internal/store"
)

// Archiver receives finished games after their ratings are committed.
// Archive failures are logged, never allowed to break rating consistency.
type Archiver interface {
	SaveFinishedGame(ctx context.Context, g *models.GameRecord) error
}

// Handler is the idempotent rating trigger.
type Handler struct {
	store          store.Store
	archive        Archiver // optional
	clock          clockwork.Clock
	k              int
	startingRating int
}

// NewHandler wires a rating trigger. archive may be nil.
func NewHandler(st store.Store, archive Archiver, clock clockwork.Clock, k, startingRating int) *Handler {
	return &Handler{
		store:          st,
		archive:        archive,
		clock:          clock,
		k:              k,
		startingRating: startingRating,
	}
}

// HandleChange is invoked with the previous and new snapshot of a game on
// every committed mutation. It proceeds only on the transition into finished
// from a non-finished prior state while EloCalculated is still false; every
// other delivery, including a redelivery of the same finish, is a no-op.
func (h *Handler) HandleChange(ctx context.Context, prev, next *models.GameRecord) error {
	if next == nil || next.Status != models.StatusFinished {
		return nil
	}
	if prev != nil && prev.Status == models.StatusFinished {
		return nil
	}
	if next.EloCalculated {
		return nil
	}

	// Inputs come from the immutable at-start snapshots, never from the live
	// rating records. A failed attempt may have upserted ratings before the
	// flag write; a redelivery must recompute identical absolute values, not
	// re-apply the delta on top of the half-committed state.
	elo1 := next.Player1EloAtStart
	if elo1 == 0 {
		elo1 = h.startingRating
	}
	var elo2 int
	if botElo, ok := rating.ForBot(next.OpponentType); ok {
		elo2 = botElo
	} else {
		elo2 = next.Player2EloAtStart
		if elo2 == 0 {
			elo2 = h.startingRating
		}
	}

	scoreA := outcome(next)
	newElo1, newElo2 := rating.UpdateRatings(elo1, elo2, scoreA, h.k)

	now := h.clock.Now()
	res := store.RatingResult{
		NewElo1: newElo1,
		Ratings: []*models.RatingRecord{
			{PlayerID: next.Player1ID, Rating: newElo1, LastUpdated: now},
		},
	}
	if !next.OpponentType.IsBot() {
		res.NewElo2 = &newElo2
		res.Ratings = append(res.Ratings, &models.RatingRecord{
			PlayerID: next.Player2ID, Rating: newElo2, LastUpdated: now,
		})
	}

	// All-or-nothing: a failure here leaves EloCalculated false so the next
	// delivery of the same finish retries cleanly.
	if err := h.store.FinalizeRatings(ctx, next.ID, res); err != nil {
		return fmt.Errorf("finalize ratings for game %s: %w", next.ID, err)
	}

	log.Info().
		Str("game_id", next.ID).
		Float64("score_a", scoreA).
		Int("player1_new_elo", newElo1).
		Msg("ratings updated")

	if h.archive != nil {
		final, err := h.store.GetGame(ctx, next.ID)
		if err != nil {
			final = next
		}
		if err := h.archive.SaveFinishedGame(ctx, final); err != nil {
			log.Error().Err(err).Str("game_id", next.ID).Msg("failed to archive finished game")
		}
	}
	return nil
}

// outcome maps final scores to player one's Elo score.
func outcome(g *models.GameRecord) float64 {
	switch {
	case g.Player1Score > g.Player2Score:
		return rating.ScoreWin
	case g.Player2Score > g.Player1Score:
		return rating.ScoreLoss
	default:
		return rating.ScoreDraw
	}
}
