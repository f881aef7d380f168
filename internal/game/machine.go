// Package game implements the session state machine. Every transition is a
// guarded mutation against the shared store: guards embedded in each writer
// make races safe via first-writer-wins, and a losing writer's attempt is
// absorbed as a no-op rather than surfaced as a failure.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/problem"
	"github.com/mathrush/backend/internal/rating"
	"github.com/mathrush/backend/internal/store"
)

var (
	// ErrNotReady means the operation was attempted before the game reached
	// the required state. Callers treat it as a local no-op.
	ErrNotReady = errors.New("game not in required state")

	// ErrForbidden means the acting identity is not allowed to perform the
	// transition. Also a local no-op, never fatal to a session.
	ErrForbidden = errors.New("actor not permitted")
)

// Machine drives the lifecycle of game records. It holds no per-game state;
// all coordination happens through guarded writes to the store.
type Machine struct {
	store          store.Store
	problems       *problem.Generator
	clock          clockwork.Clock
	duration       time.Duration
	startingRating int
}

// NewMachine wires a state machine over the given store.
func NewMachine(st store.Store, gen *problem.Generator, clock clockwork.Clock, duration time.Duration, startingRating int) *Machine {
	return &Machine{
		store:          st,
		problems:       gen,
		clock:          clock,
		duration:       duration,
		startingRating: startingRating,
	}
}

// Duration returns the fixed game length.
func (m *Machine) Duration() time.Duration { return m.duration }

// CreateGame opens a new game for player one. Human-opponent games begin in
// waiting until a second participant joins; bot games bind the synthesized
// bot identity immediately and skip straight to ready.
func (m *Machine) CreateGame(ctx context.Context, player1ID string, opponent models.OpponentType) (*models.GameRecord, error) {
	elo1, err := m.currentRating(ctx, player1ID)
	if err != nil {
		return nil, err
	}

	g := &models.GameRecord{
		ID:                uuid.New().String(),
		Player1ID:         player1ID,
		Player1EloAtStart: elo1,
		Status:            models.StatusWaiting,
		OpponentType:      opponent,
		CreatedAt:         m.clock.Now(),
	}

	if opponent.IsBot() {
		botElo, _ := rating.ForBot(opponent)
		g.Player2ID = opponent.BotID()
		g.Player2EloAtStart = botElo
		g.Status = models.StatusReady
	}

	if _, err := m.store.CreateGame(ctx, g); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	log.Info().
		Str("game_id", g.ID).
		Str("player1_id", player1ID).
		Str("opponent_type", string(opponent)).
		Str("status", string(g.Status)).
		Msg("game created")
	return g, nil
}

// JoinGame binds a second human participant to a waiting game and snapshots
// their rating. Rejected if the game already has a different second player or
// has moved past waiting.
func (m *Machine) JoinGame(ctx context.Context, gameID, player2ID string) (*models.GameRecord, error) {
	elo2, err := m.currentRating(ctx, player2ID)
	if err != nil {
		return nil, err
	}

	return m.store.MutateGame(ctx, gameID, func(g *models.GameRecord) (bool, error) {
		if g.Player2ID != "" && g.Player2ID != player2ID {
			return false, ErrForbidden
		}
		if g.Status != models.StatusWaiting {
			// Rejoining an already-bound game is harmless.
			if g.Player2ID == player2ID {
				return false, nil
			}
			return false, ErrNotReady
		}
		g.Player2ID = player2ID
		g.Player2EloAtStart = elo2
		g.Status = models.StatusReady
		return true, nil
	})
}

// StartGame performs the single ready->playing transition. Only player one
// may start; anyone else is rejected with the record untouched. StartTime and
// the first problem/answer pair land in the same write.
func (m *Machine) StartGame(ctx context.Context, gameID, actorID string) (*models.GameRecord, error) {
	return m.store.MutateGame(ctx, gameID, func(g *models.GameRecord) (bool, error) {
		if actorID != g.Player1ID {
			return false, ErrForbidden
		}
		if g.Status != models.StatusReady {
			return false, ErrNotReady
		}
		now := m.clock.Now()
		first := m.problems.Next()
		g.Status = models.StatusPlaying
		g.StartTime = &now
		g.CurrentProblem = &first
		return true, nil
	})
}

// SubmitAnswer judges a participant's answer against the problem they are
// currently looking at, then records it. Correctness is decided on the
// submitter's snapshot: when both participants solve the same problem in the
// same instant, both submissions are correct and both increments land.
func (m *Machine) SubmitAnswer(ctx context.Context, gameID, actorID string, answer int) (*models.GameRecord, bool, error) {
	g, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, false, err
	}
	if !g.IsParticipant(actorID) {
		return g, false, ErrForbidden
	}
	if g.Status != models.StatusPlaying || g.CurrentProblem == nil {
		return g, false, ErrNotReady
	}
	if answer != g.CurrentProblem.Answer {
		return g, false, nil
	}

	g, err = m.RecordCorrectAnswer(ctx, gameID, actorID)
	if err != nil {
		return g, false, err
	}
	return g, true, nil
}

// RecordCorrectAnswer applies an already-judged correct answer: it increments
// the actor's score as an atomic delta and replaces the problem/answer pair
// in the same write. The increment is applied to whatever snapshot is current
// at commit time, never to the stale one the answer was judged on, so
// concurrent submissions from both participants are both reflected.
func (m *Machine) RecordCorrectAnswer(ctx context.Context, gameID, actorID string) (*models.GameRecord, error) {
	return m.store.MutateGame(ctx, gameID, func(g *models.GameRecord) (bool, error) {
		if !g.IsParticipant(actorID) {
			return false, ErrForbidden
		}
		if g.Status != models.StatusPlaying {
			return false, ErrNotReady
		}
		if actorID == g.Player1ID {
			g.Player1Score++
		} else {
			g.Player2Score++
		}
		next := m.problems.Next()
		g.CurrentProblem = &next
		return true, nil
	})
}

// BumpBotScore adds one point to the simulated opponent. Called once per bot
// tick; declines silently once the game leaves playing so a stale tick can
// never mutate a finished record.
func (m *Machine) BumpBotScore(ctx context.Context, gameID string) (*models.GameRecord, error) {
	return m.store.MutateGame(ctx, gameID, func(g *models.GameRecord) (bool, error) {
		if g.Status != models.StatusPlaying || !g.OpponentType.IsBot() {
			return false, nil
		}
		g.Player2Score++
		return true, nil
	})
}

// FinishIfDue performs the playing->finished transition once the deadline has
// passed. Both participants race to call this; the guard makes the first
// write win and the loser a silent no-op. Winner is decided by strict score
// comparison, equal scores leave WinnerID nil for a draw.
func (m *Machine) FinishIfDue(ctx context.Context, gameID string) (*models.GameRecord, error) {
	return m.store.MutateGame(ctx, gameID, func(g *models.GameRecord) (bool, error) {
		if g.Status != models.StatusPlaying {
			return false, nil
		}
		deadline, ok := g.Deadline(m.duration)
		if !ok || m.clock.Now().Before(deadline) {
			return false, nil
		}
		g.Status = models.StatusFinished
		switch {
		case g.Player1Score > g.Player2Score:
			w := g.Player1ID
			g.WinnerID = &w
		case g.Player2Score > g.Player1Score:
			w := g.Player2ID
			g.WinnerID = &w
		}
		return true, nil
	})
}

// currentRating resolves a player's rating, falling back to the starting
// rating for players who have never finished a rated game.
func (m *Machine) currentRating(ctx context.Context, playerID string) (int, error) {
	r, err := m.store.GetRating(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return m.startingRating, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve rating for %s: %w", playerID, err)
	}
	return r.Rating, nil
}
