// Package archive persists finished games and rating history to Postgres.
// The shared document store stays authoritative for live play; the archive is
// the durable record consulted by profile and history views.
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathrush/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveFinishedGame writes the final game row and, for human participants,
// their rating-history rows in one transaction. Re-archiving the same game is
// a no-op, so redelivered finish events stay safe here too.
func (r *Repository) SaveFinishedGame(ctx context.Context, g *models.GameRecord) error {
	if g.Status != models.StatusFinished {
		return fmt.Errorf("game %s is not finished", g.ID)
	}

	return runTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO finished_games (
				id, player1_id, player2_id, opponent_type,
				player1_score, player2_score,
				player1_elo_at_start, player2_elo_at_start,
				player1_new_elo, player2_new_elo,
				winner_id, started_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING`,
			g.ID, g.Player1ID, g.Player2ID, string(g.OpponentType),
			g.Player1Score, g.Player2Score,
			g.Player1EloAtStart, g.Player2EloAtStart,
			g.Player1NewElo, g.Player2NewElo,
			g.WinnerID, g.StartTime, g.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert finished game: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if err := insertRatingChange(ctx, tx, g.ID, g.Player1ID, g.Player1EloAtStart, g.Player1NewElo); err != nil {
			return err
		}
		if !g.OpponentType.IsBot() {
			if err := insertRatingChange(ctx, tx, g.ID, g.Player2ID, g.Player2EloAtStart, g.Player2NewElo); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRatingChange(ctx context.Context, tx pgx.Tx, gameID, playerID string, oldElo, newElo int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO rating_history (game_id, player_id, old_rating, new_rating)
		VALUES ($1, $2, $3, $4)`,
		gameID, playerID, oldElo, newElo,
	)
	if err != nil {
		return fmt.Errorf("insert rating change for %s: %w", playerID, err)
	}
	return nil
}

// RecentGames lists a player's most recent finished games, newest first.
func (r *Repository) RecentGames(ctx context.Context, playerID string, limit int) ([]*models.GameRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, player1_id, player2_id, opponent_type,
			player1_score, player2_score,
			player1_elo_at_start, player2_elo_at_start,
			player1_new_elo, player2_new_elo,
			winner_id, started_at, created_at
		FROM finished_games
		WHERE player1_id = $1 OR player2_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent games: %w", err)
	}
	defer rows.Close()

	var out []*models.GameRecord
	for rows.Next() {
		var g models.GameRecord
		var opponent string
		if err := rows.Scan(
			&g.ID, &g.Player1ID, &g.Player2ID, &opponent,
			&g.Player1Score, &g.Player2Score,
			&g.Player1EloAtStart, &g.Player2EloAtStart,
			&g.Player1NewElo, &g.Player2NewElo,
			&g.WinnerID, &g.StartTime, &g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan finished game: %w", err)
		}
		g.OpponentType = models.OpponentType(opponent)
		g.Status = models.StatusFinished
		out = append(out, &g)
	}
	return out, rows.Err()
}
