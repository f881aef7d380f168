package store

import (
	"context"
	"errors"

	"github.com/mathrush/backend/internal/models"
)

var (
	// ErrNotFound means the referenced game or rating record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means a guarded write lost the race too many times in a row.
	// Under normal contention mutations retry against a fresh snapshot and
	// this error never surfaces.
	ErrConflict = errors.New("write conflict")

	// ErrExists means CreateGame was called with an id already in use.
	ErrExists = errors.New("record already exists")
)

// MutateFunc is applied to a private copy of the latest game snapshot.
// Returning (false, nil) declines the write: the store commits nothing and
// the mutation is a silent no-op. Returning an error aborts without writing.
//
// The store guarantees the commit is conditional on the snapshot still being
// current, retrying fn against a fresh copy if another writer got there
// first. Increments expressed inside fn are therefore atomic deltas, never
// read-modify-write of a stale snapshot.
type MutateFunc func(g *models.GameRecord) (apply bool, err error)

// GameFilter selects games for QueryGames. Zero fields match everything.
type GameFilter struct {
	Status       models.GameStatus
	OpponentType models.OpponentType
	PlayerID     string
}

// Matches reports whether the record satisfies every set field.
func (f GameFilter) Matches(g *models.GameRecord) bool {
	if f.Status != "" && g.Status != f.Status {
		return false
	}
	if f.OpponentType != "" && g.OpponentType != f.OpponentType {
		return false
	}
	if f.PlayerID != "" && !g.IsParticipant(f.PlayerID) {
		return false
	}
	return true
}

// Store is the synchronized document abstraction both session drivers and the
// rating trigger coordinate through. Implementations must make each committed
// write atomic with respect to the fields it touches, and deliver at least
// the latest state to every watcher after each commit (latest-wins; watchers
// may miss intermediate snapshots, never see them out of order).
type Store interface {
	// CreateGame stores a new record under g.ID and returns the id.
	CreateGame(ctx context.Context, g *models.GameRecord) (string, error)

	// GetGame returns the latest snapshot of one game.
	GetGame(ctx context.Context, id string) (*models.GameRecord, error)

	// MutateGame applies fn as a guarded read-modify-write and returns the
	// snapshot after the attempt: the committed record if fn applied, the
	// latest unchanged record if fn declined.
	MutateGame(ctx context.Context, id string, fn MutateFunc) (*models.GameRecord, error)

	// WatchGame streams snapshots of one game, starting with its current
	// state, until ctx is done. The channel is closed on cancellation.
	WatchGame(ctx context.Context, id string) (<-chan *models.GameRecord, error)

	// WatchAllGames streams snapshots of every game record, starting with
	// the latest state of each existing game. Used by the rating trigger's
	// change feed.
	WatchAllGames(ctx context.Context) (<-chan *models.GameRecord, error)

	// QueryGames lists games matching the filter. Consumed by matchmaking
	// and the lobby, not by the state machine itself.
	QueryGames(ctx context.Context, f GameFilter) ([]*models.GameRecord, error)

	// GetRating returns a player's rating record, or ErrNotFound if the
	// player has never finished a rated game.
	GetRating(ctx context.Context, playerID string) (*models.RatingRecord, error)

	// UpsertRating writes a rating record unconditionally.
	UpsertRating(ctx context.Context, r *models.RatingRecord) error

	// FinalizeRatings persists the outcome of the rating engine for one
	// finished game: it upserts the result's rating records and flips
	// EloCalculated together with the new-rating fields on the game record.
	// The game write is guarded on EloCalculated still being false; if the
	// flag is already set the whole call is a no-op. On failure the flag is
	// left false so a redelivered finish event can retry safely.
	FinalizeRatings(ctx context.Context, gameID string, res RatingResult) error
}

// RatingResult is what the rating trigger hands to FinalizeRatings.
// NewElo2 is nil for bot opponents, whose ratings are fixed per tier and
// never written back.
type RatingResult struct {
	NewElo1 int
	NewElo2 *int
	Ratings []*models.RatingRecord
}
