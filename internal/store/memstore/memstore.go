// Package memstore is the in-process reference implementation of the store
// contract. A single mutex makes every compound write atomic, which also
// makes it the backend of choice for tests.
package memstore

import (
	"context"
	"sync"

	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/store"
)

type Store struct {
	mu      sync.Mutex
	games   map[string]*models.GameRecord
	ratings map[string]*models.RatingRecord

	// Watchers receive latest-wins snapshots on a buffered channel of one:
	// if a watcher lags, intermediate states are dropped, never reordered.
	gameWatchers map[string]map[chan *models.GameRecord]struct{}
	allWatchers  map[chan *models.GameRecord]struct{}
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		games:        make(map[string]*models.GameRecord),
		ratings:      make(map[string]*models.RatingRecord),
		gameWatchers: make(map[string]map[chan *models.GameRecord]struct{}),
		allWatchers:  make(map[chan *models.GameRecord]struct{}),
	}
}

func (s *Store) CreateGame(ctx context.Context, g *models.GameRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return "", store.ErrExists
	}
	s.games[g.ID] = g.Clone()
	s.notifyLocked(s.games[g.ID])
	return g.ID, nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*models.GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Store) MutateGame(ctx context.Context, id string, fn store.MutateFunc) (*models.GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	next := g.Clone()
	apply, err := fn(next)
	if err != nil {
		return g.Clone(), err
	}
	if !apply {
		return g.Clone(), nil
	}

	s.games[id] = next
	s.notifyLocked(next)
	return next.Clone(), nil
}

func (s *Store) WatchGame(ctx context.Context, id string) (<-chan *models.GameRecord, error) {
	s.mu.Lock()
	g, ok := s.games[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}

	initial := []*models.GameRecord{g.Clone()}
	ch := make(chan *models.GameRecord, 1)
	if s.gameWatchers[id] == nil {
		s.gameWatchers[id] = make(map[chan *models.GameRecord]struct{})
	}
	s.gameWatchers[id][ch] = struct{}{}
	s.mu.Unlock()

	out := make(chan *models.GameRecord, 1)
	go s.pump(ctx, ch, out, id, initial)
	return out, nil
}

// WatchAllGames replays the latest snapshot of every existing game before
// streaming live changes, so a subscriber that arrives after a game's final
// write still observes it.
func (s *Store) WatchAllGames(ctx context.Context) (<-chan *models.GameRecord, error) {
	s.mu.Lock()
	initial := make([]*models.GameRecord, 0, len(s.games))
	for _, g := range s.games {
		initial = append(initial, g.Clone())
	}
	ch := make(chan *models.GameRecord, 1)
	s.allWatchers[ch] = struct{}{}
	s.mu.Unlock()

	out := make(chan *models.GameRecord, 1)
	go s.pump(ctx, ch, out, "", initial)
	return out, nil
}

// pump replays the subscribe-time snapshots, then forwards live snapshots
// until ctx is done and unregisters the watcher. The snapshots were captured
// under the same lock that registered the watcher, so replay never reorders
// against a concurrent write.
func (s *Store) pump(ctx context.Context, in chan *models.GameRecord, out chan *models.GameRecord, gameID string, initial []*models.GameRecord) {
	defer func() {
		s.mu.Lock()
		if gameID == "" {
			delete(s.allWatchers, in)
		} else if ws := s.gameWatchers[gameID]; ws != nil {
			delete(ws, in)
		}
		s.mu.Unlock()
		close(out)
	}()

	for _, g := range initial {
		select {
		case out <- g:
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case g := <-in:
			select {
			case out <- g:
			case <-ctx.Done():
				return
			}
		}
	}
}

// notifyLocked pushes a snapshot to every watcher, dropping the stale value
// if a watcher's buffer is full. Caller holds s.mu.
func (s *Store) notifyLocked(g *models.GameRecord) {
	for ch := range s.gameWatchers[g.ID] {
		sendLatest(ch, g.Clone())
	}
	for ch := range s.allWatchers {
		sendLatest(ch, g.Clone())
	}
}

func sendLatest(ch chan *models.GameRecord, g *models.GameRecord) {
	for {
		select {
		case ch <- g:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func (s *Store) QueryGames(ctx context.Context, f store.GameFilter) ([]*models.GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.GameRecord
	for _, g := range s.games {
		if f.Matches(g) {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (s *Store) GetRating(ctx context.Context, playerID string) (*models.RatingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.ratings[playerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) UpsertRating(ctx context.Context, r *models.RatingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *r
	s.ratings[r.PlayerID] = &c
	return nil
}

func (s *Store) FinalizeRatings(ctx context.Context, gameID string, res store.RatingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return store.ErrNotFound
	}
	if g.EloCalculated {
		// Another delivery of the same finish event already completed.
		return nil
	}

	next := g.Clone()
	next.EloCalculated = true
	next.Player1NewElo = res.NewElo1
	if res.NewElo2 != nil {
		next.Player2NewElo = *res.NewElo2
	}
	for _, r := range res.Ratings {
		c := *r
		s.ratings[r.PlayerID] = &c
	}
	s.games[gameID] = next
	s.notifyLocked(next)
	return nil
}
