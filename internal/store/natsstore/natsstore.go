// Package natsstore backs the store contract with NATS JetStream key-value
// buckets. Guarded mutations use revision-based compare-and-swap; watchers
// ride the bucket's native watch stream.
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/store"
)

// Config holds bucket and connection settings.
type Config struct {
	URL           string
	GamesBucket   string
	RatingsBucket string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the settings used outside of tests.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		GamesBucket:   "GAMES",
		RatingsBucket: "RATINGS",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// maxCASAttempts bounds the retry loop in MutateGame. With two writers per
// game contention resolves in one or two rounds; hitting the bound means
// something is systematically wrong.
const maxCASAttempts = 10

type Store struct {
	nc      *nats.Conn
	games   jetstream.KeyValue
	ratings jetstream.KeyValue
}

var _ store.Store = (*Store)(nil)

// Connect dials NATS with reconnect handling and wraps the connection in a
// Store.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	s, err := New(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// New builds a Store over an existing connection, creating the key-value
// buckets if they do not exist yet.
func New(ctx context.Context, nc *nats.Conn, cfg Config) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	games, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: cfg.GamesBucket})
	if err != nil {
		return nil, fmt.Errorf("ensure games bucket: %w", err)
	}
	ratings, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: cfg.RatingsBucket})
	if err != nil {
		return nil, fmt.Errorf("ensure ratings bucket: %w", err)
	}

	return &Store{nc: nc, games: games, ratings: ratings}, nil
}

// Close shuts down the underlying connection.
func (s *Store) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Store) CreateGame(ctx context.Context, g *models.GameRecord) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("marshal game record: %w", err)
	}
	if _, err := s.games.Create(ctx, g.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return "", store.ErrExists
		}
		return "", fmt.Errorf("create game record: %w", err)
	}
	return g.ID, nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*models.GameRecord, error) {
	entry, err := s.games.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get game record: %w", err)
	}
	return decodeGame(entry.Value())
}

func (s *Store) MutateGame(ctx context.Context, id string, fn store.MutateFunc) (*models.GameRecord, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entry, err := s.games.Get(ctx, id)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return nil, store.ErrNotFound
			}
			return nil, fmt.Errorf("get game record: %w", err)
		}

		g, err := decodeGame(entry.Value())
		if err != nil {
			return nil, err
		}

		apply, err := fn(g)
		if err != nil {
			return g, err
		}
		if !apply {
			return g, nil
		}

		data, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("marshal game record: %w", err)
		}

		_, err = s.games.Update(ctx, id, data, entry.Revision())
		if err == nil {
			return g, nil
		}
		if !isWrongRevision(err) {
			return nil, fmt.Errorf("update game record: %w", err)
		}
		// Lost the race; fn runs again against the winner's snapshot.
		log.Debug().Str("game_id", id).Int("attempt", attempt+1).Msg("CAS conflict, retrying against fresh snapshot")
	}
	return nil, store.ErrConflict
}

func (s *Store) WatchGame(ctx context.Context, id string) (<-chan *models.GameRecord, error) {
	w, err := s.games.Watch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("watch game record: %w", err)
	}
	return s.forward(ctx, w), nil
}

func (s *Store) WatchAllGames(ctx context.Context) (<-chan *models.GameRecord, error) {
	w, err := s.games.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch games bucket: %w", err)
	}
	return s.forward(ctx, w), nil
}

// forward converts raw key-value entries into game snapshots until ctx ends.
func (s *Store) forward(ctx context.Context, w jetstream.KeyWatcher) <-chan *models.GameRecord {
	out := make(chan *models.GameRecord, 1)
	go func() {
		defer close(out)
		defer func() {
			if err := w.Stop(); err != nil {
				log.Error().Err(err).Msg("failed to stop key watcher")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				// A nil entry marks the end of the initial replay.
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				g, err := decodeGame(entry.Value())
				if err != nil {
					log.Error().Err(err).Str("key", entry.Key()).Msg("skipping undecodable game snapshot")
					continue
				}
				select {
				case out <- g:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *Store) QueryGames(ctx context.Context, f store.GameFilter) ([]*models.GameRecord, error) {
	keys, err := s.games.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list game keys: %w", err)
	}

	var out []*models.GameRecord
	for _, key := range keys {
		g, err := s.GetGame(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.Matches(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Store) GetRating(ctx context.Context, playerID string) (*models.RatingRecord, error) {
	entry, err := s.ratings.Get(ctx, playerID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get rating record: %w", err)
	}

	var r models.RatingRecord
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal rating record: %w", err)
	}
	return &r, nil
}

func (s *Store) UpsertRating(ctx context.Context, r *models.RatingRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rating record: %w", err)
	}
	if _, err := s.ratings.Put(ctx, r.PlayerID, data); err != nil {
		return fmt.Errorf("put rating record: %w", err)
	}
	return nil
}

// FinalizeRatings cannot span both buckets in one transaction, so it writes
// the rating records first and commits the game-record flag last. Rating
// writes are absolute values derived from the immutable at-start snapshots,
// so a redelivered finish event that repeats them converges to the same
// state; the guarded flag write remains the single commit point.
func (s *Store) FinalizeRatings(ctx context.Context, gameID string, res store.RatingResult) error {
	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.EloCalculated {
		return nil
	}

	for _, r := range res.Ratings {
		if err := s.UpsertRating(ctx, r); err != nil {
			return err
		}
	}

	_, err = s.MutateGame(ctx, gameID, func(g *models.GameRecord) (bool, error) {
		if g.EloCalculated {
			return false, nil
		}
		g.EloCalculated = true
		g.Player1NewElo = res.NewElo1
		if res.NewElo2 != nil {
			g.Player2NewElo = *res.NewElo2
		}
		return true, nil
	})
	return err
}

func decodeGame(data []byte) (*models.GameRecord, error) {
	var g models.GameRecord
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal game record: %w", err)
	}
	return &g, nil
}

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}
