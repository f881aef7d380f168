package trigger

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/store"
)

// Runner turns the store's change feed into (previous, new) deliveries for
// the handler. It remembers the last snapshot it saw per game; after a
// restart the first snapshot arrives with a nil previous state, which the
// handler's guard treats as non-finished. Handler errors are logged and the
// snapshot is kept so the next change (or restart) redelivers the transition.
type Runner struct {
	store   store.Store
	handler *Handler

	mu   sync.Mutex
	seen map[string]*models.GameRecord
}

// NewRunner builds a change-feed runner over the given store.
func NewRunner(st store.Store, h *Handler) *Runner {
	return &Runner{
		store:   st,
		handler: h,
		seen:    make(map[string]*models.GameRecord),
	}
}

// Run consumes the change feed until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	changes, err := r.store.WatchAllGames(ctx)
	if err != nil {
		return err
	}

	log.Info().Msg("rating trigger runner started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("rating trigger runner shutting down")
			return nil
		case g, ok := <-changes:
			if !ok {
				log.Warn().Msg("game change feed closed")
				return nil
			}
			r.deliver(ctx, g)
		}
	}
}

func (r *Runner) deliver(ctx context.Context, next *models.GameRecord) {
	r.mu.Lock()
	prev := r.seen[next.ID]
	r.mu.Unlock()

	if err := r.handler.HandleChange(ctx, prev, next); err != nil {
		// Leave the previous snapshot in place: the transition has not been
		// consumed and must be redelivered.
		log.Error().Err(err).Str("game_id", next.ID).Msg("rating trigger failed, awaiting redelivery")
		return
	}

	r.mu.Lock()
	if next.Status == models.StatusFinished && next.EloCalculated {
		// Terminal and fully processed; any further snapshot for this game
		// is a no-op for the handler, so stop tracking it.
		delete(r.seen, next.ID)
	} else {
		r.seen[next.ID] = next
	}
	r.mu.Unlock()
}
