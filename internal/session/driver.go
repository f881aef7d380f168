// Package session hosts the per-participant control loop: it watches the
// shared game record, derives UI-facing state, runs the local countdown that
// can finish the game, and simulates the opponent in bot games.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/game"
	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/store"
)

// Config carries the session-level knobs: the fixed game duration and the
// bot speed table.
type Config struct {
	Duration time.Duration
	BotTicks map[models.OpponentType]time.Duration
}

// DefaultConfig returns production settings: one-minute games, the weaker
// bot scoring roughly every nine seconds and the stronger every five.
func DefaultConfig() Config {
	return Config{
		Duration: 60 * time.Second,
		BotTicks: map[models.OpponentType]time.Duration{
			models.OpponentBot1000: 9 * time.Second,
			models.OpponentBot2000: 5 * time.Second,
		},
	}
}

// View is the locally-derived state pushed to the participant's UI on every
// observed change.
type View struct {
	Game         *models.GameRecord `json:"game"`
	Remaining    time.Duration      `json:"remaining"`
	CanStart     bool               `json:"canStart"`
	CanAnswer    bool               `json:"canAnswer"`
	Disconnected bool               `json:"disconnected"`
}

// Driver is one participant's reactive loop. All coordination with the other
// participant goes through the store; the driver itself shares no memory with
// anyone.
type Driver struct {
	machine  *game.Machine
	store    store.Store
	clock    clockwork.Clock
	cfg      Config
	playerID string
	gameID   string

	views chan View

	mu               sync.Mutex
	last             *models.GameRecord
	botCancel        context.CancelFunc
	countdownStarted bool

	wg sync.WaitGroup
}

// NewDriver builds a driver for one participant of one game.
func NewDriver(m *game.Machine, st store.Store, clock clockwork.Clock, cfg Config, gameID, playerID string) *Driver {
	return &Driver{
		machine:  m,
		store:    st,
		clock:    clock,
		cfg:      cfg,
		playerID: playerID,
		gameID:   gameID,
		views:    make(chan View, 1),
	}
}

// Views delivers derived state, latest-wins: a slow consumer sees the newest
// snapshot, never a backlog of stale ones.
func (d *Driver) Views() <-chan View { return d.views }

// Run watches the game until it finishes or ctx is cancelled. Every timer and
// bot loop the driver owns is cancelled on every exit path.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer d.wg.Wait()

	snapshots, err := d.store.WatchGame(ctx, d.gameID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case g, ok := <-snapshots:
			if !ok {
				// Store-side interruption: recoverable, surface as
				// disconnected rather than corrupting derived state.
				d.pushView(View{Game: d.snapshot(), Disconnected: true})
				return nil
			}
			d.reconcile(ctx, g)
			if g.Status == models.StatusFinished {
				return nil
			}
		}
	}
}

// reconcile folds one pushed snapshot into local state: recompute the view,
// manage the countdown and bot loops, and defensively finish an overdue game.
func (d *Driver) reconcile(ctx context.Context, g *models.GameRecord) {
	d.mu.Lock()
	d.last = g
	d.mu.Unlock()

	now := d.clock.Now()

	if g.Status == models.StatusPlaying {
		if deadline, ok := g.Deadline(d.cfg.Duration); ok && !now.Before(deadline) {
			// Watcher observed playing past the deadline; whoever writes
			// first wins, this attempt may be a no-op.
			if _, err := d.machine.FinishIfDue(ctx, d.gameID); err != nil {
				log.Error().Err(err).Str("game_id", d.gameID).Msg("deadline finish attempt failed")
			}
		} else if ok {
			d.startCountdown(ctx, deadline)
		}
		if g.OpponentType.IsBot() {
			d.startBot(ctx, g.OpponentType)
		}
	} else {
		d.stopBot()
	}

	d.pushView(d.deriveView(g, now))
}

func (d *Driver) deriveView(g *models.GameRecord, now time.Time) View {
	v := View{Game: g}
	if deadline, ok := g.Deadline(d.cfg.Duration); ok {
		if remaining := deadline.Sub(now); remaining > 0 && g.Status == models.StatusPlaying {
			v.Remaining = remaining
		}
	}
	v.CanStart = g.Status == models.StatusReady && d.playerID == g.Player1ID
	v.CanAnswer = g.Status == models.StatusPlaying && g.IsParticipant(d.playerID)
	return v
}

// startCountdown arms the local deadline timer once per session.
func (d *Driver) startCountdown(ctx context.Context, deadline time.Time) {
	d.mu.Lock()
	if d.countdownStarted {
		d.mu.Unlock()
		return
	}
	d.countdownStarted = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := d.clock.NewTimer(deadline.Sub(d.clock.Now()))
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			if _, err := d.machine.FinishIfDue(ctx, d.gameID); err != nil {
				log.Error().Err(err).Str("game_id", d.gameID).Msg("countdown finish attempt failed")
			}
		}
	}()
}

// startBot launches the simulated-opponent loop once. The loop re-reads the
// record every tick and stops the moment the game is no longer playing.
func (d *Driver) startBot(ctx context.Context, tier models.OpponentType) {
	d.mu.Lock()
	if d.botCancel != nil {
		d.mu.Unlock()
		return
	}
	botCtx, cancel := context.WithCancel(ctx)
	d.botCancel = cancel
	d.mu.Unlock()

	interval, ok := d.cfg.BotTicks[tier]
	if !ok {
		interval = 9 * time.Second
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := d.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-botCtx.Done():
				return
			case <-ticker.Chan():
				g, err := d.store.GetGame(botCtx, d.gameID)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						log.Error().Err(err).Str("game_id", d.gameID).Msg("bot tick read failed")
					}
					continue
				}
				if g.Status != models.StatusPlaying {
					return
				}
				if _, err := d.machine.BumpBotScore(botCtx, d.gameID); err != nil {
					log.Error().Err(err).Str("game_id", d.gameID).Msg("bot score bump failed")
				}
			}
		}
	}()
}

func (d *Driver) stopBot() {
	d.mu.Lock()
	cancel := d.botCancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Start issues the ready->playing transition on behalf of the local player.
// Guard violations are reported but are safe to ignore.
func (d *Driver) Start(ctx context.Context) error {
	_, err := d.machine.StartGame(ctx, d.gameID, d.playerID)
	return err
}

// HandleInput judges the participant's typed input against the current
// problem. Input shorter than the expected answer is not judged yet; a
// complete correct answer is submitted as this participant's score bump.
func (d *Driver) HandleInput(ctx context.Context, input string) (bool, error) {
	g := d.snapshot()
	if g == nil || g.Status != models.StatusPlaying || g.CurrentProblem == nil {
		return false, nil
	}

	complete, correct := MatchInput(input, g.CurrentProblem.Answer)
	if !complete || !correct {
		return false, nil
	}

	if _, err := d.machine.RecordCorrectAnswer(ctx, d.gameID, d.playerID); err != nil {
		if errors.Is(err, game.ErrNotReady) || errors.Is(err, game.ErrForbidden) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Driver) snapshot() *models.GameRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Driver) pushView(v View) {
	for {
		select {
		case d.views <- v:
			return
		default:
			select {
			case <-d.views:
			default:
			}
		}
	}
}
