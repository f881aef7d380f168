package game

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/problem"
	"github.com/mathrush/backend/internal/store/memstore"
)

const (
	testDuration = 60 * time.Second
	testStarting = 200
)

func newTestMachine(t *testing.T) (*Machine, *memstore.Store, *clockwork.FakeClock) {
	t.Helper()
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	gen := problem.New(rand.New(rand.NewSource(7)))
	return NewMachine(st, gen, clock, testDuration, testStarting), st, clock
}

func TestCreateGameHumanStartsWaiting(t *testing.T) {
	m, _, _ := newTestMachine(t)
	g, err := m.CreateGame(context.Background(), "alice", models.OpponentHuman)
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaiting, g.Status)
	assert.Equal(t, "alice", g.Player1ID)
	assert.Empty(t, g.Player2ID)
	assert.Equal(t, testStarting, g.Player1EloAtStart)
	assert.Nil(t, g.CurrentProblem)
	assert.Nil(t, g.StartTime)
}

func TestCreateGameBotStartsReady(t *testing.T) {
	m, _, _ := newTestMachine(t)
	g, err := m.CreateGame(context.Background(), "alice", models.OpponentBot2000)
	require.NoError(t, err)

	assert.Equal(t, models.StatusReady, g.Status)
	assert.Equal(t, "bot-2000", g.Player2ID)
	assert.Equal(t, 2000, g.Player2EloAtStart)
}

func TestJoinGame(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	g, err := m.CreateGame(ctx, "alice", models.OpponentHuman)
	require.NoError(t, err)

	joined, err := m.JoinGame(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, joined.Status)
	assert.Equal(t, "bob", joined.Player2ID)
	assert.Equal(t, testStarting, joined.Player2EloAtStart)

	// A third identity cannot take the occupied seat.
	_, err = m.JoinGame(ctx, g.ID, "carol")
	assert.ErrorIs(t, err, ErrForbidden)

	// Bob re-joining after the transition is a harmless no-op.
	again, err := m.JoinGame(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, again.Status)
}

func TestStartGameOnlyPlayerOne(t *testing.T) {
	m, st, clock := newTestMachine(t)
	ctx := context.Background()

	g, err := m.CreateGame(ctx, "alice", models.OpponentHuman)
	require.NoError(t, err)
	_, err = m.JoinGame(ctx, g.ID, "bob")
	require.NoError(t, err)

	// Player two attempting the start leaves the record untouched.
	_, err = m.StartGame(ctx, g.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)
	cur, err := st.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, cur.Status)
	assert.Nil(t, cur.StartTime)

	started, err := m.StartGame(ctx, g.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, started.Status)
	require.NotNil(t, started.StartTime)
	assert.Equal(t, clock.Now(), *started.StartTime)
	require.NotNil(t, started.CurrentProblem)
	assert.NotEmpty(t, started.CurrentProblem.Text)

	// Starting twice is rejected: exactly one ready->playing transition.
	_, err = m.StartGame(ctx, g.ID, "alice")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSubmitAnswer(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	g, err := m.CreateGame(ctx, "alice", models.OpponentBot1000)
	require.NoError(t, err)
	started, err := m.StartGame(ctx, g.ID, "alice")
	require.NoError(t, err)

	first := *started.CurrentProblem

	// Wrong answer changes nothing.
	cur, correct, err := m.SubmitAnswer(ctx, g.ID, "alice", first.Answer+1)
	require.NoError(t, err)
	assert.False(t, correct)
	assert.Equal(t, 0, cur.Player1Score)
	assert.Equal(t, first, *cur.CurrentProblem)

	// Correct answer bumps the score and swaps the problem/answer pair.
	cur, correct, err = m.SubmitAnswer(ctx, g.ID, "alice", first.Answer)
	require.NoError(t, err)
	assert.True(t, correct)
	assert.Equal(t, 1, cur.Player1Score)
	assert.NotEqual(t, first, *cur.CurrentProblem)

	// Outsiders cannot score.
	_, _, err = m.SubmitAnswer(ctx, g.ID, "mallory", 1)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConcurrentCorrectAnswersBothCount(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	g, err := m.CreateGame(ctx, "alice", models.OpponentHuman)
	require.NoError(t, err)
	_, err = m.JoinGame(ctx, g.ID, "bob")
	require.NoError(t, err)
	_, err = m.StartGame(ctx, g.ID, "alice")
	require.NoError(t, err)

	// Both participants solved the same problem in the same tick; each
	// records an atomic delta, so neither increment may be lost.
	var wg sync.WaitGroup
	for _, player := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := m.RecordCorrectAnswer(ctx, g.ID, p)
			assert.NoError(t, err)
		}(player)
	}
	wg.Wait()

	cur, err := st.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Player1Score)
	assert.Equal(t, 1, cur.Player2Score)
}

func TestFinishIfDue(t *testing.T) {
	m, st, clock := newTestMachine(t)
	ctx := context.Background()

	g, err := m.CreateGame(ctx, "alice", models.OpponentBot1000)
	require.NoError(t, err)
	_, err = m.StartGame(ctx, g.ID, "alice")
	require.NoError(t, err)

	// Before the deadline nothing happens.
	cur, err := m.FinishIfDue(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, cur.Status)

	for i := 0; i < 2; i++ {
		_, err = m.RecordCorrectAnswer(ctx, g.ID, "alice")
		require.NoError(t, err)
	}

	clock.Advance(testDuration)

	// Both watchers race to finalize; the second attempt must observe the
	// already-finished record and change nothing.
	cur, err = m.FinishIfDue(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, cur.Status)
	require.NotNil(t, cur.WinnerID)
	assert.Equal(t, "alice", *cur.WinnerID)

	again, err := m.FinishIfDue(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, cur, again)

	// Finished is terminal: no further score mutations land.
	_, err = m.RecordCorrectAnswer(ctx, g.ID, "alice")
	assert.ErrorIs(t, err, ErrNotReady)
	final, err := st.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Player1Score)
}

func TestFinishDraw(t *testing.T) {
	m, _, clock := newTestMachine(t)
	ctx := context.Background()

	g, err := m.CreateGame(ctx, "alice", models.OpponentBot1000)
	require.NoError(t, err)
	_, err = m.StartGame(ctx, g.ID, "alice")
	require.NoError(t, err)

	clock.Advance(testDuration)
	cur, err := m.FinishIfDue(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, cur.Status)
	assert.Nil(t, cur.WinnerID)
}
