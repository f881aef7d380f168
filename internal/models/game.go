package models

import (
	"time"
)

// GameStatus is the lifecycle phase of a game record. Transitions are linear:
// waiting -> ready -> playing -> finished, with no cycles.
type GameStatus string

const (
	StatusWaiting  GameStatus = "waiting"
	StatusReady    GameStatus = "ready"
	StatusPlaying  GameStatus = "playing"
	StatusFinished GameStatus = "finished"
)

// OpponentType identifies what player two is. Immutable after creation.
type OpponentType string

const (
	OpponentHuman   OpponentType = "human"
	OpponentBot1000 OpponentType = "bot-1000"
	OpponentBot2000 OpponentType = "bot-2000"
)

// IsBot reports whether the opponent is a simulated player.
func (o OpponentType) IsBot() bool {
	return o == OpponentBot1000 || o == OpponentBot2000
}

// BotID returns the synthesized identity string for a bot opponent.
// Bot identities are just the tier name, which keeps them distinguishable
// from real player ids issued by the identity provider.
func (o OpponentType) BotID() string {
	return string(o)
}

// Problem is one arithmetic challenge. Text and Answer always travel together
// so a reader can never observe an answer belonging to a different problem.
type Problem struct {
	Text   string `json:"text"`
	Answer int    `json:"answer"`
}

// GameRecord is the shared mutable document representing one match.
// Both participants' session drivers read and write it through the store;
// every multi-field mutation goes through a single guarded write.
type GameRecord struct {
	ID                string       `json:"id"`
	Player1ID         string       `json:"player1Id"`
	Player2ID         string       `json:"player2Id,omitempty"`
	Player1Score      int          `json:"player1Score"`
	Player2Score      int          `json:"player2Score"`
	Player1EloAtStart int          `json:"player1EloAtStart"`
	Player2EloAtStart int          `json:"player2EloAtStart"`
	Player1NewElo     int          `json:"player1NewElo,omitempty"`
	Player2NewElo     int          `json:"player2NewElo,omitempty"`
	Status            GameStatus   `json:"status"`
	OpponentType      OpponentType `json:"opponentType"`
	CurrentProblem    *Problem     `json:"currentProblem,omitempty"`
	StartTime         *time.Time   `json:"startTime,omitempty"`
	WinnerID          *string      `json:"winnerId,omitempty"`
	EloCalculated     bool         `json:"eloCalculated"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// Clone returns a deep copy so mutation attempts never touch a snapshot
// another reader may still hold.
func (g *GameRecord) Clone() *GameRecord {
	if g == nil {
		return nil
	}
	c := *g
	if g.CurrentProblem != nil {
		p := *g.CurrentProblem
		c.CurrentProblem = &p
	}
	if g.StartTime != nil {
		t := *g.StartTime
		c.StartTime = &t
	}
	if g.WinnerID != nil {
		w := *g.WinnerID
		c.WinnerID = &w
	}
	return &c
}

// IsParticipant reports whether id is one of the two players.
func (g *GameRecord) IsParticipant(id string) bool {
	return id != "" && (id == g.Player1ID || id == g.Player2ID)
}

// ScoreOf returns the score field belonging to the given participant.
func (g *GameRecord) ScoreOf(id string) int {
	switch id {
	case g.Player1ID:
		return g.Player1Score
	case g.Player2ID:
		return g.Player2Score
	}
	return 0
}

// Deadline returns when the game times out, valid only once StartTime is set.
func (g *GameRecord) Deadline(duration time.Duration) (time.Time, bool) {
	if g.StartTime == nil {
		return time.Time{}, false
	}
	return g.StartTime.Add(duration), true
}
