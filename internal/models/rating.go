package models

import "time"

// RatingRecord holds a player's current skill rating. Created lazily with the
// configured starting rating on first reference; bots never get one.
type RatingRecord struct {
	PlayerID    string    `json:"playerId"`
	Rating      int       `json:"rating"`
	LastUpdated time.Time `json:"lastUpdated"`
}
