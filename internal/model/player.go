package model

import "time"

// PlayerID uniquely identifies a player across the system
type PlayerID int64

// MaxNicknameLength bounds the nickname column
const MaxNicknameLength = 20

// Player is a participant in the shop economy
type Player struct {
	ID        PlayerID
	Nickname  string
	Credits   int64
	CreatedAt time.Time
}
