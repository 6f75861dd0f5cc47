package domain

import "time"

// Version 1 data contracts. The publisher validates every payload's data
// against the matching JSON Schema before fan-out, so field changes here
// must be mirrored in internal/publisher/schemas.

type TournamentInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Format     string     `json:"format"`
	Status     string     `json:"status"`
	MaxPlayers int        `json:"maxPlayers"`
	StartDate  *time.Time `json:"startDate,omitempty"`
}

type MatchInfo struct {
	ID           string  `json:"id"`
	TournamentID string  `json:"tournamentId"`
	Round        int     `json:"round"`
	Table        *string `json:"table,omitempty"`
}

type PlayerInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TournamentID string `json:"tournamentId"`
}

type PlayerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MatchScore struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

type PlayerStats struct {
	Wins          int `json:"wins"`
	Losses        int `json:"losses"`
	MatchesPlayed int `json:"matchesPlayed"`
}

type TournamentCreatedData struct {
	Tournament TournamentInfo `json:"tournament"`
}

type TournamentStartedData struct {
	Tournament  TournamentInfo `json:"tournament"`
	StartedAt   time.Time      `json:"startedAt"`
	PlayerCount int            `json:"playerCount"`
}

type TournamentCompletedData struct {
	Tournament  TournamentInfo `json:"tournament"`
	CompletedAt time.Time      `json:"completedAt"`
	Winner      *PlayerRef     `json:"winner,omitempty"`
}

type MatchStartedData struct {
	Match     MatchInfo   `json:"match"`
	Players   []PlayerRef `json:"players"`
	StartedAt time.Time   `json:"startedAt"`
}

type MatchCompletedData struct {
	Match       MatchInfo   `json:"match"`
	Players     []PlayerRef `json:"players"`
	Score       MatchScore  `json:"score"`
	Winner      PlayerRef   `json:"winner"`
	CompletedAt time.Time   `json:"completedAt"`
}

type PlayerRegisteredData struct {
	Player       PlayerInfo `json:"player"`
	RegisteredAt time.Time  `json:"registeredAt"`
}

type PlayerCheckedInData struct {
	Player      PlayerInfo `json:"player"`
	CheckedInAt time.Time  `json:"checkedInAt"`
}

type PlayerEliminatedData struct {
	Player       PlayerInfo  `json:"player"`
	EliminatedAt time.Time   `json:"eliminatedAt"`
	Placement    int         `json:"placement"`
	Stats        PlayerStats `json:"stats"`
}
