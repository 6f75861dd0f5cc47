package domain

import "time"

// Tournament, Match and Player are read models of records owned by the
// tournament management application. Only the columns event builders need
// are carried.

type Tournament struct {
	ID          string
	TenantID    string
	Name        string
	Format      string
	Status      string
	MaxPlayers  int
	StartDate   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	WinnerID    *string
}

type Match struct {
	ID           string
	TenantID     string
	TournamentID string
	Round        int
	Table        *string
	Player1ID    *string
	Player2ID    *string
	Player1Score int
	Player2Score int
	WinnerID     *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

type Player struct {
	ID           string
	TenantID     string
	TournamentID string
	Name         string
	RegisteredAt time.Time
	CheckedInAt  *time.Time
	EliminatedAt *time.Time
	Placement    *int
	Wins         int
	Losses       int
}

func (t *Tournament) Info() TournamentInfo {
	return TournamentInfo{
		ID:         t.ID,
		Name:       t.Name,
		Format:     t.Format,
		Status:     t.Status,
		MaxPlayers: t.MaxPlayers,
		StartDate:  t.StartDate,
	}
}

func (m *Match) Info() MatchInfo {
	return MatchInfo{
		ID:           m.ID,
		TournamentID: m.TournamentID,
		Round:        m.Round,
		Table:        m.Table,
	}
}

func (p *Player) Info() PlayerInfo {
	return PlayerInfo{
		ID:           p.ID,
		Name:         p.Name,
		TournamentID: p.TournamentID,
	}
}

func (p *Player) Ref() PlayerRef {
	return PlayerRef{ID: p.ID, Name: p.Name}
}
