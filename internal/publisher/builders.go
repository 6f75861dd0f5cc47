package publisher

import (
	"context"
	"fmt"

	"github.com/felipemaragno/hookline/internal/domain"
)

func invalidState(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidState, reason)
}

func (p *Publisher) PublishTournamentCreated(ctx context.Context, tournamentID, tenantID string) (int, error) {
	t, err := p.entities.GetTournament(ctx, tournamentID, tenantID)
	if err != nil {
		return 0, err
	}
	return p.PublishEvent(ctx, domain.EventTournamentCreated, domain.TournamentCreatedData{
		Tournament: t.Info(),
	}, tenantID)
}

func (p *Publisher) PublishTournamentStarted(ctx context.Context, tournamentID, tenantID string) (int, error) {
	t, err := p.entities.GetTournament(ctx, tournamentID, tenantID)
	if err != nil {
		return 0, err
	}
	if t.StartedAt == nil {
		return 0, invalidState("tournament not started")
	}
	count, err := p.entities.CountPlayers(ctx, t.ID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return p.PublishEvent(ctx, domain.EventTournamentStarted, domain.TournamentStartedData{
		Tournament:  t.Info(),
		StartedAt:   *t.StartedAt,
		PlayerCount: count,
	}, tenantID)
}

func (p *Publisher) PublishTournamentCompleted(ctx context.Context, tournamentID, tenantID string) (int, error) {
	t, err := p.entities.GetTournament(ctx, tournamentID, tenantID)
	if err != nil {
		return 0, err
	}
	if t.CompletedAt == nil {
		return 0, invalidState("tournament not completed")
	}

	data := domain.TournamentCompletedData{
		Tournament:  t.Info(),
		CompletedAt: *t.CompletedAt,
	}
	if t.WinnerID != nil {
		winner, err := p.entities.GetPlayer(ctx, *t.WinnerID, tenantID)
		if err != nil {
			return 0, fmt.Errorf("tournament winner: %w", err)
		}
		ref := winner.Ref()
		data.Winner = &ref
	}
	return p.PublishEvent(ctx, domain.EventTournamentCompleted, data, tenantID)
}

// matchPlayers loads the seated players of a match in seat order.
func (p *Publisher) matchPlayers(ctx context.Context, m *domain.Match, tenantID string) ([]domain.PlayerRef, error) {
	players := make([]domain.PlayerRef, 0, 2)
	for _, id := range []*string{m.Player1ID, m.Player2ID} {
		if id == nil {
			continue
		}
		player, err := p.entities.GetPlayer(ctx, *id, tenantID)
		if err != nil {
			return nil, fmt.Errorf("match player: %w", err)
		}
		players = append(players, player.Ref())
	}
	return players, nil
}

func (p *Publisher) PublishMatchStarted(ctx context.Context, matchID, tenantID string) (int, error) {
	m, err := p.entities.GetMatch(ctx, matchID, tenantID)
	if err != nil {
		return 0, err
	}
	if m.StartedAt == nil {
		return 0, invalidState("match not started")
	}
	players, err := p.matchPlayers(ctx, m, tenantID)
	if err != nil {
		return 0, err
	}
	return p.PublishEvent(ctx, domain.EventMatchStarted, domain.MatchStartedData{
		Match:     m.Info(),
		Players:   players,
		StartedAt: *m.StartedAt,
	}, tenantID)
}

func (p *Publisher) PublishMatchCompleted(ctx context.Context, matchID, tenantID string) (int, error) {
	m, err := p.entities.GetMatch(ctx, matchID, tenantID)
	if err != nil {
		return 0, err
	}
	if m.CompletedAt == nil {
		return 0, invalidState("match not completed")
	}
	if m.WinnerID == nil {
		return 0, invalidState("match has no winner")
	}
	players, err := p.matchPlayers(ctx, m, tenantID)
	if err != nil {
		return 0, err
	}

	var winner *domain.PlayerRef
	for i := range players {
		if players[i].ID == *m.WinnerID {
			winner = &players[i]
			break
		}
	}
	if winner == nil {
		player, err := p.entities.GetPlayer(ctx, *m.WinnerID, tenantID)
		if err != nil {
			return 0, fmt.Errorf("match winner: %w", err)
		}
		ref := player.Ref()
		winner = &ref
	}

	return p.PublishEvent(ctx, domain.EventMatchCompleted, domain.MatchCompletedData{
		Match:       m.Info(),
		Players:     players,
		Score:       domain.MatchScore{Player1: m.Player1Score, Player2: m.Player2Score},
		Winner:      *winner,
		CompletedAt: *m.CompletedAt,
	}, tenantID)
}

func (p *Publisher) PublishPlayerRegistered(ctx context.Context, playerID, tenantID string) (int, error) {
	player, err := p.entities.GetPlayer(ctx, playerID, tenantID)
	if err != nil {
		return 0, err
	}
	return p.PublishEvent(ctx, domain.EventPlayerRegistered, domain.PlayerRegisteredData{
		Player:       player.Info(),
		RegisteredAt: player.RegisteredAt,
	}, tenantID)
}

func (p *Publisher) PublishPlayerCheckedIn(ctx context.Context, playerID, tenantID string) (int, error) {
	player, err := p.entities.GetPlayer(ctx, playerID, tenantID)
	if err != nil {
		return 0, err
	}
	if player.CheckedInAt == nil {
		return 0, invalidState("player not checked in")
	}
	return p.PublishEvent(ctx, domain.EventPlayerCheckedIn, domain.PlayerCheckedInData{
		Player:      player.Info(),
		CheckedInAt: *player.CheckedInAt,
	}, tenantID)
}

func (p *Publisher) PublishPlayerEliminated(ctx context.Context, playerID, tenantID string) (int, error) {
	player, err := p.entities.GetPlayer(ctx, playerID, tenantID)
	if err != nil {
		return 0, err
	}
	if player.EliminatedAt == nil {
		return 0, invalidState("player not eliminated")
	}

	placement := 0
	if player.Placement != nil {
		placement = *player.Placement
	}
	return p.PublishEvent(ctx, domain.EventPlayerEliminated, domain.PlayerEliminatedData{
		Player:       player.Info(),
		EliminatedAt: *player.EliminatedAt,
		Placement:    placement,
		Stats: domain.PlayerStats{
			Wins:          player.Wins,
			Losses:        player.Losses,
			MatchesPlayed: player.Wins + player.Losses,
		},
	}, tenantID)
}

// Publish dispatches to the typed builder for event.
func (p *Publisher) Publish(ctx context.Context, event domain.WebhookEvent, entityID, tenantID string) (int, error) {
	switch event {
	case domain.EventTournamentCreated:
		return p.PublishTournamentCreated(ctx, entityID, tenantID)
	case domain.EventTournamentStarted:
		return p.PublishTournamentStarted(ctx, entityID, tenantID)
	case domain.EventTournamentCompleted:
		return p.PublishTournamentCompleted(ctx, entityID, tenantID)
	case domain.EventMatchStarted:
		return p.PublishMatchStarted(ctx, entityID, tenantID)
	case domain.EventMatchCompleted:
		return p.PublishMatchCompleted(ctx, entityID, tenantID)
	case domain.EventPlayerRegistered:
		return p.PublishPlayerRegistered(ctx, entityID, tenantID)
	case domain.EventPlayerCheckedIn:
		return p.PublishPlayerCheckedIn(ctx, entityID, tenantID)
	case domain.EventPlayerEliminated:
		return p.PublishPlayerEliminated(ctx, entityID, tenantID)
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidEvent, event)
	}
}
