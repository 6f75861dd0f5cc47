// Package tournament reads the tournament, match and player records that
// lifecycle events are built from. The records are owned by the tournament
// management application; this package never writes them.
package tournament

import (
	"context"

	"github.com/felipemaragno/hookline/internal/domain"
)

// Reader looks up entities scoped to a tenant. Implementations return
// domain.ErrEntityNotFound when the entity is absent or belongs to another
// tenant.
type Reader interface {
	GetTournament(ctx context.Context, id, tenantID string) (*domain.Tournament, error)
	GetMatch(ctx context.Context, id, tenantID string) (*domain.Match, error)
	GetPlayer(ctx context.Context, id, tenantID string) (*domain.Player, error)
	CountPlayers(ctx context.Context, tournamentID, tenantID string) (int, error)
}
