package tournament

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/felipemaragno/hookline/internal/domain"
)

// TournamentModel mirrors the columns of the tournaments table that events use.
type TournamentModel struct {
	ID          string `gorm:"primaryKey"`
	TenantID    string `gorm:"not null;index"`
	Name        string `gorm:"not null"`
	Format      string
	Status      string `gorm:"default:'draft'"`
	MaxPlayers  int    `gorm:"default:0"`
	StartDate   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	WinnerID    *string
}

func (TournamentModel) TableName() string { return "tournaments" }

type MatchModel struct {
	ID           string `gorm:"primaryKey"`
	TenantID     string `gorm:"not null;index"`
	TournamentID string `gorm:"not null;index"`
	Round        int
	TableLabel   *string `gorm:"column:table_label"`
	Player1ID    *string
	Player2ID    *string
	Player1Score int
	Player2Score int
	WinnerID     *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (MatchModel) TableName() string { return "matches" }

type PlayerModel struct {
	ID           string `gorm:"primaryKey"`
	TenantID     string `gorm:"not null;index"`
	TournamentID string `gorm:"not null;index"`
	Name         string `gorm:"not null"`
	RegisteredAt time.Time
	CheckedInAt  *time.Time
	EliminatedAt *time.Time
	Placement    *int
	Wins         int
	Losses       int
}

func (PlayerModel) TableName() string { return "players" }

// Store is a Reader backed by gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the tournament database with gorm's postgres driver.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open tournament db: %w", err)
	}
	return db, nil
}

func (s *Store) GetTournament(ctx context.Context, id, tenantID string) (*domain.Tournament, error) {
	var m TournamentModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&m).Error
	if err != nil {
		return nil, mapErr("tournament", err)
	}
	return &domain.Tournament{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		Format:      m.Format,
		Status:      m.Status,
		MaxPlayers:  m.MaxPlayers,
		StartDate:   m.StartDate,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		WinnerID:    m.WinnerID,
	}, nil
}

func (s *Store) GetMatch(ctx context.Context, id, tenantID string) (*domain.Match, error) {
	var m MatchModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&m).Error
	if err != nil {
		return nil, mapErr("match", err)
	}
	return &domain.Match{
		ID:           m.ID,
		TenantID:     m.TenantID,
		TournamentID: m.TournamentID,
		Round:        m.Round,
		Table:        m.TableLabel,
		Player1ID:    m.Player1ID,
		Player2ID:    m.Player2ID,
		Player1Score: m.Player1Score,
		Player2Score: m.Player2Score,
		WinnerID:     m.WinnerID,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}, nil
}

func (s *Store) GetPlayer(ctx context.Context, id, tenantID string) (*domain.Player, error) {
	var m PlayerModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&m).Error
	if err != nil {
		return nil, mapErr("player", err)
	}
	return &domain.Player{
		ID:           m.ID,
		TenantID:     m.TenantID,
		TournamentID: m.TournamentID,
		Name:         m.Name,
		RegisteredAt: m.RegisteredAt,
		CheckedInAt:  m.CheckedInAt,
		EliminatedAt: m.EliminatedAt,
		Placement:    m.Placement,
		Wins:         m.Wins,
		Losses:       m.Losses,
	}, nil
}

func (s *Store) CountPlayers(ctx context.Context, tournamentID, tenantID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&PlayerModel{}).
		Where("tournament_id = ? AND tenant_id = ?", tournamentID, tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return int(count), nil
}

func mapErr(entity string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrEntityNotFound, entity)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}
