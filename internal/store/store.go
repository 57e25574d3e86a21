// Package store holds the external collaborators of the game server: the
// profile store, the finished document archive and the play statistics.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiliankoe/casefile/internal/game"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrUnexpected      = errors.New("unexpected store error")
)

type Profile struct {
	UserID         string    `json:"stableUserId"`
	DisplayName    string    `json:"displayName"`
	DifficultyTier game.Tier `json:"difficultyTier"`
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
	SetProfile(ctx context.Context, p Profile) error
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// ArchivedDocument is a finished case file with the stable ids of everyone
// who wrote part of it.
type ArchivedDocument struct {
	ID             string
	RoomID         string
	Title          string
	Keywords       []string
	Constraints    game.ConstraintSet
	Procedures     string
	Early          string
	Late           string
	Conclusion     string
	OwnerID        string
	AuthorIDs      []string
	BestVotes      int
	CompliancePass bool
	FinishedAt     time.Time
}

type Archive interface {
	InsertDocument(ctx context.Context, doc ArchivedDocument) error
}

type Stats interface {
	IncrementPlays(ctx context.Context, userID string) error
	IncrementHardModeCompletions(ctx context.Context, userID string) error
}
