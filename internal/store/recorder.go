package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiliankoe/casefile/internal/game"
)

// Tiers resolves difficulty tiers from a ProfileStore. Unknown users play at
// tier C.
type Tiers struct {
	Profiles ProfileStore
}

func (t Tiers) DifficultyTier(ctx context.Context, userID string) (game.Tier, error) {
	p, err := t.Profiles.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return game.TierC, nil
	}
	if err != nil {
		return "", err
	}
	return p.DifficultyTier, nil
}

// Recorder archives every document of a finished game and bumps the play
// counters. All writes are attempted; their errors are joined.
type Recorder struct {
	Archive Archive
	Stats   Stats
}

func (r Recorder) RecordGame(ctx context.Context, rec game.Record) error {
	users := make(map[string]string, len(rec.Players))
	for _, p := range rec.Players {
		users[p.ConnID] = p.UserID
	}

	var errs []error
	if r.Archive != nil {
		for _, d := range rec.Documents {
			if err := r.Archive.InsertDocument(ctx, archived(rec, d, users)); err != nil {
				errs = append(errs, fmt.Errorf("archive %s: %w", d.ID, err))
			}
		}
	}
	if r.Stats != nil {
		for _, p := range rec.Players {
			if err := r.Stats.IncrementPlays(ctx, p.UserID); err != nil {
				errs = append(errs, fmt.Errorf("plays %s: %w", p.UserID, err))
			}
			if p.Tier != game.TierA {
				continue
			}
			if err := r.Stats.IncrementHardModeCompletions(ctx, p.UserID); err != nil {
				errs = append(errs, fmt.Errorf("hard mode %s: %w", p.UserID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func archived(rec game.Record, d game.Document, users map[string]string) ArchivedDocument {
	owner := users[d.OwnerConnID]
	authors := []string{owner}
	seen := map[string]bool{owner: true}
	for _, conn := range d.SectionAuthors {
		id := users[conn]
		if conn == "" || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		authors = append(authors, id)
	}

	checks := rec.Votes.Compliance[d.ID]
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}

	return ArchivedDocument{
		ID:             d.ID,
		RoomID:         rec.RoomID,
		Title:          d.Title,
		Keywords:       d.ChosenKeywords,
		Constraints:    d.Constraints,
		Procedures:     d.Procedures,
		Early:          d.EarlyDescription,
		Late:           d.LateDescription,
		Conclusion:     d.Conclusion,
		OwnerID:        owner,
		AuthorIDs:      authors,
		BestVotes:      rec.Votes.Best[d.ID],
		CompliancePass: len(checks) > 0 && passed*2 > len(checks),
		FinishedAt:     rec.FinishedAt,
	}
}
