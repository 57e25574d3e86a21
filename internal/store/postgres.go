package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiliankoe/casefile/internal/game"
)

// PostgresRepo implements ProfileStore, Archive and Stats on PostgreSQL.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepo) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p := Profile{UserID: userID}
	var tier string
	row := r.pool.QueryRow(ctx, "SELECT display_name, difficulty_tier FROM profiles WHERE user_id = $1", userID)
	if err := row.Scan(&p.DisplayName, &tier); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Profile{}, ErrProfileNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Profile{}, err
		default:
			return Profile{}, fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
	}
	p.DifficultyTier = game.Tier(tier)
	return p, nil
}

func (r *PostgresRepo) SetProfile(ctx context.Context, p Profile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, display_name, difficulty_tier)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name, difficulty_tier = EXCLUDED.difficulty_tier`,
		p.UserID, p.DisplayName, string(p.DifficultyTier))
	return wrap(err)
}

func (r *PostgresRepo) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var admin bool
	err := r.pool.QueryRow(ctx, "SELECT is_admin FROM profiles WHERE user_id = $1", userID).Scan(&admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return admin, nil
}

// InsertDocument stores the document and its author list in one transaction.
func (r *PostgresRepo) InsertDocument(ctx context.Context, doc ArchivedDocument) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrap(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, room_id, title, keywords, ruleset, public_facets, hidden_facet,
			procedures, early, late, conclusion, owner_id, best_votes, compliance_pass, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		doc.ID, doc.RoomID, doc.Title, doc.Keywords, doc.Constraints.Ruleset, doc.Constraints.Public,
		doc.Constraints.Hidden, doc.Procedures, doc.Early, doc.Late, doc.Conclusion, doc.OwnerID,
		doc.BestVotes, doc.CompliancePass, doc.FinishedAt)
	if err != nil {
		return wrap(err)
	}

	batch := &pgx.Batch{}
	for _, id := range doc.AuthorIDs {
		batch.Queue("INSERT INTO document_authors (document_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", doc.ID, id)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return wrap(err)
		}
	}
	return wrap(tx.Commit(ctx))
}

func (r *PostgresRepo) IncrementPlays(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_stats (user_id, plays) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET plays = user_stats.plays + 1`, userID)
	return wrap(err)
}

func (r *PostgresRepo) IncrementHardModeCompletions(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_stats (user_id, hard_mode_completions) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET hard_mode_completions = user_stats.hard_mode_completions + 1`, userID)
	return wrap(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnexpected, err)
}
