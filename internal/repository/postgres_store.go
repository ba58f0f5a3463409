package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ai-tutor/internal/domain"
)

const uniqueViolation = "23505"

const createThreadsTable = `
CREATE TABLE IF NOT EXISTS conversation_threads (
	id         TEXT PRIMARY KEY,
	student_id TEXT NOT NULL DEFAULT '',
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// pgxAPI is the subset of *pgxpool.Pool used by PostgresStore.
type pgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps threads as JSONB documents in conversation_threads.
type PostgresStore struct {
	db pgxAPI
}

func NewPostgresStore(db pgxAPI) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the threads table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createThreadsTable); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, thread domain.Thread) error {
	doc, err := encodeThread(thread)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO conversation_threads (id, student_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = s.db.Exec(ctx, query, thread.ID, thread.StudentID, doc, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return alreadyExists(thread.ID)
		}
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (domain.Thread, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT document FROM conversation_threads WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Thread{}, notFound(id)
		}
		return domain.Thread{}, fmt.Errorf("repository: Load: %w", err)
	}
	return decodeThread(id, doc)
}

func (s *PostgresStore) Save(ctx context.Context, thread domain.Thread) error {
	doc, err := encodeThread(thread)
	if err != nil {
		return err
	}
	query := `
		UPDATE conversation_threads
		SET document = $2, updated_at = $3
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, thread.ID, doc, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(thread.ID)
	}
	return nil
}
