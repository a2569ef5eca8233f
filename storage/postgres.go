package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists room documents as jsonb in a single rooms
// table, upserting on id.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	rec := Record{ID: id}

	row := s.pool.QueryRow(ctx,
		"SELECT kind, data, updated_at FROM room_snapshots WHERE id = $1", id)

	err := row.Scan(&rec.Kind, &rec.Data, &rec.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Record{}, ErrNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Record{}, err
		default:
			return Record{}, fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
		}
	}

	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_snapshots (id, kind, data, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET kind = $2, data = $3, updated_at = $4`,
		rec.ID, rec.Kind, rec.Data, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
		}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM room_snapshots WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, kind string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, kind, data, updated_at FROM room_snapshots WHERE kind = $1 ORDER BY updated_at DESC",
		kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Data, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
	}
	return out, nil
}
