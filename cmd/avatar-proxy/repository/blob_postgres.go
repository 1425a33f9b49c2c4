package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/avatar-proxy/common/db"
)

var blobSchema = []string{
	`CREATE TABLE IF NOT EXISTS avatar_blob (
		blob_key     TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		size_bytes   BIGINT NOT NULL,
		content      BYTEA NOT NULL,
		stored_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_avatar_blob_stored_at ON avatar_blob (stored_at)`,
}

// PostgresBlobStore stores blobs inline in the avatar_blob table
type PostgresBlobStore struct {
	db *db.DB
}

// NewPostgresBlobStore creates a Postgres-backed blob store
func NewPostgresBlobStore(database *db.DB) *PostgresBlobStore {
	return &PostgresBlobStore{db: database}
}

// EnsureSchema creates the avatar_blob table and its index if missing
func (s *PostgresBlobStore) EnsureSchema(ctx context.Context) error {
	return s.db.Migrate(ctx, "avatar_blob", blobSchema...)
}

func (s *PostgresBlobStore) Name() string { return "postgres" }

func (s *PostgresBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT content FROM avatar_blob WHERE blob_key = $1`

	var content []byte
	err := s.db.QueryRow(ctx, query, key).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return content, nil
}

func (s *PostgresBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	query := `
		INSERT INTO avatar_blob (blob_key, content_type, size_bytes, content, stored_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (blob_key) DO UPDATE
		SET content_type = EXCLUDED.content_type,
		    size_bytes   = EXCLUDED.size_bytes,
		    content      = EXCLUDED.content,
		    stored_at    = EXCLUDED.stored_at
	`

	if _, err := s.db.Exec(ctx, query, key, contentType, int64(len(data)), data); err != nil {
		return fmt.Errorf("failed to put blob: %w", err)
	}
	return nil
}

func (s *PostgresBlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM avatar_blob WHERE blob_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *PostgresBlobStore) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	query := `
		SELECT blob_key, size_bytes, content_type, stored_at
		FROM avatar_blob
		WHERE starts_with(blob_key, $1)
		ORDER BY blob_key
	`

	rows, err := s.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var out []BlobInfo
	for rows.Next() {
		var info BlobInfo
		if err := rows.Scan(&info.Key, &info.Size, &info.ContentType, &info.StoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		out = append(out, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", err)
	}
	return out, nil
}

func (s *PostgresBlobStore) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}
