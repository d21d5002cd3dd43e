package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrTokenConflict   = errors.New("token already in use")
	ErrPolicyExhausted = errors.New("file access policy exhausted")
	ErrQuotaBelowUsage = errors.New("download limit below current download count")
)

const (
	uniqueViolation       = "23505"
	tokenUniqueConstraint = "files_token_key"
)

const recordColumns = `
	id, token, original_name, stored_name, size, password_hash, created_at,
	expires_at, max_downloads, downloads_count, exhausted_at, owner_id`

// Repository is the PostgreSQL-backed metadata store.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func scanRecord(row pgx.Row) (*FileRecord, error) {
	rec := &FileRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.Token,
		&rec.OriginalName,
		&rec.StoredName,
		&rec.Size,
		&rec.PasswordHash,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.MaxDownloads,
		&rec.DownloadsCount,
		&rec.ExhaustedAt,
		&rec.OwnerID,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create inserts a new record and fills in its ID.
func (r *Repository) Create(ctx context.Context, rec *FileRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO files (
			token, original_name, stored_name, size, password_hash,
			created_at, expires_at, max_downloads, downloads_count, owner_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		RETURNING id
	`,
		rec.Token,
		rec.OriginalName,
		rec.StoredName,
		rec.Size,
		rec.PasswordHash,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.MaxDownloads,
		rec.OwnerID,
	).Scan(&rec.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
			pgErr.ConstraintName == tokenUniqueConstraint {
			return ErrTokenConflict
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}
	rec.DownloadsCount = 0
	return nil
}

// GetByToken retrieves a record by its token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*FileRecord, error) {
	rec, err := scanRecord(r.db.Pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM files WHERE token = $1", token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

// ListByOwner returns an owner's records, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*FileRecord, error) {
	return r.query(ctx, "list files by owner",
		"SELECT "+recordColumns+" FROM files WHERE owner_id = $1 ORDER BY created_at DESC, id DESC",
		ownerID)
}

// IncrementDownloads atomically bumps the download counter if the record is
// still accessible at now, and returns the new count. The expiry predicate and
// the increment are one statement, so concurrent callers can never push the
// counter past max_downloads.
func (r *Repository) IncrementDownloads(ctx context.Context, token string, now time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		UPDATE files
		SET downloads_count = downloads_count + 1,
			exhausted_at = CASE
				WHEN max_downloads IS NOT NULL AND downloads_count + 1 >= max_downloads THEN $2
				ELSE exhausted_at
			END
		WHERE token = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND (max_downloads IS NULL OR downloads_count < max_downloads)
		RETURNING downloads_count
	`, token, now).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to increment download count: %w", err)
	}

	exists, err := r.exists(ctx, token)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrFileNotFound
	}
	return 0, ErrPolicyExhausted
}

// UpdatePolicy replaces a record's password, expiry and download limit.
// The new limit may not be lower than the downloads already served.
func (r *Repository) UpdatePolicy(ctx context.Context, token string, p Policy, now time.Time) (*FileRecord, error) {
	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, `
		UPDATE files
		SET password_hash = $2,
			expires_at = $3,
			max_downloads = $4::int,
			exhausted_at = CASE
				WHEN $4::int IS NOT NULL AND downloads_count >= $4::int THEN COALESCE(exhausted_at, $5)
				ELSE NULL
			END
		WHERE token = $1
		  AND ($4::int IS NULL OR downloads_count <= $4::int)
		RETURNING `+recordColumns,
		token, p.PasswordHash, p.ExpiresAt, p.MaxDownloads, now))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update file policy: %w", err)
	}

	exists, err := r.exists(ctx, token)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrFileNotFound
	}
	return nil, ErrQuotaBelowUsage
}

// TransferOwner reassigns every record of one owner to another.
func (r *Repository) TransferOwner(ctx context.Context, fromOwner, toOwner string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE files SET owner_id = $2 WHERE owner_id = $1", fromOwner, toOwner)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer files: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a record by token.
func (r *Repository) Delete(ctx context.Context, token string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM files WHERE token = $1", token)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// GetExpired returns records whose TTL elapsed, or whose quota ran out, at or
// before cutoff.
func (r *Repository) GetExpired(ctx context.Context, cutoff time.Time) ([]*FileRecord, error) {
	return r.query(ctx, "query expired files",
		"SELECT "+recordColumns+" FROM files WHERE expires_at <= $1 OR exhausted_at <= $1",
		cutoff)
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE (expires_at IS NULL OR expires_at > $1)
				AND (max_downloads IS NULL OR downloads_count < max_downloads)),
			COALESCE(SUM(downloads_count), 0),
			COALESCE(SUM(size), 0)
		FROM files
	`, now).Scan(
		&stats.TotalFiles,
		&stats.ActiveFiles,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// HealthCheck verifies the database connection is alive.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func (r *Repository) exists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE token = $1)", token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return exists, nil
}

func (r *Repository) query(ctx context.Context, op string, sql string, args ...any) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return records, nil
}
