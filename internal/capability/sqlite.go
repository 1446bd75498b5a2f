package capability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps capabilities in the download_capability table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const capabilityColumns = `token, session, namespace, relative_path, display_name, size, digest, workspace_id, issued_at, expires_at`

func (s *SQLiteStore) Put(ctx context.Context, c Capability) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO download_capability(`+capabilityColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		c.Token,
		c.Session,
		c.Artifact.Namespace,
		c.Artifact.RelativePath,
		c.Artifact.DisplayName,
		c.Artifact.Size,
		c.Artifact.Digest,
		c.WorkspaceID,
		c.IssuedAt.UnixNano(),
		c.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert capability: %w", err)
	}
	return nil
}

// Take relies on DELETE ... RETURNING being a single atomic statement.
func (s *SQLiteStore) Take(ctx context.Context, session, token string) (Capability, error) {
	row := s.db.QueryRowContext(ctx, `
DELETE FROM download_capability
WHERE token = ? AND session = ?
RETURNING `+capabilityColumns+`;
`, token, session)

	c, err := scanCapability(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Capability{}, ErrNotFound
	}
	if err != nil {
		return Capability{}, fmt.Errorf("take capability: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) TakeExpired(ctx context.Context, now time.Time) ([]Capability, error) {
	rows, err := s.db.QueryContext(ctx, `
DELETE FROM download_capability
WHERE expires_at <= ?
RETURNING `+capabilityColumns+`;
`, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("take expired capabilities: %w", err)
	}
	defer rows.Close()

	var out []Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return out, fmt.Errorf("scan expired capability: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate expired capabilities: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapability(r rowScanner) (Capability, error) {
	var (
		c                   Capability
		issuedAt, expiresAt int64
	)
	err := r.Scan(
		&c.Token,
		&c.Session,
		&c.Artifact.Namespace,
		&c.Artifact.RelativePath,
		&c.Artifact.DisplayName,
		&c.Artifact.Size,
		&c.Artifact.Digest,
		&c.WorkspaceID,
		&issuedAt,
		&expiresAt,
	)
	if err != nil {
		return Capability{}, err
	}
	c.IssuedAt = time.Unix(0, issuedAt).UTC()
	c.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return c, nil
}
