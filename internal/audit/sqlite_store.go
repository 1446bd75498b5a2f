package audit

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// DefaultPerPage is the page size for List when none is given.
const DefaultPerPage = 25

const maxPerPage = 500

// SQLiteStore persists entries in the audit_log table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, e Entry) (int64, error) {
	var actor any
	if e.ActorID != nil {
		actor = *e.ActorID
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log(actor_id, action, channel, detail, client_ip, city, country, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, actor, e.Action, string(e.Channel), e.Detail, e.ClientIP, e.City, e.Country, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit entry id: %w", err)
	}
	return id, nil
}

// List returns page (1-based) of entries, newest first.
func (s *SQLiteStore) List(ctx context.Context, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	out := Page{Page: page, PerPage: perPage, Entries: []Entry{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log;`).Scan(&out.Total); err != nil {
		return Page{}, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, actor_id, action, channel, detail, client_ip, city, country, created_at
FROM audit_log
ORDER BY id DESC
LIMIT ? OFFSET ?;
`, perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Page{}, err
		}
		out.Entries = append(out.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

var csvHeader = []string{"id", "user", "action", "channel", "detail", "ip", "city", "country", "timestamp"}

// ExportCSV streams every entry, newest first, as CSV.
func (s *SQLiteStore) ExportCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, actor_id, action, channel, detail, client_ip, city, country, created_at
FROM audit_log
ORDER BY id DESC;
`)
	if err != nil {
		return fmt.Errorf("export audit entries: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		user := ""
		if e.ActorID != nil {
			user = *e.ActorID
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			user,
			e.Action,
			string(e.Channel),
			e.Detail,
			e.ClientIP,
			e.City,
			e.Country,
			e.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit entries: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// Purge deletes every entry and resets the id sequence.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM audit_log;`)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'audit_log';`); err != nil {
		return 0, fmt.Errorf("reset audit sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		actor     sql.NullString
		channel   string
		createdAt string
	)
	if err := rows.Scan(&e.ID, &actor, &e.Action, &channel, &e.Detail, &e.ClientIP, &e.City, &e.Country, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	if actor.Valid {
		v := actor.String
		e.ActorID = &v
	}
	e.Channel = Channel(channel)
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = ts
	return e, nil
}
