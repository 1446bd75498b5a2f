package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamLaszab/zadanie-skuska/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteStore(db)
}

func seed(t *testing.T, s *SQLiteStore, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		actor := fmt.Sprintf("principal:user-%d", i)
		_, err := s.Insert(context.Background(), Entry{
			ActorID:   &actor,
			Action:    "merge_success",
			Channel:   ChannelAPI,
			Detail:    fmt.Sprintf("Merged %d files", i+2),
			ClientIP:  "127.0.0.1",
			City:      "Localhost",
			Country:   "N/A",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestSQLiteStoreListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 5)

	page, err := s.List(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(5), page.Entries[0].ID)
	assert.Equal(t, int64(4), page.Entries[1].ID)
	require.NotNil(t, page.Entries[0].ActorID)
	assert.Equal(t, "principal:user-4", *page.Entries[0].ActorID)

	last, err := s.List(context.Background(), 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Entries, 1)
	assert.Equal(t, int64(1), last.Entries[0].ID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), last.Entries[0].CreatedAt)
}

func TestSQLiteStoreNullActor(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert(context.Background(), Entry{
		Action:    "download_failed",
		Channel:   ChannelWeb,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	page, err := s.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Nil(t, page.Entries[0].ActorID)
	assert.Equal(t, ChannelWeb, page.Entries[0].Channel)
	assert.Equal(t, DefaultPerPage, page.PerPage)
}

func TestSQLiteStoreExportCSV(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 2)

	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(context.Background(), &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "2", records[1][0])
	assert.Equal(t, "principal:user-1", records[1][1])
	assert.Equal(t, "Merged 3 files", records[1][4])
	assert.Equal(t, "2026-03-01T12:01:00Z", records[1][8])
}

func TestSQLiteStorePurgeResetsSequence(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 3)

	n, err := s.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	page, err := s.List(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Entries)

	id, err := s.Insert(context.Background(), Entry{Action: "merge_success", Channel: ChannelAPI, CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}
