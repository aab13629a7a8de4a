package store

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/ledger/ledgertest"
	"github.com/roach88/escrow/internal/pubkey"
)

// createTestStore opens a store in a temp directory and closes it on cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLedgerConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		return createTestStore(t)
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	owner := pubkey.FromSeed("owner").Key()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Update(context.Background(), func(tx ledger.Tx) error {
		if err := tx.Credit(owner, 42); err != nil {
			return err
		}
		return tx.Append(ledger.Entry{Seq: 7, ID: "fund-1", Kind: "fund", Subject: owner, Payload: []byte(`{}`)})
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s2.View(context.Background(), func(r ledger.Reader) error {
		bal, err := r.Balance(owner)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), bal)

		last, err := r.LastSeq()
		require.NoError(t, err)
		assert.Equal(t, int64(7), last)
		return nil
	}))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"accounts", "entries"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSchema_Tables(t *testing.T) {
	s := createTestStore(t)

	tests := map[string][]string{
		"accounts": {"address", "lamports", "space", "data"},
		"entries":  {"seq", "id", "kind", "signer", "subject", "payload", "signature", "error_code"},
	}
	for table, expected := range tests {
		columns := getTableColumns(t, s.db, table)
		for _, col := range expected {
			if !contains(columns, col) {
				t.Errorf("%s table missing column %q", table, col)
			}
		}
	}
}

func TestSchema_EntriesIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "entries")
	for _, idx := range []string{"idx_entries_seq", "idx_entries_subject"} {
		if !contains(indexes, idx) {
			t.Errorf("entries table missing index %q", idx)
		}
	}
}

func TestMigrateToV1_AddsSubjectIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// Simulate a version-0 database without the subject index.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec("DROP INDEX idx_entries_subject")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, getTableIndexes(t, s.db, "entries"), "idx_entries_subject")
}

func TestStore_RejectsLamportsAboveInt64(t *testing.T) {
	s := createTestStore(t)
	owner := pubkey.FromSeed("owner").Key()

	err := s.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Credit(owner, math.MaxInt64+1)
	})
	assert.ErrorIs(t, err, ledger.ErrOverflow)
}

func TestSubjectEntries(t *testing.T) {
	s := createTestStore(t)
	jobA := pubkey.Derive([]byte("job"), []byte{1})
	jobB := pubkey.Derive([]byte("job"), []byte{2})

	require.NoError(t, s.Update(context.Background(), func(tx ledger.Tx) error {
		for i, subject := range []pubkey.Key{jobA, jobB, jobA} {
			e := ledger.Entry{
				Seq:     int64(i + 1),
				ID:      string(rune('a' + i)),
				Kind:    "start_job",
				Subject: subject,
				Payload: []byte(`{}`),
			}
			if err := tx.Append(e); err != nil {
				return err
			}
		}
		return nil
	}))

	entries, err := s.SubjectEntries(context.Background(), jobA)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, int64(3), entries[1].Seq)

	none, err := s.SubjectEntries(context.Background(), pubkey.Zero)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
