package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	if _, err := New("/nonexistent/dir/state.db"); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestNew_WALMode(t *testing.T) {
	s := tempStore(t)
	var mode string
	if err := s.DB().QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestTx_RollbackOnError(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	sentinel := errors.New("abort")
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Tx err = %v, want sentinel", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after rollback, want 0", count)
	}
}

func TestMigrate_SkipsApplied(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	runs := 0
	migrations := []Migration{{
		Version:     1,
		Description: "create table",
		Up: func(tx *sql.Tx) error {
			runs++
			_, err := tx.Exec("CREATE TABLE once (id INTEGER)")
			return err
		},
	}}

	for i := 0; i < 2; i++ {
		if err := s.Migrate(ctx, "test", migrations); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}
	if runs != 1 {
		t.Errorf("migration ran %d times, want 1", runs)
	}
}

func TestMigrate_FailureNotRecorded(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "ok", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE partial (id INTEGER)")
			return err
		}},
		{Version: 2, Description: "bad", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("NOT SQL")
			return err
		}},
	}
	if err := s.Migrate(ctx, "partial", migrations); err == nil {
		t.Fatal("expected error from bad migration")
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations WHERE component = 'partial'").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("recorded migrations = %d, want 1", count)
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		steps   []string
		wantErr error
	}{
		{"first run", []string{"0.1.0"}, nil},
		{"same version", []string{"0.1.0", "0.1.0"}, nil},
		{"upgrade", []string{"0.1.0", "0.2.0"}, nil},
		{"downgrade rejected", []string{"0.2.0", "0.1.0"}, ErrNewerSchema},
		{"dev passes", []string{"0.2.0", "dev", "0.1.0"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := tempStore(t)
			ctx := context.Background()
			var err error
			for _, v := range tc.steps {
				if err = s.CheckVersion(ctx, v); err != nil {
					break
				}
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("CheckVersion: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestClose(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.DB().PingContext(context.Background()); err == nil {
		t.Error("expected error after Close, got nil")
	}
}
