//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(ragadmin.MySQLConfig{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 5,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrapping store: %v", err)
	}
	return s
}

func mustExec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	if _, err := s.DB().Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

// ---------------------------------------------------------------------------
// Adapter
// ---------------------------------------------------------------------------

func TestUnconfiguredStore(t *testing.T) {
	s, err := New(ragadmin.MySQLConfig{Driver: "mysql", Host: "db"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Configured() {
		t.Fatal("expected store without database name to be unconfigured")
	}

	_, err = s.Acquire(context.Background())
	if !errors.Is(err, ragadmin.ErrNotConfigured) {
		t.Fatalf("Acquire error = %v, want ErrNotConfigured", err)
	}
	if got := ragadmin.KindOf(err); got != ragadmin.KindConfiguration {
		t.Errorf("kind = %v, want configuration", got)
	}

	err = s.RunTransaction(context.Background(), func(tx *sql.Tx) error {
		t.Fatal("body must not run without a pool")
		return nil
	})
	if !errors.Is(err, ragadmin.ErrNotConfigured) {
		t.Errorf("RunTransaction error = %v, want ErrNotConfigured", err)
	}

	if st := s.TestConnection(context.Background()); st.Connected {
		t.Error("unconfigured store reported connected")
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if got := countRows(t, s, "SELECT COUNT(*) FROM schema_version"); got != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", got, len(migrations))
	}
}

func TestRunTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO tenant (id, name) VALUES ('t1', 'kept')")
		return err
	})
	if err != nil {
		t.Fatalf("commit path: %v", err)
	}

	boom := errors.New("boom")
	err = s.RunTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO tenant (id, name) VALUES ('t2', 'dropped')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("rollback path error = %v, want boom", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		s.RunTransaction(ctx, func(tx *sql.Tx) error {
			tx.Exec("INSERT INTO tenant (id, name) VALUES ('t3', 'panicked')")
			panic("kaboom")
		})
	}()

	if got := countRows(t, s, "SELECT COUNT(*) FROM tenant"); got != 1 {
		t.Errorf("tenant rows = %d, want 1", got)
	}

	// Every path must hand its connection back.
	if inUse := s.DB().Stats().InUse; inUse != 0 {
		t.Errorf("connections in use = %d, want 0", inUse)
	}
}

func TestReleaseToleratesClosedConnection(t *testing.T) {
	s := newTestStore(t)
	conn, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s.Release(conn)
	s.Release(conn)
	s.Release(nil)
}

func TestTestConnectionSQLite(t *testing.T) {
	s := newTestStore(t)
	st := s.TestConnection(context.Background())
	if !st.Connected {
		t.Fatalf("not connected: %s", st.Error)
	}
	if !st.UserTableExists {
		t.Error("expected user table to exist")
	}
	if st.Version == "" {
		t.Error("expected a version string")
	}
}

func TestIn(t *testing.T) {
	pred, args := In("id", nil)
	if pred != "1 = 0" || len(args) != 0 {
		t.Errorf("empty In = %q %v", pred, args)
	}
	pred, args = In("d.id", []string{"a", "b", "c"})
	if pred != "d.id IN (?, ?, ?)" {
		t.Errorf("pred = %q", pred)
	}
	if len(args) != 3 || args[2] != "c" {
		t.Errorf("args = %v", args)
	}
}

func TestChunks(t *testing.T) {
	if got := Chunks(nil, 10); got != nil {
		t.Errorf("Chunks(nil) = %v", got)
	}
	ids := []string{"a", "b", "c", "d", "e"}
	got := Chunks(ids, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 || got[2][0] != "e" {
		t.Fatalf("Chunks(5, 2) = %v", got)
	}
	// Appending to a chunk must not clobber the next one.
	_ = append(got[0], "x")
	if got[1][0] != "c" {
		t.Errorf("chunks share capacity: %v", got)
	}
	if got := Chunks(ids, 0); len(got) != 1 || len(got[0]) != 5 {
		t.Errorf("Chunks(5, 0) = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Value normalization
// ---------------------------------------------------------------------------

func TestParseRunStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    RunStatus
		wantErr bool
	}{
		{"RUNNING", RunRunning, false},
		{"fail", RunFail, false},
		{"3", RunDone, false},
		{" 0 ", RunUnstart, false},
		{"7", 0, true},
		{"finished", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRunStatus(tt.in)
			if tt.wantErr {
				if ragadmin.KindOf(err) != ragadmin.KindValidation {
					t.Fatalf("err = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunFromColumn(t *testing.T) {
	cases := map[sql.NullString]RunStatus{
		{String: "1", Valid: true}: RunRunning,
		{String: "4", Valid: true}: RunFail,
		{String: "", Valid: true}:  RunUnstart,
		{String: "x", Valid: true}: RunUnstart,
		{}:                         RunUnstart,
	}
	for in, want := range cases {
		if got := runFromColumn(in); got != want {
			t.Errorf("runFromColumn(%+v) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatStamp(t *testing.T) {
	ref := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	want := ref.Format(dateLayout)

	if got := formatStamp("1714979289000"); got != time.UnixMilli(1714979289000).Format(dateLayout) {
		t.Errorf("ms: got %q", got)
	}
	if got := formatStamp("1714979289"); got != time.Unix(1714979289, 0).Format(dateLayout) {
		t.Errorf("s: got %q", got)
	}
	if got := formatStamp(want); got != want {
		t.Errorf("datetime passthrough: got %q, want %q", got, want)
	}
	if got := formatStamp("2024-05-06T07:08:09.123"); got != "2024-05-06 07:08:09" {
		t.Errorf("iso: got %q", got)
	}
	if ts := timestampFrom(sql.NullString{}); !ts.IsZero() {
		t.Error("NULL should be zero")
	}
	b, _ := timestampFrom(sql.NullString{}).MarshalJSON()
	if string(b) != "null" {
		t.Errorf("NULL json = %s", b)
	}
}

func TestPagingBounds(t *testing.T) {
	limit, offset := Paging{Page: 0, PageSize: 0}.limitOffset()
	if limit != DefaultPageSize || offset != 0 {
		t.Errorf("defaults = %d/%d", limit, offset)
	}
	limit, offset = Paging{Page: 3, PageSize: 5000}.limitOffset()
	if limit != MaxPageSize || offset != 2*MaxPageSize {
		t.Errorf("clamped = %d/%d", limit, offset)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !checkPassword(hash, "s3cret") {
		t.Error("expected password to verify")
	}
	if checkPassword(hash, "wrong") {
		t.Error("wrong password verified")
	}
	if checkPassword("pbkdf2:sha256:1$x$y", "s3cret") {
		t.Error("unsupported method verified")
	}
}
