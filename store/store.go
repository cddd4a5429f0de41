package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

// Store wraps the pooled connection to the RAGFlow relational database.
// A Store built from an incomplete configuration is valid but unconfigured:
// every operation fails with a configuration error.
type Store struct {
	db      *sql.DB
	cfg     ragadmin.MySQLConfig
	dialect dialect
}

// New builds the pool described by cfg. It does not dial; the first query
// does. Missing connection parameters leave the Store unconfigured.
func New(cfg ragadmin.MySQLConfig) (*Store, error) {
	s := &Store{cfg: cfg, dialect: dialectFor(cfg.Driver)}
	if !cfg.Configured() {
		return s, nil
	}

	db, err := sql.Open(s.dialect.driver, dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s.db = db
	return s, nil
}

// dsn renders the driver-specific data source name.
func dsn(cfg ragadmin.MySQLConfig) string {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cfg.Driver == "sqlite3" {
		return fmt.Sprintf("%s?_busy_timeout=%d", cfg.Path, timeout.Milliseconds())
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.Timeout = timeout
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Configured reports whether the Store has a pool.
func (s *Store) Configured() bool {
	return s.db != nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying pool, or nil when unconfigured.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, ragadmin.ConfigurationError(ragadmin.ErrNotConfigured)
	}
	return s.db, nil
}

// Acquire checks a dedicated connection out of the pool. The caller must
// hand it back with Release.
func (s *Store) Acquire(ctx context.Context) (*sql.Conn, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return c, nil
}

// Release returns conn to the pool. Errors are logged, never returned.
func (s *Store) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		slog.Warn("store: releasing connection", "error", err)
	}
}

// RunTransaction runs fn inside one transaction on a dedicated connection.
// fn's error (or panic) rolls back; success commits. The connection is
// released on every path.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("store: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ConnectionStatus is the outcome of TestConnection.
type ConnectionStatus struct {
	Connected       bool   `json:"connected"`
	Driver          string `json:"driver,omitempty"`
	Version         string `json:"version,omitempty"`
	Database        string `json:"database,omitempty"`
	UserTableExists bool   `json:"user_table_exists"`
	Error           string `json:"error,omitempty"`
}

// TestConnection probes the database on a fresh handle that bypasses the
// pool, so a wedged pool does not mask a healthy server.
func (s *Store) TestConnection(ctx context.Context) ConnectionStatus {
	if !s.cfg.Configured() {
		return ConnectionStatus{Error: ragadmin.ErrNotConfigured.Error()}
	}
	status := ConnectionStatus{Driver: s.dialect.driver, Database: s.cfg.Database}
	if s.cfg.Driver == "sqlite3" {
		status.Database = s.cfg.Path
	}

	db, err := sql.Open(s.dialect.driver, dsn(s.cfg))
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		slog.Error("store: connection test failed", "error", err)
		status.Error = err.Error()
		return status
	}
	if err := db.QueryRowContext(ctx, s.dialect.versionQuery).Scan(&status.Version); err != nil {
		status.Error = err.Error()
		return status
	}

	var n int
	if err := db.QueryRowContext(ctx, s.dialect.tableExistsQuery, s.dialect.tableExistsArgs(s.cfg, "user")...).Scan(&n); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	status.UserTableExists = n > 0
	return status
}

// --- helpers ---

// In renders "column IN (?, ?, ...)" with its arguments. An empty set
// renders a predicate that matches nothing.
func In(column string, ids []string) (string, []any) {
	if len(ids) == 0 {
		return "1 = 0", nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return column + " IN (" + placeholders(len(ids)) + ")", args
}

// MaxInIDs bounds the placeholders of one statement's IN lists. It stays
// below SQLite's historic limit of 999 bound variables.
const MaxInIDs = 900

// Chunks splits ids into consecutive slices of at most size elements. A
// non-positive size yields a single chunk.
func Chunks(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 || len(ids) <= size {
		return [][]string{ids}
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	return append(out, ids)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// where joins conditions with AND, or returns "1=1" when there are none.
func where(conds []string) string {
	if len(conds) == 0 {
		return "1=1"
	}
	return strings.Join(conds, " AND ")
}

func like(s string) string {
	return "%" + s + "%"
}

// nowStamps returns the epoch-ms and date-string pair RAGFlow writes on
// every insert or update.
func nowStamps(now time.Time) (int64, string) {
	return now.UnixMilli(), now.Format(dateLayout)
}
