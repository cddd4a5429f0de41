package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DashboardStats are the headline totals.
type DashboardStats struct {
	DatasetCount  int `json:"dataset_count"`
	DocumentCount int `json:"document_count"`
	ChatCount     int `json:"chat_count"`
	AgentCount    int `json:"agent_count"`
	UserCount     int `json:"user_count"`
}

// SystemStats is the monitoring view returned by SystemStatistics.
type SystemStats struct {
	Users struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Inactive int `json:"inactive"`
	} `json:"users"`
	Datasets struct {
		Total       int   `json:"total"`
		TotalDocs   int64 `json:"total_docs"`
		TotalChunks int64 `json:"total_chunks"`
		TotalTokens int64 `json:"total_tokens"`
	} `json:"datasets"`
	Documents struct {
		Total          int   `json:"total"`
		EffectiveTotal int   `json:"effective_total"`
		Pending        int   `json:"pending"`
		Running        int   `json:"running"`
		Canceled       int   `json:"canceled"`
		Completed      int   `json:"completed"`
		Failed         int   `json:"failed"`
		TotalSize      int64 `json:"total_size"`
	} `json:"documents"`
	Chats struct {
		Total         int `json:"total"`
		TotalSessions int `json:"total_sessions"`
	} `json:"chats"`
	Agents struct {
		Total int `json:"total"`
	} `json:"agents"`
	RecentActivity struct {
		NewUsers    int `json:"new_users_24h"`
		NewDocs     int `json:"new_docs_24h"`
		NewSessions int `json:"new_sessions_24h"`
	} `json:"recent_activity"`
}

// DashboardStats counts each top-level entity.
func (s *Store) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	stats := &DashboardStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM knowledgebase", &stats.DatasetCount},
		{"SELECT COUNT(*) FROM document", &stats.DocumentCount},
		{"SELECT COUNT(*) FROM dialog", &stats.ChatCount},
		{"SELECT COUNT(*) FROM user_canvas", &stats.AgentCount},
		{"SELECT COUNT(*) FROM user", &stats.UserCount},
	}
	for _, q := range queries {
		if err := db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// recentSince renders a predicate matching rows created after cutoff,
// whether create_time holds epoch milliseconds or epoch seconds.
func recentSince(cutoff time.Time) (string, []any) {
	return "((create_time > ? AND create_time > ?) OR (create_time <= ? AND create_time > ?))",
		[]any{int64(msThreshold), cutoff.UnixMilli(), int64(msThreshold), cutoff.Unix()}
}

// SystemStatistics gathers the monitoring sections concurrently; each
// section takes its own pooled connection.
func (s *Store) SystemStatistics(ctx context.Context) (*SystemStats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	st := &SystemStats{}
	status := s.dialect.castInt("status")
	run := s.dialect.castInt("run")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var active, inactive sql.NullInt64
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(*),
				SUM(CASE WHEN `+status+` = 1 THEN 1 ELSE 0 END),
				SUM(CASE WHEN `+status+` = 0 THEN 1 ELSE 0 END)
			FROM user`).Scan(&st.Users.Total, &active, &inactive)
		st.Users.Active, st.Users.Inactive = int(active.Int64), int(inactive.Int64)
		return wrapSection("users", err)
	})

	g.Go(func() error {
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(doc_num), 0), COALESCE(SUM(chunk_num), 0),
				COALESCE(SUM(token_num), 0)
			FROM knowledgebase`).Scan(&st.Datasets.Total, &st.Datasets.TotalDocs,
			&st.Datasets.TotalChunks, &st.Datasets.TotalTokens)
		return wrapSection("datasets", err)
	})

	g.Go(func() error {
		var pending, running, canceled, completed, failed sql.NullInt64
		d := &st.Documents
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(*),
				SUM(CASE WHEN `+run+` = 0 THEN 1 ELSE 0 END),
				SUM(CASE WHEN `+run+` = 1 THEN 1 ELSE 0 END),
				SUM(CASE WHEN `+run+` = 2 THEN 1 ELSE 0 END),
				SUM(CASE WHEN `+run+` = 3 THEN 1 ELSE 0 END),
				SUM(CASE WHEN `+run+` = 4 THEN 1 ELSE 0 END),
				COALESCE(SUM(size), 0)
			FROM document`).Scan(&d.Total, &pending, &running, &canceled, &completed, &failed, &d.TotalSize)
		d.Pending = int(pending.Int64)
		d.Running = int(running.Int64)
		d.Canceled = int(canceled.Int64)
		d.Completed = int(completed.Int64)
		d.Failed = int(failed.Int64)
		// Canceled documents never finish, so they are left out of rate denominators.
		d.EffectiveTotal = d.Total - d.Canceled
		return wrapSection("documents", err)
	})

	g.Go(func() error {
		err := db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM dialog), (SELECT COUNT(*) FROM conversation)`).
			Scan(&st.Chats.Total, &st.Chats.TotalSessions)
		return wrapSection("chats", err)
	})

	g.Go(func() error {
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_canvas").Scan(&st.Agents.Total)
		return wrapSection("agents", err)
	})

	g.Go(func() error {
		pred, args := recentSince(time.Now().Add(-24 * time.Hour))
		recent := []struct {
			table string
			dest  *int
		}{
			{"user", &st.RecentActivity.NewUsers},
			{"document", &st.RecentActivity.NewDocs},
			{"conversation", &st.RecentActivity.NewSessions},
		}
		for _, r := range recent {
			if err := db.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM "+r.table+" WHERE "+pred, args...).Scan(r.dest); err != nil {
				return wrapSection("recent "+r.table, err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

func wrapSection(name string, err error) error {
	if err != nil {
		return fmt.Errorf("system statistics %s: %w", name, err)
	}
	return nil
}
