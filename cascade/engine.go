package cascade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ragadmin "github.com/tedhappy/ragflow-admin"
	"github.com/tedhappy/ragflow-admin/store"
)

// Request names the roots of one deletion.
type Request struct {
	Kind Kind
	IDs  []string

	// DatasetID scopes KindDocuments; it is ignored for other kinds.
	DatasetID string
}

// Counts maps a report category to the rows it lost.
type Counts map[string]int64

// Transactor runs fn inside one database transaction. *store.Store
// satisfies it.
type Transactor interface {
	RunTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Observer is told about every finished cascade. It may be nil.
type Observer interface {
	ObserveCascade(kind string, outcome string, counts map[string]int64, elapsed time.Duration)
}

// Engine executes entity graph programs.
type Engine struct {
	db       Transactor
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver reports each cascade's outcome to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates an Engine over db.
func New(db Transactor, opts ...Option) *Engine {
	e := &Engine{db: db}
	for _, o := range opts {
		o(e)
	}
	return e
}

// zeroCounts pre-fills every category of kind so that unreached steps
// report 0 rather than being absent.
func zeroCounts(kind Kind) Counts {
	c := Counts{}
	for _, cat := range Categories(kind) {
		c[cat] = 0
	}
	return c
}

// Delete walks the program for req.Kind over req.IDs inside a single
// transaction. Any failing step rolls the whole call back and surfaces a
// transaction error; callers never observe partial deletion.
func (e *Engine) Delete(ctx context.Context, req Request) (Counts, error) {
	program, ok := programs[req.Kind]
	if !ok {
		return nil, ragadmin.ValidationError("unknown entity kind %s", req.Kind)
	}
	if req.Kind == KindDocuments && strings.TrimSpace(req.DatasetID) == "" {
		return nil, ragadmin.ValidationError("dataset id is required to delete documents")
	}

	roots := dedupe(req.IDs)
	if len(roots) == 0 {
		return zeroCounts(req.Kind), nil
	}

	start := time.Now()
	var counts Counts
	err := e.db.RunTransaction(ctx, func(tx *sql.Tx) error {
		r := &run{
			tx:        tx,
			datasetID: req.DatasetID,
			sets:      map[idSet][]string{setRoots: roots},
			counts:    zeroCounts(req.Kind),
		}
		for i, st := range program {
			if err := r.exec(ctx, st); err != nil {
				return fmt.Errorf("step %d (%s %s): %w", i+1, opName(st.op), st.table, err)
			}
		}
		counts = r.counts
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		slog.Error("cascade rolled back", "kind", req.Kind.String(), "roots", len(roots), "error", err)
		e.observe(req.Kind, "error", nil, elapsed)
		if ragadmin.KindOf(err) == ragadmin.KindConfiguration {
			return nil, err
		}
		return nil, ragadmin.TransactionError(err)
	}

	slog.Info("cascade committed", "kind", req.Kind.String(), "roots", len(roots),
		"deleted", counts[rootCategory[req.Kind]], "duration", elapsed.Round(time.Millisecond))
	e.observe(req.Kind, "success", counts, elapsed)
	return counts, nil
}

func (e *Engine) observe(kind Kind, outcome string, counts Counts, elapsed time.Duration) {
	if e.observer != nil {
		e.observer.ObserveCascade(kind.String(), outcome, counts, elapsed)
	}
}

// run is the mutable state of one program execution.
type run struct {
	tx        *sql.Tx
	datasetID string
	sets      map[idSet][]string
	counts    Counts

	// removed chunk and token totals of the documents about to be deleted.
	chunks, tokens int64
}

func (r *run) exec(ctx context.Context, st Step) error {
	if st.op == opDecrement {
		return r.decrement(ctx)
	}

	ids := r.sets[st.source]
	if len(ids) == 0 {
		if st.op == opCollect {
			r.sets[st.into] = nil
		}
		return nil
	}

	// Large sets run chunk by chunk inside the same transaction. Every filter
	// column binds the whole chunk.
	var found []string
	for _, chunk := range store.Chunks(ids, store.MaxInIDs/len(st.filter)) {
		pred, args := r.predicate(st, chunk)
		switch st.op {
		case opCollect:
			got, err := r.collect(ctx, "SELECT DISTINCT "+st.column+" FROM "+st.table+" WHERE "+pred, args)
			if err != nil {
				return err
			}
			found = append(found, got...)
		case opDelete:
			res, err := r.tx.ExecContext(ctx, "DELETE FROM "+st.table+" WHERE "+pred, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			r.counts[st.category] += n
		case opSumCounters:
			var chunks, tokens sql.NullInt64
			if err := r.tx.QueryRowContext(ctx,
				"SELECT SUM(chunk_num), SUM(token_num) FROM "+st.table+" WHERE "+pred, args...).
				Scan(&chunks, &tokens); err != nil {
				return err
			}
			r.chunks += chunks.Int64
			r.tokens += tokens.Int64
		}
	}
	if st.op == opCollect {
		r.sets[st.into] = dedupe(found)
	}
	return nil
}

// predicate builds the WHERE clause of st over ids.
func (r *run) predicate(st Step, ids []string) (string, []any) {
	var ors []string
	var args []any
	for _, col := range st.filter {
		in, a := store.In(col, ids)
		ors = append(ors, in)
		args = append(args, a...)
	}
	pred := strings.Join(ors, " OR ")
	if len(ors) > 1 {
		pred = "(" + pred + ")"
	}
	if st.scoped {
		pred += " AND kb_id = ?"
		args = append(args, r.datasetID)
	}
	if st.extra != "" {
		pred += " AND " + st.extra
	}
	return pred, args
}

func (r *run) collect(ctx context.Context, query string, args []any) ([]string, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id.Valid && id.String != "" {
			ids = append(ids, id.String)
		}
	}
	return ids, rows.Err()
}

// decrement lowers the scoped dataset's counters by the documents removed in
// this run, clamping each at zero.
func (r *run) decrement(ctx context.Context) error {
	docs := r.counts[CatDocuments]
	if docs == 0 {
		return nil
	}
	_, err := r.tx.ExecContext(ctx, `
		UPDATE knowledgebase SET
			doc_num = CASE WHEN doc_num > ? THEN doc_num - ? ELSE 0 END,
			chunk_num = CASE WHEN chunk_num > ? THEN chunk_num - ? ELSE 0 END,
			token_num = CASE WHEN token_num > ? THEN token_num - ? ELSE 0 END
		WHERE id = ?`,
		docs, docs, r.chunks, r.chunks, r.tokens, r.tokens, r.datasetID)
	return err
}

func opName(o op) string {
	switch o {
	case opCollect:
		return "collect"
	case opDelete:
		return "delete"
	case opSumCounters:
		return "sum"
	case opDecrement:
		return "decrement"
	}
	return "unknown"
}

// dedupe drops blank and repeated IDs, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
