package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DocumentFilter narrows ListDocuments. Run is a state name or digit.
type DocumentFilter struct {
	Paging
	Keywords string
	Run      string
}

// TaskFilter narrows ListParsingTasks.
type TaskFilter struct {
	Paging
	Status   string
	Dataset  string
	Document string
	Owner    string
}

// ParsingStats counts documents per run state.
type ParsingStats struct {
	Unstart int `json:"unstart"`
	Running int `json:"running"`
	Cancel  int `json:"cancel"`
	Done    int `json:"done"`
	Fail    int `json:"fail"`
	Total   int `json:"total"`
}

// DatasetDocuments groups document IDs under their dataset.
type DatasetDocuments struct {
	DatasetID   string   `json:"dataset_id"`
	DocumentIDs []string `json:"document_ids"`
}

const documentColumns = `d.id, d.name, d.thumbnail, d.location, d.size, d.type,
	d.token_num, d.chunk_num, d.progress, d.progress_msg,
	d.process_begin_at, d.process_duration, d.run, d.create_time, d.update_time`

// documentScanner collects the nullable columns of documentColumns.
type documentScanner struct {
	name, thumb, location, typ, msg, begin, run, created, updated sql.NullString
	size, tokens, chunks                                          sql.NullInt64
	progress, duration                                            sql.NullFloat64
}

func (ds *documentScanner) dest(doc *Document) []any {
	return []any{&doc.ID, &ds.name, &ds.thumb, &ds.location, &ds.size, &ds.typ,
		&ds.tokens, &ds.chunks, &ds.progress, &ds.msg,
		&ds.begin, &ds.duration, &ds.run, &ds.created, &ds.updated}
}

func (ds *documentScanner) fill(doc *Document) {
	doc.Name = ds.name.String
	doc.Thumbnail = ds.thumb.String
	doc.Location = ds.location.String
	doc.Size = ds.size.Int64
	doc.Type = ds.typ.String
	doc.TokenCount = ds.tokens.Int64
	doc.ChunkCount = ds.chunks.Int64
	doc.Progress = ds.progress.Float64
	doc.ProgressMsg = ds.msg.String
	doc.ProcessBeginAt = timestampFrom(ds.begin)
	doc.ProcessDuration = ds.duration.Float64
	doc.Run = runFromColumn(ds.run)
	doc.CreateTime = timestampFrom(ds.created)
	doc.UpdateTime = timestampFrom(ds.updated)
}

// --- Document operations ---

// ListDocuments lists one dataset's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, datasetID string, f DocumentFilter) (*Page[Document], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	conds := []string{"d.kb_id = ?"}
	args := []any{datasetID}
	if f.Keywords != "" {
		conds = append(conds, "d.name LIKE ?")
		args = append(args, like(f.Keywords))
	}
	if f.Run != "" {
		run, err := ParseRunStatus(f.Run)
		if err != nil {
			return nil, err
		}
		conds = append(conds, s.dialect.castInt("d.run")+" = ?")
		args = append(args, int(run))
	}

	page := &Page[Document]{Items: []Document{}}
	if page.Total, err = count(ctx, db, "SELECT COUNT(*) FROM document d WHERE "+where(conds), args); err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}

	limit, offset := f.limitOffset()
	rows, err := db.QueryContext(ctx, "SELECT "+documentColumns+
		" FROM document d WHERE "+where(conds)+
		" ORDER BY d.create_time DESC LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc Document
		var ds documentScanner
		if err := rows.Scan(ds.dest(&doc)...); err != nil {
			return nil, err
		}
		ds.fill(&doc)
		page.Items = append(page.Items, doc)
	}
	return page, rows.Err()
}

// --- Parsing queue ---

// ListParsingTasks lists documents across all datasets as a parsing queue.
// RUNNING sorts first, then UNSTART, then FAIL, then everything else.
// RUNNING and UNSTART are FIFO by creation; the rest are newest-updated
// first. RUNNING rows carry their position among all running documents.
func (s *Store) ListParsingTasks(ctx context.Context, f TaskFilter) (*Page[ParsingTask], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	run := s.dialect.castInt("d.run")

	var conds []string
	var args []any
	if f.Status != "" {
		st, err := ParseRunStatus(f.Status)
		if err != nil {
			return nil, err
		}
		conds = append(conds, run+" = ?")
		args = append(args, int(st))
	}
	if f.Dataset != "" {
		conds = append(conds, "kb.name LIKE ?")
		args = append(args, like(f.Dataset))
	}
	if f.Document != "" {
		conds = append(conds, "d.name LIKE ?")
		args = append(args, like(f.Document))
	}
	conds, args = ownerCond(conds, args, f.Owner)

	from := ` FROM document d
		LEFT JOIN knowledgebase kb ON d.kb_id = kb.id
		LEFT JOIN user u ON kb.tenant_id = u.id
		WHERE ` + where(conds)

	page := &Page[ParsingTask]{Items: []ParsingTask{}}
	if page.Total, err = count(ctx, db, "SELECT COUNT(*)"+from, args); err != nil {
		return nil, fmt.Errorf("counting parsing tasks: %w", err)
	}

	limit, offset := f.limitOffset()
	rows, err := db.QueryContext(ctx, "SELECT "+documentColumns+`,
			d.kb_id, kb.name, u.email, u.nickname`+from+`
		ORDER BY
			CASE `+run+` WHEN 1 THEN 1 WHEN 0 THEN 2 WHEN 4 THEN 3 ELSE 4 END,
			CASE WHEN `+run+` IN (0, 1) THEN d.create_time ELSE -d.update_time END
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing parsing tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t ParsingTask
		var ds documentScanner
		var kbID, kbName, email, nickname sql.NullString
		if err := rows.Scan(append(ds.dest(&t.Document), &kbID, &kbName, &email, &nickname)...); err != nil {
			return nil, err
		}
		ds.fill(&t.Document)
		t.DatasetID = kbID.String
		t.DatasetName = kbName.String
		t.OwnerEmail = email.String
		t.OwnerNickname = nickname.String
		page.Items = append(page.Items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	positions, err := s.queuePositions(ctx, db)
	if err != nil {
		return nil, err
	}
	running := len(positions)
	for i := range page.Items {
		if pos, ok := positions[page.Items[i].ID]; ok {
			page.Items[i].QueuePosition = &pos
			page.Items[i].PendingTotal = &running
		}
	}
	return page, nil
}

// queuePositions numbers every RUNNING document by creation order.
func (s *Store) queuePositions(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT d.id, ROW_NUMBER() OVER (ORDER BY d.create_time)
		FROM document d
		WHERE `+s.dialect.castInt("d.run")+` = 1`)
	if err != nil {
		return nil, fmt.Errorf("computing queue positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]int)
	for rows.Next() {
		var id string
		var pos int
		if err := rows.Scan(&id, &pos); err != nil {
			return nil, err
		}
		positions[id] = pos
	}
	return positions, rows.Err()
}

// ParsingStats counts documents in each run state.
func (s *Store) ParsingStats(ctx context.Context) (*ParsingStats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	run := s.dialect.castInt("run")
	var st ParsingStats
	var unstart, running, cancel, done, fail sql.NullInt64
	if err := db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN `+run+` = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN `+run+` = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN `+run+` = 2 THEN 1 ELSE 0 END),
			SUM(CASE WHEN `+run+` = 3 THEN 1 ELSE 0 END),
			SUM(CASE WHEN `+run+` = 4 THEN 1 ELSE 0 END),
			COUNT(*)
		FROM document`).Scan(&unstart, &running, &cancel, &done, &fail, &st.Total); err != nil {
		return nil, fmt.Errorf("counting parsing states: %w", err)
	}
	st.Unstart = int(unstart.Int64)
	st.Running = int(running.Int64)
	st.Cancel = int(cancel.Int64)
	st.Done = int(done.Int64)
	st.Fail = int(fail.Int64)
	return &st, nil
}

// DocumentsByRun groups the IDs of documents in the given state by dataset,
// in dataset order.
func (s *Store) DocumentsByRun(ctx context.Context, run RunStatus) ([]DatasetDocuments, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT kb_id, id FROM document
		WHERE `+s.dialect.castInt("run")+` = ?
		ORDER BY kb_id, create_time`, int(run))
	if err != nil {
		return nil, fmt.Errorf("listing %s documents: %w", run, err)
	}
	defer rows.Close()

	groups := []DatasetDocuments{}
	for rows.Next() {
		var kbID, id string
		if err := rows.Scan(&kbID, &id); err != nil {
			return nil, err
		}
		if n := len(groups); n > 0 && groups[n-1].DatasetID == kbID {
			groups[n-1].DocumentIDs = append(groups[n-1].DocumentIDs, id)
			continue
		}
		groups = append(groups, DatasetDocuments{DatasetID: kbID, DocumentIDs: []string{id}})
	}
	return groups, rows.Err()
}
