package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

// DatasetFilter narrows ListDatasets. Owner matches owner email or nickname.
type DatasetFilter struct {
	Paging
	Name   string
	Status string
	Owner  string
}

// AgentFilter narrows ListAgents.
type AgentFilter struct {
	Paging
	Title string
	Owner string
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	Paging
	Name  string
	Owner string
}

// ownerCond appends the shared owner email/nickname predicate.
func ownerCond(conds []string, args []any, owner string) ([]string, []any) {
	if owner == "" {
		return conds, args
	}
	return append(conds, "(u.email LIKE ? OR u.nickname LIKE ?)"), append(args, like(owner), like(owner))
}

// count runs a COUNT(*) query.
func count(ctx context.Context, db *sql.DB, query string, args []any) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// --- Dataset operations ---

const datasetColumns = `kb.id, kb.name, kb.description, kb.chunk_num, kb.doc_num,
	kb.token_num, kb.parser_id, kb.permission, kb.status,
	kb.create_time, kb.update_time, kb.tenant_id, u.email, u.nickname`

func scanDataset(sc interface{ Scan(...any) error }) (Dataset, error) {
	var d Dataset
	var desc, parser, perm, status, created, updated, email, nickname sql.NullString
	var chunks, docs, tokens sql.NullInt64
	if err := sc.Scan(&d.ID, &d.Name, &desc, &chunks, &docs, &tokens, &parser, &perm,
		&status, &created, &updated, &d.TenantID, &email, &nickname); err != nil {
		return d, err
	}
	d.Description = desc.String
	d.ChunkNum, d.DocNum, d.TokenNum = chunks.Int64, docs.Int64, tokens.Int64
	d.ParserID = parser.String
	d.Permission = perm.String
	d.Status = status.String
	d.CreateTime = timestampFrom(created)
	d.UpdateTime = timestampFrom(updated)
	d.OwnerEmail = email.String
	d.OwnerNickname = nickname.String
	return d, nil
}

func (s *Store) listDatasets(ctx context.Context, conds []string, args []any, p Paging) (*Page[Dataset], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	from := " FROM knowledgebase kb LEFT JOIN user u ON kb.tenant_id = u.id WHERE " + where(conds)

	page := &Page[Dataset]{Items: []Dataset{}}
	if page.Total, err = count(ctx, db, "SELECT COUNT(*)"+from, args); err != nil {
		return nil, fmt.Errorf("counting datasets: %w", err)
	}

	limit, offset := p.limitOffset()
	rows, err := db.QueryContext(ctx, "SELECT "+datasetColumns+from+
		" ORDER BY kb.create_time DESC LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, d)
	}
	return page, rows.Err()
}

// ListDatasets lists datasets across all owners.
func (s *Store) ListDatasets(ctx context.Context, f DatasetFilter) (*Page[Dataset], error) {
	var conds []string
	var args []any
	if f.Name != "" {
		conds = append(conds, "kb.name LIKE ?")
		args = append(args, like(f.Name))
	}
	if f.Status != "" {
		conds = append(conds, "kb.status = ?")
		args = append(args, f.Status)
	}
	conds, args = ownerCond(conds, args, f.Owner)
	return s.listDatasets(ctx, conds, args, f.Paging)
}

// UserDatasets lists the datasets owned by one user.
func (s *Store) UserDatasets(ctx context.Context, userID string, p Paging) (*Page[Dataset], error) {
	return s.listDatasets(ctx, []string{"kb.tenant_id = ?"}, []any{userID}, p)
}

// GetDataset returns a single dataset.
func (s *Store) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	d, err := scanDataset(db.QueryRowContext(ctx, "SELECT "+datasetColumns+
		" FROM knowledgebase kb LEFT JOIN user u ON kb.tenant_id = u.id WHERE kb.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragadmin.NotFoundError("dataset", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting dataset: %w", err)
	}
	return &d, nil
}

// --- Agent operations ---

func (s *Store) listAgents(ctx context.Context, conds []string, args []any, p Paging) (*Page[Agent], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	from := " FROM user_canvas uc LEFT JOIN user u ON uc.user_id = u.id WHERE " + where(conds)

	page := &Page[Agent]{Items: []Agent{}}
	if page.Total, err = count(ctx, db, "SELECT COUNT(*)"+from, args); err != nil {
		return nil, fmt.Errorf("counting agents: %w", err)
	}

	limit, offset := p.limitOffset()
	rows, err := db.QueryContext(ctx, `
		SELECT uc.id, uc.title, uc.description, uc.canvas_category, uc.permission,
			uc.create_time, uc.update_time, uc.user_id, u.email, u.nickname`+from+`
		ORDER BY uc.create_time DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Agent
		var title, desc, category, perm, created, updated, email, nickname sql.NullString
		if err := rows.Scan(&a.ID, &title, &desc, &category, &perm, &created, &updated,
			&a.UserID, &email, &nickname); err != nil {
			return nil, err
		}
		a.Title = title.String
		a.Description = desc.String
		a.CanvasType = category.String
		a.Permission = perm.String
		a.CreateTime = timestampFrom(created)
		a.UpdateTime = timestampFrom(updated)
		a.OwnerEmail = email.String
		a.OwnerNickname = nickname.String
		page.Items = append(page.Items, a)
	}
	return page, rows.Err()
}

// ListAgents lists agents across all owners.
func (s *Store) ListAgents(ctx context.Context, f AgentFilter) (*Page[Agent], error) {
	var conds []string
	var args []any
	if f.Title != "" {
		conds = append(conds, "uc.title LIKE ?")
		args = append(args, like(f.Title))
	}
	conds, args = ownerCond(conds, args, f.Owner)
	return s.listAgents(ctx, conds, args, f.Paging)
}

// UserAgents lists the agents owned by one user.
func (s *Store) UserAgents(ctx context.Context, userID string, p Paging) (*Page[Agent], error) {
	return s.listAgents(ctx, []string{"uc.user_id = ?"}, []any{userID}, p)
}

// --- Chat operations ---

func (s *Store) listChats(ctx context.Context, conds []string, args []any, p Paging) (*Page[Chat], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	from := " FROM dialog d LEFT JOIN user u ON d.tenant_id = u.id WHERE " + where(conds)

	page := &Page[Chat]{Items: []Chat{}}
	if page.Total, err = count(ctx, db, "SELECT COUNT(*)"+from, args); err != nil {
		return nil, fmt.Errorf("counting chats: %w", err)
	}

	limit, offset := p.limitOffset()
	rows, err := db.QueryContext(ctx, `
		SELECT d.id, d.name, d.description, d.icon, d.language, d.llm_id, d.status,
			d.create_time, d.update_time, d.tenant_id, u.email, u.nickname,
			(SELECT COUNT(*) FROM conversation c WHERE c.dialog_id = d.id)`+from+`
		ORDER BY d.create_time DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Chat
		var name, desc, icon, lang, llm, status, created, updated, email, nickname sql.NullString
		if err := rows.Scan(&c.ID, &name, &desc, &icon, &lang, &llm, &status,
			&created, &updated, &c.TenantID, &email, &nickname, &c.SessionCount); err != nil {
			return nil, err
		}
		c.Name = name.String
		c.Description = desc.String
		c.Icon = icon.String
		c.Language = lang.String
		c.LLMID = llm.String
		c.Status = status.String
		c.CreateTime = timestampFrom(created)
		c.UpdateTime = timestampFrom(updated)
		c.OwnerEmail = email.String
		c.OwnerNickname = nickname.String
		page.Items = append(page.Items, c)
	}
	return page, rows.Err()
}

// ListChats lists chat assistants across all owners.
func (s *Store) ListChats(ctx context.Context, f ChatFilter) (*Page[Chat], error) {
	var conds []string
	var args []any
	if f.Name != "" {
		conds = append(conds, "d.name LIKE ?")
		args = append(args, like(f.Name))
	}
	conds, args = ownerCond(conds, args, f.Owner)
	return s.listChats(ctx, conds, args, f.Paging)
}

// UserChats lists the chat assistants owned by one user.
func (s *Store) UserChats(ctx context.Context, userID string, p Paging) (*Page[Chat], error) {
	return s.listChats(ctx, []string{"d.tenant_id = ?"}, []any{userID}, p)
}

// ListChatSessions lists a chat's conversations, newest first. Messages that
// are not a JSON array count as empty.
func (s *Store) ListChatSessions(ctx context.Context, chatID string, p Paging) (*Page[Session], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	page := &Page[Session]{Items: []Session{}}
	if page.Total, err = count(ctx, db,
		"SELECT COUNT(*) FROM conversation WHERE dialog_id = ?", []any{chatID}); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	limit, offset := p.limitOffset()
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, message, create_time, update_time
		FROM conversation WHERE dialog_id = ?
		ORDER BY create_time DESC LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sess Session
		var name, message, created, updated sql.NullString
		if err := rows.Scan(&sess.ID, &name, &message, &created, &updated); err != nil {
			return nil, err
		}
		sess.Name = name.String
		sess.Messages = []json.RawMessage{}
		if message.String != "" {
			var msgs []json.RawMessage
			if err := json.Unmarshal([]byte(message.String), &msgs); err == nil {
				sess.Messages = msgs
			}
		}
		sess.MessageCount = len(sess.Messages)
		sess.CreateTime = timestampFrom(created)
		sess.UpdateTime = timestampFrom(updated)
		page.Items = append(page.Items, sess)
	}
	return page, rows.Err()
}

// DeleteChatSessions removes conversations of one chat. IDs belonging to a
// different chat are left alone.
func (s *Store) DeleteChatSessions(ctx context.Context, chatID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := s.RunTransaction(ctx, func(tx *sql.Tx) error {
		in, args := In("id", ids)
		res, err := tx.ExecContext(ctx, "DELETE FROM conversation WHERE dialog_id = ? AND "+in,
			append([]any{chatID}, args...)...)
		if err != nil {
			return fmt.Errorf("deleting sessions: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
