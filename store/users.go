package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

// UserFilter narrows ListUsers. Keyword matches email or nickname.
type UserFilter struct {
	Paging
	Keyword string
	Status  string
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Email    string
	Password string
	Nickname string
}

// --- User operations ---

const userColumns = `u.id, u.email, u.nickname, u.avatar, u.status, u.is_superuser,
	u.login_channel, u.create_time, u.update_time, u.access_token,
	(SELECT COUNT(*) FROM knowledgebase WHERE tenant_id = u.id),
	(SELECT COUNT(*) FROM user_canvas WHERE user_id = u.id),
	(SELECT COUNT(*) FROM dialog WHERE tenant_id = u.id)`

func scanUser(sc interface{ Scan(...any) error }, extra ...any) (User, error) {
	var u User
	var nickname, avatar, status, channel, created, updated, token sql.NullString
	var superuser sql.NullInt64
	dest := []any{&u.ID, &u.Email, &nickname, &avatar, &status, &superuser,
		&channel, &created, &updated, &token,
		&u.DatasetCount, &u.AgentCount, &u.ChatCount}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return u, err
	}
	u.Nickname = nickname.String
	u.Avatar = avatar.String
	u.Status = status.String
	u.IsSuperuser = superuser.Int64 != 0
	u.LoginChannel = channel.String
	u.CreateTime = timestampFrom(created)
	u.UpdateTime = timestampFrom(updated)
	u.HasToken = token.String != ""
	return u, nil
}

// ListUsers returns users newest first with their ownership counts.
func (s *Store) ListUsers(ctx context.Context, f UserFilter) (*Page[User], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var conds []string
	var args []any
	if f.Keyword != "" {
		conds = append(conds, "(u.email LIKE ? OR u.nickname LIKE ?)")
		args = append(args, like(f.Keyword), like(f.Keyword))
	}
	if f.Status != "" {
		conds = append(conds, "u.status = ?")
		args = append(args, f.Status)
	}

	page := &Page[User]{Items: []User{}}
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user u WHERE "+where(conds), args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	limit, offset := f.limitOffset()
	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM user u
		WHERE `+where(conds)+`
		ORDER BY u.create_time DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, u)
	}
	return page, rows.Err()
}

// GetUser returns one user with profile fields.
func (s *Store) GetUser(ctx context.Context, id string) (*UserDetail, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var d UserDetail
	var lastLogin, language, scheme, tz, anonymous sql.NullString
	u, err := scanUser(db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, u.last_login_time, u.language, u.color_schema,
			u.timezone, u.is_anonymous
		FROM user u WHERE u.id = ?`, id),
		&lastLogin, &language, &scheme, &tz, &anonymous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragadmin.NotFoundError("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	d.User = u
	d.LastLoginTime = timestampFrom(lastLogin)
	d.Language = language.String
	d.ColorSchema = scheme.String
	d.Timezone = tz.String
	d.IsAnonymous = anonymous.String
	return &d, nil
}

// CreateUser inserts a user together with its own tenant and the owner
// link, the same three rows RAGFlow writes at registration.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	nu.Email = strings.TrimSpace(nu.Email)
	nu.Nickname = strings.TrimSpace(nu.Nickname)
	if nu.Email == "" || nu.Password == "" || nu.Nickname == "" {
		return nil, ragadmin.ValidationError("email, password and nickname are required")
	}

	hashed, err := HashPassword(nu.Password)
	if err != nil {
		return nil, err
	}

	userID := newID()
	err = s.RunTransaction(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, "SELECT id FROM user WHERE email = ?", nu.Email).Scan(&existing)
		switch {
		case err == nil:
			return ragadmin.ConflictError("user with email %s already exists", nu.Email)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("checking email: %w", err)
		}

		ms, date := nowStamps(time.Now())
		slog.Info("creating user", "email", nu.Email, "id", userID)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user (id, email, password, nickname, status,
				create_time, create_date, update_time, update_date,
				access_token, is_authenticated, is_active, is_anonymous,
				login_channel, is_superuser, last_login_time,
				language, color_schema, timezone)
			VALUES (?, ?, ?, ?, '1', ?, ?, ?, ?, ?, '1', '1', '0', 'password', 0, ?, ?, ?, ?)`,
			userID, nu.Email, hashed, nu.Nickname,
			ms, date, ms, date,
			newID(), date,
			"English", "Bright", "UTC+8\tAsia/Shanghai"); err != nil {
			return fmt.Errorf("inserting user: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenant (id, name, llm_id, embd_id, asr_id, img2txt_id, rerank_id, tts_id,
				parser_ids, credit, create_time, create_date, update_time, update_date, status)
			VALUES (?, ?, '', '', '', '', '', '', '', 0, ?, ?, ?, ?, '1')`,
			userID, nu.Nickname+"'s Kingdom", ms, date, ms, date); err != nil {
			return fmt.Errorf("inserting tenant: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_tenant (id, user_id, tenant_id, role, status,
				create_time, create_date, update_time, update_date, invited_by)
			VALUES (?, ?, ?, 'owner', '1', ?, ?, ?, ?, ?)`,
			newID(), userID, userID, ms, date, ms, date, userID); err != nil {
			return fmt.Errorf("inserting user_tenant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &d.User, nil
}

// UpdateUserStatus sets status "1" (active) or "0" (inactive) on the user
// and on every tenancy link it takes part in.
func (s *Store) UpdateUserStatus(ctx context.Context, id, status string) error {
	if status != "0" && status != "1" {
		return ragadmin.ValidationError("status must be \"0\" or \"1\", got %q", status)
	}
	return s.RunTransaction(ctx, func(tx *sql.Tx) error {
		ms, date := nowStamps(time.Now())
		res, err := tx.ExecContext(ctx,
			"UPDATE user SET status = ?, is_active = ?, update_time = ?, update_date = ? WHERE id = ?",
			status, status, ms, date, id)
		if err != nil {
			return fmt.Errorf("updating user status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ragadmin.NotFoundError("user", id)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_tenant SET status = ?, update_time = ?, update_date = ?
			WHERE user_id = ? OR tenant_id = ?`,
			status, ms, date, id, id); err != nil {
			return fmt.Errorf("updating user_tenant status: %w", err)
		}
		return nil
	})
}

// UpdateUserPassword replaces the stored hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id, password string) error {
	if password == "" {
		return ragadmin.ValidationError("password is required")
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	ms, date := nowStamps(time.Now())
	res, err := db.ExecContext(ctx,
		"UPDATE user SET password = ?, update_time = ?, update_date = ? WHERE id = ?",
		hashed, ms, date, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ragadmin.NotFoundError("user", id)
	}
	return nil
}

// Owners lists every user for owner filter dropdowns.
func (s *Store) Owners(ctx context.Context) ([]Owner, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT id, email, nickname FROM user ORDER BY email ASC")
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	defer rows.Close()

	owners := []Owner{}
	for rows.Next() {
		var o Owner
		var nickname sql.NullString
		if err := rows.Scan(&o.ID, &o.Email, &nickname); err != nil {
			return nil, err
		}
		o.Nickname = nickname.String
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// newID returns a dashless UUIDv4, the ID format RAGFlow uses everywhere.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
