package store

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

// RunStatus is a document's parsing state. RAGFlow stores it as "0".."4" or
// 0..4 depending on the writer; it is normalized on read.
type RunStatus int

const (
	RunUnstart RunStatus = iota
	RunRunning
	RunCancel
	RunDone
	RunFail
)

var runNames = [...]string{"UNSTART", "RUNNING", "CANCEL", "DONE", "FAIL"}

func (r RunStatus) String() string {
	if r < RunUnstart || r > RunFail {
		return runNames[RunUnstart]
	}
	return runNames[r]
}

// Valid reports whether r is one of the five states.
func (r RunStatus) Valid() bool {
	return r >= RunUnstart && r <= RunFail
}

func (r RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ParseRunStatus accepts a state name (any case) or its digit.
func ParseRunStatus(s string) (RunStatus, error) {
	s = strings.TrimSpace(s)
	for i, name := range runNames {
		if strings.EqualFold(s, name) {
			return RunStatus(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && RunStatus(n).Valid() {
		return RunStatus(n), nil
	}
	return RunUnstart, ragadmin.ValidationError("invalid run status %q", s)
}

// runFromColumn normalizes a stored run value. Empty or unrecognized values
// read as UNSTART.
func runFromColumn(v sql.NullString) RunStatus {
	if !v.Valid {
		return RunUnstart
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.String))
	if err != nil || !RunStatus(n).Valid() {
		return RunUnstart
	}
	return RunStatus(n)
}

const dateLayout = "2006-01-02 15:04:05"

// msThreshold separates epoch-milliseconds from epoch-seconds values.
const msThreshold = 1_000_000_000_000

// Timestamp renders an epoch value (ms or s) or a stored datetime string as
// "2006-01-02 15:04:05" in local time. A NULL column marshals to null.
type Timestamp struct {
	text  string
	valid bool
}

func timestampFrom(v sql.NullString) Timestamp {
	if !v.Valid || v.String == "" {
		return Timestamp{}
	}
	return Timestamp{text: formatStamp(v.String), valid: true}
}

func formatStamp(raw string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		// Already a datetime string; drop a trailing fractional part or T separator.
		raw = strings.Replace(raw, "T", " ", 1)
		if i := strings.IndexByte(raw, '.'); i > 0 {
			raw = raw[:i]
		}
		return raw
	}
	if f > msThreshold {
		return time.UnixMilli(int64(f)).Format(dateLayout)
	}
	return time.Unix(int64(f), 0).Format(dateLayout)
}

// String returns the formatted value, or "" when absent.
func (t Timestamp) String() string { return t.text }

// IsZero reports whether the column was NULL.
func (t Timestamp) IsZero() bool { return !t.valid }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.text)
}

// Page is one page of a filtered listing.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// Pagination bounds. Page is 1-based.
const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// Paging is embedded in every listing filter.
type Paging struct {
	Page     int
	PageSize int
}

func (p Paging) limitOffset() (int, int) {
	page, size := p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return size, (page - 1) * size
}

// --- row types ---

// User is a row of the user table with ownership counts.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Nickname     string    `json:"nickname"`
	Avatar       string    `json:"avatar,omitempty"`
	Status       string    `json:"status"`
	IsSuperuser  bool      `json:"is_superuser"`
	LoginChannel string    `json:"login_channel,omitempty"`
	CreateTime   Timestamp `json:"create_time"`
	UpdateTime   Timestamp `json:"update_time"`
	HasToken     bool      `json:"has_token"`
	DatasetCount int       `json:"dataset_count"`
	AgentCount   int       `json:"agent_count"`
	ChatCount    int       `json:"chat_count"`
}

// UserDetail is the single-user view.
type UserDetail struct {
	User
	LastLoginTime Timestamp `json:"last_login_time"`
	Language      string    `json:"language,omitempty"`
	ColorSchema   string    `json:"color_schema,omitempty"`
	Timezone      string    `json:"timezone,omitempty"`
	IsAnonymous   string    `json:"is_anonymous,omitempty"`
}

// Owner is an entry in the owner filter dropdown.
type Owner struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// Dataset is a knowledgebase row.
type Dataset struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	ChunkNum      int64     `json:"chunk_num"`
	DocNum        int64     `json:"doc_num"`
	TokenNum      int64     `json:"token_num"`
	ParserID      string    `json:"parser_id,omitempty"`
	Permission    string    `json:"permission,omitempty"`
	Status        string    `json:"status,omitempty"`
	CreateTime    Timestamp `json:"create_time"`
	UpdateTime    Timestamp `json:"update_time"`
	TenantID      string    `json:"tenant_id,omitempty"`
	OwnerEmail    string    `json:"owner_email,omitempty"`
	OwnerNickname string    `json:"owner_nickname,omitempty"`
}

// Agent is a user_canvas row.
type Agent struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	CanvasType    string    `json:"canvas_type,omitempty"`
	Permission    string    `json:"permission,omitempty"`
	CreateTime    Timestamp `json:"create_time"`
	UpdateTime    Timestamp `json:"update_time"`
	UserID        string    `json:"user_id,omitempty"`
	OwnerEmail    string    `json:"owner_email,omitempty"`
	OwnerNickname string    `json:"owner_nickname,omitempty"`
}

// Chat is a dialog row with its session count.
type Chat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Icon          string    `json:"icon,omitempty"`
	Language      string    `json:"language,omitempty"`
	LLMID         string    `json:"llm_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	CreateTime    Timestamp `json:"create_time"`
	UpdateTime    Timestamp `json:"update_time"`
	TenantID      string    `json:"tenant_id,omitempty"`
	OwnerEmail    string    `json:"owner_email,omitempty"`
	OwnerNickname string    `json:"owner_nickname,omitempty"`
	SessionCount  int       `json:"session_count"`
}

// Session is a conversation row.
type Session struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	MessageCount int               `json:"message_count"`
	Messages     []json.RawMessage `json:"messages"`
	CreateTime   Timestamp         `json:"create_time"`
	UpdateTime   Timestamp         `json:"update_time"`
}

// Document is a document row as shown in a dataset listing.
type Document struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Thumbnail       string    `json:"thumbnail,omitempty"`
	Location        string    `json:"location,omitempty"`
	Size            int64     `json:"size"`
	Type            string    `json:"type,omitempty"`
	TokenCount      int64     `json:"token_count"`
	ChunkCount      int64     `json:"chunk_count"`
	Progress        float64   `json:"progress"`
	ProgressMsg     string    `json:"progress_msg,omitempty"`
	ProcessBeginAt  Timestamp `json:"process_begin_at"`
	ProcessDuration float64   `json:"process_duration"`
	Run             RunStatus `json:"run"`
	CreateTime      Timestamp `json:"create_time"`
	UpdateTime      Timestamp `json:"update_time"`
}

// ParsingTask is a document viewed as an entry of the parsing queue.
type ParsingTask struct {
	Document
	DatasetID     string `json:"dataset_id"`
	DatasetName   string `json:"dataset_name,omitempty"`
	OwnerEmail    string `json:"owner_email,omitempty"`
	OwnerNickname string `json:"owner_nickname,omitempty"`

	// QueuePosition and PendingTotal are set for RUNNING documents only.
	QueuePosition *int `json:"queue_position"`
	PendingTotal  *int `json:"pending_total"`
}
