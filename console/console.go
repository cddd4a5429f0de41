// Package console is the admin console's service layer. It sits between the
// HTTP handlers and the three backends: the RAGFlow database, the cascading
// deletion engine and the RAGFlow REST API.
package console

import (
	"context"
	"log/slog"

	ragadmin "github.com/tedhappy/ragflow-admin"
	"github.com/tedhappy/ragflow-admin/cascade"
	"github.com/tedhappy/ragflow-admin/ragflow"
	"github.com/tedhappy/ragflow-admin/store"
)

// Console is the set of operations the HTTP surface exposes.
type Console interface {
	// DashboardStats returns headline entity totals.
	DashboardStats(ctx context.Context) (*store.DashboardStats, error)

	// SystemStatistics returns the monitoring breakdown.
	SystemStatistics(ctx context.Context) (*store.SystemStats, error)

	ListUsers(ctx context.Context, f store.UserFilter) (*store.Page[store.User], error)
	GetUser(ctx context.Context, id string) (*store.UserDetail, error)
	CreateUser(ctx context.Context, u store.NewUser) (*store.User, error)
	UpdateUserStatus(ctx context.Context, id, status string) error
	UpdateUserPassword(ctx context.Context, id, password string) error
	Owners(ctx context.Context) ([]store.Owner, error)
	UserDatasets(ctx context.Context, id string, p store.Paging) (*store.Page[store.Dataset], error)
	UserAgents(ctx context.Context, id string, p store.Paging) (*store.Page[store.Agent], error)
	UserChats(ctx context.Context, id string, p store.Paging) (*store.Page[store.Chat], error)

	// DeleteUsers removes users and everything they own.
	DeleteUsers(ctx context.Context, ids []string) (cascade.Report, error)

	ListDatasets(ctx context.Context, f store.DatasetFilter) (*Listing, error)
	CreateDataset(ctx context.Context, name string, fields map[string]any) (ragflow.Item, error)
	DeleteDatasets(ctx context.Context, ids []string) (cascade.Report, error)

	ListDocuments(ctx context.Context, datasetID string, f store.DocumentFilter) (*Listing, error)
	DeleteDocuments(ctx context.Context, datasetID string, ids []string) (cascade.Report, error)

	ListChats(ctx context.Context, f store.ChatFilter) (*Listing, error)
	DeleteChats(ctx context.Context, ids []string) (cascade.Report, error)
	ListChatSessions(ctx context.Context, chatID string, p store.Paging) (*Listing, error)
	DeleteChatSessions(ctx context.Context, chatID string, ids []string) (cascade.Report, error)

	ListAgents(ctx context.Context, f store.AgentFilter) (*Listing, error)
	DeleteAgents(ctx context.Context, ids []string) (cascade.Report, error)

	ListParsingTasks(ctx context.Context, f store.TaskFilter) (*store.Page[store.ParsingTask], error)
	ParsingStats(ctx context.Context) (*store.ParsingStats, error)

	// ParseDocuments and StopParsing act on groups of documents, one remote
	// call per dataset.
	ParseDocuments(ctx context.Context, batches []store.DatasetDocuments) (*BatchReport, error)
	StopParsing(ctx context.Context, batches []store.DatasetDocuments) (*BatchReport, error)

	// RetryFailed re-queues every FAIL document.
	RetryFailed(ctx context.Context) (*BatchReport, error)

	// Health combines database and remote status.
	Health(ctx context.Context) Health

	// Config returns the running configuration with secrets masked.
	Config() ragadmin.Config
}

// Listing is a page whose items come either from the database or from the
// remote API, depending on what is configured.
type Listing struct {
	Items  any    `json:"items"`
	Total  int    `json:"total"`
	Source string `json:"source"`
}

// Listing sources.
const (
	SourceDatabase = "database"
	SourceAPI      = "api"
)

func fromStore[T any](p *store.Page[T]) *Listing {
	return &Listing{Items: p.Items, Total: p.Total, Source: SourceDatabase}
}

func fromRemote(p *ragflow.Page) *Listing {
	return &Listing{Items: p.Items, Total: p.Total, Source: SourceAPI}
}

// service is the concrete Console.
type service struct {
	cfg    ragadmin.Config
	store  *store.Store
	engine *cascade.Engine
	remote *ragflow.Client
}

// New wires a Console over the given backends.
func New(cfg ragadmin.Config, st *store.Store, engine *cascade.Engine, remote *ragflow.Client) Console {
	return &service{cfg: cfg, store: st, engine: engine, remote: remote}
}

// useRemote reports whether a listing should be served by the API because
// the database is not configured.
func (s *service) useRemote() bool {
	return !s.store.Configured() && s.remote.Configured()
}

func (s *service) deleteViaAPI() bool {
	return s.cfg.Console.DeleteStrategy == ragadmin.DeleteViaAPI
}

// --- Dashboard ---

func (s *service) DashboardStats(ctx context.Context) (*store.DashboardStats, error) {
	return s.store.DashboardStats(ctx)
}

func (s *service) SystemStatistics(ctx context.Context) (*store.SystemStats, error) {
	return s.store.SystemStatistics(ctx)
}

// --- Users ---

func (s *service) ListUsers(ctx context.Context, f store.UserFilter) (*store.Page[store.User], error) {
	return s.store.ListUsers(ctx, f)
}

func (s *service) GetUser(ctx context.Context, id string) (*store.UserDetail, error) {
	return s.store.GetUser(ctx, id)
}

func (s *service) CreateUser(ctx context.Context, u store.NewUser) (*store.User, error) {
	return s.store.CreateUser(ctx, u)
}

func (s *service) UpdateUserStatus(ctx context.Context, id, status string) error {
	return s.store.UpdateUserStatus(ctx, id, status)
}

func (s *service) UpdateUserPassword(ctx context.Context, id, password string) error {
	return s.store.UpdateUserPassword(ctx, id, password)
}

func (s *service) Owners(ctx context.Context) ([]store.Owner, error) {
	return s.store.Owners(ctx)
}

func (s *service) UserDatasets(ctx context.Context, id string, p store.Paging) (*store.Page[store.Dataset], error) {
	return s.store.UserDatasets(ctx, id, p)
}

func (s *service) UserAgents(ctx context.Context, id string, p store.Paging) (*store.Page[store.Agent], error) {
	return s.store.UserAgents(ctx, id, p)
}

func (s *service) UserChats(ctx context.Context, id string, p store.Paging) (*store.Page[store.Chat], error) {
	return s.store.UserChats(ctx, id, p)
}

func (s *service) DeleteUsers(ctx context.Context, ids []string) (cascade.Report, error) {
	return s.runCascade(ctx, cascade.Request{Kind: cascade.KindOwner, IDs: ids})
}

// runCascade runs one engine deletion and shapes its report. Totals cached by
// the remote client are stale afterwards.
func (s *service) runCascade(ctx context.Context, req cascade.Request) (cascade.Report, error) {
	counts, err := s.engine.Delete(ctx, req)
	if err != nil {
		return cascade.Report{}, err
	}
	s.remote.InvalidateCounts("")
	return cascade.NewReport(req.Kind, counts), nil
}

// remoteReport describes a deletion performed through the API, which does
// not say how many dependent rows went with the roots.
func remoteReport(kind cascade.Kind, category string, n int) cascade.Report {
	return cascade.NewReport(kind, cascade.Counts{category: int64(n)})
}

// --- Datasets ---

func (s *service) ListDatasets(ctx context.Context, f store.DatasetFilter) (*Listing, error) {
	if s.useRemote() {
		p, err := s.remote.ListDatasets(ctx, ragflow.ListQuery{Page: f.Page, PageSize: f.PageSize, Name: f.Name})
		if err != nil {
			return nil, err
		}
		return fromRemote(p), nil
	}
	p, err := s.store.ListDatasets(ctx, f)
	if err != nil {
		return nil, err
	}
	return fromStore(p), nil
}

func (s *service) CreateDataset(ctx context.Context, name string, fields map[string]any) (ragflow.Item, error) {
	return s.remote.CreateDataset(ctx, name, fields)
}

func (s *service) DeleteDatasets(ctx context.Context, ids []string) (cascade.Report, error) {
	if !s.deleteViaAPI() {
		return s.runCascade(ctx, cascade.Request{Kind: cascade.KindDataset, IDs: ids})
	}
	if len(ids) == 0 {
		return cascade.NewReport(cascade.KindDataset, nil), nil
	}
	if err := s.remote.DeleteDatasets(ctx, ids); err != nil {
		return cascade.Report{}, err
	}
	slog.Info("datasets deleted via api", "count", len(ids))
	return remoteReport(cascade.KindDataset, cascade.CatDatasets, len(ids)), nil
}

// --- Documents ---

func (s *service) ListDocuments(ctx context.Context, datasetID string, f store.DocumentFilter) (*Listing, error) {
	if s.useRemote() {
		q := ragflow.DocumentQuery{
			ListQuery: ragflow.ListQuery{Page: f.Page, PageSize: f.PageSize, Name: f.Keywords},
		}
		if f.Run != "" {
			run, err := store.ParseRunStatus(f.Run)
			if err != nil {
				return nil, err
			}
			q.Run = run.String()
		}
		p, err := s.remote.ListDocuments(ctx, datasetID, q)
		if err != nil {
			return nil, err
		}
		return fromRemote(p), nil
	}
	p, err := s.store.ListDocuments(ctx, datasetID, f)
	if err != nil {
		return nil, err
	}
	return fromStore(p), nil
}

func (s *service) DeleteDocuments(ctx context.Context, datasetID string, ids []string) (cascade.Report, error) {
	if !s.deleteViaAPI() {
		return s.runCascade(ctx, cascade.Request{Kind: cascade.KindDocuments, DatasetID: datasetID, IDs: ids})
	}
	if datasetID == "" {
		return cascade.Report{}, ragadmin.ValidationError("dataset id is required to delete documents")
	}
	if len(ids) == 0 {
		return cascade.NewReport(cascade.KindDocuments, nil), nil
	}
	if err := s.remote.DeleteDocuments(ctx, datasetID, ids); err != nil {
		return cascade.Report{}, err
	}
	return remoteReport(cascade.KindDocuments, cascade.CatDocuments, len(ids)), nil
}

// --- Chats ---

func (s *service) ListChats(ctx context.Context, f store.ChatFilter) (*Listing, error) {
	if s.useRemote() {
		p, err := s.remote.ListChats(ctx, ragflow.ListQuery{Page: f.Page, PageSize: f.PageSize, Name: f.Name})
		if err != nil {
			return nil, err
		}
		return fromRemote(p), nil
	}
	p, err := s.store.ListChats(ctx, f)
	if err != nil {
		return nil, err
	}
	return fromStore(p), nil
}

func (s *service) DeleteChats(ctx context.Context, ids []string) (cascade.Report, error) {
	if !s.deleteViaAPI() {
		return s.runCascade(ctx, cascade.Request{Kind: cascade.KindChat, IDs: ids})
	}
	if len(ids) == 0 {
		return cascade.NewReport(cascade.KindChat, nil), nil
	}
	if err := s.remote.DeleteChats(ctx, ids); err != nil {
		return cascade.Report{}, err
	}
	slog.Info("chats deleted via api", "count", len(ids))
	return remoteReport(cascade.KindChat, cascade.CatChats, len(ids)), nil
}

func (s *service) ListChatSessions(ctx context.Context, chatID string, p store.Paging) (*Listing, error) {
	if s.useRemote() {
		rp, err := s.remote.ListSessions(ctx, chatID, ragflow.ListQuery{Page: p.Page, PageSize: p.PageSize})
		if err != nil {
			return nil, err
		}
		return fromRemote(rp), nil
	}
	sp, err := s.store.ListChatSessions(ctx, chatID, p)
	if err != nil {
		return nil, err
	}
	return fromStore(sp), nil
}

func (s *service) DeleteChatSessions(ctx context.Context, chatID string, ids []string) (cascade.Report, error) {
	if chatID == "" {
		return cascade.Report{}, ragadmin.ValidationError("chat id is required")
	}
	if s.deleteViaAPI() {
		if len(ids) == 0 {
			return cascade.Report{Details: cascade.Counts{cascade.CatConversations: 0}}, nil
		}
		if err := s.remote.DeleteSessions(ctx, chatID, ids); err != nil {
			return cascade.Report{}, err
		}
		n := int64(len(ids))
		return cascade.Report{Deleted: n, Details: cascade.Counts{cascade.CatConversations: n}}, nil
	}
	n, err := s.store.DeleteChatSessions(ctx, chatID, ids)
	if err != nil {
		if ragadmin.KindOf(err) == ragadmin.KindConfiguration {
			return cascade.Report{}, err
		}
		return cascade.Report{}, ragadmin.TransactionError(err)
	}
	s.remote.InvalidateCounts("sessions:" + chatID)
	return cascade.Report{Deleted: n, Details: cascade.Counts{cascade.CatConversations: n}}, nil
}

// --- Agents ---

func (s *service) ListAgents(ctx context.Context, f store.AgentFilter) (*Listing, error) {
	if s.useRemote() {
		p, err := s.remote.ListAgents(ctx, ragflow.ListQuery{Page: f.Page, PageSize: f.PageSize, Name: f.Title})
		if err != nil {
			return nil, err
		}
		return fromRemote(p), nil
	}
	p, err := s.store.ListAgents(ctx, f)
	if err != nil {
		return nil, err
	}
	return fromStore(p), nil
}

// DeleteAgents removes agents. Through the API each agent is its own call, so
// a refused ID lands in Failed and the rest still go.
func (s *service) DeleteAgents(ctx context.Context, ids []string) (cascade.Report, error) {
	if !s.deleteViaAPI() {
		return s.runCascade(ctx, cascade.Request{Kind: cascade.KindAgent, IDs: ids})
	}
	if len(ids) == 0 {
		return cascade.NewReport(cascade.KindAgent, nil), nil
	}
	res, err := s.remote.DeleteAgents(ctx, ids)
	if err != nil {
		return cascade.Report{}, err
	}
	if len(res.Failed) > 0 {
		slog.Warn("some agents not deleted via api", "failed", len(res.Failed))
	}
	r := remoteReport(cascade.KindAgent, cascade.CatAgents, res.Succeeded)
	r.Failed = res.Failed
	return r, nil
}

// --- Tasks ---

func (s *service) ListParsingTasks(ctx context.Context, f store.TaskFilter) (*store.Page[store.ParsingTask], error) {
	return s.store.ListParsingTasks(ctx, f)
}

func (s *service) ParsingStats(ctx context.Context) (*store.ParsingStats, error) {
	return s.store.ParsingStats(ctx)
}

// --- System ---

// Health is the combined system status.
type Health struct {
	Status   string                 `json:"status"`
	Database store.ConnectionStatus `json:"database"`
	RAGFlow  ragflow.Health         `json:"ragflow"`
}

func (s *service) Health(ctx context.Context) Health {
	h := Health{
		Database: s.store.TestConnection(ctx),
		RAGFlow:  s.remote.Health(ctx),
	}
	switch {
	case h.Database.Connected && h.RAGFlow.Healthy:
		h.Status = "ok"
	case h.Database.Connected || h.RAGFlow.Healthy:
		h.Status = "degraded"
	default:
		h.Status = "unavailable"
	}
	return h
}

func (s *service) Config() ragadmin.Config {
	return s.cfg.Masked()
}
