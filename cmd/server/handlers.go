package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	ragadmin "github.com/tedhappy/ragflow-admin"
	"github.com/tedhappy/ragflow-admin/auth"
	"github.com/tedhappy/ragflow-admin/cascade"
	"github.com/tedhappy/ragflow-admin/console"
	"github.com/tedhappy/ragflow-admin/store"
)

const (
	requestTimeout = 30 * time.Second
	// Cascades and batches can touch thousands of rows or many datasets.
	mutationTimeout = 5 * time.Minute
)

type handler struct {
	console  console.Console
	sessions *auth.Sessions
	limiter  *auth.Limiter
}

func newHandler(c console.Console, sessions *auth.Sessions, limiter *auth.Limiter) *handler {
	return &handler{console: c, sessions: sessions, limiter: limiter}
}

// --- envelope ---

type envelope struct {
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: 0, Data: data})
}

func writeSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: 0, Data: data, Message: "success"})
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Code: ragadmin.CodeFailure, Message: message})
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, ragadmin.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	switch ragadmin.KindOf(err) {
	case ragadmin.KindValidation:
		return http.StatusBadRequest
	case ragadmin.KindNotFound:
		return http.StatusNotFound
	case ragadmin.KindConflict:
		return http.StatusConflict
	case ragadmin.KindConfiguration:
		return http.StatusServiceUnavailable
	case ragadmin.KindRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the envelope. Typed errors carry their message
// to the client, a rolled back cascade included; anything else is logged and
// masked.
func writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error(op+" error", "error", err)
		var e *ragadmin.Error
		if !errors.As(err, &e) {
			msg = "internal server error"
		}
	} else {
		slog.Warn(op+" failed", "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, envelope{Code: ragadmin.CodeOf(err), Message: msg})
}

func badRequest(c *gin.Context, err error) {
	abort(c, http.StatusBadRequest, "invalid request: "+err.Error())
}

// --- request shapes ---

type pageQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

func (q pageQuery) paging() store.Paging {
	return store.Paging{Page: q.Page, PageSize: q.PageSize}
}

type idsRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

type documentIDsRequest struct {
	DocumentIDs []string `json:"document_ids" binding:"required,min=1"`
}

type taskBatch struct {
	DatasetID   string   `json:"dataset_id"`
	DocumentIDs []string `json:"document_ids"`
}

type tasksRequest struct {
	Tasks []taskBatch `json:"tasks" binding:"required,min=1"`
}

func (r tasksRequest) batches() []store.DatasetDocuments {
	out := make([]store.DatasetDocuments, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		out = append(out, store.DatasetDocuments{DatasetID: t.DatasetID, DocumentIDs: t.DocumentIDs})
	}
	return out
}

// --- health ---

// GET /health
func (h *handler) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- auth ---

// POST /api/v1/auth/login
func (h *handler) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	key := c.ClientIP()
	if !h.limiter.Allow(key) {
		abort(c, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	session, err := h.sessions.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ragadmin.ErrUnauthorized) {
			slog.Warn("login rejected", "username", req.Username, "remote", key)
			abort(c, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeError(c, "login", err)
		return
	}
	h.limiter.Reset(key)
	slog.Info("admin logged in", "username", session.Username, "remote", key)
	writeData(c, sessionResponse(session, h.sessions.Now()))
}

func sessionResponse(s auth.Session, now time.Time) gin.H {
	return gin.H{
		"token":      s.Token,
		"username":   s.Username,
		"expires_in": s.ExpiresIn(now),
	}
}

// POST /api/v1/auth/logout
func (h *handler) handleLogout(c *gin.Context) {
	if token := auth.BearerToken(c.GetHeader("Authorization")); token != "" {
		h.sessions.Logout(token)
	}
	c.JSON(http.StatusOK, envelope{Code: 0, Message: "logged out"})
}

// GET /api/v1/auth/me
func (h *handler) handleMe(c *gin.Context) {
	s, _ := currentSession(c)
	writeData(c, gin.H{"username": s.Username, "role": "admin"})
}

// POST /api/v1/auth/refresh
func (h *handler) handleRefresh(c *gin.Context) {
	s, _ := currentSession(c)
	next, err := h.sessions.Refresh(s.Token)
	if err != nil {
		writeError(c, "refresh", err)
		return
	}
	writeData(c, sessionResponse(next, h.sessions.Now()))
}

// --- dashboard ---

// GET /api/v1/dashboard/stats
func (h *handler) handleDashboardStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	stats, err := h.console.DashboardStats(ctx)
	if err != nil {
		writeError(c, "dashboard stats", err)
		return
	}
	writeData(c, stats)
}

// GET /api/v1/dashboard/system
func (h *handler) handleSystemStatistics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	stats, err := h.console.SystemStatistics(ctx)
	if err != nil {
		writeError(c, "system statistics", err)
		return
	}
	writeData(c, stats)
}

// --- users ---

// GET /api/v1/users
func (h *handler) handleListUsers(c *gin.Context) {
	var q struct {
		pageQuery
		Keyword string `form:"keyword"`
		Status  string `form:"status"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.console.ListUsers(ctx, store.UserFilter{Paging: q.paging(), Keyword: q.Keyword, Status: q.Status})
	if err != nil {
		writeError(c, "list users", err)
		return
	}
	writeData(c, page)
}

// POST /api/v1/users
func (h *handler) handleCreateUser(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
		Nickname string `json:"nickname" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	u, err := h.console.CreateUser(ctx, store.NewUser{Email: req.Email, Password: req.Password, Nickname: req.Nickname})
	if err != nil {
		writeError(c, "create user", err)
		return
	}
	slog.Info("user created", "id", u.ID, "email", u.Email)
	writeSuccess(c, u)
}

// GET /api/v1/users/owners
func (h *handler) handleOwners(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	owners, err := h.console.Owners(ctx)
	if err != nil {
		writeError(c, "list owners", err)
		return
	}
	writeData(c, owners)
}

// GET /api/v1/users/:id
func (h *handler) handleGetUser(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	u, err := h.console.GetUser(ctx, c.Param("id"))
	if err != nil {
		writeError(c, "get user", err)
		return
	}
	writeData(c, u)
}

// PUT /api/v1/users/:id/status
func (h *handler) handleUpdateUserStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required,oneof=0 1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.console.UpdateUserStatus(ctx, c.Param("id"), req.Status); err != nil {
		writeError(c, "update user status", err)
		return
	}
	writeSuccess(c, nil)
}

// PUT /api/v1/users/:id/password
func (h *handler) handleUpdateUserPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.console.UpdateUserPassword(ctx, c.Param("id"), req.Password); err != nil {
		writeError(c, "update user password", err)
		return
	}
	writeSuccess(c, nil)
}

// POST /api/v1/users/batch-delete
func (h *handler) handleDeleteUsers(c *gin.Context) {
	h.deleteBatch(c, "delete users", h.console.DeleteUsers)
}

// GET /api/v1/users/:id/datasets
func (h *handler) handleUserDatasets(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.console.UserDatasets(ctx, c.Param("id"), q.paging())
	if err != nil {
		writeError(c, "user datasets", err)
		return
	}
	writeData(c, page)
}

// GET /api/v1/users/:id/agents
func (h *handler) handleUserAgents(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.console.UserAgents(ctx, c.Param("id"), q.paging())
	if err != nil {
		writeError(c, "user agents", err)
		return
	}
	writeData(c, page)
}

// GET /api/v1/users/:id/chats
func (h *handler) handleUserChats(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.console.UserChats(ctx, c.Param("id"), q.paging())
	if err != nil {
		writeError(c, "user chats", err)
		return
	}
	writeData(c, page)
}

// deleteBatch binds {ids} and runs one cascading deletion.
func (h *handler) deleteBatch(c *gin.Context, op string, del func(context.Context, []string) (cascade.Report, error)) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), mutationTimeout)
	defer cancel()

	report, err := del(ctx, req.IDs)
	if err != nil {
		writeError(c, op, err)
		return
	}
	slog.Info(op, "ids", len(req.IDs), "deleted", report.Deleted)
	writeSuccess(c, report)
}

// --- datasets ---

// GET /api/v1/datasets
func (h *handler) handleListDatasets(c *gin.Context) {
	var q struct {
		pageQuery
		Name   string `form:"name"`
		Status string `form:"status"`
		Owner  string `form:"owner"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	l, err := h.console.ListDatasets(ctx, store.DatasetFilter{Paging: q.paging(), Name: q.Name, Status: q.Status, Owner: q.Owner})
	if err != nil {
		writeError(c, "list datasets", err)
		return
	}
	writeData(c, l)
}

// POST /api/v1/datasets
// Fields other than name are passed to the RAGFlow API unchanged.
func (h *handler) handleCreateDataset(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, err)
		return
	}
	name, _ := fields["name"].(string)
	delete(fields, "name")

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	item, err := h.console.CreateDataset(ctx, name, fields)
	if err != nil {
		writeError(c, "create dataset", err)
		return
	}
	writeSuccess(c, item)
}

// POST /api/v1/datasets/batch-delete
func (h *handler) handleDeleteDatasets(c *gin.Context) {
	h.deleteBatch(c, "delete datasets", h.console.DeleteDatasets)
}

// --- documents ---

// GET /api/v1/datasets/:id/documents
func (h *handler) handleListDocuments(c *gin.Context) {
	var q struct {
		pageQuery
		Keywords string `form:"keywords"`
		Run      string `form:"run"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	l, err := h.console.ListDocuments(ctx, c.Param("id"), store.DocumentFilter{Paging: q.paging(), Keywords: q.Keywords, Run: q.Run})
	if err != nil {
		writeError(c, "list documents", err)
		return
	}
	writeData(c, l)
}

// POST /api/v1/datasets/:id/documents/batch-delete
func (h *handler) handleDeleteDocuments(c *gin.Context) {
	datasetID := c.Param("id")
	h.deleteBatch(c, "delete documents", func(ctx context.Context, ids []string) (cascade.Report, error) {
		return h.console.DeleteDocuments(ctx, datasetID, ids)
	})
}

// POST /api/v1/datasets/:id/documents/parse
func (h *handler) handleParseDatasetDocuments(c *gin.Context) {
	h.datasetBatch(c, "parse documents", h.console.ParseDocuments)
}

// POST /api/v1/datasets/:id/documents/stop
func (h *handler) handleStopDatasetDocuments(c *gin.Context) {
	h.datasetBatch(c, "stop parsing", h.console.StopParsing)
}

type batchFunc func(context.Context, []store.DatasetDocuments) (*console.BatchReport, error)

// datasetBatch runs a parse or stop for documents of the dataset in the path.
func (h *handler) datasetBatch(c *gin.Context, op string, run batchFunc) {
	var req documentIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.runBatch(c, op, run, []store.DatasetDocuments{{DatasetID: c.Param("id"), DocumentIDs: req.DocumentIDs}})
}

func (h *handler) runBatch(c *gin.Context, op string, run batchFunc, batches []store.DatasetDocuments) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), mutationTimeout)
	defer cancel()

	report, err := run(ctx, batches)
	if err != nil {
		writeError(c, op, err)
		return
	}
	writeSuccess(c, report)
}

// --- chats ---

// GET /api/v1/chats
func (h *handler) handleListChats(c *gin.Context) {
	var q struct {
		pageQuery
		Name  string `form:"name"`
		Owner string `form:"owner"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	l, err := h.console.ListChats(ctx, store.ChatFilter{Paging: q.paging(), Name: q.Name, Owner: q.Owner})
	if err != nil {
		writeError(c, "list chats", err)
		return
	}
	writeData(c, l)
}

// POST /api/v1/chats/batch-delete
func (h *handler) handleDeleteChats(c *gin.Context) {
	h.deleteBatch(c, "delete chats", h.console.DeleteChats)
}

// GET /api/v1/chats/:id/sessions
func (h *handler) handleListChatSessions(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	l, err := h.console.ListChatSessions(ctx, c.Param("id"), q.paging())
	if err != nil {
		writeError(c, "list chat sessions", err)
		return
	}
	writeData(c, l)
}

// POST /api/v1/chats/:id/sessions/batch-delete
func (h *handler) handleDeleteChatSessions(c *gin.Context) {
	chatID := c.Param("id")
	h.deleteBatch(c, "delete chat sessions", func(ctx context.Context, ids []string) (cascade.Report, error) {
		return h.console.DeleteChatSessions(ctx, chatID, ids)
	})
}

// --- agents ---

// GET /api/v1/agents
func (h *handler) handleListAgents(c *gin.Context) {
	var q struct {
		pageQuery
		Title string `form:"title"`
		Owner string `form:"owner"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	l, err := h.console.ListAgents(ctx, store.AgentFilter{Paging: q.paging(), Title: q.Title, Owner: q.Owner})
	if err != nil {
		writeError(c, "list agents", err)
		return
	}
	writeData(c, l)
}

// POST /api/v1/agents/batch-delete
func (h *handler) handleDeleteAgents(c *gin.Context) {
	h.deleteBatch(c, "delete agents", h.console.DeleteAgents)
}

// --- tasks ---

// GET /api/v1/tasks
func (h *handler) handleListTasks(c *gin.Context) {
	var q struct {
		pageQuery
		Status   string `form:"status"`
		Dataset  string `form:"dataset"`
		Document string `form:"document"`
		Owner    string `form:"owner"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.console.ListParsingTasks(ctx, store.TaskFilter{
		Paging:   q.paging(),
		Status:   q.Status,
		Dataset:  q.Dataset,
		Document: q.Document,
		Owner:    q.Owner,
	})
	if err != nil {
		writeError(c, "list tasks", err)
		return
	}
	writeData(c, page)
}

// GET /api/v1/tasks/stats
func (h *handler) handleTaskStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	stats, err := h.console.ParsingStats(ctx)
	if err != nil {
		writeError(c, "task stats", err)
		return
	}
	writeData(c, stats)
}

// POST /api/v1/tasks/parse
func (h *handler) handleParseTasks(c *gin.Context) {
	var req tasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.runBatch(c, "parse tasks", h.console.ParseDocuments, req.batches())
}

// POST /api/v1/tasks/stop
func (h *handler) handleStopTasks(c *gin.Context) {
	var req tasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.runBatch(c, "stop tasks", h.console.StopParsing, req.batches())
}

// POST /api/v1/tasks/retry-failed
func (h *handler) handleRetryFailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), mutationTimeout)
	defer cancel()

	report, err := h.console.RetryFailed(ctx)
	if err != nil {
		writeError(c, "retry failed", err)
		return
	}
	writeSuccess(c, report)
}

// --- system ---

// GET /api/v1/system/health
func (h *handler) handleSystemHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	writeData(c, h.console.Health(ctx))
}

// GET /api/v1/system/config
func (h *handler) handleSystemConfig(c *gin.Context) {
	writeData(c, h.console.Config())
}
