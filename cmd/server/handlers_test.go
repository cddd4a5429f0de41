package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragadmin "github.com/tedhappy/ragflow-admin"
	"github.com/tedhappy/ragflow-admin/auth"
	"github.com/tedhappy/ragflow-admin/cascade"
	"github.com/tedhappy/ragflow-admin/console"
	"github.com/tedhappy/ragflow-admin/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeConsole implements the operations the tests reach. Anything else
// panics through the nil embedded interface.
type fakeConsole struct {
	console.Console

	err       error
	deleted   []string
	datasetID string
	batches   []store.DatasetDocuments
}

func (f *fakeConsole) DeleteDatasets(_ context.Context, ids []string) (cascade.Report, error) {
	if f.err != nil {
		return cascade.Report{}, f.err
	}
	f.deleted = ids
	return cascade.NewReport(cascade.KindDataset, cascade.Counts{cascade.CatDatasets: int64(len(ids)), cascade.CatDocuments: 3}), nil
}

func (f *fakeConsole) DeleteDocuments(_ context.Context, datasetID string, ids []string) (cascade.Report, error) {
	f.datasetID, f.deleted = datasetID, ids
	return cascade.NewReport(cascade.KindDocuments, cascade.Counts{cascade.CatDocuments: int64(len(ids))}), nil
}

func (f *fakeConsole) GetUser(_ context.Context, id string) (*store.UserDetail, error) {
	return nil, f.err
}

func (f *fakeConsole) ParseDocuments(_ context.Context, batches []store.DatasetDocuments) (*console.BatchReport, error) {
	f.batches = batches
	return &console.BatchReport{Success: []console.BatchOutcome{}, Errors: []console.BatchOutcome{}, TotalSuccess: len(batches)}, nil
}

func (f *fakeConsole) Config() ragadmin.Config {
	cfg := ragadmin.DefaultConfig()
	cfg.RAGFlow.APIKey = "secret"
	return cfg.Masked()
}

type response struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestRouter(fc *fakeConsole, limiter *auth.Limiter) *gin.Engine {
	sessions := auth.NewSessions(ragadmin.AdminConfig{Username: "admin", Password: "s3cret"})
	if limiter == nil {
		limiter = auth.NewLoginLimiter()
	}
	return newRouter(newHandler(fc, sessions, limiter), "http://localhost:5173")
}

func do(t *testing.T, r *gin.Engine, method, path, token, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func login(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w, resp := do(t, r, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var s struct {
		Token     string `json:"token"`
		Username  string `json:"username"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &s))
	assert.Equal(t, "admin", s.Username)
	assert.InDelta(t, (24 * time.Hour).Seconds(), s.ExpiresIn, 2)
	return s.Token
}

func TestUnauthenticatedEndpoints(t *testing.T) {
	r := newTestRouter(&fakeConsole{}, nil)

	w, _ := do(t, r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ragflow_admin_http_requests_total")
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	r := newTestRouter(&fakeConsole{}, nil)

	w, resp := do(t, r, http.MethodGet, "/api/v1/system/config", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, ragadmin.CodeFailure, resp.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/system/config", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginSessionLifecycle(t *testing.T) {
	r := newTestRouter(&fakeConsole{}, nil)

	w, resp := do(t, r, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid username or password", resp.Message)

	w, _ = do(t, r, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := login(t, r)
	w, resp = do(t, r, http.MethodGet, "/api/v1/auth/me", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"admin","role":"admin"}`, string(resp.Data))

	w, resp = do(t, r, http.MethodPost, "/api/v1/auth/refresh", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var next struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &next))
	assert.NotEqual(t, token, next.Token)

	w, _ = do(t, r, http.MethodGet, "/api/v1/auth/me", token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "refresh revokes the old token")

	w, _ = do(t, r, http.MethodPost, "/api/v1/auth/logout", next.Token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/v1/auth/me", next.Token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimited(t *testing.T) {
	r := newTestRouter(&fakeConsole{}, auth.NewLimiter(1, time.Hour, 1))

	w, _ := do(t, r, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = do(t, r, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"s3cret"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestBatchDelete(t *testing.T) {
	fc := &fakeConsole{}
	r := newTestRouter(fc, nil)
	token := login(t, r)

	w, _ := do(t, r, http.MethodPost, "/api/v1/datasets/batch-delete", token, `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, fc.deleted)

	w, resp := do(t, r, http.MethodPost, "/api/v1/datasets/batch-delete", token, `{"ids":["kb1","kb2"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "success", resp.Message)
	assert.Equal(t, []string{"kb1", "kb2"}, fc.deleted)

	var report cascade.Report
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, int64(2), report.Deleted)
	assert.Equal(t, int64(3), report.Details[cascade.CatDocuments])
	assert.Contains(t, report.Details, cascade.CatFiles)

	w, _ = do(t, r, http.MethodPost, "/api/v1/datasets/kb9/documents/batch-delete", token, `{"ids":["d1"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "kb9", fc.datasetID)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"validation", ragadmin.ValidationError("bad id"), http.StatusBadRequest, ragadmin.CodeFailure},
		{"not found", ragadmin.NotFoundError("user", "u9"), http.StatusNotFound, ragadmin.CodeFailure},
		{"conflict", ragadmin.ConflictError("email taken"), http.StatusConflict, ragadmin.CodeFailure},
		{"configuration", ragadmin.ConfigurationError(ragadmin.ErrNotConfigured), http.StatusServiceUnavailable, ragadmin.CodeFailure},
		{"remote", ragadmin.RemoteError(102, "dataset is busy"), http.StatusBadGateway, 102},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, ragadmin.CodeFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeConsole{err: tc.err}, nil)
			token := login(t, r)

			w, resp := do(t, r, http.MethodGet, "/api/v1/users/u9", token, "")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, resp.Code)
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", resp.Message)
			} else {
				assert.Equal(t, tc.err.Error(), resp.Message)
			}
		})
	}
}

func TestRolledBackCascadeKeepsMessage(t *testing.T) {
	cause := errors.New("step 3 (delete file2document): Lock wait timeout exceeded")
	fc := &fakeConsole{err: ragadmin.TransactionError(cause)}
	r := newTestRouter(fc, nil)
	token := login(t, r)

	w, resp := do(t, r, http.MethodPost, "/api/v1/datasets/batch-delete", token, `{"ids":["kb1"]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ragadmin.CodeFailure, resp.Code)
	assert.Equal(t, cause.Error(), resp.Message)
	assert.Nil(t, fc.deleted)
}

func TestParseBodies(t *testing.T) {
	fc := &fakeConsole{}
	r := newTestRouter(fc, nil)
	token := login(t, r)

	w, _ := do(t, r, http.MethodPost, "/api/v1/tasks/parse", token, `{"tasks":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/tasks/parse", token,
		`{"tasks":[{"dataset_id":"kb1","document_ids":["d1","d2"]},{"dataset_id":"kb2","document_ids":["d3"]}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []store.DatasetDocuments{
		{DatasetID: "kb1", DocumentIDs: []string{"d1", "d2"}},
		{DatasetID: "kb2", DocumentIDs: []string{"d3"}},
	}, fc.batches)

	w, _ = do(t, r, http.MethodPost, "/api/v1/datasets/kb7/documents/parse", token, `{"document_ids":["d9"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []store.DatasetDocuments{{DatasetID: "kb7", DocumentIDs: []string{"d9"}}}, fc.batches)
}

func TestSystemConfigMasksSecrets(t *testing.T) {
	r := newTestRouter(&fakeConsole{}, nil)
	token := login(t, r)

	w, resp := do(t, r, http.MethodGet, "/api/v1/system/config", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, string(resp.Data), `:"secret"`)
	assert.Contains(t, string(resp.Data), `"api_key":"********"`)
}

func TestCORSPreflight(t *testing.T) {
	sessions := auth.NewSessions(ragadmin.AdminConfig{Username: "admin", Password: "s3cret"})
	r := newRouter(newHandler(&fakeConsole{}, sessions, auth.NewLoginLimiter()),
		"http://localhost:5173, https://admin.example.com")

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/datasets", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := preflight("https://admin.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	w = preflight("http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight("https://evil.example.com")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEqual(t, http.StatusNoContent, w.Code)
}
