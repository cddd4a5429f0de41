package ragflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(ragadmin.RAGFlowConfig{BaseURL: srv.URL, APIKey: "key"}, WithRetry(2, time.Millisecond))
}

func writeEnvelope(w http.ResponseWriter, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestUnconfiguredClient(t *testing.T) {
	c := New(ragadmin.RAGFlowConfig{BaseURL: "ragflow:9380"})
	assert.False(t, c.Configured())

	_, err := c.ListDatasets(context.Background(), ListQuery{})
	require.ErrorIs(t, err, ragadmin.ErrRemoteNotConfigured)
	assert.Equal(t, ragadmin.KindConfiguration, ragadmin.KindOf(err))

	_, err = c.DeleteAgents(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ragadmin.ErrRemoteNotConfigured)

	h := c.Health(context.Background())
	assert.False(t, h.Healthy)
	assert.Equal(t, "not_configured", h.Status)
}

func TestRequestCarriesAuthAndPrefix(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/datasets", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("page_size"))
		assert.Equal(t, "create_time", r.URL.Query().Get("orderby"))
		writeEnvelope(w, map[string]any{
			"code":  0,
			"data":  []any{map[string]any{"id": "d1", "name": "Manuals"}},
			"total": 12,
		})
	})

	page, err := c.ListDatasets(context.Background(), ListQuery{Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "d1", page.Items[0]["id"])
}

func TestListFiltersLocally(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "10000", r.URL.Query().Get("page_size"))
		writeEnvelope(w, map[string]any{"code": 0, "data": []any{
			map[string]any{"id": "a1", "title": "Research Agent"},
			map[string]any{"id": "a2", "title": "Writer"},
			map[string]any{"id": "a3", "title": "research helper"},
			map[string]any{"id": "a4", "title": nil},
		}})
	})

	page, err := c.ListAgents(context.Background(), ListQuery{Page: 2, PageSize: 1, Name: "RESEARCH"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a3", page.Items[0]["id"])

	page, err = c.ListAgents(context.Background(), ListQuery{Page: 9, PageSize: 10, Name: "research"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Empty(t, page.Items)
}

func TestListDocumentsNestedPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/datasets/kb1/documents", r.URL.Path)
		assert.Equal(t, "FAIL", r.URL.Query().Get("run"))
		writeEnvelope(w, map[string]any{"code": 0, "data": map[string]any{
			"docs":  []any{map[string]any{"id": "doc1", "name": "a.pdf"}},
			"total": 7,
		}})
	})

	page, err := c.ListDocuments(context.Background(), "kb1", DocumentQuery{Run: "FAIL"})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Len(t, page.Items, 1)
}

func TestTotalFallsBackToCountCache(t *testing.T) {
	var fullFetches atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_size") == "10000" {
			fullFetches.Add(1)
			writeEnvelope(w, map[string]any{"code": 0, "data": []any{
				map[string]any{"id": "c1"}, map[string]any{"id": "c2"}, map[string]any{"id": "c3"},
			}})
			return
		}
		writeEnvelope(w, map[string]any{"code": 0, "data": []any{map[string]any{"id": "c1"}}})
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		page, err := c.ListChats(ctx, ListQuery{PageSize: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
	}
	assert.Equal(t, int32(1), fullFetches.Load(), "second listing should use the cached total")

	require.NoError(t, c.DeleteChats(ctx, []string{"c1"}))
	_, err := c.ListChats(ctx, ListQuery{PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fullFetches.Load(), "delete should invalidate the cached total")
}

func TestNonZeroEnvelopeCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"code": 102, "message": "You don't own the dataset"})
	})

	err := c.DeleteDatasets(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, ragadmin.KindRemote, ragadmin.KindOf(err))
	assert.Equal(t, 102, ragadmin.CodeOf(err))
	assert.Contains(t, err.Error(), "own the dataset")
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"document_ids":["d1"]}`, string(body), "body must be resent on retry")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, map[string]any{"code": 0})
	})

	require.NoError(t, c.ParseDocuments(context.Background(), "kb1", []string{"d1"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.StopParsing(context.Background(), "kb1", []string{"d1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, http.StatusBadGateway, ragadmin.CodeOf(err))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	})

	_, err := c.ListDatasets(context.Background(), ListQuery{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusNotFound, ragadmin.CodeOf(err))
}

func TestDeleteAgentsOneByOne(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/api/v1/agents/bad" {
			writeEnvelope(w, map[string]any{"code": 103, "message": "agent not found"})
			return
		}
		writeEnvelope(w, map[string]any{"code": 0})
	})

	res, err := c.DeleteAgents(context.Background(), []string{"a1", "bad", "a2"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Contains(t, res.Failed["bad"], "agent not found")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/v1/agents/a1", "/api/v1/agents/bad", "/api/v1/agents/a2"}, paths)
}

func TestDeleteSessionsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chats/c1/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"ids":["s1","s2"]}`, string(body))
		writeEnvelope(w, map[string]any{"code": 0})
	})
	require.NoError(t, c.DeleteSessions(context.Background(), "c1", []string{"s1", "s2"}))
}

func TestCreateDataset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Specs", body["name"])
		assert.Equal(t, "naive", body["chunk_method"])
		writeEnvelope(w, map[string]any{"code": 0, "data": map[string]any{"id": "kb9", "name": "Specs"}})
	})

	item, err := c.CreateDataset(context.Background(), "Specs", map[string]any{"chunk_method": "naive"})
	require.NoError(t, err)
	assert.Equal(t, "kb9", item["id"])

	_, err = c.CreateDataset(context.Background(), " ", nil)
	assert.Equal(t, ragadmin.KindValidation, ragadmin.KindOf(err))
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
		want    string
	}{
		{"ok", http.StatusOK, `{"status":"ok","db":"ok","redis":"ok","doc_engine":"ok","storage":"ok"}`, true, "ok"},
		{"degraded", http.StatusInternalServerError, `{"db":"nok","_meta":{"db":{"error":"timeout"}}}`, false, "nok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/system/healthz", r.URL.Path)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			h := c.Health(context.Background())
			assert.Equal(t, tt.healthy, h.Healthy)
			assert.Equal(t, tt.want, h.Status)
			if !tt.healthy {
				assert.Equal(t, "nok", h.DB)
				assert.Contains(t, h.Meta, "db")
			}
		})
	}
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := New(ragadmin.RAGFlowConfig{BaseURL: url, APIKey: "k"}).Health(context.Background())
	assert.False(t, h.Healthy)
	assert.Equal(t, "error", h.Status)
	assert.NotEmpty(t, h.Error)
}

func TestCountCacheExpiry(t *testing.T) {
	cache := NewCountCache(time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Set("datasets", 4)
	cache.Set("chats", 2)
	n, ok := cache.Get("datasets")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	now = now.Add(time.Minute)
	_, ok = cache.Get("datasets")
	assert.False(t, ok, "entry should expire at ttl")

	cache.Set("datasets", 5)
	cache.Invalidate("")
	for _, key := range []string{"datasets", "chats"} {
		_, ok := cache.Get(key)
		assert.False(t, ok, key+" survived Invalidate(\"\")")
	}
}

func TestBaseURLNormalized(t *testing.T) {
	c := New(ragadmin.RAGFlowConfig{BaseURL: "ragflow.local:9380/", APIKey: "k"})
	assert.Equal(t, "http://ragflow.local:9380", c.baseURL)
	assert.Equal(t, maxRetries, c.maxRetries)
}
