package ragflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

// fetchAllPageSize is the page size used when every row is needed for local
// filtering or counting.
const fetchAllPageSize = 10000

// Item is one remote record, passed through untouched.
type Item = map[string]any

// Page is one page of a remote listing.
type Page struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

// ListQuery pages and filters a listing. Name is matched case-insensitively
// as a substring of the resource's name (title for agents).
type ListQuery struct {
	Page     int
	PageSize int
	Name     string
}

func (q ListQuery) bounds() (page, size int) {
	page, size = q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	return page, size
}

// DocumentQuery adds a server-side run filter to a document listing.
type DocumentQuery struct {
	ListQuery
	Run string
}

// listing describes how one remote resource is listed.
type listing struct {
	path     string
	field    string // name-like field matched by ListQuery.Name
	orderBy  string
	cacheKey string
	// nested is set when data is {docs, total} instead of a bare array.
	nested bool
}

func (c *Client) list(ctx context.Context, l listing, q ListQuery, extra url.Values) (*Page, error) {
	page, size := q.bounds()

	params := url.Values{}
	for k, v := range extra {
		params[k] = v
	}
	if l.orderBy != "" {
		params.Set("orderby", l.orderBy)
		params.Set("desc", "true")
	}

	if q.Name != "" {
		params.Set("page", "1")
		params.Set("page_size", strconv.Itoa(fetchAllPageSize))
		all, _, err := c.fetch(ctx, l, params)
		if err != nil {
			return nil, err
		}
		needle := strings.ToLower(q.Name)
		matched := []Item{}
		for _, it := range all {
			if name, _ := it[l.field].(string); strings.Contains(strings.ToLower(name), needle) {
				matched = append(matched, it)
			}
		}
		return paginate(matched, page, size), nil
	}

	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(size))
	items, total, err := c.fetch(ctx, l, params)
	if err != nil {
		return nil, err
	}
	if total == nil {
		n, err := c.total(ctx, l, extra)
		if err != nil {
			return nil, err
		}
		total = &n
	}
	return &Page{Items: items, Total: *total}, nil
}

// total returns the full row count of a listing whose response carried none,
// from the cache when possible.
func (c *Client) total(ctx context.Context, l listing, extra url.Values) (int, error) {
	if n, ok := c.counts.Get(l.cacheKey); ok {
		return n, nil
	}
	params := url.Values{}
	for k, v := range extra {
		params[k] = v
	}
	params.Set("page", "1")
	params.Set("page_size", strconv.Itoa(fetchAllPageSize))
	all, _, err := c.fetch(ctx, l, params)
	if err != nil {
		return 0, err
	}
	// Filtered counts are not cached; they depend on the filter.
	if len(extra) == 0 {
		c.counts.Set(l.cacheKey, len(all))
	}
	return len(all), nil
}

// fetch performs one GET and decodes the listing payload. The returned total
// is nil when the response did not include one.
func (c *Client) fetch(ctx context.Context, l listing, params url.Values) ([]Item, *int, error) {
	env, err := c.do(ctx, http.MethodGet, l.path, params, nil)
	if err != nil {
		return nil, nil, err
	}

	items := []Item{}
	total := env.Total
	if l.nested {
		var data struct {
			Docs  []Item `json:"docs"`
			Total *int   `json:"total"`
		}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return nil, nil, fmt.Errorf("decoding %s: %w", l.path, err)
			}
		}
		if data.Docs != nil {
			items = data.Docs
		}
		if data.Total != nil {
			total = data.Total
		}
		return items, total, nil
	}

	if len(env.Data) > 0 && env.Data[0] == '[' {
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, nil, fmt.Errorf("decoding %s: %w", l.path, err)
		}
	}
	return items, total, nil
}

func paginate(items []Item, page, size int) *Page {
	start := (page - 1) * size
	if start > len(items) {
		start = len(items)
	}
	end := min(start+size, len(items))
	return &Page{Items: items[start:end], Total: len(items)}
}

// --- Datasets ---

var datasetListing = listing{path: "/datasets", field: "name", orderBy: "create_time", cacheKey: "datasets"}

// ListDatasets lists the datasets visible to the API key.
func (c *Client) ListDatasets(ctx context.Context, q ListQuery) (*Page, error) {
	return c.list(ctx, datasetListing, q, nil)
}

// CreateDataset creates a dataset. Extra fields (description, chunk_method,
// embedding_model, permission...) are passed through.
func (c *Client) CreateDataset(ctx context.Context, name string, fields map[string]any) (Item, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ragadmin.ValidationError("dataset name is required")
	}
	body := map[string]any{}
	for k, v := range fields {
		body[k] = v
	}
	body["name"] = name

	env, err := c.do(ctx, http.MethodPost, "/datasets", nil, body)
	if err != nil {
		return nil, err
	}
	c.counts.Invalidate(datasetListing.cacheKey)

	item := Item{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &item); err != nil {
			return nil, fmt.Errorf("decoding created dataset: %w", err)
		}
	}
	return item, nil
}

// DeleteDatasets deletes datasets. The remote side also removes their
// documents, chunks and stored files.
func (c *Client) DeleteDatasets(ctx context.Context, ids []string) error {
	_, err := c.do(ctx, http.MethodDelete, "/datasets", nil, map[string]any{"ids": ids})
	c.counts.Invalidate("")
	return err
}

// --- Documents ---

func documentListing(datasetID string) listing {
	return listing{
		path:     "/datasets/" + url.PathEscape(datasetID) + "/documents",
		field:    "name",
		orderBy:  "create_time",
		cacheKey: "documents:" + datasetID,
		nested:   true,
	}
}

// ListDocuments lists one dataset's documents. Run filters server-side.
func (c *Client) ListDocuments(ctx context.Context, datasetID string, q DocumentQuery) (*Page, error) {
	var extra url.Values
	if q.Run != "" {
		extra = url.Values{"run": {q.Run}}
	}
	return c.list(ctx, documentListing(datasetID), q.ListQuery, extra)
}

// DeleteDocuments deletes documents from a dataset.
func (c *Client) DeleteDocuments(ctx context.Context, datasetID string, ids []string) error {
	l := documentListing(datasetID)
	_, err := c.do(ctx, http.MethodDelete, l.path, nil, map[string]any{"ids": ids})
	c.counts.Invalidate(l.cacheKey)
	return err
}

// ParseDocuments queues documents for parsing.
func (c *Client) ParseDocuments(ctx context.Context, datasetID string, documentIDs []string) error {
	_, err := c.do(ctx, http.MethodPost, "/datasets/"+url.PathEscape(datasetID)+"/chunks", nil,
		map[string]any{"document_ids": documentIDs})
	return err
}

// StopParsing cancels parsing of documents.
func (c *Client) StopParsing(ctx context.Context, datasetID string, documentIDs []string) error {
	_, err := c.do(ctx, http.MethodDelete, "/datasets/"+url.PathEscape(datasetID)+"/chunks", nil,
		map[string]any{"document_ids": documentIDs})
	return err
}

// --- Chats and sessions ---

var chatListing = listing{path: "/chats", field: "name", orderBy: "create_time", cacheKey: "chats"}

// ListChats lists chat assistants.
func (c *Client) ListChats(ctx context.Context, q ListQuery) (*Page, error) {
	return c.list(ctx, chatListing, q, nil)
}

// DeleteChats deletes chat assistants and their sessions.
func (c *Client) DeleteChats(ctx context.Context, ids []string) error {
	_, err := c.do(ctx, http.MethodDelete, "/chats", nil, map[string]any{"ids": ids})
	c.counts.Invalidate("")
	return err
}

func sessionListing(chatID string) listing {
	return listing{
		path:     "/chats/" + url.PathEscape(chatID) + "/sessions",
		field:    "name",
		cacheKey: "sessions:" + chatID,
	}
}

// ListSessions lists one chat assistant's sessions.
func (c *Client) ListSessions(ctx context.Context, chatID string, q ListQuery) (*Page, error) {
	return c.list(ctx, sessionListing(chatID), q, nil)
}

// DeleteSessions deletes sessions of one chat assistant.
func (c *Client) DeleteSessions(ctx context.Context, chatID string, ids []string) error {
	l := sessionListing(chatID)
	_, err := c.do(ctx, http.MethodDelete, l.path, nil, map[string]any{"ids": ids})
	c.counts.Invalidate(l.cacheKey)
	return err
}

// --- Agents ---

var agentListing = listing{path: "/agents", field: "title", orderBy: "update_time", cacheKey: "agents"}

// ListAgents lists agents. Name matches the agent title.
func (c *Client) ListAgents(ctx context.Context, q ListQuery) (*Page, error) {
	return c.list(ctx, agentListing, q, nil)
}

// BatchResult reports a per-item remote batch.
type BatchResult struct {
	Succeeded int               `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// DeleteAgents deletes agents one at a time; the API has no batch form. A
// failure does not stop the remaining deletes.
func (c *Client) DeleteAgents(ctx context.Context, ids []string) (*BatchResult, error) {
	if !c.Configured() {
		return nil, ragadmin.ConfigurationError(ragadmin.ErrRemoteNotConfigured)
	}
	res := &BatchResult{}
	for _, id := range ids {
		if _, err := c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[id] = err.Error()
			continue
		}
		res.Succeeded++
	}
	c.counts.Invalidate(agentListing.cacheKey)
	return res, nil
}
