package ragflow

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const healthTimeout = 10 * time.Second

// Health is the remote system status as reported by /v1/system/healthz.
type Health struct {
	Healthy   bool           `json:"healthy"`
	Status    string         `json:"status"`
	DB        string         `json:"db,omitempty"`
	Redis     string         `json:"redis,omitempty"`
	DocEngine string         `json:"doc_engine,omitempty"`
	Storage   string         `json:"storage,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Latency   string         `json:"latency,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Health probes the remote system. It never fails: transport and decoding
// problems are reported in the returned value.
func (c *Client) Health(ctx context.Context) Health {
	if c.baseURL == "" {
		return Health{Status: "not_configured", Error: "ragflow base url is not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/system/healthz", nil)
	if err != nil {
		return Health{Status: "error", Error: err.Error()}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("ragflow: health check failed", "error", err)
		return Health{Status: "error", Error: err.Error()}
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	var body struct {
		Status    string         `json:"status"`
		DB        string         `json:"db"`
		Redis     string         `json:"redis"`
		DocEngine string         `json:"doc_engine"`
		Storage   string         `json:"storage"`
		Meta      map[string]any `json:"_meta"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)

	h := Health{
		Healthy:   resp.StatusCode == http.StatusOK,
		Status:    orDefault(body.Status, "unknown"),
		DB:        orDefault(body.DB, "unknown"),
		Redis:     orDefault(body.Redis, "unknown"),
		DocEngine: orDefault(body.DocEngine, "unknown"),
		Storage:   orDefault(body.Storage, "unknown"),
		Latency:   latency.Round(time.Millisecond).String(),
	}
	if !h.Healthy {
		if body.Status == "" {
			h.Status = "nok"
		}
		h.Meta = body.Meta
	}
	return h
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
