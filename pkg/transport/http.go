package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sprl/lookup/pkg/dataset"
)

// REST paths served by pkg/server.
const (
	PathHealth = "/health"
	PathCheck  = "/check"
	PathSetup  = "/setup"
	PathQuery  = "/query"
	PathInfo   = "/info"
	PathReload = "/reload"
)

// DefaultMaxResponseBytes bounds a downloaded body.
const DefaultMaxResponseBytes = 256 << 20

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// BaseURL is the server root, e.g. https://lookup.example:8443.
	BaseURL string

	Timeouts Timeouts

	// MaxResponseBytes bounds response bodies. Default: DefaultMaxResponseBytes
	MaxResponseBytes int64

	// Client overrides the HTTP client.
	Client *http.Client
}

// HTTP talks to the REST surface.
type HTTP struct {
	base     *url.URL
	client   *http.Client
	timeouts Timeouts
	maxBody  int64
}

// NewHTTP validates cfg and returns a transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", cfg.BaseURL)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &HTTP{base: u, client: client, timeouts: cfg.Timeouts, maxBody: maxBody}, nil
}

func (h *HTTP) endpoint(path string, query url.Values) string {
	u := *h.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// Check implements Transport.
func (h *HTTP) Check(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := withTimeout(ctx, h.timeouts.Check)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(PathCheck, url.Values{"uuid": {sessionID}}), nil)
	if err != nil {
		return false, wrap(ctx, "check", err)
	}
	body, err := h.do(req, nil)
	if err != nil {
		return false, wrap(ctx, "check", err)
	}

	var resp struct {
		IsValid *bool `json:"is_valid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, wrap(ctx, "check", fmt.Errorf("failed to decode response: %w", err))
	}
	if resp.IsValid == nil {
		return false, wrap(ctx, "check", fmt.Errorf("response is missing is_valid"))
	}
	return *resp.IsValid, nil
}

// Setup implements Transport.
func (h *HTTP) Setup(ctx context.Context, publicParams []byte, progress Progress) (string, error) {
	ctx, cancel := withTimeout(ctx, h.timeouts.Setup)
	defer cancel()

	body, err := h.post(ctx, PathSetup, publicParams, progress, false)
	if err != nil {
		return "", wrap(ctx, "setup", err)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", wrap(ctx, "setup", fmt.Errorf("failed to decode response: %w", err))
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", wrap(ctx, "setup", fmt.Errorf("response is missing id"))
	}
	return resp.ID, nil
}

// Query implements Transport.
func (h *HTTP) Query(ctx context.Context, query []byte, progress Progress) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, h.timeouts.Query)
	defer cancel()

	body, err := h.post(ctx, PathQuery, query, progress, true)
	if err != nil {
		return nil, wrap(ctx, "query", err)
	}
	return body, nil
}

// Info implements Transport.
func (h *HTTP) Info(ctx context.Context) (dataset.Info, error) {
	ctx, cancel := withTimeout(ctx, h.timeouts.Check)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(PathInfo, nil), nil)
	if err != nil {
		return dataset.Info{}, wrap(ctx, "info", err)
	}
	body, err := h.do(req, nil)
	if err != nil {
		return dataset.Info{}, wrap(ctx, "info", err)
	}
	var info dataset.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return dataset.Info{}, wrap(ctx, "info", err)
	}
	return info, nil
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTP) post(ctx context.Context, path string, payload []byte, progress Progress, trackDownload bool) ([]byte, error) {
	total := int64(len(payload))
	body := &countingReader{r: bytes.NewReader(payload), total: total, stage: Upload, progress: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(path, nil), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", "application/octet-stream")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	var download Progress
	if trackDownload {
		download = progress
	}
	return h.do(req, download)
}

func (h *HTTP) do(req *http.Request, progress Progress) ([]byte, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if resp.ContentLength > h.maxBody {
		return nil, fmt.Errorf("response of %d bytes exceeds limit %d", resp.ContentLength, h.maxBody)
	}

	r := &countingReader{r: io.LimitReader(resp.Body, h.maxBody+1), total: resp.ContentLength, stage: Download, progress: progress}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > h.maxBody {
		return nil, fmt.Errorf("response exceeds limit %d", h.maxBody)
	}
	return data, nil
}

type countingReader struct {
	r        io.Reader
	done     int64
	total    int64
	stage    Stage
	progress Progress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.done += int64(n)
		report(c.progress, c.stage, c.done, c.total)
	}
	return n, err
}
