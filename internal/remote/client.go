// Package remote talks to a blockpad server over its JSON API. Client
// satisfies both blocks.Store and pages.Directory, so an editor controller can
// run against a server exactly as it runs against a local database.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096

	opListBlocks   = "remote.list_blocks"
	opCreateBlock  = "remote.create_block"
	opUpdateBlock  = "remote.update_block"
	opDeleteBlock  = "remote.delete_block"
	opBatchReorder = "remote.batch_reorder"
	opSearchPages  = "remote.search_pages"
	opCreatePage   = "remote.create_page"
	opHealth       = "remote.health"
)

var (
	// ErrUnauthorized marks a request the server refused for lack of a valid
	// session.
	ErrUnauthorized = errors.New("remote: unauthorized")

	errMissingBaseURL = errors.New("remote: base url required")
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ blocks.Store    = (*Client)(nil)
	_ pages.Directory = (*Client)(nil)
)

// NewClient validates the base URL and returns a Client with a 30 second
// request timeout unless an HTTP client is supplied.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base url %q: %w", baseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type blockEnvelope struct {
	Block blocks.Block `json:"block"`
}

type blocksEnvelope struct {
	Blocks []blocks.Block `json:"blocks"`
}

type pageEnvelope struct {
	Page pages.PageSummary `json:"page"`
}

type pagesEnvelope struct {
	Pages []pages.PageSummary `json:"pages"`
}

type reorderRequest struct {
	Updates []blocks.PositionUpdate `json:"updates"`
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, opHealth, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) ListBlocks(ctx context.Context, pageID blocks.PageID) ([]blocks.Block, error) {
	var envelope blocksEnvelope
	if err := c.call(ctx, opListBlocks, http.MethodGet, pagePath(pageID, "blocks"), nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Blocks, nil
}

func (c *Client) CreateBlock(ctx context.Context, request blocks.NewBlock) (blocks.Block, error) {
	var envelope blockEnvelope
	if err := c.call(ctx, opCreateBlock, http.MethodPost, pagePath(request.PageID, "blocks"), request, &envelope); err != nil {
		return blocks.Block{}, err
	}
	return envelope.Block, nil
}

func (c *Client) UpdateBlock(ctx context.Context, id blocks.BlockID, patch blocks.BlockPatch) (blocks.Block, error) {
	var envelope blockEnvelope
	if err := c.call(ctx, opUpdateBlock, http.MethodPatch, blockPath(id), patch, &envelope); err != nil {
		return blocks.Block{}, err
	}
	return envelope.Block, nil
}

func (c *Client) DeleteBlock(ctx context.Context, id blocks.BlockID) error {
	return c.call(ctx, opDeleteBlock, http.MethodDelete, blockPath(id), nil, nil)
}

func (c *Client) BatchReorder(ctx context.Context, pageID blocks.PageID, updates []blocks.PositionUpdate) error {
	return c.call(ctx, opBatchReorder, http.MethodPost, pagePath(pageID, "blocks", "reorder"), reorderRequest{Updates: updates}, nil)
}

func (c *Client) SearchPages(ctx context.Context, query string) ([]pages.PageSummary, error) {
	var envelope pagesEnvelope
	path := "/api/pages?q=" + url.QueryEscape(query)
	if err := c.call(ctx, opSearchPages, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Pages, nil
}

func (c *Client) CreatePage(ctx context.Context, request pages.NewPage) (pages.PageSummary, error) {
	var envelope pageEnvelope
	if err := c.call(ctx, opCreatePage, http.MethodPost, "/api/pages", request, &envelope); err != nil {
		return pages.PageSummary{}, err
	}
	return envelope.Page, nil
}

// call performs one request and decodes a successful response into target.
func (c *Client) call(ctx context.Context, operation, method, path string, body any, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Debug("remote request failed", zap.String("op", operation), zap.Error(err))
		return &blocks.TransientError{Op: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(operation, resp)
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return blocks.NewServiceError(operation, "decode_failed", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.httpClient.Do(req)
}

// statusError classifies a failed response. Server faults and throttling are
// transient; everything else is final.
func (c *Client) statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var decoded errorResponse
	_ = json.Unmarshal(raw, &decoded)
	detail := decoded.Code
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return blocks.NewServiceError(operation, "not_found", fmt.Errorf("%w: %s", blocks.ErrNotFound, detail))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return blocks.NewServiceError(operation, "unauthorized", fmt.Errorf("%w: %s", ErrUnauthorized, detail))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Debug("remote server fault",
			zap.String("op", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail))
		return &blocks.TransientError{Op: operation, Err: fmt.Errorf("status %d: %s", resp.StatusCode, detail)}
	default:
		return blocks.NewServiceError(operation, "rejected",
			fmt.Errorf("%w: status %d: %s", blocks.ErrValidation, resp.StatusCode, detail))
	}
}

func pagePath(pageID blocks.PageID, segments ...string) string {
	parts := append([]string{"/api/pages", url.PathEscape(pageID.String())}, segments...)
	return strings.Join(parts, "/")
}

func blockPath(id blocks.BlockID) string {
	return "/api/blocks/" + url.PathEscape(id.String())
}
