// Package workspace is the client for the hosted workspace store (the
// Notion API): data-source snapshots, record writes, soft deletes and block
// appends.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"opsdesk/internal/records"
	"opsdesk/internal/remote"
)

// MaxBlocksPerCall is the store's limit on children per append request.
const MaxBlocksPerCall = 100

const defaultVersion = "2025-09-03"

// Block is one content block in the store's block-object shape.
type Block map[string]any

// Type returns the block's type tag.
func (b Block) Type() string {
	t, _ := b["type"].(string)
	return t
}

// Record is a created page.
type Record struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// AppendResult describes the last batch of an append.
type AppendResult struct {
	Batches  int      `json:"batches"`
	Appended int      `json:"appended"`
	BlockIDs []string `json:"block_ids"`
}

// APIError is returned for non-2xx store responses.
type APIError = remote.APIError

// Client talks to the workspace store.
type Client struct {
	caller remote.Caller
	logger *zap.Logger
}

// Options configures New.
type Options struct {
	BaseURL    string
	Token      string
	Version    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// New creates a client.
func New(opts Options) *Client {
	version := opts.Version
	if version == "" {
		version = defaultVersion
	}
	h := remote.Bearer(opts.Token)
	h.Set("Notion-Version", version)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		caller: remote.Caller{
			Service:    "workspace",
			BaseURL:    opts.BaseURL,
			Header:     h,
			HTTPClient: opts.HTTPClient,
			Timeout:    opts.Timeout,
		},
		logger: logger.Named("workspace"),
	}
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// FetchSnapshot returns every live record of a data source, following
// pagination until the store reports no more results.
func (c *Client) FetchSnapshot(ctx context.Context, dataSourceID string) (records.Snapshot, error) {
	if dataSourceID == "" {
		return records.Snapshot{}, errors.New("data source id is required")
	}
	snap := records.Snapshot{DataSourceID: dataSourceID, Rows: []records.Row{}}
	endpoint := fmt.Sprintf("v1/data_sources/%s/query", url.PathEscape(dataSourceID))
	cursor := ""
	for {
		body := map[string]any{"page_size": 100}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp queryResponse
		if err := c.caller.Do(ctx, "query", http.MethodPost, endpoint, body, &resp); err != nil {
			return records.Snapshot{}, fmt.Errorf("fetch data source %s: %w", dataSourceID, err)
		}
		for _, p := range resp.Results {
			if p.InTrash || p.Archived {
				continue
			}
			snap.Rows = append(snap.Rows, p.row())
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	c.logger.Debug("snapshot fetched", zap.String("data_source_id", dataSourceID), zap.Int("rows", len(snap.Rows)))
	return snap, nil
}

// CreateRecord writes one new record under a data source. icon is an
// optional external image URL.
func (c *Client) CreateRecord(ctx context.Context, dataSourceID string, props records.Properties, icon string) (Record, error) {
	body := map[string]any{
		"parent":     map[string]any{"type": "data_source_id", "data_source_id": dataSourceID},
		"properties": props,
	}
	if icon != "" {
		body["icon"] = map[string]any{"type": "external", "external": map[string]any{"url": icon}}
	}
	var rec Record
	if err := c.caller.Do(ctx, "create_page", http.MethodPost, "v1/pages", body, &rec); err != nil {
		return Record{}, fmt.Errorf("create record in %s: %w", dataSourceID, err)
	}
	return rec, nil
}

// RetireRecord moves a record to the trash.
func (c *Client) RetireRecord(ctx context.Context, recordID string) error {
	endpoint := "v1/pages/" + url.PathEscape(recordID)
	if err := c.caller.Do(ctx, "trash_page", http.MethodPatch, endpoint, map[string]any{"in_trash": true}, nil); err != nil {
		return fmt.Errorf("retire record %s: %w", recordID, err)
	}
	return nil
}

// AppendContent appends blocks under parentID in sequential calls of at most
// maxBatch blocks (capped at MaxBlocksPerCall). A failing batch stops the
// append; earlier batches stay written.
func (c *Client) AppendContent(ctx context.Context, parentID string, blocks []Block, maxBatch int) (AppendResult, error) {
	if maxBatch <= 0 || maxBatch > MaxBlocksPerCall {
		maxBatch = MaxBlocksPerCall
	}
	endpoint := fmt.Sprintf("v1/blocks/%s/children", url.PathEscape(parentID))
	var res AppendResult
	for start := 0; start < len(blocks); start += maxBatch {
		end := min(start+maxBatch, len(blocks))
		var resp struct {
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
		}
		if err := c.caller.Do(ctx, "append_children", http.MethodPatch, endpoint, map[string]any{"children": blocks[start:end]}, &resp); err != nil {
			return res, fmt.Errorf("append batch %d (blocks %d-%d) to %s: %w", res.Batches+1, start, end-1, parentID, err)
		}
		res.Batches++
		res.Appended += end - start
		res.BlockIDs = res.BlockIDs[:0]
		for _, r := range resp.Results {
			res.BlockIDs = append(res.BlockIDs, r.ID)
		}
		c.logger.Debug("batch appended", zap.String("parent_id", parentID), zap.Int("batch", res.Batches), zap.Int("blocks", end-start))
	}
	return res, nil
}

// ListChildren returns the direct child blocks of a page or block.
func (c *Client) ListChildren(ctx context.Context, blockID string) ([]Block, error) {
	var out []Block
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", "100")
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		endpoint := fmt.Sprintf("v1/blocks/%s/children?%s", url.PathEscape(blockID), q.Encode())
		var resp struct {
			Results    []Block `json:"results"`
			HasMore    bool    `json:"has_more"`
			NextCursor string  `json:"next_cursor"`
		}
		if err := c.caller.Do(ctx, "list_children", http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, fmt.Errorf("list children of %s: %w", blockID, err)
		}
		out = append(out, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return out, nil
		}
		cursor = resp.NextCursor
	}
}
