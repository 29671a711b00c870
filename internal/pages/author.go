// Package pages authors and reads free-form pages in the workspace store:
// markdown goes in as blocks, blocks come back out as markdown.
package pages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"opsdesk/internal/records"
	"opsdesk/internal/workspace"
)

// ErrNoValidBlocks is returned when content converts to nothing appendable.
var ErrNoValidBlocks = errors.New("no valid blocks to append")

// Store is the slice of the workspace client page authoring needs.
type Store interface {
	CreateRecord(ctx context.Context, dataSourceID string, props records.Properties, icon string) (workspace.Record, error)
	AppendContent(ctx context.Context, parentID string, blocks []workspace.Block, maxBatch int) (workspace.AppendResult, error)
	ListChildren(ctx context.Context, blockID string) ([]workspace.Block, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt, model, systemPrompt string) (string, error)
}

// PageInput describes a page to create. When Prompt is set the body is
// generated from it and Markdown is ignored.
type PageInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	Markdown    string `json:"markdown,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Model       string `json:"model,omitempty"`
}

type PageResult struct {
	PageID   string `json:"page_id"`
	URL      string `json:"url,omitempty"`
	Blocks   int    `json:"blocks"`
	Skipped  int    `json:"skipped"`
	Batches  int    `json:"batches"`
	Markdown string `json:"markdown,omitempty"`
}

type Author struct {
	Store           Store
	LLM             Completer
	DataSourceID    string
	DefaultCategory string
	Logger          *zap.Logger
}

func (a Author) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Create writes a page record and appends its body.
func (a Author) Create(ctx context.Context, in PageInput) (PageResult, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return PageResult{}, errors.New("page title is required")
	}
	if a.DataSourceID == "" {
		return PageResult{}, errors.New("pages.data_source_id is not configured")
	}
	body, err := a.body(ctx, in.Markdown, in.Prompt, in.Model)
	if err != nil {
		return PageResult{}, err
	}
	category := in.Category
	if category == "" {
		category = a.DefaultCategory
	}
	if category == "" {
		category = "General"
	}
	props := records.Properties{}.
		Title("Title", title).
		RichText("Description", in.Description).
		Select("Category", category).
		URL("URL", in.URL)
	rec, err := a.Store.CreateRecord(ctx, a.DataSourceID, props, "")
	if err != nil {
		return PageResult{}, fmt.Errorf("create page %q: %w", title, err)
	}
	res := PageResult{PageID: rec.ID, URL: rec.URL, Markdown: body}
	if strings.TrimSpace(body) == "" {
		return res, nil
	}
	valid, skipped := FilterValid(ToBlocks(body))
	res.Skipped = skipped
	if len(valid) == 0 {
		return res, nil
	}
	out, err := a.Store.AppendContent(ctx, rec.ID, valid, workspace.MaxBlocksPerCall)
	res.Batches = out.Batches
	res.Blocks = out.Appended
	if err != nil {
		return res, err
	}
	a.logger().Info("page created", zap.String("page_id", rec.ID), zap.Int("blocks", res.Blocks), zap.Int("skipped", skipped))
	return res, nil
}

// Append adds markdown (or generated content) to an existing page given by
// id or URL.
func (a Author) Append(ctx context.Context, ref, markdown, prompt, model string) (PageResult, error) {
	id, err := ExtractPageID(ref)
	if err != nil {
		return PageResult{}, err
	}
	body, err := a.body(ctx, markdown, prompt, model)
	if err != nil {
		return PageResult{}, err
	}
	valid, skipped := FilterValid(ToBlocks(body))
	res := PageResult{PageID: id, Skipped: skipped, Markdown: body}
	if len(valid) == 0 {
		return res, ErrNoValidBlocks
	}
	out, err := a.Store.AppendContent(ctx, id, valid, workspace.MaxBlocksPerCall)
	res.Batches = out.Batches
	res.Blocks = out.Appended
	if err != nil {
		return res, err
	}
	a.logger().Info("page appended", zap.String("page_id", id), zap.Int("blocks", res.Blocks))
	return res, nil
}

// Read fetches a page's blocks, descending into nested children, and returns
// them as markdown.
func (a Author) Read(ctx context.Context, ref string) (string, error) {
	id, err := ExtractPageID(ref)
	if err != nil {
		return "", err
	}
	nodes, err := a.tree(ctx, id, 0)
	if err != nil {
		return "", err
	}
	return ToMarkdown(nodes), nil
}

const maxDepth = 8

func (a Author) tree(ctx context.Context, id string, depth int) ([]BlockNode, error) {
	blocks, err := a.Store.ListChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	nodes := make([]BlockNode, 0, len(blocks))
	for _, b := range blocks {
		n := BlockNode{Block: b}
		if has, _ := b["has_children"].(bool); has && depth < maxDepth && b.Type() != "child_page" {
			bid, _ := b["id"].(string)
			if n.Children, err = a.tree(ctx, bid, depth+1); err != nil {
				return nil, err
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (a Author) body(ctx context.Context, markdown, prompt, model string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return markdown, nil
	}
	if a.LLM == nil {
		return "", errors.New("content generation is not configured")
	}
	out, err := a.LLM.Complete(ctx, prompt, model, "")
	if err != nil {
		return "", fmt.Errorf("generate page content: %w", err)
	}
	return out, nil
}
