package pages

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"opsdesk/internal/workspace"
)

// maxTextLen is the store's limit on one rich-text content string.
const maxTextLen = 2000

// ValidBlockTypes are the block types the store accepts on append.
var ValidBlockTypes = map[string]bool{
	"paragraph": true, "heading_1": true, "heading_2": true, "heading_3": true, "heading_4": true,
	"bulleted_list_item": true, "numbered_list_item": true, "to_do": true, "toggle": true,
	"code": true, "quote": true, "callout": true, "divider": true, "table_of_contents": true,
	"breadcrumb": true, "equation": true, "embed": true, "bookmark": true, "image": true,
	"video": true, "pdf": true, "file": true, "audio": true, "link_to_page": true,
	"table": true, "table_row": true, "column_list": true, "column": true,
	"synced_block": true, "template": true, "ai_block": true,
}

// FilterValid drops blocks whose type the store does not accept.
func FilterValid(blocks []workspace.Block) (valid []workspace.Block, skipped int) {
	valid = make([]workspace.Block, 0, len(blocks))
	for _, b := range blocks {
		t := b.Type()
		if !ValidBlockTypes[t] {
			skipped++
			continue
		}
		if _, ok := b[t]; !ok {
			skipped++
			continue
		}
		valid = append(valid, b)
	}
	return valid, skipped
}

var parser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ToBlocks converts markdown into store blocks. Nested list items become
// children of their parent item.
func ToBlocks(markdown string) []workspace.Block {
	src := []byte(markdown)
	doc := parser.Parser().Parse(text.NewReader(src))
	c := converter{src: src}
	return c.blocks(doc)
}

type converter struct {
	src []byte
}

type annotations struct {
	bold, italic, strike, code bool
	link                       string
}

func (c converter) blocks(parent ast.Node) []workspace.Block {
	var out []workspace.Block
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = append(out, c.block(n)...)
	}
	return out
}

func (c converter) block(n ast.Node) []workspace.Block {
	switch n := n.(type) {
	case *ast.Heading:
		level := min(max(n.Level, 1), 3)
		return []workspace.Block{richBlock("heading_"+strconv.Itoa(level), c.inline(n))}
	case *ast.Paragraph, *ast.TextBlock:
		if img, ok := soleImage(n); ok {
			return []workspace.Block{imageBlock(string(img.Destination))}
		}
		return []workspace.Block{richBlock("paragraph", c.inline(n))}
	case *ast.List:
		return c.list(n)
	case *ast.FencedCodeBlock:
		return []workspace.Block{codeBlock(c.lines(n), codeLanguage(string(n.Language(c.src))))}
	case *ast.CodeBlock:
		return []workspace.Block{codeBlock(c.lines(n), "plain text")}
	case *ast.Blockquote:
		var parts []map[string]any
		for p := n.FirstChild(); p != nil; p = p.NextSibling() {
			if len(parts) > 0 {
				parts = append(parts, textObject("\n", annotations{}))
			}
			parts = append(parts, c.inline(p)...)
		}
		return []workspace.Block{richBlock("quote", parts)}
	case *ast.ThematicBreak:
		return []workspace.Block{{"object": "block", "type": "divider", "divider": map[string]any{}}}
	case *extast.Table:
		return []workspace.Block{c.table(n)}
	case *ast.HTMLBlock:
		raw := strings.TrimSpace(c.lines(n))
		if raw == "" {
			return nil
		}
		return []workspace.Block{richBlock("paragraph", []map[string]any{textObject(raw, annotations{})})}
	default:
		return nil
	}
}

func (c converter) list(l *ast.List) []workspace.Block {
	kind := "bulleted_list_item"
	if l.IsOrdered() {
		kind = "numbered_list_item"
	}
	var out []workspace.Block
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		var rich []map[string]any
		var children []workspace.Block
		itemKind := kind
		checked := false
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				if rich == nil {
					if box, ok := child.FirstChild().(*extast.TaskCheckBox); ok {
						itemKind = "to_do"
						checked = box.IsChecked
					}
					rich = c.inline(child)
					continue
				}
			}
			children = append(children, c.block(child)...)
		}
		b := richBlock(itemKind, rich)
		body := b[itemKind].(map[string]any)
		if itemKind == "to_do" {
			body["checked"] = checked
		}
		if len(children) > 0 {
			body["children"] = children
		}
		out = append(out, b)
	}
	return out
}

func (c converter) table(t *extast.Table) workspace.Block {
	var rows []workspace.Block
	width := 0
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		var cells [][]map[string]any
		for cell := r.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, c.inline(cell))
		}
		width = max(width, len(cells))
		rows = append(rows, workspace.Block{"object": "block", "type": "table_row", "table_row": map[string]any{"cells": cells}})
	}
	for _, row := range rows {
		body := row["table_row"].(map[string]any)
		cells := body["cells"].([][]map[string]any)
		for len(cells) < width {
			cells = append(cells, []map[string]any{})
		}
		body["cells"] = cells
	}
	return workspace.Block{"object": "block", "type": "table", "table": map[string]any{
		"table_width":       width,
		"has_column_header": true,
		"has_row_header":    false,
		"children":          rows,
	}}
}

func (c converter) lines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(c.src))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// inline flattens a block's inline children into rich-text objects.
func (c converter) inline(n ast.Node) []map[string]any {
	out := []map[string]any{}
	var walk func(n ast.Node, a annotations)
	walk = func(n ast.Node, a annotations) {
		for ch := n.FirstChild(); ch != nil; ch = ch.NextSibling() {
			switch ch := ch.(type) {
			case *ast.Text:
				s := string(ch.Segment.Value(c.src))
				switch {
				case ch.HardLineBreak():
					s += "\n"
				case ch.SoftLineBreak():
					s += " "
				}
				out = appendText(out, s, a)
			case *ast.String:
				out = appendText(out, string(ch.Value), a)
			case *ast.CodeSpan:
				na := a
				na.code = true
				walk(ch, na)
			case *ast.Emphasis:
				na := a
				if ch.Level >= 2 {
					na.bold = true
				} else {
					na.italic = true
				}
				walk(ch, na)
			case *extast.Strikethrough:
				na := a
				na.strike = true
				walk(ch, na)
			case *ast.Link:
				na := a
				na.link = string(ch.Destination)
				walk(ch, na)
			case *ast.AutoLink:
				u := string(ch.URL(c.src))
				na := a
				na.link = u
				out = appendText(out, string(ch.Label(c.src)), na)
			case *ast.Image:
				walk(ch, a)
			case *ast.RawHTML:
				for i := 0; i < ch.Segments.Len(); i++ {
					seg := ch.Segments.At(i)
					out = appendText(out, string(seg.Value(c.src)), a)
				}
			case *extast.TaskCheckBox:
				// rendered as the to_do checked flag
			default:
				walk(ch, a)
			}
		}
	}
	walk(n, annotations{})
	return out
}

func appendText(out []map[string]any, s string, a annotations) []map[string]any {
	for len(s) > maxTextLen {
		cut := maxTextLen
		for cut > 0 && !utf8Start(s[cut]) {
			cut--
		}
		out = append(out, textObject(s[:cut], a))
		s = s[cut:]
	}
	if s == "" {
		return out
	}
	return append(out, textObject(s, a))
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

func textObject(s string, a annotations) map[string]any {
	t := map[string]any{"content": s}
	if a.link != "" {
		t["link"] = map[string]any{"url": a.link}
	}
	obj := map[string]any{"type": "text", "text": t}
	if a.bold || a.italic || a.strike || a.code {
		obj["annotations"] = map[string]any{
			"bold":          a.bold,
			"italic":        a.italic,
			"strikethrough": a.strike,
			"code":          a.code,
		}
	}
	return obj
}

func richBlock(kind string, rich []map[string]any) workspace.Block {
	if rich == nil {
		rich = []map[string]any{}
	}
	return workspace.Block{"object": "block", "type": kind, kind: map[string]any{"rich_text": rich}}
}

func codeBlock(code, lang string) workspace.Block {
	return workspace.Block{"object": "block", "type": "code", "code": map[string]any{
		"rich_text": appendText([]map[string]any{}, code, annotations{}),
		"language":  lang,
	}}
}

func imageBlock(u string) workspace.Block {
	return workspace.Block{"object": "block", "type": "image", "image": map[string]any{
		"type":     "external",
		"external": map[string]any{"url": u},
	}}
}

func soleImage(n ast.Node) (*ast.Image, bool) {
	if n.ChildCount() != 1 {
		return nil, false
	}
	img, ok := n.FirstChild().(*ast.Image)
	return img, ok
}

var languageAliases = map[string]string{
	"":        "plain text",
	"text":    "plain text",
	"txt":     "plain text",
	"sh":      "shell",
	"bash":    "bash",
	"zsh":     "shell",
	"console": "shell",
	"js":      "javascript",
	"ts":      "typescript",
	"py":      "python",
	"golang":  "go",
	"yml":     "yaml",
	"md":      "markdown",
	"rb":      "ruby",
	"rs":      "rust",
	"kt":      "kotlin",
	"cs":      "c#",
	"cpp":     "c++",
}

func codeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if alias, ok := languageAliases[l]; ok {
		return alias
	}
	return l
}
