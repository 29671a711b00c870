package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"opsdesk/internal/workspace"
)

// BlockNode is a block with its fetched children.
type BlockNode struct {
	Block    workspace.Block
	Children []BlockNode
}

// ToMarkdown renders fetched blocks back into markdown.
func ToMarkdown(nodes []BlockNode) string {
	var sb strings.Builder
	writeNodes(&sb, nodes, "")
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func writeNodes(sb *strings.Builder, nodes []BlockNode, indent string) {
	number := 0
	for _, n := range nodes {
		t := n.Block.Type()
		if t == "numbered_list_item" {
			number++
		} else {
			number = 0
		}
		body, _ := n.Block[t].(map[string]any)
		txt := richTextMarkdown(body["rich_text"])
		switch t {
		case "paragraph":
			fmt.Fprintf(sb, "%s%s\n\n", indent, txt)
		case "heading_1", "heading_2", "heading_3", "heading_4":
			level := int(t[len(t)-1] - '0')
			fmt.Fprintf(sb, "%s%s %s\n\n", indent, strings.Repeat("#", level), txt)
		case "bulleted_list_item", "toggle":
			fmt.Fprintf(sb, "%s- %s\n", indent, txt)
		case "numbered_list_item":
			fmt.Fprintf(sb, "%s%d. %s\n", indent, number, txt)
		case "to_do":
			box := " "
			if checked, _ := body["checked"].(bool); checked {
				box = "x"
			}
			fmt.Fprintf(sb, "%s- [%s] %s\n", indent, box, txt)
		case "quote", "callout":
			for _, line := range strings.Split(txt, "\n") {
				fmt.Fprintf(sb, "%s> %s\n", indent, line)
			}
			sb.WriteString("\n")
		case "code":
			lang, _ := body["language"].(string)
			if lang == "plain text" {
				lang = ""
			}
			fmt.Fprintf(sb, "%s```%s\n%s\n%s```\n\n", indent, lang, plainRichText(body["rich_text"]), indent)
		case "divider":
			fmt.Fprintf(sb, "%s---\n\n", indent)
		case "image", "video", "pdf", "file", "audio":
			u := fileURL(body)
			if t == "image" {
				fmt.Fprintf(sb, "%s![](%s)\n\n", indent, u)
			} else {
				fmt.Fprintf(sb, "%s[%s](%s)\n\n", indent, t, u)
			}
		case "bookmark", "embed":
			u, _ := body["url"].(string)
			fmt.Fprintf(sb, "%s<%s>\n\n", indent, u)
		case "child_page", "child_database":
			title, _ := body["title"].(string)
			fmt.Fprintf(sb, "%s**%s**\n\n", indent, title)
		case "equation":
			expr, _ := body["expression"].(string)
			fmt.Fprintf(sb, "%s$$%s$$\n\n", indent, expr)
		case "table":
			writeTable(sb, n.Children, indent)
			continue
		}
		if len(n.Children) > 0 {
			writeNodes(sb, n.Children, indent+"  ")
		}
	}
}

func writeTable(sb *strings.Builder, rows []BlockNode, indent string) {
	for i, r := range rows {
		body, _ := r.Block["table_row"].(map[string]any)
		cells, _ := body["cells"].([]any)
		parts := make([]string, len(cells))
		for j, c := range cells {
			parts[j] = richTextMarkdown(c)
		}
		fmt.Fprintf(sb, "%s| %s |\n", indent, strings.Join(parts, " | "))
		if i == 0 {
			fmt.Fprintf(sb, "%s|%s\n", indent, strings.Repeat(" --- |", len(parts)))
		}
	}
	sb.WriteString("\n")
}

func fileURL(body map[string]any) string {
	for _, k := range []string{"external", "file"} {
		if m, ok := body[k].(map[string]any); ok {
			if u, ok := m["url"].(string); ok {
				return u
			}
		}
	}
	return ""
}

func plainRichText(v any) string {
	items, _ := v.([]any)
	var sb strings.Builder
	for _, it := range items {
		m, _ := it.(map[string]any)
		s, _ := m["plain_text"].(string)
		sb.WriteString(s)
	}
	return sb.String()
}

func richTextMarkdown(v any) string {
	items, _ := v.([]any)
	var sb strings.Builder
	for _, it := range items {
		m, _ := it.(map[string]any)
		s, _ := m["plain_text"].(string)
		if s == "" {
			continue
		}
		ann, _ := m["annotations"].(map[string]any)
		if on(ann, "code") {
			s = "`" + s + "`"
		}
		if on(ann, "bold") {
			s = "**" + s + "**"
		}
		if on(ann, "italic") {
			s = "*" + s + "*"
		}
		if on(ann, "strikethrough") {
			s = "~~" + s + "~~"
		}
		if href, _ := m["href"].(string); href != "" {
			s = "[" + s + "](" + href + ")"
		}
		sb.WriteString(s)
	}
	return sb.String()
}

func on(ann map[string]any, k string) bool {
	b, _ := ann[k].(bool)
	return b
}

// RenderTerminal renders markdown for a terminal. style is a glamour
// standard style name ("dark", "light", "notty") or "auto".
func RenderTerminal(md, style string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("build markdown renderer: %w", err)
	}
	return r.Render(md)
}
