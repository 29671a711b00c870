package records

import "time"

// Properties is a typed property payload for record writes, encoded in the
// workspace store's property-object shape.
type Properties map[string]any

func richText(s string) []map[string]any {
	return []map[string]any{{"type": "text", "text": map[string]any{"content": s}}}
}

func (p Properties) Title(col, s string) Properties {
	p[col] = map[string]any{"title": richText(s)}
	return p
}

func (p Properties) RichText(col, s string) Properties {
	p[col] = map[string]any{"rich_text": richText(s)}
	return p
}

func (p Properties) Number(col string, n float64) Properties {
	p[col] = map[string]any{"number": n}
	return p
}

// Date writes a date-only value.
func (p Properties) Date(col string, t time.Time) Properties {
	p[col] = map[string]any{"date": map[string]any{"start": t.Format("2006-01-02")}}
	return p
}

// URL writes a url value; an empty string clears it.
func (p Properties) URL(col, u string) Properties {
	if u == "" {
		p[col] = map[string]any{"url": nil}
		return p
	}
	p[col] = map[string]any{"url": u}
	return p
}

func (p Properties) Select(col, name string) Properties {
	p[col] = map[string]any{"select": map[string]any{"name": name}}
	return p
}
