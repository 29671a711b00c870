package workspace

import (
	"strconv"
	"strings"

	"opsdesk/internal/records"
)

type richText struct {
	PlainText string `json:"plain_text"`
}

type named struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end"`
}

type property struct {
	Type        string      `json:"type"`
	Title       []richText  `json:"title"`
	RichText    []richText  `json:"rich_text"`
	Checkbox    *bool       `json:"checkbox"`
	Number      *float64    `json:"number"`
	Select      *named      `json:"select"`
	Status      *named      `json:"status"`
	MultiSelect []named     `json:"multi_select"`
	People      []named     `json:"people"`
	Date        *dateValue  `json:"date"`
	URL         *string     `json:"url"`
	Email       *string     `json:"email"`
	PhoneNumber *string     `json:"phone_number"`
	CreatedTime string      `json:"created_time"`
	EditedTime  string      `json:"last_edited_time"`
	Formula     *formula    `json:"formula"`
	UniqueID    *uniqueID   `json:"unique_id"`
	Relation    []relation  `json:"relation"`
	Rollup      *rollupData `json:"rollup"`
}

type formula struct {
	Type    string     `json:"type"`
	String  *string    `json:"string"`
	Number  *float64   `json:"number"`
	Boolean *bool      `json:"boolean"`
	Date    *dateValue `json:"date"`
}

type uniqueID struct {
	Prefix *string  `json:"prefix"`
	Number *float64 `json:"number"`
}

type relation struct {
	ID string `json:"id"`
}

type rollupData struct {
	Type   string   `json:"type"`
	Number *float64 `json:"number"`
}

type page struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	InTrash    bool                `json:"in_trash"`
	Archived   bool                `json:"archived"`
	Properties map[string]property `json:"properties"`
}

func (p page) row() records.Row {
	r := records.Row{ID: p.ID, URL: p.URL, Properties: make(map[string]records.Value, len(p.Properties))}
	for name, prop := range p.Properties {
		r.Properties[name] = prop.flatten()
	}
	return r
}

func plain(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}

func names(ns []named) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Name)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (p property) flatten() records.Value {
	v := records.Value{Type: p.Type}
	switch p.Type {
	case "title":
		v.Text = plain(p.Title)
	case "rich_text":
		v.Text = plain(p.RichText)
	case "checkbox":
		v.Bool = p.Checkbox != nil && *p.Checkbox
	case "number":
		v.Number = p.Number
	case "select":
		if p.Select != nil {
			v.Text = p.Select.Name
		}
	case "status":
		if p.Status != nil {
			v.Text = p.Status.Name
		}
	case "multi_select":
		v.Items = names(p.MultiSelect)
	case "people":
		v.Items = names(p.People)
	case "date":
		if p.Date != nil {
			v.Text = p.Date.Start
		}
	case "url":
		v.Text = deref(p.URL)
	case "email":
		v.Text = deref(p.Email)
	case "phone_number":
		v.Text = deref(p.PhoneNumber)
	case "created_time":
		v.Text = p.CreatedTime
	case "last_edited_time":
		v.Text = p.EditedTime
	case "formula":
		if f := p.Formula; f != nil {
			switch f.Type {
			case "string":
				v.Text = deref(f.String)
			case "number":
				v.Number = f.Number
			case "boolean":
				v.Bool = f.Boolean != nil && *f.Boolean
			case "date":
				if f.Date != nil {
					v.Text = f.Date.Start
				}
			}
		}
	case "unique_id":
		if u := p.UniqueID; u != nil && u.Number != nil {
			v.Number = u.Number
			if u.Prefix != nil && *u.Prefix != "" {
				v.Text = *u.Prefix + "-" + strconv.FormatFloat(*u.Number, 'f', -1, 64)
			}
		}
	case "relation":
		for _, rel := range p.Relation {
			v.Items = append(v.Items, rel.ID)
		}
	case "rollup":
		if p.Rollup != nil {
			v.Number = p.Rollup.Number
		}
	}
	return v
}
