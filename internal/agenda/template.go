package agenda

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

const (
	SubjectToken = "{{SUBJECT}}"
	BodyToken    = "{{BODY}}"
)

//go:embed notification_template.html
var defaultTemplate string

// TemplateError reports an unreadable or malformed template.
type TemplateError struct {
	Source string
	Reason string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %s", e.Source, e.Reason)
}

// Template is an HTML document holding exactly one {{SUBJECT}} and one
// {{BODY}} token.
type Template struct {
	source string
	raw    string
}

// ParseTemplate validates raw. source names it in errors.
func ParseTemplate(source, raw string) (Template, error) {
	for _, tok := range []string{SubjectToken, BodyToken} {
		if n := strings.Count(raw, tok); n != 1 {
			return Template{}, &TemplateError{Source: source, Reason: fmt.Sprintf("want exactly one %s, found %d", tok, n)}
		}
	}
	return Template{source: source, raw: raw}, nil
}

// LoadTemplate reads the template at path. An empty path selects the
// built-in notification template.
func LoadTemplate(path string) (Template, error) {
	if path == "" {
		return ParseTemplate("built-in", defaultTemplate)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, &TemplateError{Source: path, Reason: err.Error()}
	}
	return ParseTemplate(path, string(data))
}

// DefaultTemplate returns the built-in template.
func DefaultTemplate() Template {
	t, err := ParseTemplate("built-in", defaultTemplate)
	if err != nil {
		panic(err)
	}
	return t
}

// Render substitutes subject and body literally in a single pass, so text
// inserted for one token is never rescanned for the other.
func (t Template) Render(subject, body string) string {
	return strings.NewReplacer(SubjectToken, subject, BodyToken, body).Replace(t.raw)
}
