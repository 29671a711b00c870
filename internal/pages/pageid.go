package pages

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	hyphenatedID = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	compactID    = regexp.MustCompile(`[0-9a-f]{32}`)
)

// ExtractPageID pulls a page id out of a page URL or a bare id and returns it
// in 8-4-4-4-12 form. Query strings and fragments are ignored, so a database
// view's ?v= id never wins over the page id.
func ExtractPageID(ref string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(ref))
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		s = u.Path
	} else if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if m := hyphenatedID.FindAllString(s, -1); len(m) > 0 {
		return m[len(m)-1], nil
	}
	if m := compactID.FindAllString(s, -1); len(m) > 0 {
		return FormatPageID(m[len(m)-1]), nil
	}
	return "", fmt.Errorf("no page id found in %q", ref)
}

// FormatPageID hyphenates a 32-character id. Other inputs are returned as is.
func FormatPageID(id string) string {
	if len(id) != 32 {
		return id
	}
	return id[:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:]
}
