// Package templates resolves DB-stored SMS templates, fills their
// {variable} placeholders and dispatches them to each recipient class.
package templates

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{[^}]+\}`)

// UnresolvedError reports placeholders left after substitution.
type UnresolvedError struct {
	Placeholders []string
}

func (e *UnresolvedError) Error() string {
	return "미치환 변수: " + strings.Join(e.Placeholders, ", ")
}

// Renderer fills {key} placeholders.
type Renderer struct{}

// Render substitutes every {key} in content with vars[key]. Content that
// still contains a placeholder afterwards is rejected.
func (Renderer) Render(content string, vars map[string]string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("templates: template text required")
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	out := strings.NewReplacer(pairs...).Replace(content)
	if left := placeholderPattern.FindAllString(out, -1); len(left) > 0 {
		return "", &UnresolvedError{Placeholders: left}
	}
	return out, nil
}
