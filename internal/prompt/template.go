// Package prompt holds the text templates sent to the completion service.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Template is prompt text with {{name}} placeholders.
type Template struct {
	text string
	vars []string
}

// Parse records the distinct placeholder names in first-seen order.
func Parse(text string) *Template {
	t := &Template{text: text}
	seen := make(map[string]struct{})
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		t.vars = append(t.vars, m[1])
	}
	return t
}

// Answer is the user message for a retrieval-backed answer.
var Answer = Parse(`You are a helpful assistant. Use the provided context to answer the question.

Context:
{{context}}

Question:
{{question}}

Answer:`)

func (t *Template) Vars() []string { return t.vars }

// Render fills every placeholder in one pass, so substituted values are
// never expanded again. Missing values are an error.
func (t *Template) Render(values map[string]string) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := values[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return placeholder.ReplaceAllStringFunc(t.text, func(m string) string {
		return values[m[2:len(m)-2]]
	}), nil
}
