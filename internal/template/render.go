package template

import (
	"fmt"
	"regexp"

	"github.com/flosch/pongo2/v6"
)

// RenderError is a terminal, non-retryable failure: a malformed
// template. It must never be raised for a merely missing variable.
type RenderError struct {
	TemplateCode string
	Reason       string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template render failed for %q: %s", e.TemplateCode, e.Reason)
}

var htmlTagPattern = regexp.MustCompile(`<[^<]+?>`)

// Render substitutes variables into the descriptor's subject/title and
// body. The dialect is pongo2's double-brace syntax ({{identifier}},
// {{a.b}}, {% if %}, {% for %}); missing variables render as empty
// strings rather than raising, matching the original Jinja2 behavior
// this was distilled from. stripHTML is set for the push channel,
// which has no HTML rendering surface.
func Render(d Descriptor, variables map[string]interface{}, stripHTML bool) (subjectOrTitle string, body string, err error) {
	ctx := pongo2.Context(variables)

	subjectOrTitle, err = renderOne(d.Code, d.SubjectOrTitle, ctx)
	if err != nil {
		return "", "", err
	}

	body, err = renderOne(d.Code, d.Body, ctx)
	if err != nil {
		return "", "", err
	}

	if stripHTML {
		body = htmlTagPattern.ReplaceAllString(body, "")
	}

	return subjectOrTitle, body, nil
}

func renderOne(templateCode, src string, ctx pongo2.Context) (string, error) {
	tpl, err := pongo2.FromString(src)
	if err != nil {
		return "", &RenderError{TemplateCode: templateCode, Reason: "parse: " + err.Error()}
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", &RenderError{TemplateCode: templateCode, Reason: "execute: " + err.Error()}
	}
	return out, nil
}
