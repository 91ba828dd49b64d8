// Package render is the template engine boundary: given a template name and
// a render context it returns the message body or an error.
//
// Templates use pongo2's Django/Jinja syntax ({{ name }}, {% if %}), which
// covers the nunjucks templates lists were written for. Templates ending in
// .md are rendered first and then converted from Markdown to HTML.
package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/flosch/pongo2/v6"
	"github.com/yuin/goldmark"
)

// ErrTemplate indicates the template could not be loaded or executed.
var ErrTemplate = errors.New("template error")

var invalidIdentifier = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Renderer renders templates from a single directory. Parsed templates are
// cached by pongo2, so a Renderer is safe to share between goroutines.
type Renderer struct {
	set *pongo2.TemplateSet
	md  goldmark.Markdown
}

// New returns a Renderer loading templates from dir.
func New(dir string) (*Renderer, error) {
	loader, err := pongo2.NewLocalFileSystemLoader(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	return &Renderer{
		set: pongo2.NewSet("listmailer", loader),
		md:  goldmark.New(),
	}, nil
}

// Load parses name ahead of the first Render so syntax errors surface
// before any recipient is processed.
func (r *Renderer) Load(name string) error {
	if _, err := r.set.FromCache(name); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTemplate, name, err)
	}
	return nil
}

// Render executes the named template with data.
func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	tpl, err := r.set.FromCache(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplate, name, err)
	}

	out, err := tpl.Execute(Context(data))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplate, name, err)
	}

	if filepath.Ext(name) != ".md" {
		return out, nil
	}
	var html bytes.Buffer
	if err := r.md.Convert([]byte(out), &html); err != nil {
		return "", fmt.Errorf("%w: %s: convert markdown: %v", ErrTemplate, name, err)
	}
	return html.String(), nil
}

// Context converts data into a pongo2 context. Keys that are not valid
// identifiers (CSV headers like "first name") are exposed with every invalid
// character replaced by '_'; a key that is already valid wins over a
// rewritten one. Numbers print in their shortest form: 2025, not
// 2025.000000.
func Context(data map[string]any) pongo2.Context {
	ctx := make(pongo2.Context, len(data))
	var rewrite []string
	for k, v := range data {
		if invalidIdentifier.MatchString(k) || k == "" {
			rewrite = append(rewrite, k)
			continue
		}
		ctx[k] = value(v)
	}

	sort.Strings(rewrite)
	for _, k := range rewrite {
		name := invalidIdentifier.ReplaceAllString(k, "_")
		if name == "" {
			continue
		}
		if _, taken := ctx[name]; !taken {
			ctx[name] = value(data[k])
		}
	}
	return ctx
}

// value rewrites floats, which pongo2 prints with %f, into integers when they
// are whole and into their shortest decimal text otherwise.
func value(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return value(float64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return value(f)
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = value(item)
		}
		return out
	}
	return v
}
