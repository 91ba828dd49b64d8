package render

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestRenderNunjucksStyle(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "template.html", "Hello {{name}}")

	r, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, r.Load("template.html"))

	out, err := r.Render("template.html", map[string]any{"name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob", out)

	out, err = r.Render("template.html", map[string]any{"name": "Carol"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Carol", out)
}

func TestRenderControlFlowAndEscaping(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "t.html", "{% if vip %}<b>{{ name }}</b>{% else %}{{ name }}{% endif %} ({{ score }})")

	r, err := New(dir)
	require.NoError(t, err)

	out, err := r.Render("t.html", map[string]any{"vip": true, "name": "<Bob>", "score": int64(42)})
	require.NoError(t, err)
	assert.Equal(t, "<b>&lt;Bob&gt;</b> (42)", out)
}

func TestRenderMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "t.md", "# Hi {{ name }}\n\nWelcome aboard.\n")

	r, err := New(dir)
	require.NoError(t, err)

	out, err := r.Render("t.md", map[string]any{"name": "Bob"})
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>Hi Bob</h1>")
	assert.Contains(t, out, "<p>Welcome aboard.</p>")
}

func TestRenderErrors(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "broken.html", "Hello {% if name %}")

	r, err := New(dir)
	require.NoError(t, err)

	_, err = r.Render("missing.html", nil)
	require.ErrorIs(t, err, ErrTemplate)

	require.ErrorIs(t, r.Load("broken.html"), ErrTemplate)
	_, err = r.Render("broken.html", map[string]any{"name": "Bob"})
	require.ErrorIs(t, err, ErrTemplate)
}

func TestContextRewritesInvalidKeys(t *testing.T) {
	ctx := Context(map[string]any{
		"first name": "Bob",
		"last-name":  "Builder",
		"email":      "b@x.com",
		"a b":        "rewritten",
		"a_b":        "original",
	})

	assert.Equal(t, "Bob", ctx["first_name"])
	assert.Equal(t, "Builder", ctx["last_name"])
	assert.Equal(t, "b@x.com", ctx["email"])
	assert.Equal(t, "original", ctx["a_b"])
	_, ok := ctx["first name"]
	assert.False(t, ok)
}

func TestRenderPrintsNumbersInShortestForm(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "price.html", "{{ price }} {{ year }} {{ count }}")

	r, err := New(dir)
	require.NoError(t, err)

	out, err := r.Render("price.html", map[string]any{
		"price": 19.99,
		"year":  json.Number("2025"),
		"count": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "19.99 2025 3", out)

	ctx := Context(map[string]any{"tags": []any{0.5, float64(7)}})
	assert.Equal(t, []any{"0.5", int64(7)}, ctx["tags"])
}
