package message

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer prints the render context as sorted key=value pairs, or fails
// for the configured recipient.
type fakeRenderer struct {
	failFor string
	calls   []map[string]any
}

func (f *fakeRenderer) Render(template string, data map[string]any) (string, error) {
	f.calls = append(f.calls, data)
	if f.failFor != "" && data["email"] == f.failFor {
		return "", errors.New("undefined variable")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return template + ":" + strings.Join(parts, ";"), nil
}

func TestCompileBuildsEnvelope(t *testing.T) {
	r := &fakeRenderer{}
	c := NewCompiler(r, "template.html")
	meta := ListMetadata{From: "a@x.com", Subject: "Hi"}
	rcpt := Recipient{Row: 1, Fields: map[string]any{"email": " b@x.com ", "name": "Bob"}}

	msg, err := c.Compile(meta, rcpt)
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", msg.To)
	assert.Equal(t, "a@x.com", msg.From)
	assert.Equal(t, "Hi", msg.Subject)
	assert.Equal(t, "template.html:email= b@x.com ;from=a@x.com;name=Bob;subject=Hi", msg.HTML)
	assert.Empty(t, msg.Attachments)
}

func TestCompileRecipientOverridesRenderContextOnly(t *testing.T) {
	r := &fakeRenderer{}
	c := NewCompiler(r, "t")
	meta := ListMetadata{From: "a@x.com", Subject: "List subject", Name: "Team"}
	rcpt := Recipient{Row: 1, Fields: map[string]any{"email": "b@x.com", "subject": "Row subject", "name": "Bob"}}

	msg, err := c.Compile(meta, rcpt)
	require.NoError(t, err)

	require.Len(t, r.calls, 1)
	assert.Equal(t, "Row subject", r.calls[0]["subject"])
	assert.Equal(t, "Bob", r.calls[0]["name"])

	assert.Equal(t, "List subject", msg.Subject, "envelope subject comes from metadata")
	assert.Equal(t, "Team <a@x.com>", msg.From, "envelope sender comes from metadata")
}

func TestCompileExtraMetadataReachesContext(t *testing.T) {
	c := NewCompiler(&fakeRenderer{}, "t")
	meta := ListMetadata{From: "a@x.com", Subject: "Hi", Extra: map[string]any{"campaign": "spring", "from": "ignored"}}

	ctx := c.Context(meta, Recipient{Fields: map[string]any{"email": "b@x.com"}})
	assert.Equal(t, "spring", ctx["campaign"])
	assert.Equal(t, "a@x.com", ctx["from"])
	_, hasName := ctx["name"]
	assert.False(t, hasName, "unset optional keys stay out of the context")
}

func TestCompileAttachments(t *testing.T) {
	meta := ListMetadata{From: "a@x.com", Subject: "Hi", Name: "Jürgen", Attachments: []string{"logo.png", "terms.pdf"}}
	rcpt := Recipient{Fields: map[string]any{"email": "b@x.com"}}

	c := NewCompiler(&fakeRenderer{}, "t", WithBaseDir("/work"), WithASCIIHeaders(true))
	msg, err := c.Compile(meta, rcpt)
	require.NoError(t, err)

	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, Attachment{Filename: "logo.png", Path: filepath.Join("/work", "logo.png"), ContentID: "logo.png"}, msg.Attachments[0])
	assert.Equal(t, "terms.pdf", msg.Attachments[1].Filename)
	assert.Equal(t, "=?utf-8?q?J=C3=BCrgen?= <a@x.com>", msg.From)

	raw := NewCompiler(&fakeRenderer{}, "t", WithASCIIHeaders(false))
	msg, err = raw.Compile(meta, rcpt)
	require.NoError(t, err)
	assert.Equal(t, "Jürgen <a@x.com>", msg.From)
}

func TestCompileSenderNameWithoutAttachmentsIsRaw(t *testing.T) {
	meta := ListMetadata{From: "a@x.com", Subject: "Hi", Name: "Jürgen"}
	c := NewCompiler(&fakeRenderer{}, "t", WithASCIIHeaders(true))

	msg, err := c.Compile(meta, Recipient{Fields: map[string]any{"email": "b@x.com"}})
	require.NoError(t, err)
	assert.Equal(t, "Jürgen <a@x.com>", msg.From)
}

func TestCompileIsIdempotent(t *testing.T) {
	meta := ListMetadata{From: "a@x.com", Subject: "Hi", Name: "Team", Attachments: []string{"a.pdf"}}
	rcpt := Recipient{Row: 3, Fields: map[string]any{"email": "b@x.com", "name": "Bob", "score": int64(7)}}
	c := NewCompiler(&fakeRenderer{}, "t", WithBaseDir("/w"))

	first, err := c.Compile(meta, rcpt)
	require.NoError(t, err)
	second, err := c.Compile(meta, rcpt)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, map[string]any{"email": "b@x.com", "name": "Bob", "score": int64(7)}, rcpt.Fields, "recipient fields are not mutated")
}

func TestCompileRenderError(t *testing.T) {
	c := NewCompiler(&fakeRenderer{failFor: "c@x.com"}, "t")
	meta := ListMetadata{From: "a@x.com", Subject: "Hi"}

	_, err := c.Compile(meta, Recipient{Row: 2, Fields: map[string]any{"email": "c@x.com"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRender)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "c@x.com", renderErr.Email)
	assert.Equal(t, 2, renderErr.Row)
	assert.Contains(t, err.Error(), "undefined variable")
}

func TestRecipientEmail(t *testing.T) {
	assert.Equal(t, "b@x.com", Recipient{Fields: map[string]any{"email": "  b@x.com\t"}}.Email())
	assert.Empty(t, Recipient{Fields: map[string]any{"name": "Bob"}}.Email())
}
