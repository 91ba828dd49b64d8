package message

import (
	"path/filepath"

	"github.com/samber/lo"

	"listmailer/internal/email"
)

// Renderer renders the named template with a render context.
type Renderer interface {
	Render(template string, data map[string]any) (string, error)
}

// Compiler turns a recipient into a Message.
type Compiler struct {
	renderer     Renderer
	template     string
	baseDir      string
	asciiHeaders bool
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithBaseDir sets the directory attachment file names are resolved against.
func WithBaseDir(dir string) CompilerOption {
	return func(c *Compiler) {
		c.baseDir = dir
	}
}

// WithASCIIHeaders makes the compiler encode non-ASCII sender names as
// RFC 2047 encoded-words on messages that carry attachments.
func WithASCIIHeaders(enabled bool) CompilerOption {
	return func(c *Compiler) {
		c.asciiHeaders = enabled
	}
}

// NewCompiler returns a Compiler rendering template through renderer.
func NewCompiler(renderer Renderer, template string, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		renderer: renderer,
		template: template,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Context returns the render context for a recipient: metadata fields
// overlaid by the recipient's own columns.
func (c *Compiler) Context(meta ListMetadata, rcpt Recipient) map[string]any {
	return lo.Assign(meta.Fields(), rcpt.Fields)
}

// Compile renders the template for rcpt and builds its message. Envelope
// fields always come from meta, even when the recipient row overrides the
// same keys in the render context. A render failure is returned as a
// *RenderError.
func (c *Compiler) Compile(meta ListMetadata, rcpt Recipient) (*Message, error) {
	body, err := c.renderer.Render(c.template, c.Context(meta, rcpt))
	if err != nil {
		return nil, &RenderError{Email: rcpt.Email(), Row: rcpt.Row, Err: err}
	}

	encodeName := c.asciiHeaders && len(meta.Attachments) > 0
	return &Message{
		To:      rcpt.Email(),
		From:    email.FormatAddress(meta.Name, meta.From, encodeName),
		Subject: meta.Subject,
		HTML:    body,
		Attachments: lo.Map(meta.Attachments, func(name string, _ int) Attachment {
			return Attachment{
				Filename:  name,
				Path:      filepath.Join(c.baseDir, name),
				ContentID: name,
			}
		}),
	}, nil
}
