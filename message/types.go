package message

import (
	"strings"

	"github.com/spf13/cast"
)

// ListMetadata holds the list-wide settings read from the metadata file.
type ListMetadata struct {
	From        string `validate:"required"`
	Subject     string `validate:"required"`
	Name        string
	Attachments []string

	// Extra keeps every other key of the metadata file. It is only used as
	// render context.
	Extra map[string]any
}

// Fields returns the metadata as a flat render context. Optional keys are
// present only when set.
func (m ListMetadata) Fields() map[string]any {
	fields := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		fields[k] = v
	}
	fields["from"] = m.From
	fields["subject"] = m.Subject
	if m.Name != "" {
		fields["name"] = m.Name
	}
	if len(m.Attachments) > 0 {
		fields["attachments"] = append([]string(nil), m.Attachments...)
	}
	return fields
}

// Recipient is one row of the recipient list.
type Recipient struct {
	Fields map[string]any
	// Row is the line of the recipient in its source file.
	Row int
}

// Email returns the trimmed email column.
func (r Recipient) Email() string {
	return strings.TrimSpace(cast.ToString(r.Fields["email"]))
}

// Attachment references a file sent along with a message.
type Attachment struct {
	Filename string
	Path     string
	// ContentID lets the body reference the file inline as cid:<filename>.
	ContentID string
}

// Message is a compiled outbound message. It is never modified after
// Compile returns it.
type Message struct {
	To          string
	From        string
	Subject     string
	HTML        string
	Attachments []Attachment
}
