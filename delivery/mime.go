package delivery

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"listmailer/internal/dkim"
	"listmailer/internal/email"
	"listmailer/message"
)

// Composer builds RFC 5322 messages for transports that submit raw MIME.
type Composer struct {
	signer *dkim.Signer
	now    func() time.Time
	newID  func() string
}

// NewComposer returns a Composer. A nil signer disables DKIM.
func NewComposer(signer *dkim.Signer) *Composer {
	return &Composer{
		signer: signer,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Compose renders msg as a signed MIME message and returns it with its
// Message-ID. Attachments are read from disk here; a missing file fails only
// this message.
func (c *Composer) Compose(msg *message.Message) ([]byte, string, error) {
	fromAddr, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, "", fmt.Errorf("sender %q: %w", msg.From, email.ErrInvalidAddress)
	}
	toAddr, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, "", fmt.Errorf("recipient %q: %w", msg.To, email.ErrInvalidAddress)
	}
	domain, err := email.Domain(fromAddr.Address)
	if err != nil {
		return nil, "", err
	}
	messageID := fmt.Sprintf("<%s@%s>", c.newID(), domain)

	var buf bytes.Buffer
	writeHeader(&buf, "From", fromAddr.String())
	writeHeader(&buf, "To", toAddr.String())
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", c.now().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID)
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(msg.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", "text/html; charset=UTF-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, msg.HTML); err != nil {
			return nil, "", err
		}
	} else if err := writeRelated(&buf, msg); err != nil {
		return nil, "", err
	}

	signed, err := c.signer.Sign(buf.Bytes(), msg.From)
	if err != nil {
		return nil, "", err
	}
	return signed, messageID, nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	return qp.Close()
}

// writeRelated writes the HTML part followed by the attachments so the body
// can reference each file as cid:<filename>.
func writeRelated(buf *bytes.Buffer, msg *message.Message) error {
	mw := multipart.NewWriter(buf)
	writeHeader(buf, "Content-Type", fmt.Sprintf("multipart/related; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	body, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	if err := writeQuotedPrintable(body, msg.HTML); err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		data, err := os.ReadFile(att.Path)
		if err != nil {
			return fmt.Errorf("attachment %s: %w", att.Filename, err)
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType(att.Filename)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("inline", map[string]string{"filename": att.Filename})},
			"Content-Id":                {"<" + att.ContentID + ">"},
		})
		if err != nil {
			return err
		}
		if err := writeBase64(part, data); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// readAttachments loads attachment content for API transports that take
// file bytes instead of raw MIME.
func readAttachments(atts []message.Attachment) ([][]byte, error) {
	out := make([][]byte, len(atts))
	for i, att := range atts {
		data, err := os.ReadFile(att.Path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", att.Filename, err)
		}
		out[i] = data
	}
	return out, nil
}
