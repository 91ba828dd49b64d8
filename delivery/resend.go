package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v3"
	"github.com/rs/zerolog"

	"listmailer/message"
)

// ResendConfig is the "resend" section of the key file.
type ResendConfig struct {
	APIKey  string `mapstructure:"apiKey"`
	ReplyTo string `mapstructure:"replyTo"`
}

type resendAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend sends each message with one Resend API call. It has no rate gate of
// its own.
type Resend struct {
	emails  resendAPI
	cfg     ResendConfig
	timeout time.Duration
	log     zerolog.Logger
}

// NewResend returns a Resend transport. The key is checked by the first call.
func NewResend(cfg ResendConfig, timeout time.Duration, log zerolog.Logger) (*Resend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: resend apiKey is required", ErrTransportConfig)
	}
	client := resend.NewClient(cfg.APIKey)
	return &Resend{
		emails:  client.Emails,
		cfg:     cfg,
		timeout: timeout,
		log:     log.With().Str("transport", "resend").Logger(),
	}, nil
}

// Name returns "resend".
func (r *Resend) Name() string { return "resend" }

// Capabilities reports that Resend is paced by the engine and accepts UTF-8
// headers as given.
func (r *Resend) Capabilities() Capabilities {
	return Capabilities{SelfThrottled: false, ASCIIHeaders: false}
}

// Send submits msg and returns the Resend email id.
func (r *Resend) Send(ctx context.Context, msg *message.Message) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if r.cfg.ReplyTo != "" {
		req.ReplyTo = r.cfg.ReplyTo
	}
	if len(msg.Attachments) > 0 {
		contents, err := readAttachments(msg.Attachments)
		if err != nil {
			return "", err
		}
		req.Attachments = make([]*resend.Attachment, len(msg.Attachments))
		for i, a := range msg.Attachments {
			req.Attachments[i] = &resend.Attachment{
				Filename:    a.Filename,
				Content:     contents[i],
				ContentType: contentType(a.Filename),
				ContentId:   a.ContentID,
			}
		}
	}

	resp, err := r.emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	r.log.Debug().Str("email", msg.To).Int("attachments", len(req.Attachments)).Msg("submitted")
	return resp.Id, nil
}
