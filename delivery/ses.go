package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"listmailer/internal/email"
	"listmailer/message"
)

const defaultSESRegion = "us-east-1"

// SESConfig is the "ses" section of the key file. Key files that keep
// accessKeyId and secretAccessKey at the top level decode into it too.
// Empty keys fall back to the default AWS credential chain.
type SESConfig struct {
	AccessKeyID      string `mapstructure:"accessKeyId"`
	SecretAccessKey  string `mapstructure:"secretAccessKey"`
	SessionToken     string `mapstructure:"sessionToken"`
	Region           string `mapstructure:"region"`
	Endpoint         string `mapstructure:"endpoint"`
	ConfigurationSet string `mapstructure:"configurationSet"`
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES submits raw MIME through the SES v2 API. It holds its own rate gate so
// the caller may launch sends concurrently.
type SES struct {
	client   sesAPI
	limiter  *rate.Limiter
	cfg      SESConfig
	timeout  time.Duration
	composer *Composer
	log      zerolog.Logger
}

// NewSES builds an SES client from cfg. perSecond caps messages per second;
// timeout bounds each API call once it has been admitted by the gate.
func NewSES(ctx context.Context, cfg SESConfig, composer *Composer, perSecond float64, timeout time.Duration, log zerolog.Logger) (*SES, error) {
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, fmt.Errorf("%w: ses needs both accessKeyId and secretAccessKey", ErrTransportConfig)
	}
	if cfg.Region == "" {
		cfg.Region = defaultSESRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportConfig, err)
	}
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newSESWithClient(client, cfg, composer, perSecond, timeout, log), nil
}

func newSESWithClient(client sesAPI, cfg SESConfig, composer *Composer, perSecond float64, timeout time.Duration, log zerolog.Logger) *SES {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &SES{
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		timeout:  timeout,
		composer: composer,
		log:      log.With().Str("transport", "ses").Logger(),
	}
}

// Name returns "ses".
func (s *SES) Name() string { return "ses" }

// Capabilities reports that SES paces itself against the account send rate
// and needs ASCII-only headers.
func (s *SES) Capabilities() Capabilities {
	return Capabilities{SelfThrottled: true, ASCIIHeaders: true}
}

// Send waits for the rate gate, then submits msg. The SES message id is
// returned.
func (s *SES) Send(ctx context.Context, msg *message.Message) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate gate: %w", err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	from, err := email.Bare(msg.From)
	if err != nil {
		return "", err
	}
	raw, _, err := s.composer.Compose(msg)
	if err != nil {
		return "", err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", err
	}
	s.log.Debug().Str("email", msg.To).Int("bytes", len(raw)).Msg("submitted raw message")
	return aws.ToString(out.MessageId), nil
}
