package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"listmailer/internal/dkim"
)

// Options carries run settings shared by every transport.
type Options struct {
	// Rate caps messages per second on self-throttled transports.
	Rate float64
	// Timeout bounds a single send.
	Timeout time.Duration
	// Hostname is announced in SMTP greetings.
	Hostname string
	Logger   zerolog.Logger
}

// New builds the transport named by provider from the key file. The
// provider's settings are read from the section of the same name, or from
// the top level when the section is absent.
func New(ctx context.Context, provider string, keys *viper.Viper, opts Options) (Transport, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: no key file loaded", ErrTransportConfig)
	}

	switch provider {
	case "ses":
		var cfg SESConfig
		if err := decodeSection(keys, provider, &cfg); err != nil {
			return nil, err
		}
		signer, err := signerFor(keys, dkim.Config{}, opts.Logger)
		if err != nil {
			return nil, err
		}
		return NewSES(ctx, cfg, NewComposer(signer), opts.Rate, opts.Timeout, opts.Logger)
	case "resend":
		var cfg ResendConfig
		if err := decodeSection(keys, provider, &cfg); err != nil {
			return nil, err
		}
		return NewResend(cfg, opts.Timeout, opts.Logger)
	case "smtp":
		var cfg SMTPConfig
		if err := decodeSection(keys, provider, &cfg); err != nil {
			return nil, err
		}
		signer, err := signerFor(keys, cfg.DKIM, opts.Logger)
		if err != nil {
			return nil, err
		}
		return NewSMTP(cfg, NewComposer(signer), opts.Hostname, opts.Timeout, opts.Logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrTransportConfig, provider)
	}
}

func decodeSection(keys *viper.Viper, section string, out any) error {
	var err error
	if keys.IsSet(section) {
		err = keys.UnmarshalKey(section, out)
	} else {
		err = keys.Unmarshal(out)
	}
	if err != nil {
		return fmt.Errorf("%w: decode %s keys: %v", ErrTransportConfig, section, err)
	}
	return nil
}

// signerFor resolves DKIM settings: the provider section first, then a
// top-level "dkim" section, then LISTMAILER_DKIM_* variables.
func signerFor(keys *viper.Viper, cfg dkim.Config, log zerolog.Logger) (*dkim.Signer, error) {
	if cfg == (dkim.Config{}) && keys.IsSet("dkim") {
		if err := keys.UnmarshalKey("dkim", &cfg); err != nil {
			return nil, fmt.Errorf("%w: decode dkim keys: %v", ErrTransportConfig, err)
		}
	}
	if cfg == (dkim.Config{}) {
		cfg = dkim.ConfigFromEnv()
	}
	signer, err := dkim.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportConfig, err)
	}
	if signer != nil {
		log.Info().Str("selector", signer.Selector()).Str("domain", signer.Domain()).Msg("dkim signing enabled")
	}
	return signer, nil
}
