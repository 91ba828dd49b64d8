package delivery

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"listmailer/internal/dkim"
	"listmailer/internal/email"
	"listmailer/message"
	"listmailer/tlsconfig"
)

const (
	defaultSubmissionPort = 587
	defaultSMTPDeadline   = 2 * time.Minute
)

// mxPort is the port used for direct-to-MX delivery.
var mxPort = "25"

// SMTPConfig is the "smtp" section of the key file. Without Host, messages
// are delivered straight to the recipient domain's MX hosts.
type SMTPConfig struct {
	Host     string      `mapstructure:"host"`
	Port     int         `mapstructure:"port"`
	Username string      `mapstructure:"username"`
	Password string      `mapstructure:"password"`
	DKIM     dkim.Config `mapstructure:"dkim"`
}

// SMTP sends raw MIME over SMTP, one connection per message.
type SMTP struct {
	cfg      SMTPConfig
	helo     string
	timeout  time.Duration
	composer *Composer
	log      zerolog.Logger
}

// NewSMTP validates cfg and returns an SMTP transport. helo names this host in
// the EHLO greeting; timeout bounds each send (zero keeps the connection
// deadline only).
func NewSMTP(cfg SMTPConfig, composer *Composer, helo string, timeout time.Duration, log zerolog.Logger) (*SMTP, error) {
	if cfg.Host == "" && (cfg.Username != "" || cfg.Password != "") {
		return nil, fmt.Errorf("%w: smtp credentials need a relay host", ErrTransportConfig)
	}
	if cfg.Password != "" && cfg.Username == "" {
		return nil, fmt.Errorf("%w: smtp password set without username", ErrTransportConfig)
	}
	if cfg.Host != "" && cfg.Port == 0 {
		cfg.Port = defaultSubmissionPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: smtp port %d out of range", ErrTransportConfig, cfg.Port)
	}
	return &SMTP{
		cfg:      cfg,
		helo:     helo,
		timeout:  timeout,
		composer: composer,
		log:      log.With().Str("transport", "smtp").Logger(),
	}, nil
}

// Name returns "smtp".
func (s *SMTP) Name() string { return "smtp" }

// Capabilities reports that SMTP is paced by the engine and needs
// ASCII-only headers.
func (s *SMTP) Capabilities() Capabilities {
	return Capabilities{SelfThrottled: false, ASCIIHeaders: true}
}

// Send composes msg and hands it to the relay, or to the first MX host of the
// recipient's domain that accepts it. The Message-ID header is returned as the
// message id.
func (s *SMTP) Send(ctx context.Context, msg *message.Message) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	from, err := email.Bare(msg.From)
	if err != nil {
		return "", err
	}
	to, err := email.Bare(msg.To)
	if err != nil {
		return "", err
	}
	raw, messageID, err := s.composer.Compose(msg)
	if err != nil {
		return "", err
	}

	if s.cfg.Host != "" {
		var auth smtp.Auth
		if s.cfg.Username != "" {
			auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		}
		err = s.deliver(ctx, s.cfg.Host, strconv.Itoa(s.cfg.Port), auth, from, to, raw)
	} else {
		err = s.deliverMX(ctx, from, to, raw)
	}
	if err != nil {
		return "", err
	}
	return messageID, nil
}

func (s *SMTP) deliverMX(ctx context.Context, from, to string, data []byte) error {
	hosts, err := mxHosts(ctx, to)
	if err != nil {
		return err
	}
	var lastErr error
	for _, host := range hosts {
		err := s.deliver(ctx, host, mxPort, nil, from, to, data)
		if err == nil {
			return nil
		}
		s.log.Debug().Err(err).Str("mx", host).Msg("mx host refused message")
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("delivery failed: %w", lastErr)
}

// deliver runs one SMTP transaction against host:port.
func (s *SMTP) deliver(ctx context.Context, host, port string, auth smtp.Auth, from, to string, data []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSMTPDeadline)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello(s.helo); err != nil {
		return fmt.Errorf("helo: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConf, err := tlsconfig.Client(host)
		if err != nil {
			return err
		}
		if err := client.StartTLS(tlsConf); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("auth: %s does not offer AUTH", host)
		}
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}

	return nil
}
