package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"

	"listmailer/internal/email"
)

// ErrConfig indicates an incomplete or unreadable DKIM configuration.
var ErrConfig = errors.New("dkim: invalid configuration")

// Config describes a DKIM signing key. An all-empty Config disables signing.
type Config struct {
	Selector   string `mapstructure:"selector"`
	Domain     string `mapstructure:"domain"`
	KeyPath    string `mapstructure:"key_path"`
	PrivateKey string `mapstructure:"private_key"`
}

func (c Config) empty() bool {
	return c.Selector == "" && c.KeyPath == "" && c.PrivateKey == "" && c.Domain == ""
}

// Signer applies DKIM signatures to outgoing messages.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// Selector returns the configured DKIM selector string.
func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

// Domain returns the configured signing domain, if any.
func (s *Signer) Domain() string {
	if s == nil {
		return ""
	}
	return s.domain
}

// ConfigFromEnv reads LISTMAILER_DKIM_SELECTOR, LISTMAILER_DKIM_DOMAIN and
// either LISTMAILER_DKIM_KEY_PATH or LISTMAILER_DKIM_PRIVATE_KEY.
func ConfigFromEnv() Config {
	return Config{
		Selector:   strings.TrimSpace(os.Getenv("LISTMAILER_DKIM_SELECTOR")),
		Domain:     strings.TrimSpace(os.Getenv("LISTMAILER_DKIM_DOMAIN")),
		KeyPath:    strings.TrimSpace(os.Getenv("LISTMAILER_DKIM_KEY_PATH")),
		PrivateKey: os.Getenv("LISTMAILER_DKIM_PRIVATE_KEY"),
	}
}

// New returns a Signer for cfg, or nil when cfg is empty.
func New(cfg Config) (*Signer, error) {
	if cfg.empty() {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Selector) == "" {
		return nil, fmt.Errorf("%w: selector is required when enabling DKIM", ErrConfig)
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case cfg.KeyPath != "":
		data, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read private key: %v", ErrConfig, err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("%w: provide a key path or an inline private key", ErrConfig)
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrConfig, err)
	}

	return &Signer{
		domain:   strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector: strings.TrimSpace(cfg.Selector),
		key:      key,
		headerKeys: []string{
			"from",
			"to",
			"subject",
			"date",
			"mime-version",
			"content-type",
			"message-id",
		},
	}, nil
}

// Sign returns message with a DKIM-Signature header prepended. A nil Signer
// returns the message untouched. The signing domain defaults to the domain
// of from.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		addr, err := email.Bare(from)
		if err != nil {
			return nil, fmt.Errorf("dkim: unable to determine signing domain: %w", err)
		}
		if domain, err = email.Domain(addr); err != nil {
			return nil, fmt.Errorf("dkim: unable to determine signing domain: %w", err)
		}
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(normalizeLineEndings(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:")) || bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:"))
}

func normalizeLineEndings(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte{'\n'}, []byte("\r\n"))
}
