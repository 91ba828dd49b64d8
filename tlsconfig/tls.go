// Package tlsconfig builds the client TLS settings used when upgrading SMTP
// connections with STARTTLS.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"listmailer/internal/config"
)

// ErrTLSConfig indicates an unreadable CA bundle or client key pair.
var ErrTLSConfig = errors.New("tls: invalid configuration")

// Client returns the TLS configuration for a connection to serverName.
//
// LISTMAILER_SMTP_TLS_CA adds a PEM bundle of trusted roots,
// LISTMAILER_SMTP_TLS_CERT and LISTMAILER_SMTP_TLS_KEY present a client
// certificate, and LISTMAILER_SMTP_TLS_INSECURE skips verification.
func Client(serverName string) (*tls.Config, error) {
	conf := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.Bool("LISTMAILER_SMTP_TLS_INSECURE", false),
	}

	if caFile := os.Getenv("LISTMAILER_SMTP_TLS_CA"); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read CA bundle: %v", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, caFile)
		}
		conf.RootCAs = pool
	}

	certFile := os.Getenv("LISTMAILER_SMTP_TLS_CERT")
	keyFile := os.Getenv("LISTMAILER_SMTP_TLS_KEY")
	switch {
	case certFile == "" && keyFile == "":
	case certFile == "" || keyFile == "":
		return nil, fmt.Errorf("%w: LISTMAILER_SMTP_TLS_CERT and LISTMAILER_SMTP_TLS_KEY must be set together", ErrTLSConfig)
	default:
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTLSConfig, err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}
