package email

import (
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
)

var (
	// ErrInvalidAddress indicates the address failed validation.
	ErrInvalidAddress = errors.New("invalid email address")
)

// Bare extracts the addr-spec from a header value such as "Bob <bob@example.com>".
// Encoded-word display names are accepted.
func Bare(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if strings.ContainsAny(header, "\r\n") {
		return "", fmt.Errorf("%w: unexpected newline", ErrInvalidAddress)
	}

	parsed, err := mail.ParseAddress(header)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return parsed.Address, nil
}

// FormatAddress renders a From header value: "name <address>" when a display
// name is set, otherwise the bare address. With encodeName the display name is
// written as an RFC 2047 encoded-word if it holds non-ASCII characters.
func FormatAddress(name, address string, encodeName bool) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return address
	}
	if encodeName {
		name = mime.QEncoding.Encode("utf-8", name)
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// Domain returns the domain component of a validated email address.
func Domain(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at == -1 || at == len(address)-1 {
		return "", fmt.Errorf("%w: missing domain", ErrInvalidAddress)
	}

	domain := address[at+1:]
	domain = strings.TrimSuffix(domain, ".")
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrInvalidAddress)
	}
	if strings.ContainsAny(domain, " \t") {
		return "", fmt.Errorf("%w: whitespace in domain", ErrInvalidAddress)
	}

	return strings.ToLower(domain), nil
}
