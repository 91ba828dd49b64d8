package recipients

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"listmailer/message"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load validates the metadata and turns parsed rows into recipients, keeping
// row order. Any row without an email, or repeating an earlier email, fails
// the whole load.
func Load(meta message.ListMetadata, rows []Row) ([]message.Recipient, error) {
	if err := validate.Struct(meta); err != nil {
		return nil, fmt.Errorf("%w: from and subject are required: %v", ErrInvalidMetadata, err)
	}

	seen := make(map[string]int, len(rows))
	recipients := make([]message.Recipient, 0, len(rows))
	for _, row := range rows {
		rcpt := message.Recipient{Fields: row.Fields, Row: row.Line}
		addr := rcpt.Email()
		if addr == "" {
			return nil, fmt.Errorf("%w: line %d has no email", ErrMalformedRecipient, row.Line)
		}
		key := strings.ToLower(addr)
		if first, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: line %d repeats %s from line %d", ErrMalformedRecipient, row.Line, addr, first)
		}
		seen[key] = row.Line
		recipients = append(recipients, rcpt)
	}
	return recipients, nil
}
