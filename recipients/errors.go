package recipients

import "errors"

var (
	// ErrMalformedRecipient indicates a recipient row is unusable. It aborts
	// the whole load: sending to a partial list would silently drop people.
	ErrMalformedRecipient = errors.New("malformed recipient")

	// ErrInvalidMetadata indicates the list metadata is missing a required key.
	ErrInvalidMetadata = errors.New("invalid list metadata")
)
