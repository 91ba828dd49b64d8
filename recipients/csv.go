package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

// Row is one parsed data row keyed by column header.
type Row struct {
	Fields map[string]any
	Line   int
}

var numeric = regexp.MustCompile(`^[-+]?(\d+(\.\d*)?|\.\d+)([eE][-+]?\d+)?$`)

// Parse reads comma-delimited rows. The first record holds the column
// headers; blank lines are skipped and every value is trimmed. Numeric
// values become int64 or float64, everything else stays a string.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedRecipient, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecipient, err)
		}
		line, _ := cr.FieldPos(0)

		if blank(record) {
			continue
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d", ErrMalformedRecipient, line, len(record), len(header))
		}

		fields := make(map[string]any, len(header))
		for i, column := range header {
			fields[column] = autoType(strings.TrimSpace(record[i]))
		}
		rows = append(rows, Row{Fields: fields, Line: line})
	}
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// autoType converts numeric strings. Values with a leading zero such as
// postal codes or phone numbers are kept as strings.
func autoType(v string) any {
	if !numeric.MatchString(v) {
		return v
	}
	digits := strings.TrimLeft(v, "+-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return v
	}
	if !strings.ContainsAny(v, ".eE") {
		if i, err := cast.ToInt64E(v); err == nil {
			return i
		}
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		return f
	}
	return v
}
