package config

import (
	"os"
	"strings"

	"github.com/spf13/cast"
)

// Bool reads a boolean switch from the environment. Anything cast accepts
// as a boolean counts ("1", "t", "TRUE"); unset or unparsable values give
// def.
func Bool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		return def
	}
	return v
}
