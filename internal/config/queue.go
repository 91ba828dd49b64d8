package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Concurrency returns the default fan-out bound for concurrent sends.
// Defaults to four sends per logical CPU when unset or invalid.
func Concurrency() int {
	value := strings.TrimSpace(os.Getenv("LISTMAILER_CONCURRENCY"))
	if value == "" {
		return defaultConcurrency()
	}
	workers, err := strconv.Atoi(value)
	if err != nil || workers < 1 {
		return defaultConcurrency()
	}
	return workers
}

func defaultConcurrency() int {
	return runtime.NumCPU() * 4
}
