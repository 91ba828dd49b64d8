// Package storage persists rendered messages from dry runs.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrStorageConfig indicates an unusable output destination.
var ErrStorageConfig = errors.New("storage: invalid configuration")

// Writer stores one rendered message under name and returns where it went.
type Writer interface {
	Write(ctx context.Context, name string, body []byte) (string, error)
}

// FileName returns the output name for a recipient's rendered message,
// out_<email>.html. Addresses that are unsafe as a path component are
// replaced by a hash of the address.
func FileName(recipient string) string {
	safe, err := sanitizeComponent(recipient)
	if err != nil {
		safe = hashRecipient(recipient)
	}
	return "out_" + safe + ".html"
}

// Open returns the Writer for an output target. An empty target writes into
// workDir, "s3://bucket/prefix" uploads to S3, anything else is a directory.
func Open(ctx context.Context, target, workDir string) (Writer, error) {
	switch {
	case target == "":
		return NewDirWriter(workDir)
	case strings.HasPrefix(target, "s3://"):
		return NewS3Writer(ctx, target, S3OptionsFromEnv())
	default:
		if err := os.MkdirAll(target, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrStorageConfig, target, err)
		}
		return NewDirWriter(target)
	}
}

// DirWriter writes files into a local directory.
type DirWriter struct {
	dir string
}

// NewDirWriter returns a DirWriter for an existing directory.
func NewDirWriter(dir string) (*DirWriter, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageConfig, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrStorageConfig, dir)
	}
	return &DirWriter{dir: dir}, nil
}

// Write replaces dir/name with body.
func (w *DirWriter) Write(_ context.Context, name string, body []byte) (string, error) {
	safe, err := sanitizeComponent(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.dir, safe)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeComponent(v string) (string, error) {
	if strings.ContainsAny(v, "/\\") || strings.Contains(v, "..") {
		return "", errors.New("invalid identifier")
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return "", errors.New("invalid identifier")
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("empty identifier")
	}
	return v, nil
}

func hashRecipient(addr string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(addr))))
	return hex.EncodeToString(sum[:8])
}
