package recipients

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"listmailer/message"
)

// ReadMetadata reads the list metadata file. Files ending in .json are
// decoded as JSON, anything else as YAML. Key case is preserved so every
// extra key reaches templates under its own name.
func ReadMetadata(path string) (message.ListMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return message.ListMetadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	raw := make(map[string]any)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err = dec.Decode(&raw); err == nil && dec.More() {
			err = errors.New("unexpected data after the metadata object")
		}
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return message.ListMetadata{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidMetadata, filepath.Base(path), err)
	}
	return DecodeMetadata(raw)
}

// DecodeMetadata maps a decoded metadata object onto ListMetadata. It does
// not check required keys; Load does.
func DecodeMetadata(raw map[string]any) (message.ListMetadata, error) {
	var meta message.ListMetadata
	var err error

	if meta.From, err = stringKey(raw, "from"); err != nil {
		return meta, err
	}
	if meta.Subject, err = stringKey(raw, "subject"); err != nil {
		return meta, err
	}
	if meta.Name, err = stringKey(raw, "name"); err != nil {
		return meta, err
	}

	if v, ok := raw["attachments"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return meta, fmt.Errorf("%w: attachments must be a list of file names", ErrInvalidMetadata)
		}
		for _, item := range list {
			name, err := cast.ToStringE(item)
			if err != nil || strings.TrimSpace(name) == "" {
				return meta, fmt.Errorf("%w: attachments must be a list of file names", ErrInvalidMetadata)
			}
			meta.Attachments = append(meta.Attachments, name)
		}
	}

	for k, v := range raw {
		switch k {
		case "from", "subject", "name", "attachments":
			continue
		}
		if meta.Extra == nil {
			meta.Extra = make(map[string]any)
		}
		meta.Extra[k] = v
	}
	return meta, nil
}

func stringKey(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidMetadata, key)
	}
	return strings.TrimSpace(s), nil
}
