// Package creds serializes a session's credentials directory into a single
// transportable string and back.
//
// The blob format is base64url(JSON) where the JSON object maps each
// filename to the base64 of its content. File contents go through base64 so
// arbitrary bytes survive JSON.
package creds

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

type Encoder struct {
	markerFile string
}

// NewEncoder returns an encoder gated on markerFile: a directory without it
// is reported as not ready rather than encoded.
func NewEncoder(markerFile string) *Encoder {
	return &Encoder{markerFile: markerFile}
}

// Encode serializes every direct regular-file child of dir. It returns
// ok=false when the marker file is absent or on any read failure; the caller
// must treat that as "not ready yet", never as fatal.
func (e *Encoder) Encode(dir string) (string, bool) {
	if _, err := os.Stat(filepath.Join(dir, e.markerFile)); err != nil {
		return "", false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("credentials directory not readable")
		return "", false
	}

	files := make(map[string]string)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("credentials file not readable")
			return "", false
		}
		files[entry.Name()] = base64.StdEncoding.EncodeToString(content)
	}

	payload, err := json.Marshal(files)
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("failed to marshal credentials map")
		return "", false
	}

	return base64.RawURLEncoding.EncodeToString(payload), true
}

// Decode reverses Encode, reproducing the filename to content mapping.
func Decode(blob string) (map[string][]byte, error) {
	payload, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}

	var encoded map[string]string
	if err := json.Unmarshal(payload, &encoded); err != nil {
		return nil, fmt.Errorf("unmarshal credentials map: %w", err)
	}

	files := make(map[string][]byte, len(encoded))
	for name, content := range encoded {
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		files[name] = raw
	}
	return files, nil
}
