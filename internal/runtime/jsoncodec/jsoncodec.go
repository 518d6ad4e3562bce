// Package jsoncodec is the single JSON entry point of the bridge. It runs on
// sonic with encoding/json compatible semantics, so numbers decode as float64.
package jsoncodec

import (
	"bytes"
	"errors"
	"io"

	"github.com/bytedance/sonic"
)

// ErrEmptyDocument is returned by ParseDocument for blank payloads.
var ErrEmptyDocument = errors.New("empty JSON document")

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// ParseDocument decodes one JSON document into generic Go values
// (map[string]any, []any, float64, string, bool, nil).
func ParseDocument(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}
	var doc any
	if err := defaultConfig.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
