// Package metadata handles the string headers that travel with a payload:
// transport attributes on the way in, and user supplied headers when the
// publish command feeds a source.
package metadata

import (
	"fmt"
	"maps"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata represents the headers carried alongside a payload.
type Metadata map[string]string

// Parse reads "key=value" pairs. Keys are trimmed and must not be empty;
// values are kept verbatim and may contain '='.
func Parse(pairs []string) (Metadata, error) {
	md := make(Metadata, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		md[key] = value
	}
	return md, nil
}

// With returns a copy containing the key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := make(Metadata, len(m)+1)
	maps.Copy(cloned, m)
	cloned[key] = value
	return cloned
}

// Apply copies the entries onto msg, overwriting existing keys.
func (m Metadata) Apply(msg *message.Message) {
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}

// FromMessage copies the metadata of msg.
func FromMessage(msg *message.Message) Metadata {
	md := make(Metadata, len(msg.Metadata))
	maps.Copy(md, msg.Metadata)
	return md
}
