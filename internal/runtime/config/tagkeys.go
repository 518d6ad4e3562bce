package config

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/drblury/fluxbridge/internal/runtime/jsoncodec"
)

// rawTags mirrors the measurements section of the file. Decoding it outside
// viper keeps tag keys exactly as written.
type rawTags struct {
	Measurements []struct {
		Tags map[string]any `toml:"tags" yaml:"tags" json:"tags"`
	} `toml:"measurements" yaml:"measurements" json:"measurements"`
}

// tagKeys returns the tag keys of every measurement as written in raw. It
// returns nil for formats it does not read.
func tagKeys(raw []byte, format string) ([][]string, error) {
	var doc rawTags
	var err error
	switch format {
	case "toml":
		err = toml.Unmarshal(raw, &doc)
	case "yaml", "yml":
		err = yaml.Unmarshal(raw, &doc)
	case "json":
		err = jsoncodec.Unmarshal(raw, &doc)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading measurement tags: %w", err)
	}

	keys := make([][]string, len(doc.Measurements))
	for i, m := range doc.Measurements {
		for k := range m.Tags {
			keys[i] = append(keys[i], k)
		}
	}
	return keys, nil
}

// restoreTagKeys renames the lowercased tag keys viper produced back to the
// spelling in the file. Values keep viper's decoding.
func restoreTagKeys(measurements []Measurement, keys [][]string) {
	for i := range measurements {
		if i >= len(keys) || len(measurements[i].Tags) == 0 {
			continue
		}
		tags := make(map[string]string, len(measurements[i].Tags))
		for k, v := range measurements[i].Tags {
			tags[k] = v
		}
		for _, orig := range keys[i] {
			folded := strings.ToLower(orig)
			if v, ok := measurements[i].Tags[folded]; ok && folded != orig {
				delete(tags, folded)
				tags[orig] = v
			}
		}
		measurements[i].Tags = tags
	}
}
