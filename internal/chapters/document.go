package chapters

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// document is the YAML (and JSON, which yaml.v3 reads as flow YAML) form.
type document struct {
	Cues []struct {
		At   timestamp `yaml:"at"`
		Name string    `yaml:"name"`
	} `yaml:"cues"`
}

type timestamp time.Duration

func (t *timestamp) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrBadTimestamp, value.Line)
	}
	d, err := ParseTimestamp(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = timestamp(d)
	return nil
}

func loadDocument(fs afero.Fs, path string) ([]Entry, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(doc.Cues))
	for _, c := range doc.Cues {
		entries = append(entries, Entry{At: time.Duration(c.At), Label: c.Name})
	}
	return entries, nil
}
