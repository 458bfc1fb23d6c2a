// Package chapters loads cue sheets: the ordered list of cue points a
// session tracks, with optional labels.
//
// Three sources are understood, picked by file extension:
//
//   - .opus and .ogg files carrying chapter comments in their OpusTags
//     header (CHAPTER001=00:01:02.500, CHAPTER001NAME=Intro)
//   - .yaml, .yml and .json documents of the form {cues: [{at, name}]}
//   - anything else as plain text, one "TIMESTAMP [label]" per line
package chapters

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrNoCues       = errors.New("no cue points found")
	ErrBadTimestamp = errors.New("invalid timestamp")
)

type Entry struct {
	At    time.Duration
	Label string
}

type Sheet struct {
	Entries []Entry
}

// Points returns the entry times in order.
func (s Sheet) Points() []time.Duration {
	out := make([]time.Duration, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.At
	}
	return out
}

// Label returns the label of entry i, or "" when out of range.
func (s Sheet) Label(i int) string {
	if i < 0 || i >= len(s.Entries) {
		return ""
	}
	return s.Entries[i].Label
}

// Load reads the cue sheet at path from fs.
func Load(fs afero.Fs, path string) (Sheet, error) {
	var (
		entries []Entry
		err     error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".opus", ".ogg":
		entries, err = loadOpus(fs, path)
	case ".yaml", ".yml", ".json":
		entries, err = loadDocument(fs, path)
	default:
		entries, err = loadText(fs, path)
	}
	if err != nil {
		return Sheet{}, fmt.Errorf("load %s: %w", path, err)
	}
	if len(entries) == 0 {
		return Sheet{}, fmt.Errorf("load %s: %w", path, ErrNoCues)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At < entries[j].At })
	return Sheet{Entries: entries}, nil
}
