package chapters

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

func loadText(fs afero.Fs, path string) ([]Entry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		stamp, label := text, ""
		if i := strings.IndexAny(text, " \t"); i >= 0 {
			stamp, label = text[:i], text[i+1:]
		}

		at, err := ParseTimestamp(stamp)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, Entry{At: at, Label: strings.TrimSpace(label)})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
