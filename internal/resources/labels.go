package resources

import (
	"errors"
	"strings"
)

var ErrNoLabels = errors.New("label text has no entries")

// ParseLabels splits text into one label per line, dropping empty lines.
// A label's position is its class index.
func ParseLabels(text string) ([]string, error) {
	lines := strings.Split(text, "\n")
	labels := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	return labels, nil
}
