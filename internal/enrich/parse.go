package enrich

import (
	"bufio"
	"io"
	"strings"

	"github.com/ethpandaops/dtmetrics/internal/dimension"
)

// maxLineBytes bounds a single metadata line.
const maxLineBytes = 64 * 1024

// Parse reads key=value lines into a dimension list. Blank lines, comments
// and lines without a separator or with an empty key or value are skipped.
// Keys and values are normalized; keys that normalize to nothing are
// dropped. Later duplicates overwrite earlier values.
func Parse(r io.Reader) (dimension.List, error) {
	var raw []dimension.Dimension

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}

		raw = append(raw, dimension.Dimension{Key: key, Value: value})
	}

	if err := scanner.Err(); err != nil {
		return dimension.List{}, err
	}

	list, _ := dimension.Normalize(raw...)

	return list, nil
}
