package discovery

import (
	"bufio"
	"io"
	"strings"
)

var headerMarkers = []string{"All Article URLs", "Generated on:", "Total URLs:"}

// ParseURLList reads article URLs from r. Lines are either a bare URL or
// "N. <url> - <title>"; headers, blanks and non-article URLs are skipped.
// The result keeps file order without duplicates.
func (e *Extractor) ParseURLList(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || isHeader(line) {
			continue
		}
		u, ok := e.ArticleURL(urlField(line))
		if !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, sc.Err()
}

func isHeader(line string) bool {
	for _, m := range headerMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// urlField picks the URL out of a numbered "N. <url> - <title>" line.
func urlField(line string) string {
	for _, f := range strings.Fields(line) {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			return f
		}
	}
	return line
}
