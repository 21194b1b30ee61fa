package turn

import (
	"strings"

	"github.com/Keyring-Network/keyring-chat/internal/search"
)

// ExtractSources flattens tool outputs into the ordered list of distinct,
// non-empty URLs. It returns nil when there are none.
func ExtractSources(outputs [][]search.Document) []string {
	var sources []string
	seen := map[string]struct{}{}
	for _, docs := range outputs {
		for _, doc := range docs {
			url := strings.TrimSpace(doc.URL)
			if url == "" {
				continue
			}
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}
			sources = append(sources, url)
		}
	}
	return sources
}
