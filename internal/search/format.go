package search

import (
	"fmt"
	"strings"

	"github.com/kagibridge/kagi-search-mcp-server/internal/scrape"
)

// Format renders the per-query result rows into the response text. Results
// are numbered continuously across queries starting at 1, so a caller can
// refer to a result by its number without ambiguity. A query with no rows
// still gets its header block. Formatting needs to suit both LLM and human
// parsing.
func Format(queries []string, rowsPerQuery [][]scrape.Result) string {
	blocks := make([]string, 0, len(queries))
	number := 1

	for i, query := range queries {
		var entries []string
		if i < len(rowsPerQuery) {
			for _, row := range rowsPerQuery[i] {
				published := row.Published
				if published == "" {
					published = "Not Available"
				}
				entries = append(entries, fmt.Sprintf("%d: %s\n%s\nPublished Date: %s\n%s",
					number, row.Title, row.URL, published, row.Snippet))
				number++
			}
		}

		block := fmt.Sprintf("-----\nResults for search query \"%s\":\n-----\n%s",
			query, strings.Join(entries, "\n\n"))
		blocks = append(blocks, block)
	}

	return strings.Join(blocks, "\n\n")
}
