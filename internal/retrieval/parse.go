package retrieval

import (
	"fmt"
	"strings"
)

// parseNumberedLines extracts up to n "N. query text" or "N) query text"
// lines from an LLM's multi-query-expansion response, matching the
// original's _generate_multi_queries line parsing.
func parseNumberedLines(text string, n int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for i := 1; i <= n; i++ {
			dot := fmt.Sprintf("%d.", i)
			paren := fmt.Sprintf("%d)", i)
			if strings.HasPrefix(line, dot) || strings.HasPrefix(line, paren) {
				trimmed := strings.TrimLeft(line, "0123456789.) ")
				if trimmed != "" {
					out = append(out, trimmed)
				}
				break
			}
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}
