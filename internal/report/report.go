// Package report compiles collected survey answers into a Markdown document.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"feedbot/internal/domain"

	"github.com/google/uuid"
)

// Compile renders the answers document for question. Only entries with at
// least one answer appear; customers and respondents are sorted, answers
// keep arrival order.
func Compile(question string, entries []domain.CustomerEntry) string {
	byCustomer := make(map[string][]domain.CustomerEntry)
	for _, e := range entries {
		if len(e.Answers) == 0 {
			continue
		}
		byCustomer[e.CustomerName] = append(byCustomer[e.CustomerName], e)
	}

	customers := make([]string, 0, len(byCustomer))
	for name := range byCustomer {
		customers = append(customers, name)
	}
	sort.Strings(customers)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", oneLine(question))

	for _, name := range customers {
		respondents := byCustomer[name]
		sort.Slice(respondents, func(i, j int) bool { return respondents[i].Email < respondents[j].Email })

		fmt.Fprintf(&b, "\n## %s\n", oneLine(name))
		for _, e := range respondents {
			fmt.Fprintf(&b, "\n### %s\n\n", e.Email)
			for i, answer := range e.Answers {
				fmt.Fprintf(&b, "%d. %s\n", i+1, indentContinuation(answer))
			}
		}
	}
	return b.String()
}

// CountRespondents returns how many entries carry at least one answer
func CountRespondents(entries []domain.CustomerEntry) int {
	n := 0
	for _, e := range entries {
		if len(e.Answers) > 0 {
			n++
		}
	}
	return n
}

// WriteTemp writes content to a fresh answers-<uuid>.md file in dir (the
// system temp dir when empty). The caller removes the file.
func WriteTemp(dir, content string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("answers-%s.md", uuid.NewString()))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write answers document: %w", err)
	}
	return path, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// indentContinuation keeps multi-line answers inside their list item
func indentContinuation(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n   ")
}
