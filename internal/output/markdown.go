package output

import (
	"fmt"
	"strings"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/catalog"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatEnrichments renders enrichment results as Markdown.
func (f *MarkdownFormatter) FormatEnrichments(results []*core.Enrichment) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Catalog enrichment\n\n")
	sb.WriteString("| Name | Repo | Status | Stars | Issues | Notes |\n")
	sb.WriteString("|------|------|--------|-------|--------|-------|\n")

	for _, r := range results {
		if r == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(r.Name),
			escapeMarkdownCell(repoLabel(r)),
			escapeMarkdownCell(statusLabel(r)),
			countLabel(r, r.Stars),
			countLabel(r, r.OpenIssues),
			escapeMarkdownCell(formatNotes(r)),
		))
	}

	if len(results) > 0 {
		sb.WriteString(fmt.Sprintf("\n**Summary**: %s\n", catalog.Summary(results)))
	}
	return sb.String(), nil
}

// FormatEntries renders catalog entries as Markdown.
func (f *MarkdownFormatter) FormatEntries(entries []core.CatalogEntry) (string, error) {
	var sb strings.Builder
	sb.WriteString("| ID | Name | Repo |\n")
	sb.WriteString("|----|------|------|\n")
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
			escapeMarkdownCell(entry.ID),
			escapeMarkdownCell(entry.Name),
			escapeMarkdownCell(entry.RepoURL),
		))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}
