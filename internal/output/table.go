package output

import (
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/catalog"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatEnrichments renders enrichment results as a table.
func (f *TableFormatter) FormatEnrichments(results []*core.Enrichment) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Repo", "Status", "Stars", "Issues", "Notes"})

	for _, r := range results {
		if r == nil {
			continue
		}
		t.AppendRow(table.Row{
			r.Name,
			repoLabel(r),
			statusLabel(r),
			countLabel(r, r.Stars),
			countLabel(r, r.OpenIssues),
			formatNotes(r),
		})
	}

	if len(results) > 0 {
		t.AppendFooter(table.Row{"", "", catalog.Summary(results), "", "", ""})
	}

	return t.Render(), nil
}

// FormatEntries renders catalog entries as a table.
func (f *TableFormatter) FormatEntries(entries []core.CatalogEntry) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "Repo", "Added"})

	for _, entry := range entries {
		added := ""
		if !entry.CreatedAt.IsZero() {
			added = entry.CreatedAt.UTC().Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{entry.ID, entry.Name, entry.RepoURL, added})
	}

	return t.Render(), nil
}
