package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/homedash/homedash/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders catalog data.
type Formatter interface {
	FormatEnrichments(results []*core.Enrichment) (string, error)
	FormatEntries(entries []core.CatalogEntry) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func repoLabel(result *core.Enrichment) string {
	if result.Owner != "" && result.Repo != "" {
		return result.Owner + "/" + result.Repo
	}
	return "-"
}

func statusLabel(result *core.Enrichment) string {
	switch result.Status {
	case core.EnrichmentOK:
		if result.Archived {
			return "ok (archived)"
		}
		return "ok"
	case core.EnrichmentNotFound:
		return "not found"
	case core.EnrichmentInvalid:
		return "invalid"
	default:
		if result.StatusCode > 0 {
			return fmt.Sprintf("error (%d)", result.StatusCode)
		}
		return "error"
	}
}

func formatNotes(result *core.Enrichment) string {
	if result.Status != core.EnrichmentOK {
		return result.Message
	}

	notes := make([]string, 0, 3)
	if result.LatestRelease != "" {
		notes = append(notes, "release "+result.LatestRelease)
	}
	if result.PushedAt != nil {
		notes = append(notes, "pushed "+result.PushedAt.UTC().Format(time.DateOnly))
	}
	if len(result.Topics) > 0 {
		notes = append(notes, strings.Join(result.Topics, ","))
	}
	return strings.Join(notes, "; ")
}

func countLabel(result *core.Enrichment, value int) string {
	if result.Status != core.EnrichmentOK {
		return "-"
	}
	return fmt.Sprintf("%d", value)
}
