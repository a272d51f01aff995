package output

import (
	"encoding/json"

	"github.com/homedash/homedash/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatEnrichments renders enrichment results as a JSON array.
func (f *JSONFormatter) FormatEnrichments(results []*core.Enrichment) (string, error) {
	if results == nil {
		results = []*core.Enrichment{}
	}
	return f.marshal(results)
}

// FormatEntries renders catalog entries as a JSON array.
func (f *JSONFormatter) FormatEntries(entries []core.CatalogEntry) (string, error) {
	if entries == nil {
		entries = []core.CatalogEntry{}
	}
	return f.marshal(entries)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
