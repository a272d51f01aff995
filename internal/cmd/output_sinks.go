package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/homedash/homedash/internal/output"
)

type outputSink struct {
	writer io.Writer
	close  func() error
}

// addOutputFlags registers --output and --out on a listing command.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", string(output.FormatTable), "Output format: table, json, markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
}

func resolveOutput(cmd *cobra.Command) (output.Format, *outputSink, error) {
	value, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", nil, err
	}
	format, err := output.ParseFormat(value)
	if err != nil {
		return "", nil, err
	}
	path, err := cmd.Flags().GetString("out")
	if err != nil {
		return "", nil, err
	}
	sink, err := openSink(path, cmd.OutOrStdout())
	if err != nil {
		return "", nil, err
	}
	return format, sink, nil
}

func openSink(path string, stdout io.Writer) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return &outputSink{writer: stdout, close: func() error { return nil }}, nil
	}

	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(trimmed) // #nosec G304 -- operator-chosen output path
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close}, nil
}

func writeRendered(sink *outputSink, rendered string) error {
	if strings.TrimSpace(rendered) == "" {
		return nil
	}
	_, err := fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
	return err
}
