package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/engine"
	"github.com/homedash/homedash/internal/observability"
	"github.com/homedash/homedash/internal/output"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the GitHub quota as seen by the executor",
	Long: `Show the primary (X-RateLimit-*) and secondary (per-minute) quota state.

Without --remote this is the executor's conservative startup view. With
--remote, GitHub's /rate_limit endpoint is queried through the executor,
which refreshes the primary quota from the response headers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, err := cmd.Flags().GetBool("remote")
		if err != nil {
			return err
		}
		format, sink, err := resolveOutput(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format for quota: %s", format)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client := newGitHubClient(cfg, newGitHubExecutor(cfg, observability.CLILogger))

		var remoteState *core.RateLimitState
		if remote {
			remoteState, err = client.RateLimit(cmd.Context())
			if err != nil {
				return err
			}
		}
		snapshot := client.Executor.Snapshot()

		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(struct {
				Engine engine.Snapshot       `json:"engine"`
				Remote *core.RateLimitState `json:"remote,omitempty"`
			}{snapshot, remoteState}, "", "  ")
			if err != nil {
				return err
			}
			return writeRendered(sink, string(payload))
		}

		_, err = fmt.Fprint(sink.writer, ascii.DrawBox(renderQuota(snapshot, remoteState), 0))
		return err
	},
}

func init() {
	quotaCmd.Flags().Bool("remote", false, "Query GitHub's /rate_limit endpoint")
	quotaCmd.Flags().StringP("output", "o", string(output.FormatTable), "Output format: table, json")
	quotaCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	rootCmd.AddCommand(quotaCmd)
}

func renderQuota(snapshot engine.Snapshot, remote *core.RateLimitState) string {
	now := snapshot.TakenAt
	lines := []string{
		"GitHub Quota",
		"",
		fmt.Sprintf("primary:   %d/%d remaining, resets %s", snapshot.Primary.Remaining, snapshot.Primary.Limit, untilLabel(snapshot.Primary.ResetAt, now)),
		fmt.Sprintf("secondary: %d/%d used, window ends %s", snapshot.Secondary.Count, core.SecondaryWindowLimit, untilLabel(snapshot.Secondary.WindowStart.Add(core.SecondaryWindowDuration), now)),
		fmt.Sprintf("queue:     %d waiting", snapshot.QueueDepth),
	}
	if snapshot.Admissible {
		lines = append(lines, "status:    ready")
	} else {
		lines = append(lines, fmt.Sprintf("status:    waiting %s (%s)", snapshot.Wait.Round(time.Millisecond), snapshot.WaitReason))
	}
	if remote != nil {
		lines = append(lines, "",
			fmt.Sprintf("github:    %d/%d remaining, %d used, resets %s", remote.Remaining, remote.Limit, remote.Used, untilLabel(remote.ResetAt, now)))
	}
	return strings.Join(lines, "\n")
}

func untilLabel(at, now time.Time) string {
	if at.IsZero() {
		return "-"
	}
	if !at.After(now) {
		return "now"
	}
	return "in " + at.Sub(now).Round(time.Second).String()
}
