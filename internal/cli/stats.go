package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/user/article-capture/internal/entity"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Shows URL counts per status plus run and image totals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				stats, err := a.capturer(nil, nil).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if output != "" {
					if err := writeJSONFile(output, stats); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Statistics saved to %s\n", output)
					return nil
				}
				renderStats(newTable(cmd.OutOrStdout()), stats)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the statistics as JSON to this file.")
	return cmd
}

func renderStats(t table.Writer, stats *entity.Stats) {
	t.AppendHeader(table.Row{"Status", "URLs"})
	for _, st := range entity.AllStatuses {
		t.AppendRow(table.Row{st, stats.Count(st)})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"total urls", stats.TotalURLs})
	t.AppendRow(table.Row{"total runs", stats.TotalRuns})
	t.AppendRow(table.Row{"total images", stats.TotalImages})
	t.Render()
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Deletes every tracked URL, run and image record and the captured files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "This will delete all captured images and reset the database. Are you sure?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Operation cancelled.")
				return nil
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				if err := a.store.Purge(cmd.Context()); err != nil {
					return err
				}
				if err := os.RemoveAll(a.cfg.OutputDir); err != nil {
					return fmt.Errorf("remove %s: %w", a.cfg.OutputDir, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Purge completed.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt.")
	return cmd
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *opts.cfg
			if cfg.RedisPassword != "" {
				cfg.RedisPassword = "***"
			}
			if cfg.PostgresURL != "" {
				cfg.PostgresURL = redactURL(cfg.PostgresURL)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
