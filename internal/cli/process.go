package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/user/article-capture/internal/discovery"
	"github.com/user/article-capture/internal/entity"
)

func newDiscoverCommand(opts *rootOptions) *cobra.Command {
	var (
		startURLs []string
		maxPages  int
		refresh   bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Crawls the listing pages and stores every new article URL as pending.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				if len(startURLs) == 0 {
					startURLs = discovery.DefaultStartURLs(a.cfg.BaseURL)
				}
				d := a.discoverer(maxPages)
				if refresh {
					if err := d.Forget(cmd.Context(), startURLs); err != nil {
						return err
					}
				}

				found, err := a.capturer(nil, d).Discover(cmd.Context(), startURLs)
				fmt.Fprintf(cmd.OutOrStdout(), "Discovery completed: %d new URLs\n", len(found))
				return err
			})
		},
	}
	cmd.Flags().StringSliceVarP(&startURLs, "url", "u", nil, "Start URL (repeatable); defaults to the article, knowledge and library listings.")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop after this many fetched pages (0 means no limit).")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Refetch start pages another process already marked as visited.")
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Captures screenshots for pending URLs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				c, err := a.browserCapturer(cmd.Context())
				if err != nil {
					return err
				}
				res, err := c.ProcessPending(cmd.Context(), limit, runID)
				if res != nil {
					printBatch(cmd.OutOrStdout(), "Processing completed", res)
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Process at most this many URLs (0 means all pending).")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID to record; a new UUID when empty.")
	return cmd
}

func newRetryFailedCommand(opts *rootOptions) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Resets failed URLs under the retry limit to pending and processes them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				c, err := a.browserCapturer(cmd.Context())
				if err != nil {
					return err
				}
				res, err := c.RetryFailed(cmd.Context(), runID)
				if res != nil {
					printBatch(cmd.OutOrStdout(), "Retry completed", res)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID to record; a new UUID when empty.")
	return cmd
}

func printBatch(w io.Writer, title string, res *entity.BatchResult) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Processed:  %d\n", res.Processed)
	fmt.Fprintf(w, "  Successful: %d\n", res.Successful)
	fmt.Fprintf(w, "  Failed:     %d\n", res.Failed)
	if res.Skipped > 0 {
		fmt.Fprintf(w, "  Skipped:    %d\n", res.Skipped)
	}
	fmt.Fprintf(w, "  Run ID:     %s\n", res.RunID)
}
