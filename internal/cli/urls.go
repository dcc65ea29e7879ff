package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
	"github.com/user/article-capture/internal/usecase"
)

func newAddCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>...",
		Short: "Adds article URLs to the job store as pending.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				urls := a.urlManager()
				out := cmd.OutOrStdout()
				var errs []error
				for _, raw := range args {
					slug, added, err := urls.AddURL(cmd.Context(), raw)
					switch {
					case err != nil:
						errs = append(errs, err)
					case added:
						fmt.Fprintf(out, "added %s\n", slug)
					default:
						fmt.Fprintf(out, "already tracked %s\n", slug)
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <slug>",
		Short: "Shows the status and run history of one article.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				st, err := a.urlManager().Status(cmd.Context(), args[0])
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%s is not tracked", args[0])
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				}

				fmt.Fprintf(out, "%s  %s\n", st.Slug, st.URL)
				fmt.Fprintf(out, "status: %s  retries: %d  updated: %s\n", st.Status, st.RetryCount, st.Updated.Format(time.RFC3339))
				if st.LastError != "" {
					fmt.Fprintf(out, "last error: %s\n", st.LastError)
				}
				renderRuns(newTable(out), st.Runs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table.")
	return cmd
}

func renderRuns(t table.Writer, runs []entity.RunRecord) {
	t.AppendHeader(table.Row{"Run", "Started", "Finished", "Result", "Error"})
	for _, r := range runs {
		finished, result := "", "running"
		if r.Finished != nil {
			finished = r.Finished.Format(time.RFC3339)
		}
		if r.OK != nil {
			result = "failed"
			if *r.OK {
				result = "ok"
			}
		}
		t.AppendRow(table.Row{r.RunID, r.Started.Format(time.RFC3339), finished, result, r.ErrorMsg})
	}
	t.Render()
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var (
		process bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Adds every article URL listed in a file, optionally processing them right away.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				added, total, err := importFile(cmd, a, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d URLs from %s\n", added, total, args[0])
				if !process {
					return nil
				}

				c, err := a.browserCapturer(cmd.Context())
				if err != nil {
					return err
				}
				res, err := c.ProcessPending(cmd.Context(), limit, "")
				if res != nil {
					printBatch(cmd.OutOrStdout(), "Processing completed", res)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&process, "process", false, "Process pending URLs after the import.")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "With --process, process at most this many URLs.")
	return cmd
}

func importFile(cmd *cobra.Command, a *app, path string) (added, total int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	list, err := a.extractor.ParseURLList(f)
	if err != nil {
		return 0, 0, err
	}
	return addAll(cmd, a.urlManager(), a.logger, list)
}

func addAll(cmd *cobra.Command, urls usecase.URLManager, l *zap.Logger, list []string) (added, total int, err error) {
	for _, u := range list {
		_, ok, err := urls.AddURL(cmd.Context(), u)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidURL) {
				l.Warn("skipping url", zap.String("url", u))
				continue
			}
			return added, len(list), err
		}
		if ok {
			added++
		}
	}
	return added, len(list), nil
}
