package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/article-capture/internal/discovery"
	"github.com/user/article-capture/pkg/logger"
)

const previewCount = 5

func newAuthCommand(opts *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Verifies the stored session, or logs in again with --refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				b, err := a.openBrowser(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if refresh {
					if err := b.RefreshAuth(cmd.Context()); err != nil {
						return fmt.Errorf("refresh authentication: %w", err)
					}
					fmt.Fprintln(out, "Authentication refreshed.")
					return nil
				}

				page, err := b.NewPage(cmd.Context())
				if err != nil {
					return err
				}
				defer page.Close()
				ok, err := b.VerifyAuth(cmd.Context(), page)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("authentication is invalid or expired; run auth --refresh")
				}
				fmt.Fprintln(out, "Authentication is valid.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Log in with the stored credentials and save the new session.")
	return cmd
}

func newSearchExtractCommand(opts *rootOptions) *cobra.Command {
	var (
		searchURL string
		output    string
		doImport  bool
	)
	cmd := &cobra.Command{
		Use:   "search-extract",
		Short: "Collects every article URL from the search results page into a URL list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				if searchURL == "" {
					searchURL = a.cfg.SearchURL
				}
				b, err := a.openBrowser(cmd.Context())
				if err != nil {
					return err
				}
				page, err := b.NewPage(cmd.Context())
				if err != nil {
					return err
				}
				defer page.Close()

				l := logger.Component(a.logger, "search")
				s := discovery.NewSearchExtractor(discovery.DefaultSearchConfig(), a.extractor, l)
				urls, err := s.ExtractFromSearch(cmd.Context(), page, searchURL)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if err := writeURLList(output, out, urls); err != nil {
					return err
				}
				if output != "-" {
					fmt.Fprintf(out, "Extracted %d article URLs into %s\n", len(urls), output)
					printPreview(out, urls)
				}

				if doImport {
					added, total, err := addAll(cmd, a.urlManager(), l, urls)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Imported %d of %d URLs\n", added, total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&searchURL, "url", "u", "", "Search URL; defaults to the configured search_url.")
	cmd.Flags().StringVarP(&output, "output", "o", "article-urls.md", "URL list file, or - for stdout.")
	cmd.Flags().BoolVar(&doImport, "import", false, "Also add the URLs to the job store.")
	return cmd
}

func writeURLList(path string, stdout io.Writer, urls []string) error {
	if path == "-" {
		return discovery.WriteURLList(stdout, urls)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := discovery.WriteURLList(f, urls); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printPreview(w io.Writer, urls []string) {
	if len(urls) == 0 {
		return
	}
	fmt.Fprintf(w, "First %d URLs:\n", min(previewCount, len(urls)))
	for _, u := range urls[:min(previewCount, len(urls))] {
		fmt.Fprintf(w, "  %s\n", u)
	}
	if len(urls) > previewCount {
		fmt.Fprintf(w, "  ... and %d more\n", len(urls)-previewCount)
	}
}
