package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadcrawl/internal/index"
)

func newIndexCmd() *cobra.Command {
	var (
		tuning tuningFlags
		crawl  bool
	)
	cmd := &cobra.Command{
		Use:   "index <url>...",
		Short: "Fetch (or crawl) pages and add their text to the vector index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pages, err := appInstance.IndexURLs(cmd.Context(), args, crawl, tuning.overrides(cmd))
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			return printJSON(cmd, map[string]any{
				"pages":      pages,
				"index_rows": appInstance.IndexRows(),
			})
		},
	}
	tuning.register(cmd, true)
	cmd.Flags().BoolVar(&crawl, "crawl", false, "crawl from each URL instead of fetching it alone")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		topK   int
		domain string
		start  string
		end    string
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the vector index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := index.QueryOptions{TopK: topK, Domain: domain}
			var err error
			if start != "" {
				if opts.Start, err = index.ParseTime(start); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}
			if end != "" {
				if opts.End, err = index.ParseTime(end); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			results := appInstance.Query(strings.Join(args, " "), opts)
			if results == nil {
				results = []index.QueryResult{}
			}
			return printJSON(cmd, results)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&topK, "top-k", 5, "number of results")
	flags.StringVar(&domain, "domain", "", "only return chunks from this host")
	flags.StringVar(&start, "start", "", "earliest timestamp (ISO-8601)")
	flags.StringVar(&end, "end", "", "latest timestamp (ISO-8601)")
	return cmd
}
