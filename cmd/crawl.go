package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var (
		tuning   tuningFlags
		withHTML bool
	)
	cmd := &cobra.Command{
		Use:   "crawl <seed>",
		Short: "Crawl a site from a seed URL",
		Long: `Crawls breadth-first from the seed within the allowed domains, honoring
robots.txt and the configured page budget, and prints a JSON object of
url -> HTML size (or the HTML itself with --html).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Crawl(cmd.Context(), args[0], tuning.overrides(cmd))
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			appInstance.Logger().Info("crawl command finished",
				zap.String("session_id", res.SessionID),
				zap.Int("pages", len(res.Order)),
			)
			if withHTML {
				return printJSON(cmd, res.Pages)
			}
			return printJSON(cmd, pageSizes(res.Pages))
		},
	}
	tuning.register(cmd, true)
	cmd.Flags().BoolVar(&withHTML, "html", false, "print full HTML instead of sizes")
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		tuning   tuningFlags
		withHTML bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch URLs without following links",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pages := appInstance.Fetch(cmd.Context(), args, tuning.overrides(cmd))
			if withHTML {
				return printJSON(cmd, pages)
			}
			return printJSON(cmd, pageSizes(pages))
		},
	}
	tuning.register(cmd, false)
	cmd.Flags().BoolVar(&withHTML, "html", false, "print full HTML instead of sizes")
	return cmd
}
