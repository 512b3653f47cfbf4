package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadcrawl/internal/app"
	"github.com/JakeFAU/leadcrawl/internal/storage/local"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the content cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired entries and shrink the cache to its size limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := appInstance.CleanupCache(cmd.Context())
			if errors.Is(err, app.ErrCleanupUnsupported) {
				fmt.Fprintln(cmd.OutOrStdout(), "cache backend", appInstance.Config().Cache.Backend, "expires entries itself; nothing to do")
				return nil
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"expired":         stats.Expired,
				"evicted":         stats.Evicted,
				"bytes_freed":     stats.BytesFreed,
				"bytes_remaining": stats.BytesRemain,
				"files_remaining": stats.FilesRemain,
			})
		},
	})
	return cmd
}

func newSnapshotCmd() *cobra.Command {
	var (
		destDir string
		prefix  string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Copy the index files to GCS (gcs.bucket) or a local directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var uris []string
			if destDir != "" {
				dst, derr := local.New(local.Config{BaseDir: destDir})
				if derr != nil {
					return fmt.Errorf("snapshot destination: %w", derr)
				}
				uris, err = appInstance.SnapshotTo(cmd.Context(), dst, prefix)
			} else {
				uris, err = appInstance.Snapshot(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, uris)
		},
	}
	cmd.Flags().StringVar(&destDir, "dest-dir", "", "write to this directory instead of GCS")
	cmd.Flags().StringVar(&prefix, "prefix", "snapshots", "object prefix under --dest-dir")
	return cmd
}
