package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"curator/internal/daemonctl"
	"curator/internal/ipc"
	"curator/internal/store"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and reset the curator cache database",
	}
	cacheCmd.AddCommand(newCacheInfoCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

// openOfflineStore opens the cache database directly. The daemon keeps its
// own connection and would immediately overwrite a cleared cache, so direct
// access is refused while it answers on the socket.
func openOfflineStore(ctx *commandContext) (*store.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if client, err := ipc.Dial(ctx.socketPath()); err == nil {
		_ = client.Close()
		return nil, errors.New("curator daemon is running; stop it first with: curator stop")
	}
	if _, err := os.Stat(cfg.CacheDBPath()); err != nil {
		return nil, fmt.Errorf("no cache database at %s", cfg.CacheDBPath())
	}
	return store.OpenPath(cfg.CacheDBPath())
}

func newCacheInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show cache database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openOfflineStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			health, err := st.CheckHealth(cmd.Context())
			if err != nil && health.Error == "" {
				health.Error = err.Error()
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}

			out := cmd.OutOrStdout()
			line := daemonctl.CacheHealthLine(health)
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
			fmt.Fprintf(out, "Path:    %s\n", health.Path)
			if info, statErr := os.Stat(health.Path); statErr == nil {
				fmt.Fprintf(out, "Size:    %s\n", humanize.Bytes(uint64(info.Size())))
			}
			fmt.Fprintf(out, "Files:   %s\n", humanize.Comma(int64(health.TrackedFiles)))
			fmt.Fprintf(out, "Outputs: %s\n", humanize.Comma(int64(health.LedgerEntries)))
			fmt.Fprintf(out, "Assets:  %s\n", humanize.Comma(int64(health.SnapshotAssets)))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop cached hashes, outputs and asset snapshots",
		Long: "Drop cached hashes, outputs and asset snapshots.\n\n" +
			"The next daemon start re-hashes every file and transforms every asset again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openOfflineStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", st.Path())
			return nil
		},
	}
}
