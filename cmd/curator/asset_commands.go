package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"curator/internal/api"
	"curator/internal/ipc"
)

func newAssetCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAssetsListCommand(ctx),
		newAssetShowCommand(ctx),
		newUsesCommand(ctx),
		newStatsCommand(ctx),
		newScanCommand(ctx),
		newRetryCommand(ctx),
		newTransformCommand(ctx),
		newPlatformCommand(ctx),
		newSaveCommand(ctx),
	}
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var assetType string
	var search string
	cmd := &cobra.Command{
		Use:     "assets",
		Aliases: []string{"ls"},
		Short:   "List registered assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AssetList(ipc.AssetListRequest{States: states, Type: assetType, Search: search})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Assets)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Assets) == 0 {
					fmt.Fprintln(stdout, "No assets match")
					return nil
				}
				fmt.Fprint(stdout, renderAssetTable(resp.Assets, shouldColorize(stdout)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&states, "state", "s", nil, "Only show assets in these states (repeatable)")
	cmd.Flags().StringVarP(&assetType, "type", "t", "", "Only show assets of this type")
	cmd.Flags().StringVar(&search, "search", "", "Only show assets whose path contains this text")
	return cmd
}

func renderAssetTable(assets []api.AssetView, colorize bool) string {
	rows := make([][]string, 0, len(assets))
	for _, view := range assets {
		state := colorState(view.State, colorize)
		if view.Updating {
			state += " *"
		}
		rows = append(rows, []string{
			shortID(view.ID),
			view.Path,
			view.Type,
			state,
			relativeTime(view.LastAccess),
		})
	}
	return renderTable(
		[]string{"ID", "Path", "Type", "State", "Accessed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newAssetShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "asset <id|path>",
		Short: "Show details for one asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AssetDescribe(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Asset)
				}
				stdout := cmd.OutOrStdout()
				writeAssetDetail(stdout, resp.Asset, shouldColorize(stdout))
				return nil
			})
		},
	}
}

func writeAssetDetail(out io.Writer, view api.AssetView, colorize bool) {
	field := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(out, "%-14s %s\n", label+":", value)
	}
	list := func(label string, values []string) {
		if len(values) == 0 {
			return
		}
		fmt.Fprintf(out, "%s:\n", label)
		for _, v := range values {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}

	field("ID", view.ID)
	field("Path", view.Path)
	field("Absolute", view.AbsolutePath)
	field("Type", view.Type)
	state := colorState(view.State, colorize)
	if view.Updating {
		state += " (transforming)"
	}
	field("State", state)
	field("File", view.Existence)
	field("Asset hash", view.AssetHash)
	field("Thumb hash", view.ThumbHash)
	field("Accessed", relativeTime(view.LastAccess))
	if view.ImportPending {
		field("Import", "pending")
	}
	field("Parse error", view.ParseError)
	list("Dependencies", view.Dependencies)
	list("References", view.References)
	list("Missing dependencies", view.MissingDependencies)
	list("Missing references", view.MissingReferences)
	if len(view.Log) > 0 {
		fmt.Fprintln(out, "Last transform log:")
		for _, entry := range view.Log {
			fmt.Fprintf(out, "  [%s] %s\n", strings.ToUpper(entry.Level), entry.Message)
		}
	}
}

func newUsesCommand(ctx *commandContext) *cobra.Command {
	var transitive bool
	cmd := &cobra.Command{
		Use:   "uses <id|path>",
		Short: "List assets that depend on or reference an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AssetUses(args[0], transitive)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Users) == 0 {
					fmt.Fprintf(stdout, "Nothing uses %s\n", resp.Asset.Path)
					return nil
				}
				fmt.Fprint(stdout, renderAssetTable(resp.Users, shouldColorize(stdout)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&transitive, "transitive", "r", false, "Follow users of users")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show asset counts per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stats()
				if err != nil {
					return err
				}
				return printStats(cmd, ctx, resp.Stats)
			})
		},
	}
}

func printStats(cmd *cobra.Command, ctx *commandContext, stats api.Stats) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, stats)
	}
	stdout := cmd.OutOrStdout()
	rows := stateRows(stats)
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "No assets registered")
		return nil
	}
	rows = append(rows, []string{"total", humanize.Comma(int64(stats.Total))})
	fmt.Fprint(stdout, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Rescan the data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Scan()
				if err != nil {
					return err
				}
				return printStats(cmd, ctx, resp.Stats)
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "retry [id|path]",
		Short: "Clear a transform error so the asset is attempted again",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if failed == (len(args) == 1) {
				return errors.New("pass either an asset or --failed")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				if failed {
					resp, err := client.RetryFailed()
					if err != nil {
						return err
					}
					fmt.Fprintf(stdout, "Retrying %d failed asset(s)\n", resp.Count)
					return nil
				}
				resp, err := client.Retry(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Retrying %s\n", resp.Asset.Path)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "Retry every asset in transform_error")
	return cmd
}

func newTransformCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "transform [id|path]",
		Short: "Request a transform, including manual-only asset types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either an asset or --all")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				if all {
					resp, err := client.TransformAll()
					if err != nil {
						return err
					}
					fmt.Fprintf(stdout, "Requested %d asset(s)\n", resp.Count)
					return nil
				}
				resp, err := client.Transform(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Requested %s (%s)\n", resp.Asset.Path, resp.Asset.State)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Request every asset")
	return cmd
}

func newPlatformCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "platform [name]",
		Short: "Show or switch the active target platform",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				if len(args) == 0 {
					resp, err := client.Status()
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout, resp.Status.Platform)
					return nil
				}
				resp, err := client.SetPlatform(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Active platform: %s\n", resp.Platform)
				return nil
			})
		},
	}
}

func newSaveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Persist the daemon caches now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.SaveCaches(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Caches saved")
				return nil
			})
		},
	}
}
