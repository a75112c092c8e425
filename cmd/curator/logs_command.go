package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/ipc"
	"curator/internal/logging"
	"curator/internal/logs"
	"curator/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var filters logstream.Filters

	cmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"show"},
		Short:   "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			apiClient, err := logs.NewStreamClient(cfg.API.Bind)
			if err != nil {
				return err
			}

			var tail logstream.TailClient
			if client, dialErr := ipc.Dial(ctx.socketPath()); dialErr == nil {
				defer client.Close()
				tail = client
			}

			stdout := cmd.OutOrStdout()
			printed, err := logstream.Stream(cmd.Context(), apiClient, tail,
				logstream.Options{Lines: lines, Follow: follow, Filters: filters},
				func(evt logging.LogEvent) { fmt.Fprintln(stdout, formatLogEvent(evt)) },
				func(line string) { fmt.Fprintln(stdout, line) },
			)
			if errors.Is(err, logs.ErrAPIUnavailable) && tail == nil {
				return wrapDialError(err, ctx.socketPath())
			}
			if err != nil {
				return err
			}
			if !printed && !follow {
				fmt.Fprintln(stdout, "No log entries available")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to show (0 for all new lines)")
	cmd.Flags().StringVar(&filters.AssetID, "asset", "", "Only show events for this asset id")
	cmd.Flags().StringVar(&filters.Component, "component", "", "Only show events from this component")
	cmd.Flags().StringVar(&filters.Level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

func formatLogEvent(evt logging.LogEvent) string {
	level := strings.ToUpper(strings.TrimSpace(evt.Level))
	if level == "" {
		level = "INFO"
	}
	parts := []string{evt.Timestamp.Local().Format("2006-01-02 15:04:05"), fmt.Sprintf("%-5s", level)}
	if component := strings.TrimSpace(evt.Component); component != "" {
		parts = append(parts, "["+component+"]")
	}
	if evt.Slot > 0 {
		parts = append(parts, fmt.Sprintf("slot=%d", evt.Slot))
	}
	if evt.Path != "" {
		parts = append(parts, evt.Path)
	}
	line := strings.Join(parts, " ")
	if msg := strings.TrimSpace(evt.Message); msg != "" {
		line += " - " + msg
	}
	if len(evt.Fields) == 0 {
		return line
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(line)
	for _, key := range keys {
		fmt.Fprintf(&b, "\n    %s: %s", key, evt.Fields[key])
	}
	return b.String()
}
