package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"curator/internal/api"
	"curator/internal/daemonctl"
	"curator/internal/ipc"
	"curator/internal/worker"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStartCommand(ctx),
		newStopCommand(ctx),
		newRestartCommand(ctx),
		newStatusCommand(ctx),
	}
}

const launchTimeout = 10 * time.Second

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the curator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), launchTimeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.Launched {
				fmt.Fprintln(out, "Daemon not running, launching...")
			}
			fmt.Fprintln(out, startMessage(result))
			return nil
		},
	}
}

func startMessage(result daemonctl.StartResult) string {
	switch result.State {
	case daemonctl.StartStateStarted:
		return "Daemon started"
	case daemonctl.StartStateAlreadyRunning:
		return "Daemon already running"
	}
	if msg := strings.TrimSpace(result.Message); msg != "" {
		return msg
	}
	return "Start request sent"
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var pause bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Drain the worker pool and stop the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if pause {
				return ctx.withClient(func(client *ipc.Client) error {
					if resp, err := client.Stop(false); err != nil || !resp.Stopped {
						return err
					}
					fmt.Fprintln(out, "Processing paused; the daemon keeps serving requests")
					return nil
				})
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(cfg, shutdownGrace(cfg.Workers.DrainTimeout))
			switch {
			case errors.Is(err, daemonctl.ErrDaemonNotRunning):
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			case err != nil:
				return err
			}
			reportStop(out, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pause, "pause", false, "Stop processing but keep the daemon running")
	return cmd
}

func reportStop(out io.Writer, result daemonctl.StopResult) {
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(out, "Daemon did not exit in time; killed pid %d\n", result.PID)
	}
	fmt.Fprintln(out, "Daemon stopped")
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the curator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			grace := shutdownGrace(cfg.Workers.DrainTimeout)
			result, err := daemonctl.Restart(cfg, exe, daemonLaunchOptions(ctx), grace, launchTimeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.WasRunning {
				reportStop(out, result.Stop)
			}
			fmt.Fprintln(out, "Daemon restarted")
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker pool and asset status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, snapshot)
			}
			out := cmd.OutOrStdout()
			renderStatus(&statusPrinter{out: out, colorize: shouldColorize(out)}, snapshot)
			return nil
		},
	}
}

// statusPrinter writes the sectioned status report.
type statusPrinter struct {
	out      io.Writer
	colorize bool
	sections int
}

func (p *statusPrinter) section(title string) {
	if p.sections > 0 {
		fmt.Fprintln(p.out)
	}
	p.sections++
	fmt.Fprintln(p.out, strings.Join(renderSectionHeader(title, p.colorize), "\n"))
}

func (p *statusPrinter) line(label string, kind statusKind, detail string) {
	fmt.Fprintln(p.out, renderStatusLine(label, kind, detail, p.colorize))
}

func (p *statusPrinter) lines(lines []api.StatusLine) {
	for _, l := range lines {
		p.line(l.Label, statusKindFromSeverity(l.Severity), l.Detail)
	}
}

func renderStatus(p *statusPrinter, snapshot *daemonctl.StatusSnapshot) {
	status := snapshot.Daemon

	p.section("System Status")
	p.lines(snapshot.SystemChecks)
	if snapshot.Reachable {
		p.line("PID", statusInfo, strconv.Itoa(status.PID))
	}
	p.line("Platform", statusInfo, status.Platform)
	p.line("Full transform", statusInfo, relativeTime(status.LastFullTransform))

	p.section("Dependencies")
	for _, l := range dependencyLines(status.Dependencies, snapshot.DependencySummary, p.colorize) {
		fmt.Fprintln(p.out, l)
	}

	p.section("Directories")
	p.lines(snapshot.DataDirs)

	if pool := status.Pool; len(pool.Slots) > 0 {
		p.section("Worker Slots")
		rows := make([][]string, len(pool.Slots))
		for i, slot := range pool.Slots {
			rows[i] = slotRow(slot)
		}
		fmt.Fprint(p.out, renderTable(
			[]string{"Slot", "State", "PID", "Asset", "Since", "Done", "Restarts"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight},
		))
		if pool.DroppedLogs > 0 {
			p.line("Dropped logs", statusWarn, humanize.Comma(int64(pool.DroppedLogs)))
		}
		if pool.LastError != "" {
			p.line("Last error", statusError, pool.LastError)
		}
	}

	p.section("Assets")
	rows := stateRows(status.Stats)
	if len(rows) == 0 {
		fmt.Fprintln(p.out, "No assets registered")
		return
	}
	rows = append(rows, []string{"total", humanize.Comma(int64(status.Stats.Total))})
	fmt.Fprint(p.out, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	if n := status.Stats.Updating; n > 0 {
		fmt.Fprintf(p.out, "%d asset(s) currently being transformed\n", n)
	}
}

func slotRow(slot worker.SlotStatus) []string {
	pid := ""
	if slot.PID > 0 {
		pid = strconv.Itoa(slot.PID)
	}
	since := ""
	if !slot.Since.IsZero() {
		since = humanize.Time(slot.Since)
	}
	subject := slot.RelativePath
	if subject != "" && slot.Mode != "" {
		subject = fmt.Sprintf("%s (%s)", subject, slot.Mode)
	}
	return []string{
		strconv.Itoa(slot.ID),
		string(slot.State),
		pid,
		subject,
		since,
		strconv.Itoa(slot.Completed),
		strconv.Itoa(slot.Restarts),
	}
}

// shutdownGrace converts the configured drain timeout into the wait before a
// forced kill. Zero means "wait forever" for the daemon; the CLI still caps
// its own wait.
func shutdownGrace(drainSeconds int) time.Duration {
	if drainSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(drainSeconds)*time.Second + 10*time.Second
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   ctx.logLevel(),
	}
}
