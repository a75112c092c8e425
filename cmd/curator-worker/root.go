package main

import (
	"io"

	"github.com/spf13/cobra"

	"curator/internal/logging"
)

type options struct {
	app         string
	slot        int
	project     string
	profile     string
	importTypes []string
	logLevel    string
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "curator-worker",
		Short:         "Reference asset worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{
				Level:       opts.logLevel,
				Format:      "json",
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return err
			}
			logger = logger.With(logging.Slot(opts.slot), logging.String("app", opts.app))
			w := newWorker(opts, in, out, logger)
			return w.run(cmd.Context())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.app, "app", "curator", "Application name")
	flags.IntVar(&opts.slot, "slot", 0, "Slot index assigned by the daemon")
	flags.StringVar(&opts.project, "project", "", "Project file")
	flags.StringVar(&opts.profile, "profile", "", "Target platform")
	flags.StringSliceVar(&opts.importTypes, "import-types", nil, "Asset types that need an import step before their first transform")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Level for diagnostics written to stderr")
	return cmd
}
