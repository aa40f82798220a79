package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/hostshim/internal/app"
)

// rootFlags are shared by every command that starts the host.
type rootFlags struct {
	configPath string
	logLevel   string
	streamAddr string
	pluginsDir string
}

func (f *rootFlags) options() app.Options {
	return app.Options{
		ConfigPath: f.configPath,
		LogLevel:   f.logLevel,
		StreamAddr: f.streamAddr,
		PluginsDir: f.pluginsDir,
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "hostshim",
		Short: "Session host with a plugin API",
		Long: `hostshim launches configured sessions, mirrors their output into a typed
event stream, and lets Lua plugins react to it. By default it runs with a
terminal UI; use "hostshim headless" on servers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			switch flags.logLevel {
			case "", "trace", "debug", "info", "warn", "error":
				return nil
			default:
				return fmt.Errorf("invalid log level %q (must be trace, debug, info, warn, or error)", flags.logLevel)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), flags.options())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default is ./hostshim.yaml or $XDG_CONFIG_HOME/hostshim/hostshim.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&flags.streamAddr, "stream", "", "serve the websocket event stream on this address")
	pf.StringVar(&flags.pluginsDir, "plugins", "", "directory holding Lua plugins")

	root.AddCommand(
		newHeadlessCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newHeadlessCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "headless",
		Short: "Run without a terminal UI",
		Long: `Run the host without a terminal UI. Logs go to stderr unless log.file
is set, and user notices are logged. Stop with SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := flags.options()
			opts.Headless = true
			return runHost(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hostshim %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}

// runHost builds the application and runs it until the user quits or a
// termination signal arrives.
func runHost(ctx context.Context, opts app.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Shutdown()

	return application.Run(ctx)
}
