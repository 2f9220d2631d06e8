package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := command{out: out, global: globalFlags}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createRunCommand(c),
		createResolveCommand(c),
		createProbeCommand(c),
		createPlatformCommand(c),
		createStatusCommand(c),
		createStopCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "cloudsync",
		Short: "Launcher for the cloudsync backend",
		Long: `cloudsync locates rclone, starts the sync-server backend with it and
waits until the backend answers its status endpoint.

Examples:
  cloudsync run --config=cloudsync.toml
  cloudsync resolve
  cloudsync probe --port=8989
  cloudsync status --api-url=http://127.0.0.1:8990/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createRunCommand(c command) *cobra.Command {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend and supervise it until interrupted",
		Long: `Start the backend, serve the control API when control.listen is set and
stop the backend on SIGINT or SIGTERM.

Examples:
  cloudsync run
  cloudsync run --daemonize --pidfile=/tmp/cloudsync.pid --logfile=/tmp/cloudsync.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createResolveCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the rclone binary the launcher would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Resolve(cmd.Context())
		},
	}
}

func createProbeCommand(c command) *cobra.Command {
	flags := &ProbeFlags{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Poll the backend status endpoint once",
		Long: `Run one health poll (all configured attempts) against localhost and print the outcome.

Examples:
  cloudsync probe
  cloudsync probe --port=9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Probe(cmd.Context(), *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port to probe (default server.port)")
	return cmd
}

func createPlatformCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Print the bundled-binary profile of this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Platform()
		},
	}
}

func createStatusCommand(c command) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running launcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the backend of a running launcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "control API URL (default from control.listen)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}
