// Package cli implements the posadmin command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/config"
)

type runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	output   string
	logLevel string
	verbose  bool

	app *App
}

// Run executes the command line in args and returns the process exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	r := &runner{stdin: stdin, stdout: stdout, stderr: stderr}

	root := r.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)

	if r.app != nil {
		r.app.Close(ctx)
	}

	if err != nil {
		r.report(err)
		return 1
	}
	return 0
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "posadmin",
		Short:         "Command line access to the POS admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("log-level") {
				if err := setLogLevel(r.logLevel); err != nil {
					return err
				}
			}

			if r.output != "json" && r.output != "yaml" {
				return fmt.Errorf("unknown output format %q", r.output)
			}

			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("configuration load failed: %w", err)
			}

			app, err := NewApp(cmd.Context(), cfg, r.stderr)
			if err != nil {
				return err
			}
			r.app = app

			log.Ctx(cmd.Context()).Debug().Str("command", cmd.CommandPath()).Msg("command started")

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&r.output, "output", "o", "yaml", "Output format (yaml, json)")
	root.PersistentFlags().StringVar(&r.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&r.verbose, "verbose", "v", false, "Show error details")

	root.AddCommand(r.loginCommand())
	root.AddCommand(r.logoutCommand())
	root.AddCommand(r.statusCommand())
	for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		root.AddCommand(r.verbCommand(method))
	}
	root.AddCommand(r.uploadCommand())
	root.AddCommand(r.downloadCommand())
	root.AddCommand(r.validateCommand())
	root.AddCommand(r.prefsCommand())

	return root
}

func setLogLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.Logger = log.Logger.Level(lvl)
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

// report prints a failure to stderr. Normalized errors are shown in the
// configured language, with the full error under --verbose.
func (r *runner) report(err error) {
	var e *apierr.Error
	if !errors.As(err, &e) {
		fmt.Fprintf(r.stderr, "Error: %v\n", err)
		return
	}

	lang := "en"
	if r.app != nil {
		lang = r.app.Language
	}
	fmt.Fprintf(r.stderr, "Error: %s\n", apierr.UserMessage(lang, e))

	if r.verbose {
		_ = r.write(r.stderr, e)
	}
}
