// Command pushcron runs the daily push-notification scheduler.
//
// Usage:
//
//	pushcron serve
//	pushcron validate
//	pushcron config
//	pushcron tick
//	pushcron token --subject alice --ttl 24h
//	pushcron version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/djlord-it/pushcron/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code through cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(os.Stderr, err)
	if e, ok := err.(*exitError); ok {
		return e.code
	}
	return exitRuntimeError
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pushcron",
		Short:         "Daily push-notification scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(tickCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(configCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(versionCmd())
	return root
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(err)
			}
			for _, w := range config.Warnings(cfg) {
				fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Load().MaskedJSON()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pushcron version %s (commit: %s)\n", version, commit)
		},
	}
}
