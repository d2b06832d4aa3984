// Command agentctl provisions the triage agents and exercises them end to end.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess    = 0
	ExitError      = 1
	ExitRunFailure = 2
)

const defaultTicket = "VPN outage affecting finance team"

var (
	envFile string
	verbose bool
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Provision and exercise the ticket triage agents",
	Long: `agentctl creates the priority, team, effort and triage agents on the
project endpoint, persists their identifiers, and runs tickets through them.

Environment files are loaded in order (later files win): --env-file, the
active azd environment file, then ./.env.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file to load before the azd and local env files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(testAllCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return ExitError
}
