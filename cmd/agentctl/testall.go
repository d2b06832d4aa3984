package main

import (
	"fmt"

	"github.com/ashureev/triage-agents/internal/harness"
	"github.com/ashureev/triage-agents/internal/poller"
	"github.com/spf13/cobra"
)

var testAllCmd = &cobra.Command{
	Use:   "test-all",
	Short: "Run one ticket through every agent and print a consolidated report",
	Long: `Test-all invokes the priority, team, effort and triage agents one after
another with the same ticket. A failing agent is reported and the remaining
agents still run. The command exits non-zero when any agent did not complete.`,
	Args: cobra.NoArgs,
	RunE: runTestAll,
}

func init() {
	testAllCmd.Flags().String("ticket", defaultTicket, "Ticket text to evaluate")
	addScheduleFlags(testAllCmd)
}

func runTestAll(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ticket, _ := cmd.Flags().GetString("ticket")
	schedule, err := scheduleFromFlags(cmd, a.cfg.Schedule())
	if err != nil {
		return err
	}

	svc, closeSvc, err := a.service()
	if err != nil {
		return err
	}
	defer closeSvc()

	agents := a.cfg.Agents
	opts := []harness.Option{harness.WithLogger(a.logger)}
	if repo := a.openStore(ctx); repo != nil {
		defer repo.Close()
		if len(agents.Missing()) > 0 {
			if stored, err := repo.GetAgents(ctx); err == nil {
				agents = agents.WithFallback(stored)
			}
		}
		opts = append(opts, harness.WithRecorder(repo))
	}

	runner := poller.New(svc, poller.WithLogger(a.logger))
	report := harness.New(runner, opts...).Run(ctx, ticket, agents, schedule)

	if err := harness.Render(cmd.OutOrStdout(), report); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := report.Err(); err != nil {
		return &exitError{code: ExitError, err: err}
	}
	return nil
}
