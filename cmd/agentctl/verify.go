package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/poller"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Send one ticket to one agent and report the outcome",
	Long: `Verify submits a ticket to a single agent (the triage agent by default),
polls the run to a terminal state and prints the result as JSON.

Exit codes:
  0 - Run completed
  1 - Configuration, transport or polling error, or the run timed out
  2 - Run failed or was cancelled`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().String("ticket", defaultTicket, "Ticket text to send to the agent")
	verifyCmd.Flags().String("agent", string(domain.RoleTriage), "Agent role to invoke")
	verifyCmd.Flags().String("agent-id", "", "Agent identifier overriding the role lookup")
	verifyCmd.Flags().Bool("show-transcript", false, "Print the run transcript after completion")
	addScheduleFlags(verifyCmd)
}

// verifyResult is printed as JSON.
type verifyResult struct {
	ThreadID        string   `json:"thread_id"`
	RunID           string   `json:"run_id"`
	AgentID         string   `json:"agent_id"`
	Status          string   `json:"status"`
	LastError       string   `json:"last_error,omitempty"`
	Succeeded       bool     `json:"succeeded"`
	Attempts        int      `json:"attempts"`
	ProjectEndpoint string   `json:"project_endpoint"`
	Response        string   `json:"response,omitempty"`
	Transcript      []string `json:"transcript,omitempty"`
}

func runVerify(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ticket, _ := cmd.Flags().GetString("ticket")
	roleName, _ := cmd.Flags().GetString("agent")
	agentID, _ := cmd.Flags().GetString("agent-id")
	showTranscript, _ := cmd.Flags().GetBool("show-transcript")

	schedule, err := scheduleFromFlags(cmd, a.cfg.Schedule())
	if err != nil {
		return err
	}

	role, err := domain.ParseRole(roleName)
	if err != nil {
		return err
	}

	repo := a.openStore(ctx)
	if repo != nil {
		defer repo.Close()
	}

	if agentID == "" {
		agents := a.cfg.Agents
		if repo != nil && agents.ID(role) == "" {
			if stored, err := repo.GetAgents(ctx); err == nil {
				agents = agents.WithFallback(stored)
			}
		}
		agentID = agents.ID(role)
	}
	if agentID == "" {
		return fmt.Errorf("%s is not set; run `agentctl bootstrap` first", role.EnvKey())
	}

	svc, closeSvc, err := a.service()
	if err != nil {
		return err
	}
	defer closeSvc()

	fmt.Fprintf(cmd.ErrOrStderr(), "Using project endpoint: %q\nUsing agent id: %s\n", a.cfg.Foundry.Endpoint, agentID)

	p := poller.New(svc, poller.WithLogger(a.logger), poller.WithObserver(func(ev poller.Event) {
		if ev.Err == nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "status: %s\n", ev.Run.Status)
		}
	}))

	run, err := p.Submit(ctx, agentID, ticket)
	if err != nil {
		return err
	}
	result, awaitErr := p.Await(ctx, run, schedule)

	if repo != nil {
		rec := &domain.RunRecord{
			RunID:     result.Run.ID,
			ThreadID:  result.Run.ThreadID,
			AgentID:   agentID,
			Role:      role,
			Ticket:    ticket,
			Status:    string(result.Run.Status),
			Attempts:  result.Run.Attempts,
			CreatedAt: result.Run.CreatedAt,
		}
		if awaitErr != nil {
			rec.Error = awaitErr.Error()
		}
		if result.Transcript != nil {
			rec.Transcript = result.Transcript.Entries()
		}
		if err := repo.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
			a.logger.Warn("Failed to record run", "run_id", rec.RunID, "error", err)
		}
	}

	out := newVerifyResult(result, agentID, a.cfg.Foundry.Endpoint, awaitErr, showTranscript)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return verifyExit(awaitErr)
}

func newVerifyResult(result poller.Result, agentID, endpoint string, awaitErr error, showTranscript bool) verifyResult {
	out := verifyResult{
		ThreadID:        result.Run.ThreadID,
		RunID:           result.Run.ID,
		AgentID:         agentID,
		Status:          string(result.Run.Status),
		LastError:       result.Run.Error,
		Succeeded:       awaitErr == nil,
		Attempts:        result.Run.Attempts,
		ProjectEndpoint: endpoint,
	}
	if result.Transcript != nil {
		out.Response = result.Transcript.Text()
		if showTranscript {
			out.Transcript = result.Transcript.Lines()
		}
	}
	return out
}

// verifyExit maps an await error to the command's exit semantics.
func verifyExit(err error) error {
	if err == nil {
		return nil
	}
	switch poller.Kind(err) {
	case "failed", "cancelled":
		return &exitError{code: ExitRunFailure, err: fmt.Errorf("agent run did not succeed: %w", err)}
	default:
		return &exitError{code: ExitError, err: err}
	}
}

func addScheduleFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-attempts", poller.DefaultMaxAttempts, "Maximum status polls per run (default: RUN_MAX_ATTEMPTS)")
	cmd.Flags().Duration("initial-backoff", poller.DefaultInitialDelay, "Delay before the first poll (default: RUN_INITIAL_BACKOFF)")
	cmd.Flags().Duration("max-backoff", poller.DefaultMaxDelay, "Longest delay between polls (default: RUN_MAX_BACKOFF)")
}

// scheduleFromFlags overrides base with any schedule flag set on the command line.
func scheduleFromFlags(cmd *cobra.Command, base poller.Schedule) (poller.Schedule, error) {
	flags := cmd.Flags()
	if flags.Changed("max-attempts") {
		n, _ := flags.GetInt("max-attempts")
		base.MaxAttempts = n
	}
	for name, dst := range map[string]*time.Duration{
		"initial-backoff": &base.InitialDelay,
		"max-backoff":     &base.MaxDelay,
	} {
		if flags.Changed(name) {
			d, _ := flags.GetDuration(name)
			*dst = d
		}
	}
	if err := base.Validate(); err != nil {
		return poller.Schedule{}, errors.Join(errors.New("invalid polling schedule"), err)
	}
	return base, nil
}
