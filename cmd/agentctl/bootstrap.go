package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ashureev/triage-agents/internal/clock"
	"github.com/ashureev/triage-agents/internal/envstore"
	"github.com/ashureev/triage-agents/internal/readiness"
	"github.com/ashureev/triage-agents/internal/registry"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the four agents and persist their identifiers",
	Long: `Bootstrap waits for the project endpoint to resolve, creates the priority,
team and effort agents, then the triage agent connected to the other three.

Identifiers replace any previous ones in the env file and the local database.
Each run creates a fresh set of agents.`,
	Args: cobra.NoArgs,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().Bool("skip-dns", false, "Do not wait for the endpoint hostname to resolve")
	bootstrapCmd.Flags().String("definitions", "", "YAML file overriding agent names and instructions (default: AGENT_DEFINITIONS)")
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	skipDNS, _ := cmd.Flags().GetBool("skip-dns")
	defsPath, _ := cmd.Flags().GetString("definitions")
	if defsPath == "" {
		defsPath = a.cfg.DefinitionsPath
	}

	defs, err := loadDefinitions(defsPath, a.cfg.Foundry.Model)
	if err != nil {
		return err
	}

	svc, closeSvc, err := a.service()
	if err != nil {
		return err
	}
	defer closeSvc()

	var gate *readiness.Gate
	if !skipDNS {
		gate = readiness.NewGate(nil, clock.Real{}, a.cfg.Foundry.DNSInterval, a.logger)
	}

	result, err := registry.NewBootstrapper(svc, gate, a.logger).Bootstrap(ctx, registry.BootstrapConfig{
		Endpoint:     a.cfg.Foundry.Endpoint,
		FallbackHost: a.cfg.Foundry.AccountHost,
		DNSTimeout:   a.cfg.Foundry.DNSTimeout,
		Definitions:  defs,
	})
	if err != nil {
		return err
	}

	env := envstore.New(envTarget(envFile, a.root))
	if previous, err := env.LoadAgents(); err == nil && len(previous) > 0 {
		a.logger.Info("Replacing persisted agent ids", "path", env.Path(), "previous", len(previous))
	}
	if err := env.SaveAgents(result.Set()); err != nil {
		return fmt.Errorf("persist agent ids: %w", err)
	}
	a.logger.Info("Agent ids saved", "path", env.Path())

	if repo := a.openStore(ctx); repo != nil {
		defer repo.Close()
		if err := repo.ReplaceAgents(ctx, result.Agents); err != nil {
			a.logger.Warn("Failed to record agents", "error", err)
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tNAME\tID")
	for _, agent := range result.Agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", agent.Role.EnvKey(), agent.Name, agent.ID)
	}
	return tw.Flush()
}

// loadDefinitions reads the definitions file; a non-empty model replaces the
// file's model.
func loadDefinitions(path, model string) (registry.Definitions, error) {
	defs, err := registry.LoadDefinitionsFile(path)
	if err != nil {
		return registry.Definitions{}, err
	}
	if model != "" {
		defs.Model = model
	}
	return defs, nil
}
