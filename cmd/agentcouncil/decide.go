package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcouncil/core"
)

var (
	decideOptions []string
	decideAgents  []string
)

var decideCmd = &cobra.Command{
	Use:   "decide <question>",
	Short: "Ask the agent panel to vote on a set of options",
	Long: `Run a consensus round. Each agent picks one option with reasoning and a
confidence; the most frequent choice wins.

  agentcouncil decide "Which database?" -o PostgreSQL -o SQLite
  agentcouncil decide "Which database?" -o PostgreSQL -o SQLite --agent openai/gpt-4o`,
	Args: cobra.ExactArgs(1),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringArrayVarP(&decideOptions, "option", "o", nil, "Option to vote on (repeatable)")
	decideCmd.Flags().StringArrayVar(&decideAgents, "agent", nil, "Agent as provider/model (repeatable, default: configured panel)")
	decideCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the full result as JSON")
}

func runDecide(cmd *cobra.Command, args []string) error {
	agents, err := parseAgents(decideAgents)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.council.Decide(cmd.Context(), args[0], decideOptions, agents)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(res)
	}

	for _, v := range res.RawVotes {
		fmt.Printf("  %-40s %-20s %.2f  %s\n", v.AgentID, v.Choice, v.Confidence, v.Reasoning)
	}
	for _, f := range res.Failures {
		fmt.Printf("  %-40s failed: %s\n", f.AgentID, f.Error)
	}
	if !res.Decided() {
		return fmt.Errorf("no decision: %s", res.Error)
	}
	fmt.Printf("\nWinner: %s (agreement %.0f%%)\n", *res.WinningChoice, res.AgreementRatio*100)
	return nil
}

func parseAgents(specs []string) ([]core.AgentBinding, error) {
	agents := make([]core.AgentBinding, 0, len(specs))
	for _, s := range specs {
		p, m, ok := strings.Cut(s, "/")
		if !ok || p == "" || m == "" {
			return nil, fmt.Errorf("invalid agent %q, want provider/model", s)
		}
		provider, err := core.ParseProvider(p)
		if err != nil {
			return nil, err
		}
		agents = append(agents, core.AgentBinding{Provider: provider, Model: m})
	}
	return agents, nil
}
