package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/pipeline"
)

var (
	generateUser    string
	generateContext []string
	outputJSON      bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Run the collaborative code generation pipeline",
	Long: `Run design, implement, review, (revise) and document stages for a prompt.

Context entries are passed as key=value pairs:
  agentcouncil generate "todo REST API" --context lang=go --context db=sqlite`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateUser, "user", "u", "", "Requester id recorded with the run")
	generateCmd.Flags().StringArrayVar(&generateContext, "context", nil, "Context entry as key=value (repeatable)")
	generateCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the full record as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	runContext, err := parseContext(generateContext)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.council.RunCollaborativeGeneration(cmd.Context(), pipeline.Input{
		Prompt:      strings.Join(args, " "),
		RequesterID: generateUser,
		Context:     runContext,
	})
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(run)
	}

	fmt.Printf("Run %s: %s\n", run.ID, run.Status)
	for _, s := range run.Stages {
		mark := "ok"
		if !s.Succeeded {
			mark = "failed: " + s.Error
		}
		fmt.Printf("  %-10s %-40s %8s  %s\n", s.Stage, s.Agent, s.Duration.Round(time.Millisecond), mark)
	}
	if run.Status != core.RunSucceeded {
		return fmt.Errorf("pipeline failed: %s", run.Error)
	}

	fmt.Printf("\n%s\n", run.Artifacts.Content)
	if run.Artifacts.Documentation != "" {
		fmt.Printf("\n--- documentation ---\n%s\n", run.Artifacts.Documentation)
	}
	return nil
}

func parseContext(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid context entry %q, want key=value", e)
		}
		out[k] = v
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
