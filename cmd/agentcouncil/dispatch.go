package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/dispatch"
)

var dispatchUser string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <role> <prompt>",
	Short: "Send a task to the agent bound to a role",
	Long: `Send a single task to the agent configured for a role.

Roles: architect, coder, reviewer, explainer, debugger, optimizer.
Roles without a binding use the default agent.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchUser, "user", "u", "", "Requester id recorded with the task")
	dispatchCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the full record as JSON")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	role, err := core.ParseRole(args[0])
	if err != nil {
		return fmt.Errorf("%w (valid roles: %v)", err, core.Roles())
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.council.Dispatch(cmd.Context(), dispatch.TaskRequest{
		Role:        role,
		Prompt:      strings.Join(args[1:], " "),
		RequesterID: dispatchUser,
	})
	if outputJSON && rec != nil {
		if perr := printJSON(rec); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return err
	}

	if rec.FellBack {
		fmt.Printf("(role %s has no binding, used %s)\n\n", rec.Role, rec.AgentUsed)
	}
	fmt.Println(rec.Result)
	return nil
}
