package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для executions.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Submit, inspect and kill executions",
	}

	cmd.AddCommand(
		newExecutionSubmitCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionKillCmd(clientFn, outputFn),
		newExecutionStateCmd(clientFn, outputFn),
	)
	return cmd
}

func printExecution(out *Output, exec *ExecutionResponse) {
	out.Print(
		[]string{"ID", "FLOW", "STATE", "TRIGGER", "CREATED"},
		[][]string{{
			exec.ID,
			exec.Tenant + "/" + exec.Namespace + "/" + exec.FlowID,
			exec.State.Current,
			exec.Trigger.Type,
			formatTime(&exec.CreatedAt),
		}},
		exec,
	)
}

// parseInputs разбирает пары KEY=VALUE.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func newExecutionSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		inputs    []string
		createdBy string
	)

	cmd := &cobra.Command{
		Use:   "submit TENANT/NAMESPACE/FLOW",
		Short: "Start a flow manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			exec, err := clientFn().Submit(cmd.Context(), args[0], SubmitRequest{Inputs: parsed, CreatedBy: createdBy})
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Execution created: %s (%s)", exec.ID, exec.State.Current))
			printExecution(out, exec)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Recorded as execution creator")
	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution and its state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(exec)
				return nil
			}
			rows := make([][]string, len(exec.State.History))
			for i, h := range exec.State.History {
				rows[i] = []string{h.State, formatTime(&h.Date)}
			}
			printExecution(out, exec)
			out.Table([]string{"STATE", "AT"}, rows)
			return nil
		},
	}
}

func newExecutionKillCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "kill ID",
		Short: "Request execution kill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().Kill(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Execution %s: %s", exec.ID, exec.State.Current))
			printExecution(out, exec)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Kill reason")
	return cmd
}

func newExecutionStateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "state ID STATE",
		Short: "Report execution state (RUNNING, SUCCESS, FAILED, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().SetState(cmd.Context(), args[0], strings.ToUpper(args[1]), reason)
			if err != nil {
				return err
			}
			printExecution(outputFn(), exec)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Transition reason")
	return cmd
}
