package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewFlowCmd создаёт группу команд для flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Inspect flows and their triggers",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowTriggerCmd(clientFn, outputFn),
		newFlowConcurrencyCmd(clientFn, outputFn),
	)
	return cmd
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := clientFn().ListFlows(cmd.Context(), tenant)
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i, f := range flows {
				rows[i] = []string{f.Key, strconv.Itoa(f.Revision), strconv.Itoa(len(f.Triggers))}
			}
			outputFn().Print([]string{"KEY", "REVISION", "TRIGGERS"}, rows, flows)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Only flows of this tenant")
	return cmd
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TENANT/NAMESPACE/FLOW",
		Short: "Show flow triggers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := clientFn().GetFlow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(flow.Triggers))
			for i, t := range flow.Triggers {
				schedule := t.Cron
				if schedule == "" {
					schedule = t.Interval
				}
				rows[i] = []string{t.ID, t.Type, schedule, t.Composite, strconv.FormatBool(!t.Disabled)}
			}
			outputFn().Print([]string{"TRIGGER", "TYPE", "SCHEDULE", "COMPOSITE", "ENABLED"}, rows, flow)
			return nil
		},
	}
}

func newFlowTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger TENANT/NAMESPACE/FLOW TRIGGER",
		Short: "Show trigger state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := clientFn().GetTrigger(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			status := tc.Phase
			if tc.Invalid {
				status = "INVALID: " + tc.InvalidReason
			}
			outputFn().Print(
				[]string{"PHASE", "NEXT", "LAST FIRED", "LAST EXECUTION", "FAILURES"},
				[][]string{{
					status,
					formatTime(tc.NextEvaluationAt),
					formatTime(tc.LastFiredAt),
					tc.LastExecutionID,
					strconv.Itoa(tc.ConsecutiveFailures),
				}},
				tc,
			)
			return nil
		},
	}
}

func newFlowConcurrencyCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "concurrency TENANT/NAMESPACE/FLOW",
		Short: "Show running and queued executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := clientFn().GetConcurrency(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			maxStr := "unlimited"
			if limit.MaxConcurrent > 0 {
				maxStr = strconv.Itoa(limit.MaxConcurrent)
			}
			outputFn().Print(
				[]string{"RUNNING", "LIMIT", "QUEUED", "POLICY"},
				[][]string{{strconv.Itoa(limit.CurrentCount), maxStr, strconv.Itoa(len(limit.Queued)), limit.OverflowPolicy}},
				limit,
			)
			return nil
		},
	}
}
