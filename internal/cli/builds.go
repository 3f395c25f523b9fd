package cli

import (
	"github.com/spf13/cobra"
)

// buildHeaders — колонки таблицы запросов на сборку.
var buildHeaders = []string{"ID", "TYPE", "STATE", "STATE_REASON", "CREATED"}

func buildRow(b BuildResponse) []string {
	return []string{b.ID, b.RequestType, b.State, b.StateReason, b.CreatedAt}
}

// NewBuildsCmd создаёт группу команд для просмотра запросов на сборку.
func NewBuildsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "Inspect build requests",
	}

	cmd.AddCommand(
		newBuildsListCmd(clientFn, outputFn),
		newBuildsShowCmd(clientFn, outputFn),
		newBuildsLogsCmd(clientFn, outputFn),
	)

	return cmd
}

func newBuildsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListBuildsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List build requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			builds, err := client.ListBuilds(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(builds))
			for i, b := range builds {
				rows[i] = buildRow(b)
			}

			out.Print(buildHeaders, rows, builds)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "Filter by state")
	cmd.Flags().StringVar(&opts.User, "user", "", "Filter by submitting user")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "Filter by batch ID")
	cmd.Flags().StringVar(&opts.RequestType, "type", "", "Filter by request type (add/rm/regenerate-bundle)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newBuildsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show build request details with state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			build, err := client.GetBuild(args[0])
			if err != nil {
				return err
			}

			out.Print(buildHeaders, [][]string{buildRow(*build)}, build)
			return nil
		},
	}
}

func newBuildsLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "logs ID",
		Short: "Print the build log of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			logs, err := client.GetBuildLogs(args[0])
			if err != nil {
				return err
			}

			out.Raw(logs)
			return nil
		},
	}
}
