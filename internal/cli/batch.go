package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewBatchCmd создаёт группу команд для работы с батчами.
func NewBatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage build request batches",
	}

	cmd.AddCommand(
		newBatchAddRmCmd(clientFn, outputFn),
		newBatchRegenerateBundleCmd(clientFn, outputFn),
		newBatchShowCmd(clientFn, outputFn),
	)

	return cmd
}

// readBatchFile читает и проверяет JSON-файл с телом батча.
func readBatchFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("batch file is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func printSubmittedBatch(out *Output, builds []BuildResponse) {
	out.Success(fmt.Sprintf("Batch created with %d build requests", len(builds)))

	rows := make([][]string, len(builds))
	for i, b := range builds {
		rows[i] = buildRow(b)
	}
	out.Print(buildHeaders, rows, builds)
}

func newBatchAddRmCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "add-rm",
		Short: "Submit a batch of add and rm requests from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			body, err := readBatchFile(file)
			if err != nil {
				return err
			}

			builds, err := client.SubmitAddRmBatch(body)
			if err != nil {
				return err
			}

			printSubmittedBatch(out, builds)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to batch JSON file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newBatchRegenerateBundleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "regenerate-bundle",
		Short: "Submit a batch of regenerate-bundle requests from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			body, err := readBatchFile(file)
			if err != nil {
				return err
			}

			builds, err := client.SubmitRegenerateBundleBatch(body)
			if err != nil {
				return err
			}

			printSubmittedBatch(out, builds)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to batch JSON file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newBatchShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show batch details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			batch, err := client.GetBatch(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "REQUESTS", "CREATED"},
				[][]string{{batch.ID, strconv.Itoa(len(batch.Requests)), batch.CreatedAt}},
				batch,
			)

			if len(batch.Requests) > 0 {
				out.Success("Requests: " + strings.Join(batch.Requests, ", "))
			}
			return nil
		},
	}
}
