package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRmCmd создаёт команду отправки запроса rm.
func NewRmCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req RmRequest

	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Submit a request to remove operators from an index image",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			build, err := client.SubmitRm(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Build request created: %s", build.ID))
			out.Print(buildHeaders, [][]string{buildRow(*build)}, build)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&req.Operators, "operators", nil, "Operator names to remove (required)")
	cmd.Flags().StringVar(&req.BinaryImage, "binary-image", "", "Base image for the index (required)")
	cmd.Flags().StringVar(&req.FromIndex, "from-index", "", "Index image to remove from (required)")
	cmd.Flags().BoolVar(&req.OverwriteFromIndex, "overwrite-from-index", false, "Overwrite from_index with the built image")
	cmd.Flags().StringVar(&req.OverwriteFromIndexToken, "overwrite-from-index-token", "", "Registry token for the overwrite push")
	cmd.Flags().StringVar(&req.DistributionScope, "distribution-scope", "", "Distribution scope (dev/stage/prod)")
	cmd.MarkFlagRequired("operators")
	cmd.MarkFlagRequired("binary-image")
	cmd.MarkFlagRequired("from-index")

	return cmd
}
