package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAddCmd создаёт команду отправки запроса add.
func NewAddCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req AddRequest

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Submit a request to add bundles to an index image",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			build, err := client.SubmitAdd(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Build request created: %s", build.ID))
			out.Print(buildHeaders, [][]string{buildRow(*build)}, build)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&req.Bundles, "bundles", nil, "Bundle pull specs to add (required)")
	cmd.Flags().StringVar(&req.BinaryImage, "binary-image", "", "Base image for the index (required)")
	cmd.Flags().StringVar(&req.FromIndex, "from-index", "", "Index image to build on top of")
	cmd.Flags().StringSliceVar(&req.AddArches, "add-arches", nil, "Architectures to build for")
	cmd.Flags().StringVar(&req.Organization, "organization", "", "Organization the bundles belong to")
	cmd.Flags().StringVar(&req.CnrToken, "cnr-token", "", "Token for legacy app registry backports")
	cmd.Flags().BoolVar(&req.ForceBackport, "force-backport", false, "Force legacy app registry backports")
	cmd.Flags().BoolVar(&req.OverwriteFromIndex, "overwrite-from-index", false, "Overwrite from_index with the built image")
	cmd.Flags().StringVar(&req.OverwriteFromIndexToken, "overwrite-from-index-token", "", "Registry token for the overwrite push")
	cmd.Flags().StringVar(&req.DistributionScope, "distribution-scope", "", "Distribution scope (dev/stage/prod)")
	cmd.MarkFlagRequired("bundles")
	cmd.MarkFlagRequired("binary-image")

	return cmd
}
