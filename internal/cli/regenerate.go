package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRegenerateBundleCmd создаёт команду отправки запроса regenerate-bundle.
func NewRegenerateBundleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req RegenerateBundleRequest
	var authsFile string

	cmd := &cobra.Command{
		Use:   "regenerate-bundle",
		Short: "Submit a request to regenerate a bundle image",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if authsFile != "" {
				data, err := os.ReadFile(authsFile)
				if err != nil {
					return fmt.Errorf("failed to read registry auths file: %w", err)
				}
				if err := json.Unmarshal(data, &req.RegistryAuths); err != nil {
					return fmt.Errorf("registry auths file is not valid JSON: %w", err)
				}
			}

			build, err := client.SubmitRegenerateBundle(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Build request created: %s", build.ID))
			out.Print(buildHeaders, [][]string{buildRow(*build)}, build)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.FromBundleImage, "from-bundle-image", "", "Bundle image to regenerate (required)")
	cmd.Flags().StringVar(&req.Organization, "organization", "", "Organization whose customizations to apply")
	cmd.Flags().StringVar(&authsFile, "registry-auths-file", "", "Path to a docker config JSON with auths for private registries")
	cmd.MarkFlagRequired("from-bundle-image")

	return cmd
}
