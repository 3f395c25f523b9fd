package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
)

// RegenerateBundleRunner выполняет запросы regenerate-bundle:
// пересобирает бандл оператора и публикует его под реестром Forge.
//
// registry_auths из payload действуют на время всей пересборки —
// они записываются во временный authfile и передаются skopeo.
type RegenerateBundleRunner struct {
	cfg RunnerConfig
}

// Run выполняет пересборку бандла.
func (r *RegenerateBundleRunner) Run(ctx context.Context, build *Build) error {
	payload, err := mq.ParsePayload[mq.RegenerateBundleBuildPayload](build.Message)
	if err != nil {
		return fmt.Errorf("parse regenerate-bundle payload: %w", err)
	}

	if err := build.Reporter.ReportState(ctx, build.RequestID, domain.RequestStateInProgress, "Resolving from_bundle_image"); err != nil {
		return err
	}
	build.Log.Info("resolving from_bundle_image",
		"from_bundle_image", payload.FromBundleImage,
		"organization", payload.Organization,
	)

	tools := r.cfg.Tools
	if len(payload.RegistryAuths) > 0 {
		path, cleanup, err := writeAuthFile(payload.RegistryAuths)
		if err != nil {
			return fmt.Errorf("write registry auths: %w", err)
		}
		defer cleanup()
		tools = tools.WithAuthFile(path)
	}

	resolved, err := tools.ResolveImage(ctx, payload.FromBundleImage)
	if err != nil {
		return Buildf("Failed to resolve the from_bundle_image %s: %v", payload.FromBundleImage, err)
	}

	arches, err := tools.ImageArches(ctx, resolved)
	if err != nil {
		return Buildf("Failed to get the arches of %s: %v", resolved, err)
	}
	if len(arches) == 0 {
		return Buildf("No arches were found in the resolved from_bundle_image %s", resolved)
	}

	patch := map[string]any{
		"from_bundle_image_resolved": resolved,
		"state":                      domain.RequestStateInProgress,
		"state_reason":               archesReason("Regenerating the bundle image for the following arches: %s", arches),
	}
	if err := build.Reporter.Patch(ctx, build.RequestID, patch); err != nil {
		return err
	}
	build.Log.Info("regenerating the bundle image", "arches", arches)

	output := r.cfg.outputRef(build.RequestID)
	if err := tools.CopyImage(ctx, resolved, output); err != nil {
		return Buildf("Failed to regenerate the bundle image: %v", err)
	}

	final := map[string]any{
		"arches":       arches,
		"bundle_image": output,
		"state":        domain.RequestStateComplete,
		"state_reason": domain.StateReasonCompleted,
	}
	if err := build.Reporter.Patch(ctx, build.RequestID, final); err != nil {
		return err
	}

	build.Log.Info("build completed", "bundle_image", output)
	return nil
}
