package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
)

// RmRunner выполняет запросы rm: удаляет операторов из индексного
// образа. Ход сборки повторяет add, но вместо добавления бандлов —
// opm index rm по списку операторов.
type RmRunner struct {
	cfg RunnerConfig
}

// Run выполняет сборку rm.
func (r *RmRunner) Run(ctx context.Context, build *Build) error {
	payload, err := mq.ParsePayload[mq.RmBuildPayload](build.Message)
	if err != nil {
		return fmt.Errorf("parse rm payload: %w", err)
	}

	if err := build.Reporter.ReportState(ctx, build.RequestID, domain.RequestStateInProgress, "Resolving the container images"); err != nil {
		return err
	}
	build.Log.Info("resolving the container images",
		"binary_image", payload.BinaryImage,
		"from_index", payload.FromIndex,
	)

	tools := r.cfg.Tools

	binaryResolved, err := tools.ResolveImage(ctx, payload.BinaryImage)
	if err != nil {
		return Buildf("Failed to resolve the binary_image %s: %v", payload.BinaryImage, err)
	}

	fromResolved, err := tools.ResolveImage(ctx, payload.FromIndex)
	if err != nil {
		return Buildf("Failed to resolve the from_index %s: %v", payload.FromIndex, err)
	}

	arches, err := tools.ImageArches(ctx, fromResolved)
	if err != nil {
		return Buildf("Failed to get the arches of %s: %v", fromResolved, err)
	}
	if len(arches) == 0 {
		return Buildf("No arches were found in the resolved from_index %s", fromResolved)
	}

	patch := map[string]any{
		"binary_image_resolved": binaryResolved,
		"from_index_resolved":   fromResolved,
		"state":                 domain.RequestStateInProgress,
		"state_reason":          archesReason("Building the index image for the following arches: %s", arches),
	}
	if err := build.Reporter.Patch(ctx, build.RequestID, patch); err != nil {
		return err
	}
	build.Log.Info("removing the operators from the index image",
		"arches", arches,
		"operators", payload.Operators,
	)

	output := r.cfg.outputRef(build.RequestID)
	if err := tools.IndexRm(ctx, IndexRmOptions{
		Operators:   payload.Operators,
		BinaryImage: binaryResolved,
		FromIndex:   fromResolved,
		Tag:         output,
	}); err != nil {
		return Buildf("Failed to remove the operators from the index image: %v", err)
	}

	return finishIndexImage(ctx, build, tools, output, arches,
		payload.OverwriteFromIndex, payload.FromIndex, payload.OverwriteToken)
}
