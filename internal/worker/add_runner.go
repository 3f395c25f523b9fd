package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
)

// AddRunner выполняет запросы add: добавляет бандлы операторов в
// индексный образ.
//
// Ход сборки:
//  1. Резолв binary_image и from_index в digest'ы
//  2. Определение архитектур (add_arches + архитектуры from_index)
//  3. opm index add в локальном хранилище
//  4. Пуш, overwrite поверх from_index (если запрошен), финальный отчёт
type AddRunner struct {
	cfg RunnerConfig
}

// Run выполняет сборку add.
func (r *AddRunner) Run(ctx context.Context, build *Build) error {
	payload, err := mq.ParsePayload[mq.AddBuildPayload](build.Message)
	if err != nil {
		return fmt.Errorf("parse add payload: %w", err)
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

	patch := map[string]any{"binary_image_resolved": binaryResolved}

	arches := payload.AddArches
	var fromResolved string
	if payload.FromIndex != "" {
		fromResolved, err = tools.ResolveImage(ctx, payload.FromIndex)
		if err != nil {
			return Buildf("Failed to resolve the from_index %s: %v", payload.FromIndex, err)
		}
		patch["from_index_resolved"] = fromResolved

		indexArches, err := tools.ImageArches(ctx, fromResolved)
		if err != nil {
			return Buildf("Failed to get the arches of %s: %v", fromResolved, err)
		}
		arches = append(arches, indexArches...)
	}

	arches = unionArches(arches)
	if len(arches) == 0 {
		return Buildf("No arches were provided to build the index image")
	}

	patch["state"] = domain.RequestStateInProgress
	patch["state_reason"] = archesReason("Building the index image for the following arches: %s", arches)
	if err := build.Reporter.Patch(ctx, build.RequestID, patch); err != nil {
		return err
	}
	build.Log.Info("building the index image",
		"arches", arches,
		"bundles", payload.Bundles,
	)

	output := r.cfg.outputRef(build.RequestID)
	if err := tools.IndexAdd(ctx, IndexAddOptions{
		Bundles:     payload.Bundles,
		BinaryImage: binaryResolved,
		FromIndex:   fromResolved,
		Tag:         output,
	}); err != nil {
		return Buildf("Failed to add the bundles to the index image: %v", err)
	}

	return finishIndexImage(ctx, build, tools, output, arches,
		payload.OverwriteFromIndex, payload.FromIndex, payload.OverwriteToken)
}
