package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
)

// Runner — интерфейс выполнения сборки одного типа запроса.
//
// Реализации: AddRunner, RmRunner, RegenerateBundleRunner.
//
// Типизированный payload runner извлекает из build.Message сам.
// Ожидаемые провалы сборки возвращаются как *BuildError, всё
// остальное считается инфраструктурной ошибкой.
type Runner interface {
	Run(ctx context.Context, build *Build) error
}

// Build — контекст выполнения одной сборки.
type Build struct {
	// RequestID — идентификатор запроса.
	RequestID uuid.UUID

	// Message — исходное сообщение очереди с аргументами сборки.
	Message *mq.Message

	// Reporter — клиент PATCH-отчётов о ходе сборки.
	Reporter *Reporter

	// Log — логгер, пишущий в файл лога этого запроса.
	Log *slog.Logger
}

// RunnerConfig — общие зависимости runner'ов.
type RunnerConfig struct {
	// Tools — внешние утилиты сборки (skopeo, opm).
	Tools *Tools

	// PushRegistry — реестр, куда пушатся собранные образы.
	// Итоговый pull spec: {registry}/forge-build:{request_id}.
	PushRegistry string
}

// outputRef возвращает pull spec собираемого образа для запроса id.
func (c RunnerConfig) outputRef(id uuid.UUID) string {
	return fmt.Sprintf("%s/forge-build:%s", c.PushRegistry, id)
}

// Registry — реестр runner'ов по типу сообщения.
type Registry struct {
	runners map[mq.MessageType]Runner
}

// NewRegistry создаёт реестр с runner'ами всех типов сборок.
//
// Регистрирует: build.add, build.rm, build.regenerate-bundle.
func NewRegistry(cfg RunnerConfig) *Registry {
	if cfg.Tools == nil {
		cfg.Tools = NewTools("skopeo", "opm")
	}

	r := &Registry{runners: make(map[mq.MessageType]Runner)}
	r.Register(mq.MessageTypeBuildAdd, &AddRunner{cfg: cfg})
	r.Register(mq.MessageTypeBuildRm, &RmRunner{cfg: cfg})
	r.Register(mq.MessageTypeBuildRegenerateBundle, &RegenerateBundleRunner{cfg: cfg})
	return r
}

// Register добавляет runner для типа сообщения.
func (r *Registry) Register(msgType mq.MessageType, runner Runner) {
	r.runners[msgType] = runner
}

// Get возвращает runner для типа сообщения.
func (r *Registry) Get(msgType mq.MessageType) (Runner, error) {
	runner, ok := r.runners[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuildType, msgType)
	}
	return runner, nil
}

// finishIndexImage — общее завершение сборок add и rm: пуш собранного
// индекса, overwrite поверх from_index (если запрошен) и финальный
// отчёт complete.
func finishIndexImage(ctx context.Context, build *Build, tools *Tools, output string, arches []string, overwrite bool, fromIndex, token string) error {
	build.Log.Info("pushing the built index image", "index_image", output)

	if err := tools.PushImage(ctx, output); err != nil {
		return Buildf("Failed to push the index image %s: %v", output, err)
	}

	indexImage := output
	if overwrite {
		build.Log.Info("overwriting the from_index image", "from_index", fromIndex)
		if err := tools.OverwriteImage(ctx, output, fromIndex, token); err != nil {
			return Buildf("Failed to overwrite the from_index image %s: %v", fromIndex, err)
		}
		indexImage = fromIndex
	}

	resolved, err := tools.ResolveImage(ctx, indexImage)
	if err != nil {
		return Buildf("Failed to resolve the built index image %s: %v", indexImage, err)
	}

	final := map[string]any{
		"arches":               arches,
		"index_image":          indexImage,
		"index_image_resolved": resolved,
		"state":                domain.RequestStateComplete,
		"state_reason":         domain.StateReasonCompleted,
	}
	if err := build.Reporter.Patch(ctx, build.RequestID, final); err != nil {
		return err
	}

	build.Log.Info("build completed", "index_image", indexImage)
	return nil
}

// unionArches объединяет списки архитектур без дубликатов,
// результат отсортирован.
func unionArches(lists ...[]string) []string {
	seen := make(map[string]bool)
	var arches []string
	for _, list := range lists {
		for _, arch := range list {
			if arch == "" || seen[arch] {
				continue
			}
			seen[arch] = true
			arches = append(arches, arch)
		}
	}
	sort.Strings(arches)
	return arches
}

// archesReason форматирует список архитектур для state_reason.
func archesReason(format string, arches []string) string {
	return fmt.Sprintf(format, strings.Join(arches, ", "))
}
