package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner запускает внешнюю команду и возвращает её stdout.
// Интерфейс выделен, чтобы в тестах подменять реальные утилиты.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner — CommandRunner поверх os/exec.
type ExecRunner struct{}

// Run запускает команду и возвращает stdout. При ошибке stderr
// попадает в текст ошибки: он уходит в лог сборки и в state_reason.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, fmt.Errorf("%s: %s", name, msg)
	}

	return stdout.Bytes(), nil
}

// Tools оборачивает внешние утилиты сборки индексных образов.
//
// skopeo резолвит pull spec'и и копирует образы между реестрами,
// opm собирает индекс (add/rm) в локальном хранилище.
type Tools struct {
	skopeoBin string
	opmBin    string
	runner    CommandRunner

	// authFile — docker-конфиг, передаваемый каждой команде skopeo.
	authFile string
}

// NewTools создаёт Tools с запуском команд через os/exec.
func NewTools(skopeoBin, opmBin string) *Tools {
	return &Tools{
		skopeoBin: skopeoBin,
		opmBin:    opmBin,
		runner:    ExecRunner{},
	}
}

// WithRunner возвращает копию Tools с другим CommandRunner.
func (t *Tools) WithRunner(runner CommandRunner) *Tools {
	clone := *t
	clone.runner = runner
	return &clone
}

// WithAuthFile возвращает копию Tools, передающую authfile каждой
// команде skopeo. Используется для registry_auths запроса.
func (t *Tools) WithAuthFile(path string) *Tools {
	clone := *t
	clone.authFile = path
	return &clone
}

// skopeo запускает подкоманду skopeo, подставляя authfile.
func (t *Tools) skopeo(ctx context.Context, sub string, args ...string) ([]byte, error) {
	full := []string{sub}
	if t.authFile != "" {
		full = append(full, "--authfile", t.authFile)
	}
	full = append(full, args...)
	return t.runner.Run(ctx, t.skopeoBin, full...)
}

// ResolveImage возвращает pull spec образа с digest вместо тега.
func (t *Tools) ResolveImage(ctx context.Context, image string) (string, error) {
	out, err := t.skopeo(ctx, "inspect", "--format", "{{.Name}}@{{.Digest}}", "docker://"+image)
	if err != nil {
		return "", err
	}

	resolved := strings.TrimSpace(string(out))
	if resolved == "" {
		return "", fmt.Errorf("empty digest for %s", image)
	}
	return resolved, nil
}

// ImageArches возвращает отсортированный список архитектур образа.
// Для manifest list архитектуры берутся из манифеста, для
// одноарочного образа — из конфига.
func (t *Tools) ImageArches(ctx context.Context, image string) ([]string, error) {
	out, err := t.skopeo(ctx, "inspect", "--raw", "docker://"+image)
	if err != nil {
		return nil, err
	}

	var index struct {
		Manifests []struct {
			Platform struct {
				Architecture string `json:"architecture"`
			} `json:"platform"`
		} `json:"manifests"`
	}
	if err := json.Unmarshal(out, &index); err != nil {
		return nil, fmt.Errorf("parse manifest of %s: %w", image, err)
	}

	var arches []string
	for _, m := range index.Manifests {
		arches = append(arches, m.Platform.Architecture)
	}
	arches = unionArches(arches)

	if len(arches) == 0 {
		out, err := t.skopeo(ctx, "inspect", "--format", "{{.Architecture}}", "docker://"+image)
		if err != nil {
			return nil, err
		}
		if arch := strings.TrimSpace(string(out)); arch != "" {
			arches = append(arches, arch)
		}
	}

	return arches, nil
}

// IndexAddOptions — параметры сборки индекса с добавлением бандлов.
type IndexAddOptions struct {
	Bundles     []string
	BinaryImage string
	FromIndex   string
	Tag         string
}

// IndexAdd собирает индекс с добавленными бандлами в локальном
// хранилище под тегом opts.Tag.
func (t *Tools) IndexAdd(ctx context.Context, opts IndexAddOptions) error {
	args := []string{"index", "add",
		"--bundles", strings.Join(opts.Bundles, ","),
		"--binary-image", opts.BinaryImage,
		"--tag", opts.Tag,
	}
	if opts.FromIndex != "" {
		args = append(args, "--from-index", opts.FromIndex)
	}

	_, err := t.runner.Run(ctx, t.opmBin, args...)
	return err
}

// IndexRmOptions — параметры сборки индекса с удалением операторов.
type IndexRmOptions struct {
	Operators   []string
	BinaryImage string
	FromIndex   string
	Tag         string
}

// IndexRm собирает индекс с удалёнными операторами в локальном
// хранилище под тегом opts.Tag.
func (t *Tools) IndexRm(ctx context.Context, opts IndexRmOptions) error {
	args := []string{"index", "rm",
		"--operators", strings.Join(opts.Operators, ","),
		"--binary-image", opts.BinaryImage,
		"--from-index", opts.FromIndex,
		"--tag", opts.Tag,
	}

	_, err := t.runner.Run(ctx, t.opmBin, args...)
	return err
}

// PushImage пушит локально собранный образ в реестр.
func (t *Tools) PushImage(ctx context.Context, ref string) error {
	_, err := t.skopeo(ctx, "copy", "containers-storage:"+ref, "docker://"+ref)
	return err
}

// CopyImage копирует образ со всеми архитектурами между реестрами.
func (t *Tools) CopyImage(ctx context.Context, src, dst string) error {
	_, err := t.skopeo(ctx, "copy", "--all", "docker://"+src, "docker://"+dst)
	return err
}

// OverwriteImage пушит собранный индекс поверх dst. Токен не попадает
// в аргументы команды: он записывается во временный authfile.
func (t *Tools) OverwriteImage(ctx context.Context, src, dst, token string) error {
	args := []string{"--all"}
	if token != "" {
		authFile, cleanup, err := writeTokenAuthFile(dst, token)
		if err != nil {
			return err
		}
		defer cleanup()
		args = append(args, "--dest-authfile", authFile)
	}
	args = append(args, "docker://"+src, "docker://"+dst)

	_, err := t.skopeo(ctx, "copy", args...)
	return err
}

// writeTokenAuthFile записывает docker-конфиг с токеном реестра
// образа image во временный файл. Вызывающий обязан вызвать cleanup.
func writeTokenAuthFile(image, token string) (string, func(), error) {
	registry := image
	if i := strings.Index(image, "/"); i > 0 {
		registry = image[:i]
	}

	auths := map[string]any{
		"auths": map[string]any{
			registry: map[string]string{"auth": token},
		},
	}
	return writeAuthFile(auths)
}

// writeAuthFile записывает docker-конфиг auths во временный файл.
// Вызывающий обязан вызвать cleanup.
func writeAuthFile(auths map[string]any) (string, func(), error) {
	data, err := json.Marshal(auths)
	if err != nil {
		return "", nil, fmt.Errorf("marshal auths: %w", err)
	}

	dir, err := os.MkdirTemp("", "forge-auth-")
	if err != nil {
		return "", nil, fmt.Errorf("create auth dir: %w", err)
	}

	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("write auth file: %w", err)
	}

	return path, func() { os.RemoveAll(dir) }, nil
}
