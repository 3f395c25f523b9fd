package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/mq"
)

// --- Test doubles ---

// fakeRunner — CommandRunner, отвечающий заготовленными результатами.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.run == nil {
		return nil, nil
	}
	return f.run(name, args)
}

// hasCall возвращает true, если была команда, содержащая все needles.
func (f *fakeRunner) hasCall(needles ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, call := range f.calls {
		found := 0
		for _, needle := range needles {
			for _, arg := range call {
				if arg == needle {
					found++
					break
				}
			}
		}
		if found == len(needles) {
			return true
		}
	}
	return false
}

// toolRunner скриптует skopeo/opm: resolves — отображение образа в
// digest, rawArches — архитектуры manifest list.
func toolRunner(resolves map[string]string, rawArches []string) *fakeRunner {
	return &fakeRunner{
		run: func(name string, args []string) ([]byte, error) {
			if name != "skopeo" || len(args) == 0 || args[0] != "inspect" {
				return nil, nil
			}

			image := strings.TrimPrefix(args[len(args)-1], "docker://")

			for _, arg := range args {
				if arg == "--raw" {
					var manifests []string
					for _, arch := range rawArches {
						manifests = append(manifests,
							fmt.Sprintf(`{"platform": {"architecture": %q}}`, arch))
					}
					raw := fmt.Sprintf(`{"manifests": [%s]}`, strings.Join(manifests, ", "))
					return []byte(raw), nil
				}
			}

			resolved, ok := resolves[image]
			if !ok {
				return nil, fmt.Errorf("manifest unknown")
			}
			return []byte(resolved + "\n"), nil
		},
	}
}

// recordingAPI — тестовый API, записывающий PATCH-запросы воркера.
type recordingAPI struct {
	mu      sync.Mutex
	patches []map[string]any
	users   []string
	status  int
}

func (a *recordingAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		a.mu.Lock()
		a.patches = append(a.patches, body)
		a.users = append(a.users, r.Header.Get("X-Remote-User"))
		status := a.status
		a.mu.Unlock()

		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "BAD_REQUEST", "message": "keys are not allowed"},
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	})
}

func (a *recordingAPI) patch(i int) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.patches) {
		return nil
	}
	return a.patches[i]
}

func (a *recordingAPI) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.patches)
}

// testBuild собирает Build с reporter'ом на тестовом API.
func testBuild(t *testing.T, api *recordingAPI, msgType mq.MessageType, payload any) (*Build, func()) {
	t.Helper()

	server := httptest.NewServer(api.handler())
	reporter := NewReporter(server.URL, "forge-worker", nil)

	return &Build{
		RequestID: uuid.New(),
		Message:   &mq.Message{ID: uuid.NewString(), Type: msgType, Payload: payload},
		Reporter:  reporter,
		Log:       discardBuildLog().Logger,
	}, server.Close
}

// --- AddRunner Tests ---

func TestAddRunner_Success(t *testing.T) {
	api := &recordingAPI{}

	payload := mq.AddBuildPayload{
		Bundles:     []string{"quay.io/ns/bundle:1", "quay.io/ns/bundle:2"},
		BinaryImage: "registry.example/binary:v1",
		FromIndex:   "registry.example/index:v4.10",
	}
	build, closeAPI := testBuild(t, api, mq.MessageTypeBuildAdd, payload)
	defer closeAPI()

	output := "registry.example/forge-build:" + build.RequestID.String()
	runner := toolRunner(map[string]string{
		"registry.example/binary:v1":        "registry.example/binary@sha256:bbb",
		"registry.example/index:v4.10":      "registry.example/index@sha256:fff",
		"registry.example/index@sha256:fff": "registry.example/index@sha256:fff",
		output:                              "registry.example/forge-build@sha256:eee",
	}, []string{"amd64", "s390x"})

	add := &AddRunner{cfg: RunnerConfig{
		Tools:        NewTools("skopeo", "opm").WithRunner(runner),
		PushRegistry: "registry.example",
	}}

	if err := add.Run(context.Background(), build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Первый отчёт — фаза резолва
	first := api.patch(0)
	if first["state_reason"] != "Resolving the container images" {
		t.Errorf("expected resolving phase, got %v", first["state_reason"])
	}
	if first["state"] != "in_progress" {
		t.Errorf("expected in_progress, got %v", first["state"])
	}

	// Второй отчёт — резолвнутые образы и арки
	second := api.patch(1)
	if second["binary_image_resolved"] != "registry.example/binary@sha256:bbb" {
		t.Errorf("unexpected binary_image_resolved: %v", second["binary_image_resolved"])
	}
	if second["from_index_resolved"] != "registry.example/index@sha256:fff" {
		t.Errorf("unexpected from_index_resolved: %v", second["from_index_resolved"])
	}
	if second["state_reason"] != "Building the index image for the following arches: amd64, s390x" {
		t.Errorf("unexpected build phase: %v", second["state_reason"])
	}

	// Финальный отчёт — complete с собранным индексом
	final := api.patch(2)
	if final["state"] != "complete" {
		t.Errorf("expected complete, got %v", final["state"])
	}
	if final["state_reason"] != "The request completed successfully" {
		t.Errorf("unexpected final reason: %v", final["state_reason"])
	}
	if final["index_image"] != output {
		t.Errorf("expected index_image %s, got %v", output, final["index_image"])
	}
	if final["index_image_resolved"] != "registry.example/forge-build@sha256:eee" {
		t.Errorf("unexpected index_image_resolved: %v", final["index_image_resolved"])
	}

	// opm вызван с бандлами
	if !runner.hasCall("opm", "index", "add", "quay.io/ns/bundle:1,quay.io/ns/bundle:2") {
		t.Error("opm index add should receive the bundles")
	}
}

func TestAddRunner_NoArches(t *testing.T) {
	api := &recordingAPI{}

	// Нет from_index и нет add_arches — арки взять неоткуда
	payload := mq.AddBuildPayload{
		Bundles:     []string{"quay.io/ns/bundle:1"},
		BinaryImage: "registry.example/binary:v1",
	}
	build, closeAPI := testBuild(t, api, mq.MessageTypeBuildAdd, payload)
	defer closeAPI()

	runner := toolRunner(map[string]string{
		"registry.example/binary:v1": "registry.example/binary@sha256:bbb",
	}, nil)

	add := &AddRunner{cfg: RunnerConfig{
		Tools:        NewTools("skopeo", "opm").WithRunner(runner),
		PushRegistry: "registry.example",
	}}

	err := add.Run(context.Background(), build)
	if err == nil {
		t.Fatal("expected error for missing arches")
	}

	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %T: %v", err, err)
	}
	if buildErr.Message != "No arches were provided to build the index image" {
		t.Errorf("unexpected message: %s", buildErr.Message)
	}

	// Только фаза резолва, никакого complete
	if api.count() != 1 {
		t.Errorf("expected 1 patch, got %d", api.count())
	}
}

func TestAddRunner_Overwrite(t *testing.T) {
	api := &recordingAPI{}

	payload := mq.AddBuildPayload{
		Bundles:            []string{"quay.io/ns/bundle:1"},
		BinaryImage:        "registry.example/binary:v1",
		FromIndex:          "registry.example/index:v4.10",
		OverwriteFromIndex: true,
		OverwriteToken:     "user:secretpass",
	}
	build, closeAPI := testBuild(t, api, mq.MessageTypeBuildAdd, payload)
	defer closeAPI()

	runner := toolRunner(map[string]string{
		"registry.example/binary:v1":        "registry.example/binary@sha256:bbb",
		"registry.example/index:v4.10":      "registry.example/index@sha256:fff",
		"registry.example/index@sha256:fff": "registry.example/index@sha256:fff",
	}, []string{"amd64"})

	add := &AddRunner{cfg: RunnerConfig{
		Tools:        NewTools("skopeo", "opm").WithRunner(runner),
		PushRegistry: "registry.example",
	}}

	if err := add.Run(context.Background(), build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// index_image — перезаписанный from_index, не forge-build тег
	final := api.patch(2)
	if final["index_image"] != "registry.example/index:v4.10" {
		t.Errorf("expected overwritten from_index, got %v", final["index_image"])
	}

	// Токен уходит через authfile, не через аргументы
	if !runner.hasCall("skopeo", "copy", "--dest-authfile") {
		t.Error("overwrite push should use --dest-authfile")
	}
	if runner.hasCall("user:secretpass") {
		t.Error("token must not appear in command arguments")
	}
}

// --- RmRunner Tests ---

func TestRmRunner_Success(t *testing.T) {
	api := &recordingAPI{}

	payload := mq.RmBuildPayload{
		Operators:   []string{"prometheus", "etcd"},
		BinaryImage: "registry.example/binary:v1",
		FromIndex:   "registry.example/index:v4.10",
	}
	build, closeAPI := testBuild(t, api, mq.MessageTypeBuildRm, payload)
	defer closeAPI()

	output := "registry.example/forge-build:" + build.RequestID.String()
	runner := toolRunner(map[string]string{
		"registry.example/binary:v1":        "registry.example/binary@sha256:bbb",
		"registry.example/index:v4.10":      "registry.example/index@sha256:fff",
		"registry.example/index@sha256:fff": "registry.example/index@sha256:fff",
		output:                              "registry.example/forge-build@sha256:eee",
	}, []string{"amd64"})

	rm := &RmRunner{cfg: RunnerConfig{
		Tools:        NewTools("skopeo", "opm").WithRunner(runner),
		PushRegistry: "registry.example",
	}}

	if err := rm.Run(context.Background(), build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !runner.hasCall("opm", "index", "rm", "prometheus,etcd") {
		t.Error("opm index rm should receive the operators")
	}

	final := api.patch(2)
	if final["state"] != "complete" {
		t.Errorf("expected complete, got %v", final["state"])
	}
	if final["index_image"] != output {
		t.Errorf("expected index_image %s, got %v", output, final["index_image"])
	}
}

// --- RegenerateBundleRunner Tests ---

func TestRegenerateBundleRunner_Success(t *testing.T) {
	api := &recordingAPI{}

	payload := mq.RegenerateBundleBuildPayload{
		FromBundleImage: "quay.io/ns/bundle:1",
		Organization:    "acme",
	}
	build, closeAPI := testBuild(t, api, mq.MessageTypeBuildRegenerateBundle, payload)
	defer closeAPI()

	runner := toolRunner(map[string]string{
		"quay.io/ns/bundle:1": "quay.io/ns/bundle@sha256:ccc",
	}, []string{"amd64", "arm64"})

	regen := &RegenerateBundleRunner{cfg: RunnerConfig{
		Tools:        NewTools("skopeo", "opm").WithRunner(runner),
		PushRegistry: "registry.example",
	}}

	if err := regen.Run(context.Background(), build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := api.patch(0)
	if first["state_reason"] != "Resolving from_bundle_image" {
		t.Errorf("unexpected first phase: %v", first["state_reason"])
	}

	second := api.patch(1)
	if second["from_bundle_image_resolved"] != "quay.io/ns/bundle@sha256:ccc" {
		t.Errorf("unexpected from_bundle_image_resolved: %v", second["from_bundle_image_resolved"])
	}
	if second["state_reason"] != "Regenerating the bundle image for the following arches: amd64, arm64" {
		t.Errorf("unexpected phase: %v", second["state_reason"])
	}

	final := api.patch(2)
	expected := "registry.example/forge-build:" + build.RequestID.String()
	if final["bundle_image"] != expected {
		t.Errorf("expected bundle_image %s, got %v", expected, final["bundle_image"])
	}
	if final["state"] != "complete" {
		t.Errorf("expected complete, got %v", final["state"])
	}
}

func TestRegenerateBundleRunner_RegistryAuths(t *testing.T) {
	api := &recordingAPI{}

	payload := mq.RegenerateBundleBuildPayload{
		FromBundleImage: "quay.io/ns/bundle:1",
		RegistryAuths: map[string]any{
			"auths": map[string]any{"quay.io": map[string]string{"auth": "dXNlcjpwYXNz"}},
		},
	}
	build, closeAPI := testBuild(t, api, mq.MessageTypeBuildRegenerateBundle, payload)
	defer closeAPI()

	runner := toolRunner(map[string]string{
		"quay.io/ns/bundle:1": "quay.io/ns/bundle@sha256:ccc",
	}, []string{"amd64"})

	regen := &RegenerateBundleRunner{cfg: RunnerConfig{
		Tools:        NewTools("skopeo", "opm").WithRunner(runner),
		PushRegistry: "registry.example",
	}}

	if err := regen.Run(context.Background(), build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// registry_auths передаются skopeo через authfile
	if !runner.hasCall("skopeo", "--authfile") {
		t.Error("registry_auths should be passed via --authfile")
	}
	if runner.hasCall("dXNlcjpwYXNz") {
		t.Error("auth token must not appear in command arguments")
	}
}

func TestRegenerateBundleRunner_NoArches(t *testing.T) {
	api := &recordingAPI{}

	payload := mq.RegenerateBundleBuildPayload{
		FromBundleImage: "quay.io/ns/bundle:1",
	}
	build, closeAPI := testBuild(t, api, mq.MessageTypeBuildRegenerateBundle, payload)
	defer closeAPI()

	runner := &fakeRunner{
		run: func(name string, args []string) ([]byte, error) {
			for _, arg := range args {
				if arg == "--raw" {
					return []byte(`{"manifests": []}`), nil
				}
				if arg == "--format" && strings.Contains(args[len(args)-2], "Architecture") {
					return []byte("\n"), nil
				}
			}
			return []byte("quay.io/ns/bundle@sha256:ccc"), nil
		},
	}

	regen := &RegenerateBundleRunner{cfg: RunnerConfig{
		Tools:        NewTools("skopeo", "opm").WithRunner(runner),
		PushRegistry: "registry.example",
	}}

	err := regen.Run(context.Background(), build)
	if err == nil {
		t.Fatal("expected error for missing arches")
	}

	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %T: %v", err, err)
	}
	if !strings.HasPrefix(buildErr.Message, "No arches were found in the resolved from_bundle_image") {
		t.Errorf("unexpected message: %s", buildErr.Message)
	}
}

// --- Worker handler Tests ---

// failingRunner всегда возвращает заготовленную ошибку.
type failingRunner struct {
	err error
}

func (r *failingRunner) Run(context.Context, *Build) error {
	return r.err
}

func TestHandleBuild_BuildFailure(t *testing.T) {
	api := &recordingAPI{}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	registry := NewRegistry(RunnerConfig{})
	registry.Register(mq.MessageTypeBuildAdd, &failingRunner{
		err: Buildf("Failed to resolve the binary_image x: manifest unknown"),
	})

	w := New(Config{
		Registry: registry,
		Reporter: NewReporter(server.URL, "forge-worker", nil),
	})

	id := uuid.New()
	delivery := &mq.Delivery{Message: mq.Message{
		ID:      uuid.NewString(),
		Type:    mq.MessageTypeBuildAdd,
		Payload: map[string]any{"request_id": id.String()},
	}}

	// Ожидаемый провал — сообщение подтверждается (nil)
	if err := w.handleBuild(context.Background(), delivery); err != nil {
		t.Fatalf("expected ack for build failure, got %v", err)
	}

	if api.count() != 1 {
		t.Fatalf("expected 1 patch, got %d", api.count())
	}
	patch := api.patch(0)
	if patch["state"] != "failed" {
		t.Errorf("expected failed state, got %v", patch["state"])
	}
	if patch["state_reason"] != "Failed to resolve the binary_image x: manifest unknown" {
		t.Errorf("unexpected reason: %v", patch["state_reason"])
	}
}

func TestHandleBuild_InfrastructureError(t *testing.T) {
	registry := NewRegistry(RunnerConfig{})
	registry.Register(mq.MessageTypeBuildAdd, &failingRunner{
		err: fmt.Errorf("api unreachable"),
	})

	w := New(Config{Registry: registry})

	delivery := &mq.Delivery{Message: mq.Message{
		ID:      uuid.NewString(),
		Type:    mq.MessageTypeBuildAdd,
		Payload: map[string]any{"request_id": uuid.NewString()},
	}}

	// Инфраструктурная ошибка возвращается наружу (nack → DLQ)
	if err := w.handleBuild(context.Background(), delivery); err == nil {
		t.Fatal("expected error for infrastructure failure")
	}
}

func TestHandleBuild_UnknownType(t *testing.T) {
	w := New(Config{})

	delivery := &mq.Delivery{Message: mq.Message{
		ID:      uuid.NewString(),
		Type:    mq.MessageType("build.unknown"),
		Payload: map[string]any{"request_id": uuid.NewString()},
	}}

	if err := w.handleBuild(context.Background(), delivery); err == nil {
		t.Fatal("expected error for unknown build type")
	}
}

func TestHandleBuild_MissingRequestID(t *testing.T) {
	w := New(Config{})

	delivery := &mq.Delivery{Message: mq.Message{
		ID:      uuid.NewString(),
		Type:    mq.MessageTypeBuildAdd,
		Payload: map[string]any{"bundles": []string{"b"}},
	}}

	if err := w.handleBuild(context.Background(), delivery); err == nil {
		t.Fatal("expected error for payload without request_id")
	}
}

// --- Reporter Tests ---

func TestReporter_WorkerIdentity(t *testing.T) {
	api := &recordingAPI{}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	reporter := NewReporter(server.URL+"/", "forge-worker", nil)

	err := reporter.Patch(context.Background(), uuid.New(), map[string]any{"arches": []string{"amd64"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.users) != 1 || api.users[0] != "forge-worker" {
		t.Errorf("expected X-Remote-User forge-worker, got %v", api.users)
	}
}

func TestReporter_APIError(t *testing.T) {
	api := &recordingAPI{status: http.StatusBadRequest}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	reporter := NewReporter(server.URL, "forge-worker", nil)

	err := reporter.Patch(context.Background(), uuid.New(), map[string]any{"bogus": true})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "keys are not allowed") {
		t.Errorf("error should carry the API message, got: %v", err)
	}
}

// --- Registry Tests ---

func TestNewRegistry_DefaultRunners(t *testing.T) {
	r := NewRegistry(RunnerConfig{})

	for _, msgType := range []mq.MessageType{
		mq.MessageTypeBuildAdd,
		mq.MessageTypeBuildRm,
		mq.MessageTypeBuildRegenerateBundle,
	} {
		runner, err := r.Get(msgType)
		if err != nil {
			t.Errorf("expected runner for %s, got error: %v", msgType, err)
		}
		if runner == nil {
			t.Errorf("runner for %s should not be nil", msgType)
		}
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry(RunnerConfig{})

	_, err := r.Get(mq.MessageTypeStateChanged)
	if err == nil {
		t.Error("expected error for unknown message type")
	}
}

// --- Worker Tests ---

func TestNew_DefaultConfig(t *testing.T) {
	w := New(Config{})

	if w.prefetch != defaultPrefetch {
		t.Errorf("expected default prefetch %d, got %d", defaultPrefetch, w.prefetch)
	}
	if w.registry == nil {
		t.Error("registry should be initialized")
	}
}

func TestWorker_IsStopped(t *testing.T) {
	w := New(Config{})

	if w.IsStopped() {
		t.Error("should not be stopped initially")
	}

	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	if !w.IsStopped() {
		t.Error("should be stopped")
	}
}

// --- BuildLog Tests ---

func TestOpenBuildLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	id := uuid.New()

	buildLog, err := OpenBuildLog(dir, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buildLog.Logger.Info("resolving the container images", "binary_image", "registry.example/binary:v1")
	if err := buildLog.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, id.String()+".log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "resolving the container images") {
		t.Errorf("log file should contain the message, got: %s", data)
	}
}

// --- Tools Tests ---

func TestTools_ImageArches_SingleArch(t *testing.T) {
	// Не manifest list: архитектура берётся из конфига образа
	runner := &fakeRunner{
		run: func(name string, args []string) ([]byte, error) {
			for _, arg := range args {
				if arg == "--raw" {
					return []byte(`{"schemaVersion": 2, "config": {}}`), nil
				}
			}
			return []byte("ppc64le\n"), nil
		},
	}

	tools := NewTools("skopeo", "opm").WithRunner(runner)

	arches, err := tools.ImageArches(context.Background(), "registry.example/img:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(arches) != 1 || arches[0] != "ppc64le" {
		t.Errorf("expected [ppc64le], got %v", arches)
	}
}

func TestUnionArches(t *testing.T) {
	got := unionArches([]string{"s390x", "amd64"}, []string{"amd64", "", "arm64"})

	want := []string{"amd64", "arm64", "s390x"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

