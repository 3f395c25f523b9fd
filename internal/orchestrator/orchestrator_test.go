package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
)

// --- Fakes ---

type fakeStore struct {
	batches  []*domain.Batch
	requests [][]*domain.Request
	err      error
}

func (s *fakeStore) CreateWithRequests(ctx context.Context, batch *domain.Batch, requests []*domain.Request) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	s.requests = append(s.requests, requests)
	return nil
}

// fakeSubmitter records submitted builds. failFrom is the 1-based call
// number from which every Submit fails.
type fakeSubmitter struct {
	calls    int
	failFrom int
	queues   []string
	types    []mq.MessageType
	payloads []any
}

func (s *fakeSubmitter) Submit(ctx context.Context, queue string, msgType mq.MessageType, payload any) error {
	s.calls++
	if s.failFrom > 0 && s.calls >= s.failFrom {
		return fmt.Errorf("%w: connection refused", ErrBrokerUnavailable)
	}
	s.queues = append(s.queues, queue)
	s.types = append(s.types, msgType)
	s.payloads = append(s.payloads, payload)
	return nil
}

type fakeStates struct {
	ids     []uuid.UUID
	states  []domain.RequestState
	reasons []string
}

func (s *fakeStates) AppendState(ctx context.Context, id uuid.UUID, state domain.RequestState, reason string) (bool, error) {
	s.ids = append(s.ids, id)
	s.states = append(s.states, state)
	s.reasons = append(s.reasons, reason)
	return true, nil
}

type recordingNotifier struct {
	stateChanged []uuid.UUID
	batches      []*domain.Batch
	users        []string
}

func (n *recordingNotifier) StateChanged(ctx context.Context, req *domain.Request) error {
	n.stateChanged = append(n.stateChanged, req.ID)
	return nil
}

func (n *recordingNotifier) BatchCreated(ctx context.Context, batch *domain.Batch, user string) error {
	n.batches = append(n.batches, batch)
	n.users = append(n.users, user)
	return nil
}

type fixture struct {
	store     *fakeStore
	submitter *fakeSubmitter
	states    *fakeStates
	notifier  *recordingNotifier
	builder   *Builder
}

func newFixture(routerCfg RouterConfig) *fixture {
	if routerCfg.DefaultQueue == "" {
		routerCfg.DefaultQueue = "forge-builds"
	}

	f := &fixture{
		store:     &fakeStore{},
		submitter: &fakeSubmitter{},
		states:    &fakeStates{},
		notifier:  &recordingNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dispatcher := NewDispatcher(DispatcherConfig{
		Submitter: f.submitter,
		States:    f.states,
		Notifier:  f.notifier,
		Logger:    logger,
	})
	f.builder = NewBuilder(BuilderConfig{
		Store:      f.store,
		Router:     NewRouter(routerCfg),
		Dispatcher: dispatcher,
		Notifier:   f.notifier,
		Logger:     logger,
	})
	return f
}

func validAdd() domain.AddPayload {
	return domain.AddPayload{
		Bundles:     []string{"quay.io/ns/bundle:1.0"},
		BinaryImage: "quay.io/ns/binary:4.9",
		FromIndex:   "quay.io/ns/index:4.9",
	}
}

func validRm() domain.RmPayload {
	return domain.RmPayload{
		Operators:   []string{"etcd"},
		BinaryImage: "quay.io/ns/binary:4.9",
		FromIndex:   "quay.io/ns/index:4.9",
	}
}

var caller = domain.CallerContext{Identity: "alice", Authenticated: true}

// --- Router Tests ---

func TestRouter_Route(t *testing.T) {
	router := NewRouter(RouterConfig{
		DefaultQueue: "forge-builds",
		UserToQueue: map[string]string{
			"SERIAL:osbs":   "forge-serial-osbs",
			"PARALLEL:osbs": "forge-parallel-osbs",
			"legacy":        "forge-legacy",
		},
	})

	tests := []struct {
		name   string
		caller domain.CallerContext
		serial bool
		want   string
	}{
		{"unauthenticated uses default", domain.CallerContext{}, true, "forge-builds"},
		{"serial label wins", domain.CallerContext{Identity: "osbs", Authenticated: true}, true, "forge-serial-osbs"},
		{"parallel label wins", domain.CallerContext{Identity: "osbs", Authenticated: true}, false, "forge-parallel-osbs"},
		{"bare identity fallback", domain.CallerContext{Identity: "legacy", Authenticated: true}, true, "forge-legacy"},
		{"unknown user uses default", domain.CallerContext{Identity: "someone", Authenticated: true}, false, "forge-builds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := router.Route(tt.caller, tt.serial); got != tt.want {
				t.Errorf("Route() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouter_RequiresSerial(t *testing.T) {
	router := NewRouter(RouterConfig{
		DefaultQueue:    "forge-builds",
		ForceOverwrite:  true,
		PrivilegedUsers: []string{"exd"},
	})

	if !router.RequiresSerial(caller, true) {
		t.Error("overwrite in payload must force serial execution")
	}
	if router.RequiresSerial(caller, false) {
		t.Error("unprivileged user without overwrite must stay parallel")
	}

	exd := domain.CallerContext{Identity: "exd", Authenticated: true}
	if !router.RequiresSerial(exd, false) {
		t.Error("privileged user under forced overwrite must be serial")
	}

	// The global flag never applies to unauthenticated callers.
	if router.RequiresSerial(domain.CallerContext{Identity: "exd"}, false) {
		t.Error("unauthenticated caller must not be forced serial")
	}
}

// --- Builder Tests ---

func TestBuilder_SubmitAdd(t *testing.T) {
	f := newFixture(RouterConfig{})

	req, err := f.builder.SubmitAdd(context.Background(), caller, validAdd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.Type != domain.RequestTypeAdd {
		t.Errorf("expected add request, got %s", req.Type)
	}
	if req.State != domain.RequestStateInProgress {
		t.Errorf("expected in_progress, got %s", req.State)
	}
	if req.StateReason != domain.StateReasonInitiated {
		t.Errorf("unexpected state reason: %s", req.StateReason)
	}

	// Persisted as a single-request batch.
	if len(f.store.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(f.store.batches))
	}
	if req.BatchID != f.store.batches[0].ID {
		t.Error("request should carry the batch id")
	}
	if len(f.store.requests[0]) != 1 || f.store.requests[0][0] != req {
		t.Error("the returned request should be the persisted one")
	}

	// Dispatched to the default queue.
	if f.submitter.calls != 1 {
		t.Fatalf("expected 1 submit, got %d", f.submitter.calls)
	}
	if f.submitter.queues[0] != "forge-builds" {
		t.Errorf("unexpected queue: %s", f.submitter.queues[0])
	}
	if f.submitter.types[0] != mq.MessageTypeBuildAdd {
		t.Errorf("unexpected message type: %s", f.submitter.types[0])
	}
	payload := f.submitter.payloads[0].(mq.AddBuildPayload)
	if payload.RequestID != req.ID {
		t.Error("build payload should carry the request id")
	}
	if len(payload.Bundles) != 1 || payload.Bundles[0] != "quay.io/ns/bundle:1.0" {
		t.Errorf("unexpected bundles: %v", payload.Bundles)
	}

	// One batch.created event, no state changes.
	if len(f.notifier.batches) != 1 {
		t.Errorf("expected 1 batch.created event, got %d", len(f.notifier.batches))
	}
	if f.notifier.users[0] != "alice" {
		t.Errorf("unexpected event user: %s", f.notifier.users[0])
	}
	if len(f.notifier.stateChanged) != 0 {
		t.Errorf("expected no state changes, got %d", len(f.notifier.stateChanged))
	}
}

func TestBuilder_SubmitAdd_InvalidPayload(t *testing.T) {
	f := newFixture(RouterConfig{})

	_, err := f.builder.SubmitAdd(context.Background(), caller, domain.AddPayload{})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	if len(f.store.batches) != 0 {
		t.Error("invalid payload must not be persisted")
	}
	if f.submitter.calls != 0 {
		t.Error("invalid payload must not be dispatched")
	}
}

func TestBuilder_SubmitAddRmBatch_MixedVariants(t *testing.T) {
	f := newFixture(RouterConfig{})

	members := []json.RawMessage{
		json.RawMessage(`{"operators": ["etcd"], "binary_image": "quay.io/ns/binary:4.9", "from_index": "quay.io/ns/index:4.9"}`),
		json.RawMessage(`{"bundles": ["quay.io/ns/bundle:1.0"], "binary_image": "quay.io/ns/binary:4.9", "from_index": "quay.io/ns/index:4.9"}`),
	}

	requests, err := f.builder.SubmitAddRmBatch(context.Background(), caller,
		map[string]any{"origin": "freshmaker"}, members)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	// The operators member is rm, the bundles member is add.
	if requests[0].Type != domain.RequestTypeRm {
		t.Errorf("member 0 should be rm, got %s", requests[0].Type)
	}
	if requests[1].Type != domain.RequestTypeAdd {
		t.Errorf("member 1 should be add, got %s", requests[1].Type)
	}

	if len(f.store.batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(f.store.batches))
	}
	batch := f.store.batches[0]
	if len(batch.RequestIDs) != 2 {
		t.Errorf("batch should list both requests, got %d", len(batch.RequestIDs))
	}
	if batch.Annotations["origin"] != "freshmaker" {
		t.Error("batch annotations should be preserved")
	}

	if len(f.notifier.batches) != 1 {
		t.Errorf("expected a single batch.created event, got %d", len(f.notifier.batches))
	}
	if f.submitter.calls != 2 {
		t.Errorf("expected 2 submits, got %d", f.submitter.calls)
	}
}

func TestBuilder_SubmitAddRmBatch_InvalidMemberIndex(t *testing.T) {
	f := newFixture(RouterConfig{})

	// The second member misses binary_image.
	members := []json.RawMessage{
		json.RawMessage(`{"bundles": ["quay.io/ns/bundle:1.0"], "binary_image": "quay.io/ns/binary:4.9", "from_index": "quay.io/ns/index:4.9"}`),
		json.RawMessage(`{"bundles": ["quay.io/ns/bundle:2.0"]}`),
	}

	_, err := f.builder.SubmitAddRmBatch(context.Background(), caller, nil, members)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.HasSuffix(err.Error(), "This occurred on the build request in index 1.") {
		t.Errorf("error should name the failing member index: %v", err)
	}

	// All-or-nothing: nothing persisted, nothing dispatched.
	if len(f.store.batches) != 0 {
		t.Error("failing batch must not be persisted")
	}
	if f.submitter.calls != 0 {
		t.Error("failing batch must not be dispatched")
	}
}

func TestBuilder_SubmitAddRmBatch_UnrecognizedMember(t *testing.T) {
	f := newFixture(RouterConfig{})

	members := []json.RawMessage{json.RawMessage(`{"from_bundle_image": "quay.io/ns/bundle:1.0"}`)}

	_, err := f.builder.SubmitAddRmBatch(context.Background(), caller, nil, members)
	if err == nil {
		t.Fatal("expected validation error")
	}
	want := "Build request is not a valid Add/Rm request. This occurred on the build request in index 0."
	if err.Error() != want {
		t.Errorf("unexpected error: %q", err.Error())
	}
}

func TestBuilder_SubmitAddRmBatch_Empty(t *testing.T) {
	f := newFixture(RouterConfig{})

	_, err := f.builder.SubmitAddRmBatch(context.Background(), caller, nil, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), `"build_requests" should be a non-empty array`) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuilder_SubmitRegenerateBundleBatch(t *testing.T) {
	f := newFixture(RouterConfig{})

	members := []json.RawMessage{
		json.RawMessage(`{"from_bundle_image": "quay.io/ns/bundle:1.0", "organization": "acme"}`),
	}

	requests, err := f.builder.SubmitRegenerateBundleBatch(context.Background(), caller, nil, members)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].Type != domain.RequestTypeRegenerateBundle {
		t.Errorf("unexpected type: %s", requests[0].Type)
	}

	payload := f.submitter.payloads[0].(mq.RegenerateBundleBuildPayload)
	if payload.Organization != "acme" {
		t.Errorf("unexpected organization: %s", payload.Organization)
	}
}

func TestBuilder_SubmitRegenerateBundleBatch_InvalidMember(t *testing.T) {
	f := newFixture(RouterConfig{})

	members := []json.RawMessage{json.RawMessage(`{"from_bundle_image": ""}`)}

	_, err := f.builder.SubmitRegenerateBundleBatch(context.Background(), caller, nil, members)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.HasSuffix(err.Error(), "This occurred on the build request in index 0.") {
		t.Errorf("error should name the failing member index: %v", err)
	}
}

func TestBuilder_ForceOverwrite(t *testing.T) {
	f := newFixture(RouterConfig{
		UserToQueue:     map[string]string{"SERIAL:exd": "forge-serial"},
		ForceOverwrite:  true,
		PrivilegedUsers: []string{"exd"},
	})
	exd := domain.CallerContext{Identity: "exd", Authenticated: true}

	req, err := f.builder.SubmitAdd(context.Background(), exd, validAdd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !req.Add.OverwriteFromIndex {
		t.Error("privileged request should be forced to overwrite from_index")
	}
	payload := f.submitter.payloads[0].(mq.AddBuildPayload)
	if !payload.OverwriteFromIndex {
		t.Error("build payload should carry the forced overwrite")
	}
	if f.submitter.queues[0] != "forge-serial" {
		t.Errorf("forced overwrite should route to the serial queue, got %s", f.submitter.queues[0])
	}
}

func TestBuilder_ForceOverwrite_NoFromIndex(t *testing.T) {
	f := newFixture(RouterConfig{
		ForceOverwrite:  true,
		PrivilegedUsers: []string{"exd"},
	})
	exd := domain.CallerContext{Identity: "exd", Authenticated: true}

	p := validAdd()
	p.FromIndex = ""
	p.AddArches = []string{"amd64"}

	req, err := f.builder.SubmitAdd(context.Background(), exd, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// There is nothing to overwrite without a from_index.
	if req.Add.OverwriteFromIndex {
		t.Error("overwrite must not be forced without from_index")
	}
}

func TestBuilder_StoreFailure(t *testing.T) {
	f := newFixture(RouterConfig{})
	f.store.err = errors.New("connection reset")

	_, err := f.builder.SubmitAdd(context.Background(), caller, validAdd())
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if !strings.Contains(err.Error(), "persist batch") {
		t.Errorf("unexpected error: %v", err)
	}
	if f.submitter.calls != 0 {
		t.Error("nothing must be dispatched when the batch is not persisted")
	}
	if len(f.notifier.batches) != 0 {
		t.Error("no batch.created event for an unsaved batch")
	}
}

// --- Dispatcher Tests ---

func TestDispatcher_PartialBrokerFailure(t *testing.T) {
	f := newFixture(RouterConfig{})
	f.submitter.failFrom = 3

	members := make([]json.RawMessage, 5)
	for i := range members {
		members[i] = json.RawMessage(`{"from_bundle_image": "quay.io/ns/bundle:1.0"}`)
	}

	requests, err := f.builder.SubmitRegenerateBundleBatch(context.Background(), caller, nil, members)
	if err != nil {
		t.Fatalf("batch creation must survive dispatch failures: %v", err)
	}

	// Every submission is attempted, in order.
	if f.submitter.calls != 5 {
		t.Errorf("expected 5 submit attempts, got %d", f.submitter.calls)
	}
	if len(f.submitter.payloads) != 2 {
		t.Errorf("expected 2 successful submits, got %d", len(f.submitter.payloads))
	}

	// Only the requests whose dispatch failed are marked failed.
	if len(f.states.ids) != 3 {
		t.Fatalf("expected 3 failed requests, got %d", len(f.states.ids))
	}
	for i, id := range f.states.ids {
		if id != requests[i+2].ID {
			t.Errorf("failed request %d mismatch: got %s, want %s", i, id, requests[i+2].ID)
		}
		if f.states.states[i] != domain.RequestStateFailed {
			t.Errorf("expected failed state, got %s", f.states.states[i])
		}
		if f.states.reasons[i] != domain.StateReasonBrokerUnavailable {
			t.Errorf("unexpected reason: %q", f.states.reasons[i])
		}
	}

	// A state change event per failed request.
	if len(f.notifier.stateChanged) != 3 {
		t.Errorf("expected 3 state change events, got %d", len(f.notifier.stateChanged))
	}
}

func TestDispatcher_BuildArgs_RedactsSecrets(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(DispatcherConfig{Submitter: &fakeSubmitter{}, States: &fakeStates{}, Logger: logger})

	p := validAdd()
	p.CnrToken = "legacy-token"
	p.OverwriteFromIndex = true
	p.OverwriteFromIndexToken = "user:secretpass"
	sub := Submission{Request: domain.NewAddRequest(p, "alice"), Queue: "forge-builds", Add: &p}

	msgType, payload, redacted := d.buildArgs(&sub)

	if msgType != mq.MessageTypeBuildAdd {
		t.Errorf("unexpected message type: %s", msgType)
	}

	// The dispatched payload keeps the secrets.
	full := payload.(mq.AddBuildPayload)
	if full.CnrToken != "legacy-token" || full.OverwriteToken != "user:secretpass" {
		t.Error("dispatched payload must keep the real tokens")
	}

	// The loggable form masks them.
	masked := redacted.(mq.AddBuildPayload)
	if masked.CnrToken != mq.RedactedValue {
		t.Errorf("cnr_token must be masked, got %q", masked.CnrToken)
	}
	if masked.OverwriteToken != mq.RedactedValue {
		t.Errorf("overwrite token must be masked, got %q", masked.OverwriteToken)
	}
}

func TestDispatcher_BuildArgs_RmVariant(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(DispatcherConfig{Submitter: &fakeSubmitter{}, States: &fakeStates{}, Logger: logger})

	p := validRm()
	p.OverwriteFromIndexToken = "user:secretpass"
	sub := Submission{Request: domain.NewRmRequest(p, "alice"), Queue: "forge-builds", Rm: &p}

	msgType, payload, redacted := d.buildArgs(&sub)

	if msgType != mq.MessageTypeBuildRm {
		t.Errorf("unexpected message type: %s", msgType)
	}
	full := payload.(mq.RmBuildPayload)
	if len(full.Operators) != 1 || full.Operators[0] != "etcd" {
		t.Errorf("unexpected operators: %v", full.Operators)
	}
	if redacted.(mq.RmBuildPayload).OverwriteToken != mq.RedactedValue {
		t.Error("overwrite token must be masked in the loggable form")
	}
}

func TestDispatcher_GatingPolicy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(DispatcherConfig{
		Submitter: &fakeSubmitter{},
		States:    &fakeStates{},
		Gating: map[string]mq.GatingPolicy{
			"forge-serial": {DecisionContext: "index_gate", ProductVersion: "4.9", SubjectType: "koji_build"},
		},
		Logger: logger,
	})

	p := validAdd()
	gated := Submission{Request: domain.NewAddRequest(p, "alice"), Queue: "forge-serial", Add: &p}
	_, payload, _ := d.buildArgs(&gated)
	got := payload.(mq.AddBuildPayload)
	if got.Gating == nil || got.Gating.DecisionContext != "index_gate" {
		t.Error("gated queue should attach its gating policy")
	}

	plain := Submission{Request: domain.NewAddRequest(p, "alice"), Queue: "forge-builds", Add: &p}
	_, payload, _ = d.buildArgs(&plain)
	if payload.(mq.AddBuildPayload).Gating != nil {
		t.Error("queue without a policy must not carry gating")
	}
}

// --- Patcher Tests ---

func TestCheckAllowedKeys(t *testing.T) {
	req := domain.NewAddRequest(validAdd(), "worker")

	payload := map[string]json.RawMessage{
		"state":        json.RawMessage(`"complete"`),
		"state_reason": json.RawMessage(`"The request completed successfully"`),
		"index_image":  json.RawMessage(`"registry.example/forge-build:uuid"`),
	}
	if err := checkAllowedKeys(req, payload); err != nil {
		t.Errorf("allowed keys rejected: %v", err)
	}

	payload = map[string]json.RawMessage{
		"bundle_image": json.RawMessage(`"quay.io/ns/bundle:1.0"`),
	}
	err := checkAllowedKeys(req, payload)
	if err == nil {
		t.Fatal("regenerate-bundle keys must be rejected on an add request")
	}
	if !strings.Contains(err.Error(), "The following keys are not allowed: bundle_image") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckAllowedKeys_SortsInvalid(t *testing.T) {
	req := domain.NewAddRequest(validAdd(), "worker")

	payload := map[string]json.RawMessage{
		"zebra": json.RawMessage(`1`),
		"alpha": json.RawMessage(`2`),
	}
	err := checkAllowedKeys(req, payload)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "alpha, zebra") {
		t.Errorf("invalid keys should be sorted: %v", err)
	}
}

func TestCheckStatePair(t *testing.T) {
	stateOnly := map[string]json.RawMessage{"state": json.RawMessage(`"failed"`)}
	if err := checkStatePair(stateOnly); err == nil {
		t.Error("state without state_reason must be rejected")
	}

	reasonOnly := map[string]json.RawMessage{"state_reason": json.RawMessage(`"broken"`)}
	if err := checkStatePair(reasonOnly); err == nil {
		t.Error("state_reason without state must be rejected")
	}

	both := map[string]json.RawMessage{
		"state":        json.RawMessage(`"failed"`),
		"state_reason": json.RawMessage(`"broken"`),
	}
	if err := checkStatePair(both); err != nil {
		t.Errorf("paired state keys rejected: %v", err)
	}

	neither := map[string]json.RawMessage{"arches": json.RawMessage(`["amd64"]`)}
	if err := checkStatePair(neither); err != nil {
		t.Errorf("payload without state keys rejected: %v", err)
	}
}

func TestBuildPatch(t *testing.T) {
	payload := map[string]json.RawMessage{
		"arches":               json.RawMessage(`["amd64", "s390x"]`),
		"state":                json.RawMessage(`"complete"`),
		"state_reason":         json.RawMessage(`"The request completed successfully"`),
		"index_image":          json.RawMessage(`"registry.example/forge-build:uuid"`),
		"index_image_resolved": json.RawMessage(`"registry.example/forge-build@sha256:abc"`),
		"bundle_mapping":       json.RawMessage(`{"prometheus": ["quay.io/ns/bundle:1.0"]}`),
		"distribution_scope":   json.RawMessage(`"prod"`),
	}

	patch, err := buildPatch(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(patch.Arches) != 2 {
		t.Errorf("expected 2 arches, got %v", patch.Arches)
	}
	if patch.State == nil || *patch.State != domain.RequestStateComplete {
		t.Error("state should be parsed to complete")
	}
	if patch.StateReason != "The request completed successfully" {
		t.Errorf("unexpected state reason: %q", patch.StateReason)
	}
	if patch.ResolvedImages["index_image"] != "registry.example/forge-build:uuid" {
		t.Errorf("unexpected index_image: %v", patch.ResolvedImages)
	}
	if patch.ResolvedImages["index_image_resolved"] != "registry.example/forge-build@sha256:abc" {
		t.Errorf("unexpected index_image_resolved: %v", patch.ResolvedImages)
	}
	if len(patch.BundleMapping["prometheus"]) != 1 {
		t.Errorf("unexpected bundle_mapping: %v", patch.BundleMapping)
	}
	if patch.DistributionScope != "prod" {
		t.Errorf("unexpected distribution_scope: %q", patch.DistributionScope)
	}
}

func TestBuildPatch_InvalidValues(t *testing.T) {
	// Empty string inside arches.
	_, err := buildPatch(map[string]json.RawMessage{
		"arches": json.RawMessage(`["amd64", ""]`),
	})
	if err == nil || !strings.Contains(err.Error(), `The value for "arches" must be an array of non-empty strings`) {
		t.Errorf("unexpected error: %v", err)
	}

	// Unknown state value.
	_, err = buildPatch(map[string]json.RawMessage{
		"state": json.RawMessage(`"sleeping"`),
	})
	if err == nil || !strings.Contains(err.Error(), "sleeping") {
		t.Errorf("unexpected error: %v", err)
	}

	// Empty image reference.
	_, err = buildPatch(map[string]json.RawMessage{
		"index_image": json.RawMessage(`""`),
	})
	if err == nil || !strings.Contains(err.Error(), `The value for "index_image" must be a non-empty string`) {
		t.Errorf("unexpected error: %v", err)
	}

	// Wrong distribution scope.
	_, err = buildPatch(map[string]json.RawMessage{
		"distribution_scope": json.RawMessage(`"internal"`),
	})
	if err == nil || !strings.Contains(err.Error(), "distribution_scope") {
		t.Errorf("unexpected error: %v", err)
	}
}

// --- Member annotation ---

func TestAnnotateMemberError(t *testing.T) {
	err := annotateMemberError(domain.Validationf(`"binary_image" must be a non-empty string`), 2)
	want := `"binary_image" must be a non-empty string. This occurred on the build request in index 2.`
	if err.Error() != want {
		t.Errorf("unexpected annotation: %q", err.Error())
	}

	// Non-validation errors pass through untouched.
	plain := errors.New("disk full")
	if got := annotateMemberError(plain, 0); got != plain {
		t.Errorf("infrastructure errors must not be annotated: %v", got)
	}
}
