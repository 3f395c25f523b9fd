package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

// --- State Machine Tests ---

func newTestRequest() *Request {
	return &Request{
		ID:          uuid.New(),
		Type:        RequestTypeAdd,
		State:       RequestStateInProgress,
		StateReason: StateReasonInitiated,
		History: []StateEntry{
			{State: RequestStateInProgress, Reason: StateReasonInitiated},
		},
		Add: &AddDetails{},
	}
}

func TestRequest_AddState_Transition(t *testing.T) {
	req := newTestRequest()

	changed, err := req.AddState(RequestStateComplete, StateReasonCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("transition to complete should report a change")
	}
	if req.State != RequestStateComplete {
		t.Errorf("expected state complete, got %s", req.State)
	}
	if req.StateReason != StateReasonCompleted {
		t.Errorf("unexpected state reason: %s", req.StateReason)
	}
	if len(req.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(req.History))
	}
	if req.History[len(req.History)-1].State != RequestStateComplete {
		t.Error("current state should be the last history entry")
	}
}

func TestRequest_AddState_IdempotentRepeat(t *testing.T) {
	req := newTestRequest()

	// First delivery of the completion report.
	changed, err := req.AddState(RequestStateComplete, StateReasonCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("first delivery should transition")
	}

	// Duplicate delivery of the exact same (state, reason) pair.
	changed, err = req.AddState(RequestStateComplete, StateReasonCompleted)
	if err != nil {
		t.Fatalf("duplicate delivery should not error: %v", err)
	}
	if changed {
		t.Error("duplicate delivery should be a no-op")
	}
	if len(req.History) != 2 {
		t.Errorf("duplicate delivery must not append history, got %d entries", len(req.History))
	}
}

func TestRequest_AddState_SameStateNewReason(t *testing.T) {
	req := newTestRequest()

	// Progress reports keep the state but change the reason.
	changed, err := req.AddState(RequestStateInProgress, "Resolving the container images")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("new reason within the same state should transition")
	}
	if len(req.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(req.History))
	}
}

func TestRequest_AddState_NoResurrection(t *testing.T) {
	for _, terminal := range []RequestState{RequestStateComplete, RequestStateFailed} {
		req := newTestRequest()
		if _, err := req.AddState(terminal, "done"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err := req.AddState(RequestStateInProgress, "trying again")
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("leaving %s should fail with ErrIllegalTransition, got %v", terminal, err)
		}
		if req.State != terminal {
			t.Errorf("state should remain %s, got %s", terminal, req.State)
		}
		if len(req.History) != 2 {
			t.Errorf("failed transition must not append history, got %d entries", len(req.History))
		}
	}
}

func TestRequest_AddState_TerminalToTerminal(t *testing.T) {
	req := newTestRequest()
	if _, err := req.AddState(RequestStateComplete, StateReasonCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := req.AddState(RequestStateFailed, "late failure report")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestRequest_AddState_UnknownState(t *testing.T) {
	req := newTestRequest()

	_, err := req.AddState(RequestState("cancelled"), "nope")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if len(req.History) != 1 {
		t.Error("invalid state must not append history")
	}
}

func TestParseRequestState(t *testing.T) {
	state, err := ParseRequestState("complete")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != RequestStateComplete {
		t.Errorf("expected complete, got %s", state)
	}

	if _, err := ParseRequestState("COMPLETE"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("state names are case-sensitive, got %v", err)
	}
}

func TestRequestState_IsTerminal(t *testing.T) {
	if RequestStateInProgress.IsTerminal() {
		t.Error("in_progress is not terminal")
	}
	if !RequestStateComplete.IsTerminal() {
		t.Error("complete is terminal")
	}
	if !RequestStateFailed.IsTerminal() {
		t.Error("failed is terminal")
	}
}

func TestRequest_AddArchitecture(t *testing.T) {
	req := newTestRequest()

	if !req.AddArchitecture("amd64") {
		t.Error("first add should report true")
	}
	if req.AddArchitecture("amd64") {
		t.Error("duplicate add should report false")
	}
	if !req.AddArchitecture("s390x") {
		t.Error("second architecture should report true")
	}
	if len(req.Arches) != 2 {
		t.Errorf("expected 2 arches, got %d", len(req.Arches))
	}
}

func TestRequest_MutableKeys(t *testing.T) {
	add := &Request{Type: RequestTypeAdd}
	keys := add.MutableKeys()
	for _, k := range []string{"state", "state_reason", "arches", "bundle_mapping", "index_image"} {
		if !keys[k] {
			t.Errorf("add request should allow patching %q", k)
		}
	}
	if keys["bundles"] {
		t.Error("bundles must not be patchable")
	}

	regen := &Request{Type: RequestTypeRegenerateBundle}
	keys = regen.MutableKeys()
	if !keys["bundle_image"] {
		t.Error("regenerate-bundle should allow patching bundle_image")
	}
	if keys["bundle_mapping"] {
		t.Error("regenerate-bundle must not allow bundle_mapping")
	}
}

// --- Payload Validation Tests ---

func TestAddPayload_Validate(t *testing.T) {
	valid := AddPayload{
		Bundles:     []string{"registry.example.com/bundle:v1"},
		BinaryImage: "registry.example.com/binary:latest",
		FromIndex:   "registry.example.com/index:v4.9",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*AddPayload)
		wantMsg string
	}{
		{
			name:    "empty bundles",
			mutate:  func(p *AddPayload) { p.Bundles = nil },
			wantMsg: `"bundles" should be a non-empty array of strings`,
		},
		{
			name:    "blank bundle entry",
			mutate:  func(p *AddPayload) { p.Bundles = []string{""} },
			wantMsg: `"bundles" should be a non-empty array of strings`,
		},
		{
			name:    "missing binary image",
			mutate:  func(p *AddPayload) { p.BinaryImage = "" },
			wantMsg: `"binary_image" must be a non-empty string`,
		},
		{
			name: "neither from_index nor add_arches",
			mutate: func(p *AddPayload) {
				p.FromIndex = ""
				p.AddArches = nil
			},
			wantMsg: `One of "from_index" or "add_arches" must be specified`,
		},
		{
			name:    "token without overwrite",
			mutate:  func(p *AddPayload) { p.OverwriteFromIndexToken = "secret" },
			wantMsg: `The "overwrite_from_index_token" parameter is provided without the "overwrite_from_index" parameter`,
		},
		{
			name: "overwrite without from_index",
			mutate: func(p *AddPayload) {
				p.FromIndex = ""
				p.AddArches = []string{"amd64"}
				p.OverwriteFromIndex = true
			},
			wantMsg: `The "overwrite_from_index" parameter is only valid when "from_index" is specified`,
		},
		{
			name:    "bogus distribution scope",
			mutate:  func(p *AddPayload) { p.DistributionScope = "production" },
			wantMsg: `The "distribution_scope" value must be one of "dev", "stage", or "prod"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("unexpected message:\n got %q\nwant %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestRmPayload_Validate(t *testing.T) {
	valid := RmPayload{
		Operators:   []string{"prometheus"},
		BinaryImage: "registry.example.com/binary:latest",
		FromIndex:   "registry.example.com/index:v4.9",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	p := valid
	p.Operators = nil
	if err := p.Validate(); err == nil || err.Error() != `"operators" should be a non-empty array of strings` {
		t.Errorf("unexpected error for empty operators: %v", err)
	}

	p = valid
	p.FromIndex = ""
	if err := p.Validate(); err == nil || err.Error() != `"from_index" must be a non-empty string` {
		t.Errorf("unexpected error for missing from_index: %v", err)
	}
}

func TestRegenerateBundlePayload_Validate(t *testing.T) {
	p := RegenerateBundlePayload{FromBundleImage: "registry.example.com/bundle:v1"}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	p.FromBundleImage = ""
	err := p.Validate()
	if err == nil || err.Error() != `"from_bundle_image" must be a non-empty string` {
		t.Errorf("unexpected error: %v", err)
	}
}
