package evaluation

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPendingDynamicFieldsSortedAndFiltered(t *testing.T) {
	out := EvaluationOutput{
		"zeta":  {FetchDynamicValues: &DynamicValues{AllowedToFetch: true}},
		"alpha": {FetchDynamicValues: &DynamicValues{AllowedToFetch: true}},
		"beta":  {FetchDynamicValues: &DynamicValues{AllowedToFetch: false}},
		"plain": {},
		"nil":   nil,
	}

	keys := out.PendingDynamicFields()
	if len(keys) != 2 {
		t.Fatalf("expected 2 pending fields, got %d (%v)", len(keys), keys)
	}
	if keys[0] != "alpha" || keys[1] != "zeta" {
		t.Fatalf("expected sorted keys [alpha zeta], got %v", keys)
	}
}

func TestPendingDynamicFieldsEmptyOutput(t *testing.T) {
	var out EvaluationOutput
	if keys := out.PendingDynamicFields(); len(keys) != 0 {
		t.Fatalf("expected no pending fields, got %v", keys)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	original := EvaluationOutput{
		"command": {
			Visible: true,
			FetchDynamicValues: &DynamicValues{
				AllowedToFetch:  true,
				EvaluatedConfig: TriggerConfig{Params: map[string]any{"bucket": "{{actionConfiguration.formData.bucket.data}}"}},
				State:           DynamicValuesState{Data: json.RawMessage(`[1]`)},
			},
		},
	}

	clone := original.Clone()
	clone["command"].Visible = false
	clone["command"].FetchDynamicValues.EvaluatedConfig.Params["bucket"] = "mutated"
	clone["command"].FetchDynamicValues.State.Data[1] = '9'

	if !original["command"].Visible {
		t.Fatal("clone mutated original Visible")
	}
	if original["command"].FetchDynamicValues.EvaluatedConfig.Params["bucket"] != "{{actionConfiguration.formData.bucket.data}}" {
		t.Fatal("clone mutated original params")
	}
	if string(original["command"].FetchDynamicValues.State.Data) != "[1]" {
		t.Fatal("clone mutated original data")
	}
}

func TestCloneNilReceivers(t *testing.T) {
	var out EvaluationOutput
	if out.Clone() != nil {
		t.Fatal("expected nil clone for nil output")
	}
	var cond *ConditionalOutput
	if cond.Clone() != nil {
		t.Fatal("expected nil clone for nil conditional output")
	}
}

func TestDomainErrorIsMatchesByCode(t *testing.T) {
	err := NewEvaluationError("worker failed", errors.New("boom"), nil)
	if !errors.Is(err, &DomainError{Code: ErrCodeEvaluation}) {
		t.Fatal("expected errors.Is match on code")
	}
	if errors.Is(err, &DomainError{Code: ErrCodeFetch}) {
		t.Fatal("unexpected errors.Is match across codes")
	}
	if !HasCode(err, ErrCodeEvaluation) {
		t.Fatal("expected HasCode match")
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewFetchError("trigger call failed", cause, map[string]any{"field": "bucket"})
	if !errors.Is(err, cause) {
		t.Fatal("expected unwrap to expose cause")
	}
	if err.Error() != "FETCH_ERROR: trigger call failed: connection refused" {
		t.Fatalf("unexpected error text: %s", err.Error())
	}
}
