package jobs

import "testing"

func TestValidatePlannerOutputAcceptsWellFormedSteps(t *testing.T) {
	raw := []byte(`{"steps":[{"title":"Survey recent coverage","tool_hint":"searxng","theme":"background"}]}`)
	if err := ValidatePlannerOutput(raw); err != nil {
		t.Fatalf("expected valid planner output to pass, got %v", err)
	}
}

func TestValidatePlannerOutputRejectsMissingTitle(t *testing.T) {
	raw := []byte(`{"steps":[{"tool_hint":"searxng"}]}`)
	if err := ValidatePlannerOutput(raw); err == nil {
		t.Fatalf("expected missing-title step to fail validation")
	}
}

func TestValidatePlannerOutputRejectsMissingSteps(t *testing.T) {
	raw := []byte(`{}`)
	if err := ValidatePlannerOutput(raw); err == nil {
		t.Fatalf("expected missing steps field to fail validation")
	}
}

func TestValidateCriticOutputAcceptsEmptyArrays(t *testing.T) {
	raw := []byte(`{"issues":[],"follow_up":[],"limitations":[]}`)
	if err := ValidateCriticOutput(raw); err != nil {
		t.Fatalf("expected empty critic arrays to pass, got %v", err)
	}
}

func TestValidateCriticOutputRejectsWrongType(t *testing.T) {
	raw := []byte(`{"issues":"not an array"}`)
	if err := ValidateCriticOutput(raw); err == nil {
		t.Fatalf("expected non-array issues field to fail validation")
	}
}
