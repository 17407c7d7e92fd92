package model

import "testing"

func TestValidationIssue_KeyIgnoresSeverityAndKind(t *testing.T) {
	a := ValidationIssue{
		Kind: IssueInvalidState, Severity: SeverityError,
		AutomationID: "a1", EntityID: "light.x", Location: "trigger[0].to", Message: "bad",
	}
	b := a
	b.Kind = IssueCaseMismatch
	b.Severity = SeverityWarning
	if !a.Equal(b) {
		t.Error("issues differing only in kind/severity should be equal")
	}
	b.Location = "trigger[1].to"
	if a.Equal(b) {
		t.Error("issues with different locations should differ")
	}
}

func TestValidationIssue_SuppressionKey(t *testing.T) {
	entity := ValidationIssue{Kind: IssueInvalidState, AutomationID: "a1", EntityID: "light.x", Location: "trigger[0].to"}
	if got := entity.SuppressionKey(); got != "a1:light.x:invalid_state" {
		t.Errorf("entity key = %q", got)
	}
	moved := entity
	moved.Location = "trigger[3].to"
	if moved.SuppressionKey() != entity.SuppressionKey() {
		t.Error("entity keys should not depend on location")
	}

	first := ValidationIssue{Kind: IssueTemplateUnknownFilter, AutomationID: "a1", Location: "action[0].data.message"}
	second := first
	second.Location = "action[2].data.title"
	if first.SuppressionKey() == second.SuppressionKey() {
		t.Errorf("template issues at different locations share key %q", first.SuppressionKey())
	}
	if got := first.SuppressionKey(); got != "a1::template_unknown_filter:action[0].data.message" {
		t.Errorf("template key = %q", got)
	}
}

func TestDedupeIssues(t *testing.T) {
	in := []ValidationIssue{
		{AutomationID: "a", EntityID: "x.y", Location: "l", Message: "m", Severity: SeverityError},
		{AutomationID: "a", EntityID: "x.y", Location: "l", Message: "m", Severity: SeverityWarning},
		{AutomationID: "b", EntityID: "x.y", Location: "l", Message: "m"},
	}
	out := DedupeIssues(in)
	if len(out) != 2 {
		t.Fatalf("got %d issues, want 2", len(out))
	}
	if out[0].Severity != SeverityError {
		t.Errorf("first occurrence should win, got %s", out[0].Severity)
	}
}

func TestConflict_SuppressionKeyOrderIndependent(t *testing.T) {
	c1 := Conflict{EntityID: "light.x", AutomationA: "a", AutomationB: "b"}
	c2 := Conflict{EntityID: "light.x", AutomationA: "b", AutomationB: "a"}
	if c1.SuppressionKey() != c2.SuppressionKey() {
		t.Errorf("keys differ: %q vs %q", c1.SuppressionKey(), c2.SuppressionKey())
	}
	if c1.SuppressionKey() != "conflict:a:b:light.x" {
		t.Errorf("unexpected key %q", c1.SuppressionKey())
	}
}

func TestSplitEntityID(t *testing.T) {
	tests := []struct {
		in, domain, object string
	}{
		{"light.kitchen", "light", "kitchen"},
		{"sensor.a.b", "sensor", "a.b"},
		{"nodot", "", "nodot"},
	}
	for _, tt := range tests {
		d, o := SplitEntityID(tt.in)
		if d != tt.domain || o != tt.object {
			t.Errorf("SplitEntityID(%q) = (%q, %q), want (%q, %q)", tt.in, d, o, tt.domain, tt.object)
		}
	}
}
