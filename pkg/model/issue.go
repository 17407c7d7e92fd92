package model

import (
	"fmt"
	"sort"
	"strings"
)

// Severity of an issue or conflict.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rank orders severities, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// IssueKind is the closed enumeration of validation findings.
type IssueKind string

const (
	IssueEntityNotFound    IssueKind = "entity_not_found"
	IssueEntityRemoved     IssueKind = "entity_removed"
	IssueInvalidState      IssueKind = "invalid_state"
	IssueCaseMismatch      IssueKind = "case_mismatch"
	IssueAttributeNotFound IssueKind = "attribute_not_found"

	IssueTemplateSyntaxError      IssueKind = "template_syntax_error"
	IssueTemplateUnknownFilter    IssueKind = "template_unknown_filter"
	IssueTemplateUnknownTest      IssueKind = "template_unknown_test"
	IssueTemplateInvalidArguments IssueKind = "template_invalid_arguments"
	IssueTemplateUnknownVariable  IssueKind = "template_unknown_variable"
	IssueTemplateInvalidEntityID  IssueKind = "template_invalid_entity_id"
	IssueTemplateDeviceNotFound   IssueKind = "template_device_not_found"
	IssueTemplateAreaNotFound     IssueKind = "template_area_not_found"
	IssueTemplateZoneNotFound     IssueKind = "template_zone_not_found"

	IssueServiceNotFound        IssueKind = "service_not_found"
	IssueServiceMissingRequired IssueKind = "service_missing_required_param"
	IssueServiceInvalidType     IssueKind = "service_invalid_param_type"
	IssueServiceUnknownParam    IssueKind = "service_unknown_param"
)

// IssueKinds lists every kind, in declaration order.
var IssueKinds = []IssueKind{
	IssueEntityNotFound, IssueEntityRemoved, IssueInvalidState, IssueCaseMismatch,
	IssueAttributeNotFound, IssueTemplateSyntaxError, IssueTemplateUnknownFilter,
	IssueTemplateUnknownTest, IssueTemplateInvalidArguments, IssueTemplateUnknownVariable,
	IssueTemplateInvalidEntityID, IssueTemplateDeviceNotFound, IssueTemplateAreaNotFound,
	IssueTemplateZoneNotFound, IssueServiceNotFound, IssueServiceMissingRequired,
	IssueServiceInvalidType, IssueServiceUnknownParam,
}

// ValidationIssue is one finding produced by a validation run.
type ValidationIssue struct {
	Kind           IssueKind `json:"kind"`
	Severity       Severity  `json:"severity"`
	AutomationID   string    `json:"automation_id"`
	AutomationName string    `json:"automation_name"`
	EntityID       string    `json:"entity_id,omitempty"`
	Location       string    `json:"location"`
	Message        string    `json:"message"`
	Suggestion     string    `json:"suggestion,omitempty"`
	ValidStates    []string  `json:"valid_states,omitempty"`
}

// Key identifies an issue for deduplication. Only automation id, entity id,
// location and message participate; severity and kind do not.
func (i ValidationIssue) Key() string {
	return strings.Join([]string{i.AutomationID, i.EntityID, i.Location, i.Message}, "\x1f")
}

// Equal reports whether two issues are the same issue.
func (i ValidationIssue) Equal(o ValidationIssue) bool {
	return i.Key() == o.Key()
}

// SuppressionKey is the stable key an external suppression store uses.
// Issues with no entity, such as template findings, are keyed by location
// instead so that suppressing one does not hide its siblings.
func (i ValidationIssue) SuppressionKey() string {
	if i.EntityID == "" {
		return fmt.Sprintf("%s::%s:%s", i.AutomationID, i.Kind, i.Location)
	}
	return fmt.Sprintf("%s:%s:%s", i.AutomationID, i.EntityID, i.Kind)
}

func (i ValidationIssue) Error() string {
	if i.Location != "" {
		return fmt.Sprintf("[%s] %s at %s", i.Kind, i.Message, i.Location)
	}
	return fmt.Sprintf("[%s] %s", i.Kind, i.Message)
}

// DedupeIssues drops later issues whose Key matches an earlier one.
func DedupeIssues(issues []ValidationIssue) []ValidationIssue {
	seen := make(map[string]struct{}, len(issues))
	out := issues[:0:0]
	for _, is := range issues {
		k := is.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, is)
	}
	return out
}

// ---------------------------------------------------------------------------
// Conflicts
// ---------------------------------------------------------------------------

// Conflict is two different automations acting on one entity with opposing
// or unpredictable effects.
type Conflict struct {
	EntityID        string     `json:"entity_id"`
	AutomationA     string     `json:"automation_a"`
	AutomationAName string     `json:"automation_a_name"`
	AutomationB     string     `json:"automation_b"`
	AutomationBName string     `json:"automation_b_name"`
	ActionA         ActionKind `json:"action_a"`
	ActionB         ActionKind `json:"action_b"`
	Severity        Severity   `json:"severity"`
	Explanation     string     `json:"explanation"`
	Scenario        string     `json:"scenario"`
}

// SuppressionKey is derived from the sorted automation pair and the entity,
// so detection order never changes it.
func (c Conflict) SuppressionKey() string {
	pair := []string{c.AutomationA, c.AutomationB}
	sort.Strings(pair)
	return fmt.Sprintf("conflict:%s:%s:%s", pair[0], pair[1], c.EntityID)
}
