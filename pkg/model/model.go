// Package model defines the records exchanged between the extractor, the
// template analyzer, the validation engine and the conflict detector.
//
// Every record here is created fresh per validation run and is immutable
// once emitted.
package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// RefKind classifies where a reference came from and how it is validated.
type RefKind string

const (
	RefDirect      RefKind = "direct"
	RefZone        RefKind = "zone"
	RefDevice      RefKind = "device"
	RefTag         RefKind = "tag"
	RefArea        RefKind = "area"
	RefGroup       RefKind = "group"
	RefMetadata    RefKind = "metadata"
	RefServiceCall RefKind = "service_call"
	RefScene       RefKind = "scene"
	RefScript      RefKind = "script"
	RefForEach     RefKind = "for_each"
)

// StateReference is one use of an entity, zone, device, area or tag
// identifier found while walking an automation.
type StateReference struct {
	AutomationID      string  `json:"automation_id"`
	AutomationName    string  `json:"automation_name"`
	EntityID          string  `json:"entity_id"`
	ExpectedState     *string `json:"expected_state,omitempty"`
	ExpectedAttribute *string `json:"expected_attribute,omitempty"`
	Location          string  `json:"location"`
	Kind              RefKind `json:"kind"`
	TransitionFrom    *string `json:"transition_from,omitempty"`
	// InTemplate is set when the identifier was found inside template text.
	InTemplate bool `json:"in_template,omitempty"`
}

// Domain returns the segment of the entity id before the first dot.
func (r StateReference) Domain() string {
	d, _ := SplitEntityID(r.EntityID)
	return d
}

func (r StateReference) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s@%s", r.EntityID, r.Location)
	if r.ExpectedState != nil {
		fmt.Fprintf(&b, " state=%q", *r.ExpectedState)
	}
	if r.ExpectedAttribute != nil {
		fmt.Fprintf(&b, " attr=%q", *r.ExpectedAttribute)
	}
	return b.String()
}

// SplitEntityID splits "domain.object_id". Missing dot yields ("", id).
func SplitEntityID(id string) (domain, object string) {
	i := strings.IndexByte(id, '.')
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

var entityIDRe = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z0-9_]+$`)

// IsEntityID reports whether s is a well-formed "domain.object_id": a
// lowercase domain, a dot, and a lowercase/digit/underscore object id.
func IsEntityID(s string) bool { return entityIDRe.MatchString(s) }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// ActionKind is the effect an action has on its target.
type ActionKind string

const (
	ActionTurnOn  ActionKind = "turn_on"
	ActionTurnOff ActionKind = "turn_off"
	ActionToggle  ActionKind = "toggle"
	ActionSet     ActionKind = "set"
)

// EntityAction is one resolved action target.
type EntityAction struct {
	AutomationID   string     `json:"automation_id"`
	AutomationName string     `json:"automation_name"`
	EntityID       string     `json:"entity_id"`
	Action         ActionKind `json:"action"`
	Value          any        `json:"value,omitempty"`
	// Conditions summarises the choose/if/while guards enclosing the action.
	Conditions string `json:"conditions,omitempty"`
	Location   string `json:"location"`
}

// ServiceCall is a literal service invocation found in an action tree.
type ServiceCall struct {
	AutomationID   string         `json:"automation_id"`
	AutomationName string         `json:"automation_name"`
	Service        string         `json:"service"`
	Location       string         `json:"location"`
	Data           map[string]any `json:"data,omitempty"`
	HasTarget      bool           `json:"has_target,omitempty"`
}
