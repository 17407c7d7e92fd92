package extract

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// ConditionKind is the condition discriminant.
type ConditionKind string

const (
	ConditionState        ConditionKind = "state"
	ConditionNumericState ConditionKind = "numeric_state"
	ConditionTemplate     ConditionKind = "template"
	ConditionSun          ConditionKind = "sun"
	ConditionTime         ConditionKind = "time"
	ConditionZone         ConditionKind = "zone"
	ConditionDevice       ConditionKind = "device"
	ConditionAnd          ConditionKind = "and"
	ConditionOr           ConditionKind = "or"
	ConditionNot          ConditionKind = "not"

	// conditionTrigger matches on trigger ids and references nothing.
	conditionTrigger ConditionKind = "trigger"
)

// ConditionKinds lists the supported condition kinds.
func ConditionKinds() []ConditionKind {
	return []ConditionKind{
		ConditionState, ConditionNumericState, ConditionTemplate, ConditionSun,
		ConditionTime, ConditionZone, ConditionDevice, ConditionAnd, ConditionOr,
		ConditionNot,
	}
}

// conditions walks a condition list (or a single condition) and returns a
// summary of what it tests, for action guards.
func (w *walker) conditions(v any, loc string, depth int) string {
	if w.tooDeep(depth, loc) {
		return ""
	}
	if s, ok := v.(string); ok {
		w.condition(s, loc, depth)
		return "template"
	}
	list, ok := asList(v)
	if !ok {
		w.malformed(loc, "list of conditions", v)
		return ""
	}
	var parts []string
	for i, item := range list {
		if s := w.condition(item, index(loc, i), depth); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " and ")
}

// condition dispatches one condition node. A bare string is the template
// shorthand.
func (w *walker) condition(v any, loc string, depth int) string {
	if s, ok := v.(string); ok {
		w.template(s, loc)
		return "template"
	}
	node, ok := asMap(v)
	if !ok {
		w.malformed(loc, "condition mapping", v)
		return ""
	}
	if disabled(node) {
		return ""
	}

	kind := ConditionKind(scalarString(node["condition"]))
	if kind == "" {
		// shorthand: {and: [...]}, {or: [...]}, {not: [...]}
		for _, k := range []ConditionKind{ConditionAnd, ConditionOr, ConditionNot} {
			if sub, ok := node[string(k)]; ok {
				return w.group(k, sub, join(loc, string(k)), depth)
			}
		}
	}

	handled := []string{"condition", "alias", "enabled"}
	summary := string(kind)
	switch kind {
	case ConditionState:
		handled = append(handled, "entity_id", "state", "attribute")
		summary = stateCondition(w, node, loc)
	case ConditionNumericState:
		handled = append(handled, "entity_id", "attribute", "above", "below", "value_template")
		numericState(w, node, loc, depth)
		summary = numericSummary(node)
	case ConditionTemplate:
		handled = append(handled, "value_template")
		valueTemplate(w, node, loc, depth)
	case ConditionSun, conditionTrigger:
	case ConditionTime:
		handled = append(handled, "after", "before")
		for _, f := range []string{"after", "before"} {
			if s, ok := node[f].(string); ok && model.IsEntityID(s) {
				w.ref(model.StateReference{EntityID: s, Location: join(loc, f)})
			}
		}
	case ConditionZone:
		handled = append(handled, "entity_id", "zone")
		zoneNode(w, node, loc, depth)
		summary = fmt.Sprintf("zone(%s)", strings.Join(values(node["zone"]), ","))
	case ConditionDevice:
		handled = append(handled, "device_id", "entity_id")
		deviceNode(w, node, loc, depth)
	case ConditionAnd, ConditionOr, ConditionNot:
		return w.group(kind, node["conditions"], join(loc, "conditions"), depth)
	default:
		w.log.Debug("unrecognised condition kind",
			zap.String("location", loc), zap.String("kind", string(kind)))
	}
	w.funnel(node, loc, handled...)
	return summary
}

func (w *walker) group(kind ConditionKind, sub any, loc string, depth int) string {
	inner := w.conditions(sub, loc, depth+1)
	if inner == "" {
		return string(kind)
	}
	return fmt.Sprintf("%s(%s)", kind, inner)
}

// stateCondition emits one reference per (entity, state). With an attribute
// the states are attribute values.
func stateCondition(w *walker, node map[string]any, loc string) string {
	ids := w.ids(node["entity_id"], join(loc, "entity_id"))
	attr, _ := node["attribute"].(string)

	var states []located
	if s, ok := node["state"].(string); ok && template.IsTemplate(s) {
		w.template(s, join(loc, "state"))
	} else {
		states = valuesAt(node["state"], join(loc, "state"))
	}

	for _, id := range ids {
		if len(states) == 0 {
			w.ref(model.StateReference{EntityID: id.value, Location: id.loc})
			continue
		}
		for _, s := range states {
			r := model.StateReference{EntityID: id.value, Location: s.loc}
			if attr != "" {
				r.ExpectedAttribute = model.StringPtr(attr)
			} else {
				r.ExpectedState = model.StringPtr(s.value)
			}
			w.ref(r)
		}
	}

	names := strings.Join(plain(ids), ",")
	summary := fmt.Sprintf("state(%s)", names)
	if attr != "" {
		summary = fmt.Sprintf("state(%s.%s)", names, attr)
	}
	if len(states) > 0 {
		summary += "=" + strings.Join(plain(states), "|")
	}
	return summary
}

func numericSummary(node map[string]any) string {
	s := fmt.Sprintf("numeric_state(%s)", strings.Join(values(node["entity_id"]), ","))
	if a := scalarString(node["above"]); a != "" {
		s += ">" + a
	}
	if b := scalarString(node["below"]); b != "" {
		s += "<" + b
	}
	return s
}
