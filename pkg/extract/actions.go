package extract

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// actions walks an action sequence. guards are the summaries of the
// conditions enclosing the sequence.
func (w *walker) actions(v any, loc string, depth int, guards []string) {
	if w.tooDeep(depth, loc) {
		return
	}
	list, ok := asList(v)
	if !ok {
		w.malformed(loc, "list of actions", v)
		return
	}
	for i, item := range list {
		w.action(item, index(loc, i), depth, guards)
	}
}

func (w *walker) action(v any, loc string, depth int, guards []string) {
	node, ok := asMap(v)
	if !ok {
		w.malformed(loc, "action mapping", v)
		return
	}
	if disabled(node) {
		return
	}

	if rv, ok := node["response_variable"].(string); ok && rv != "" {
		w.vars[rv] = true
	}

	switch {
	case isString(node["action"]) || isString(node["service"]):
		w.serviceCall(node, loc, guards)

	case node["scene"] != nil:
		for _, id := range w.ids(node["scene"], join(loc, "scene")) {
			w.ref(model.StateReference{EntityID: id.value, Location: id.loc, Kind: model.RefScene})
		}
		w.funnel(node, loc, "scene")

	case node["choose"] != nil:
		w.choose(node, loc, depth, guards)

	case node["if"] != nil:
		ifLoc := join(loc, "if")
		summary := w.conditions(node["if"], ifLoc, depth+1)
		w.actions(node["then"], join(loc, "then"), depth+1, guard(guards, summary))
		if e, ok := node["else"]; ok {
			w.actions(e, join(loc, "else"), depth+1, guard(guards, negate(summary)))
		}
		w.funnel(node, loc, "if", "then", "else")

	case node["repeat"] != nil:
		w.repeat(node["repeat"], join(loc, "repeat"), depth, guards)
		w.funnel(node, loc, "repeat")

	case node["parallel"] != nil:
		w.actions(node["parallel"], join(loc, "parallel"), depth+1, guards)
		w.funnel(node, loc, "parallel")

	case node["sequence"] != nil:
		w.actions(node["sequence"], join(loc, "sequence"), depth+1, guards)
		w.funnel(node, loc, "sequence")

	case node["wait_for_trigger"] != nil:
		w.triggers(node["wait_for_trigger"], join(loc, "wait_for_trigger"), depth+1)
		w.funnel(node, loc, "wait_for_trigger")

	case node["wait_template"] != nil:
		if s, ok := node["wait_template"].(string); ok {
			w.template(s, join(loc, "wait_template"))
		}
		w.funnel(node, loc, "wait_template")

	case node["variables"] != nil:
		vars, _ := asMap(node["variables"])
		for _, k := range sortedKeys(vars) {
			w.vars[k] = true
			w.scanTemplates(vars[k], join(join(loc, "variables"), k), 0)
		}
		w.funnel(node, loc, "variables")

	case node["event"] != nil:
		if data, ok := asMap(node["event_data"]); ok {
			dataLoc := join(loc, "event_data")
			for _, id := range w.ids(data["entity_id"], join(dataLoc, "entity_id")) {
				w.ref(model.StateReference{EntityID: id.value, Location: id.loc})
			}
			w.funnel(data, dataLoc, "entity_id")
		}
		w.funnel(node, loc, "event_data")

	case node["condition"] != nil || node["and"] != nil || node["or"] != nil || node["not"] != nil:
		// an inline condition stops the sequence when false
		w.condition(node, loc, depth+1)

	case node["device_id"] != nil:
		deviceNode(w, node, loc, depth)
		w.funnel(node, loc, "device_id", "entity_id")

	default:
		// delay, stop, set_conversation_response and unknown action types
		w.funnel(node, loc)
	}
}

func (w *walker) choose(node map[string]any, loc string, depth int, guards []string) {
	chooseLoc := join(loc, "choose")
	options, ok := asList(node["choose"])
	if !ok {
		w.malformed(chooseLoc, "list of options", node["choose"])
		return
	}
	var taken []string
	for i, o := range options {
		optLoc := index(chooseLoc, i)
		opt, ok := asMap(o)
		if !ok {
			w.malformed(optLoc, "choose option", o)
			continue
		}
		if disabled(opt) {
			continue
		}
		summary := w.conditions(opt["conditions"], join(optLoc, "conditions"), depth+1)
		w.actions(opt["sequence"], join(optLoc, "sequence"), depth+1, guard(guards, summary))
		if summary != "" {
			taken = append(taken, summary)
		}
		w.funnel(opt, optLoc, "conditions", "sequence")
	}
	if def, ok := node["default"]; ok {
		g := guards
		for _, s := range taken {
			g = guard(g, negate(s))
		}
		w.actions(def, join(loc, "default"), depth+1, g)
	}
	w.funnel(node, loc, "choose", "default")
}

func (w *walker) repeat(v any, loc string, depth int, guards []string) {
	node, ok := asMap(v)
	if !ok {
		w.malformed(loc, "repeat mapping", v)
		return
	}
	g := guards
	for _, k := range []string{"while", "until"} {
		c, ok := node[k]
		if !ok {
			continue
		}
		if s := w.conditions(c, join(loc, k), depth+1); s != "" {
			g = guard(g, k+" "+s)
		}
	}

	feLoc := join(loc, "for_each")
	switch fe := node["for_each"].(type) {
	case nil:
	case string:
		if template.IsTemplate(fe) {
			w.template(fe, feLoc)
		}
	case []any:
		for i, item := range fe {
			if s, ok := item.(string); ok && model.IsEntityID(s) {
				w.ref(model.StateReference{EntityID: s, Location: index(feLoc, i), Kind: model.RefForEach})
			} else {
				w.scanTemplates(item, index(feLoc, i), 0)
			}
		}
	default:
		w.malformed(feLoc, "list or template", fe)
	}

	w.actions(node["sequence"], join(loc, "sequence"), depth+1, g)
	w.funnel(node, loc, "while", "until", "for_each", "sequence")
}

func guard(guards []string, summary string) []string {
	if summary == "" {
		return guards
	}
	out := make([]string, len(guards), len(guards)+1)
	copy(out, guards)
	return append(out, summary)
}

func negate(summary string) string {
	if summary == "" {
		return ""
	}
	return fmt.Sprintf("not(%s)", summary)
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// debugNode is used by handlers that decide to ignore a node wholesale.
func (w *walker) debugNode(loc, why string) {
	w.log.Debug(why, zap.String("location", loc))
}
