package extract

import (
	"maps"
	"strings"

	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// scriptMetaServices are script-domain services that are not scripts.
var scriptMetaServices = map[string]bool{
	"reload":   true,
	"turn_on":  true,
	"turn_off": true,
	"toggle":   true,
}

var actionByService = map[string]model.ActionKind{
	"turn_on":     model.ActionTurnOn,
	"open_cover":  model.ActionTurnOn,
	"lock":        model.ActionTurnOn,
	"open_valve":  model.ActionTurnOn,
	"start":       model.ActionTurnOn,
	"turn_off":    model.ActionTurnOff,
	"close_cover": model.ActionTurnOff,
	"unlock":      model.ActionTurnOff,
	"close_valve": model.ActionTurnOff,
	"stop":        model.ActionTurnOff,
	"toggle":      model.ActionToggle,
	"press":       model.ActionSet,
}

// ActionFor maps a service ("domain.service" or bare service) to the effect
// it has on its targets.
func ActionFor(service string) (model.ActionKind, bool) {
	if i := strings.IndexByte(service, '.'); i >= 0 {
		service = service[i+1:]
	}
	if k, ok := actionByService[service]; ok {
		return k, true
	}
	if strings.HasPrefix(service, "set_") || strings.HasPrefix(service, "select_") {
		return model.ActionSet, true
	}
	return "", false
}

// targetKinds are the non-entity target fields and the reference kind each
// produces. Floors are checked against the area registry.
var targetKinds = []struct {
	field string
	kind  model.RefKind
}{
	{"device_id", model.RefDevice},
	{"area_id", model.RefArea},
	{"floor_id", model.RefArea},
	{"label_id", model.RefTag},
}

// specialTargets are entity_id values that select no specific entity.
var specialTargets = map[string]bool{"all": true, "none": true}

func (w *walker) serviceCall(node map[string]any, loc string, guards []string) {
	key := "action"
	name, ok := node["action"].(string)
	if !ok {
		key = "service"
		name, _ = node["service"].(string)
	}
	nameLoc := join(loc, key)
	if template.IsTemplate(name) {
		w.template(name, nameLoc)
		w.funnel(node, loc, key)
		return
	}

	domain, svc, _ := strings.Cut(name, ".")
	if domain == "script" && svc != "" && !scriptMetaServices[svc] {
		w.ref(model.StateReference{EntityID: name, Location: nameLoc, Kind: model.RefScript})
	}

	data := make(map[string]any)
	for _, dk := range []string{"data", "data_template"} {
		if m, ok := asMap(node[dk]); ok {
			maps.Copy(data, m)
		}
	}
	target, _ := asMap(node["target"])

	// Entity ids may sit in target, at the top level or in data; all count.
	type site struct {
		src map[string]any
		loc string
	}
	sites := []site{
		{target, join(loc, "target")},
		{node, loc},
		{data, join(loc, "data")},
	}

	var entities []string
	hasTarget := false
	for _, s := range sites {
		if s.src == nil {
			continue
		}
		fieldLoc := join(s.loc, "entity_id")
		for _, id := range w.ids(s.src["entity_id"], fieldLoc) {
			hasTarget = true
			if specialTargets[id.value] {
				continue
			}
			kind := model.RefServiceCall
			switch d, _ := model.SplitEntityID(id.value); d {
			case "scene":
				kind = model.RefScene
			case "script":
				kind = model.RefScript
			}
			w.ref(model.StateReference{EntityID: id.value, Location: id.loc, Kind: kind})
			entities = append(entities, id.value)
		}
		for _, tk := range targetKinds {
			for _, id := range w.ids(s.src[tk.field], join(s.loc, tk.field)) {
				hasTarget = true
				w.ref(model.StateReference{EntityID: id.value, Location: id.loc, Kind: tk.kind})
			}
		}
	}

	if kind, ok := ActionFor(name); ok && svc != "" {
		var value any
		if kind == model.ActionSet && len(data) > 0 {
			value = withoutTargets(data)
		}
		cond := strings.Join(guards, " and ")
		for _, id := range entities {
			w.res.Actions = append(w.res.Actions, model.EntityAction{
				AutomationID:   w.owner.ID,
				AutomationName: w.owner.Name,
				EntityID:       id,
				Action:         kind,
				Value:          value,
				Conditions:     cond,
				Location:       loc,
			})
		}
	}

	if svc != "" {
		w.res.ServiceCalls = append(w.res.ServiceCalls, model.ServiceCall{
			AutomationID:   w.owner.ID,
			AutomationName: w.owner.Name,
			Service:        name,
			Location:       loc,
			Data:           withoutTargets(data),
			HasTarget:      hasTarget,
		})
	} else {
		w.debugNode(nameLoc, "service name without domain skipped")
	}

	// Remaining template values in data and elsewhere.
	for _, dk := range []string{"data", "data_template"} {
		if m, ok := asMap(node[dk]); ok {
			w.funnel(m, join(loc, dk), "entity_id", "device_id", "area_id", "floor_id", "label_id")
		}
	}
	w.funnel(node, loc, key, "target", "data", "data_template",
		"entity_id", "device_id", "area_id", "floor_id", "label_id", "response_variable")
}

// withoutTargets copies data minus the target fields.
func withoutTargets(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case "entity_id", "device_id", "area_id", "floor_id", "label_id":
			continue
		}
		out[k] = v
	}
	return out
}
