package extract

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// TriggerKind is the trigger discriminant ("platform" or "trigger" key).
type TriggerKind string

const (
	TriggerState                  TriggerKind = "state"
	TriggerNumericState           TriggerKind = "numeric_state"
	TriggerTemplate               TriggerKind = "template"
	TriggerSun                    TriggerKind = "sun"
	TriggerTime                   TriggerKind = "time"
	TriggerTimePattern            TriggerKind = "time_pattern"
	TriggerZone                   TriggerKind = "zone"
	TriggerGeoLocation            TriggerKind = "geo_location"
	TriggerDevice                 TriggerKind = "device"
	TriggerEvent                  TriggerKind = "event"
	TriggerMQTT                   TriggerKind = "mqtt"
	TriggerWebhook                TriggerKind = "webhook"
	TriggerHomeAssistant          TriggerKind = "homeassistant"
	TriggerTag                    TriggerKind = "tag"
	TriggerCalendar               TriggerKind = "calendar"
	TriggerPersistentNotification TriggerKind = "persistent_notification"
	TriggerConversation           TriggerKind = "conversation"
)

// handler walks the fields it names; the walker funnels every other field
// of the node through template detection.
type handler struct {
	fields []string
	walk   func(w *walker, node map[string]any, loc string, depth int)
}

// triggerHandlers covers every TriggerKind. Kinds without entity-bearing
// fields only get template funnelling.
var triggerHandlers = map[TriggerKind]handler{
	TriggerState:                  {[]string{"entity_id", "attribute", "to", "from", "not_to", "not_from"}, stateTrigger},
	TriggerNumericState:           {[]string{"entity_id", "attribute", "above", "below", "value_template"}, numericState},
	TriggerTemplate:               {[]string{"value_template"}, valueTemplate},
	TriggerSun:                    {},
	TriggerTime:                   {[]string{"at"}, timeTrigger},
	TriggerTimePattern:            {},
	TriggerZone:                   {[]string{"entity_id", "zone"}, zoneNode},
	TriggerGeoLocation:            {[]string{"zone"}, zoneNode},
	TriggerDevice:                 {[]string{"device_id", "entity_id"}, deviceNode},
	TriggerEvent:                  {[]string{"event_data"}, eventTrigger},
	TriggerMQTT:                   {[]string{"value_template"}, mqttTrigger},
	TriggerWebhook:                {},
	TriggerHomeAssistant:          {},
	TriggerTag:                    {[]string{"tag_id", "device_id"}, tagTrigger},
	TriggerCalendar:               {[]string{"entity_id"}, plainEntities},
	TriggerPersistentNotification: {},
	TriggerConversation:           {},
}

// TriggerKinds lists the supported trigger kinds.
func TriggerKinds() []TriggerKind {
	out := make([]TriggerKind, 0, len(triggerHandlers))
	for k := range triggerHandlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var discriminantKeys = []string{"platform", "trigger"}

func (w *walker) triggers(v any, loc string, depth int) {
	list, ok := asList(v)
	if !ok {
		w.malformed(loc, "list of triggers", v)
		return
	}
	for i, item := range list {
		w.trigger(item, index(loc, i), depth)
	}
}

func (w *walker) trigger(v any, loc string, depth int) {
	node, ok := asMap(v)
	if !ok {
		w.malformed(loc, "trigger mapping", v)
		return
	}
	if disabled(node) {
		return
	}
	w.defineVars(node["variables"])

	var kind TriggerKind
	for _, k := range discriminantKeys {
		if s, ok := node[k].(string); ok {
			kind = TriggerKind(s)
			break
		}
	}
	h, known := triggerHandlers[kind]
	if !known {
		w.log.Debug("unrecognised trigger kind",
			zap.String("location", loc), zap.String("kind", string(kind)))
	}
	if h.walk != nil {
		h.walk(w, node, loc, depth)
	}
	handled := append([]string{"platform", "trigger", "variables"}, h.fields...)
	w.funnel(node, loc, handled...)
}

// ---------------------------------------------------------------------------
// Handlers shared by triggers and conditions
// ---------------------------------------------------------------------------

// stateTrigger emits one reference per (entity, to) and (entity, from). With
// an attribute the values are attribute values and are not state-checked.
func stateTrigger(w *walker, node map[string]any, loc string, _ int) {
	ids := w.ids(node["entity_id"], join(loc, "entity_id"))
	attr, _ := node["attribute"].(string)
	from := valuesAt(node["from"], join(loc, "from"))

	var transitionFrom *string
	if len(from) > 0 {
		transitionFrom = model.StringPtr(from[0].value)
	}

	for _, id := range ids {
		emitted := false
		emit := func(vals []located, tf *string) {
			for _, v := range vals {
				r := model.StateReference{EntityID: id.value, Location: v.loc, TransitionFrom: tf}
				if attr != "" {
					r.ExpectedAttribute = model.StringPtr(attr)
				} else {
					r.ExpectedState = model.StringPtr(v.value)
				}
				w.ref(r)
				emitted = true
			}
		}
		emit(valuesAt(node["to"], join(loc, "to")), transitionFrom)
		emit(from, nil)
		emit(valuesAt(node["not_to"], join(loc, "not_to")), nil)
		emit(valuesAt(node["not_from"], join(loc, "not_from")), nil)
		if !emitted {
			r := model.StateReference{EntityID: id.value, Location: id.loc}
			if attr != "" {
				r.ExpectedAttribute = model.StringPtr(attr)
			}
			w.ref(r)
		}
	}
}

func numericState(w *walker, node map[string]any, loc string, _ int) {
	attr, _ := node["attribute"].(string)
	for _, id := range w.ids(node["entity_id"], join(loc, "entity_id")) {
		r := model.StateReference{EntityID: id.value, Location: id.loc}
		if attr != "" {
			r.ExpectedAttribute = model.StringPtr(attr)
		}
		w.ref(r)
	}
	// above/below may name a numeric entity instead of a number.
	for _, bound := range []string{"above", "below"} {
		if s, ok := node[bound].(string); ok && model.IsEntityID(s) {
			w.ref(model.StateReference{EntityID: s, Location: join(loc, bound)})
		}
	}
	valueTemplate(w, node, loc, 0)
}

func valueTemplate(w *walker, node map[string]any, loc string, _ int) {
	switch t := node["value_template"].(type) {
	case nil:
	case string:
		// value_template is always rendered, delimiters or not
		w.template(t, join(loc, "value_template"))
	default:
		w.malformed(join(loc, "value_template"), "string", t)
	}
}

// mqttTrigger renders value_template with the received payload bound to
// value and, when it parses as JSON, value_json.
func mqttTrigger(w *walker, node map[string]any, loc string, _ int) {
	switch t := node["value_template"].(type) {
	case nil:
	case string:
		w.template(t, join(loc, "value_template"), "value", "value_json")
	default:
		w.malformed(join(loc, "value_template"), "string", t)
	}
}

// timeTrigger accepts "at" as a time, an entity id, a list of either, or
// a {entity_id, offset} mapping.
func timeTrigger(w *walker, node map[string]any, loc string, _ int) {
	at := node["at"]
	atLoc := join(loc, "at")
	items, list := at.([]any)
	if !list {
		items = []any{at}
	}
	for i, item := range items {
		itemLoc := atLoc
		if list {
			itemLoc = index(atLoc, i)
		}
		switch t := item.(type) {
		case string:
			if template.IsTemplate(t) {
				w.template(t, itemLoc)
			} else if model.IsEntityID(t) {
				w.ref(model.StateReference{EntityID: t, Location: itemLoc})
			}
		default:
			if m, ok := asMap(t); ok {
				for _, id := range w.ids(m["entity_id"], join(itemLoc, "entity_id")) {
					w.ref(model.StateReference{EntityID: id.value, Location: id.loc})
				}
			}
		}
	}
}

// zoneNode serves zone and geo_location triggers and the zone condition.
func zoneNode(w *walker, node map[string]any, loc string, _ int) {
	for _, id := range w.ids(node["entity_id"], join(loc, "entity_id")) {
		w.ref(model.StateReference{EntityID: id.value, Location: id.loc})
	}
	for _, z := range w.ids(node["zone"], join(loc, "zone")) {
		w.ref(model.StateReference{EntityID: z.value, Location: z.loc, Kind: model.RefZone})
	}
}

// deviceNode serves device triggers, conditions and actions. Device
// automations may carry a registry uuid in entity_id; only literal entity
// ids are referenced.
func deviceNode(w *walker, node map[string]any, loc string, _ int) {
	for _, d := range w.ids(node["device_id"], join(loc, "device_id")) {
		w.ref(model.StateReference{EntityID: d.value, Location: d.loc, Kind: model.RefDevice})
	}
	for _, id := range w.ids(node["entity_id"], join(loc, "entity_id")) {
		if model.IsEntityID(id.value) {
			w.ref(model.StateReference{EntityID: id.value, Location: id.loc})
		}
	}
}

func eventTrigger(w *walker, node map[string]any, loc string, _ int) {
	data, ok := asMap(node["event_data"])
	if !ok {
		return
	}
	dataLoc := join(loc, "event_data")
	for _, id := range w.ids(data["entity_id"], join(dataLoc, "entity_id")) {
		w.ref(model.StateReference{EntityID: id.value, Location: id.loc})
	}
	w.funnel(data, dataLoc, "entity_id")
}

func tagTrigger(w *walker, node map[string]any, loc string, _ int) {
	for _, tag := range w.ids(node["tag_id"], join(loc, "tag_id")) {
		w.ref(model.StateReference{EntityID: tag.value, Location: tag.loc, Kind: model.RefTag})
	}
	for _, d := range w.ids(node["device_id"], join(loc, "device_id")) {
		w.ref(model.StateReference{EntityID: d.value, Location: d.loc, Kind: model.RefDevice})
	}
}

func plainEntities(w *walker, node map[string]any, loc string, _ int) {
	for _, id := range w.ids(node["entity_id"], join(loc, "entity_id")) {
		w.ref(model.StateReference{EntityID: id.value, Location: id.loc})
	}
}
