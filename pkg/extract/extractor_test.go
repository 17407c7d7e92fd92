package extract

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/autodoctor/pkg/model"
)

func parse(t *testing.T, src string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := yaml.Unmarshal([]byte(src), &m); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	return m
}

func refIDs(refs []model.StateReference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.EntityID)
	}
	sort.Strings(out)
	return out
}

func locations(refs []model.StateReference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Location)
	}
	return out
}

func findRef(refs []model.StateReference, loc string) (model.StateReference, bool) {
	for _, r := range refs {
		if r.Location == loc {
			return r, true
		}
	}
	return model.StateReference{}, false
}

func TestExtract_Empty(t *testing.T) {
	res := New(Options{}).Extract(map[string]any{"id": "a", "alias": "Nothing"}, 0)
	if len(res.References) != 0 || len(res.Actions) != 0 || len(res.ServiceCalls) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if res.AutomationID != "a" || res.AutomationName != "Nothing" {
		t.Errorf("identity = %s/%s", res.AutomationID, res.AutomationName)
	}
}

func TestIdentity_Fallbacks(t *testing.T) {
	tests := []struct {
		auto     map[string]any
		id, name string
	}{
		{map[string]any{"id": "x", "alias": "X"}, "x", "X"},
		{map[string]any{"alias": "Only alias"}, "Only alias", "Only alias"},
		{map[string]any{}, "automation_3", "automation_3"},
		{map[string]any{"id": 1700000000}, "1700000000", "1700000000"},
	}
	for _, tt := range tests {
		id, name := Identity(tt.auto, 3)
		if id != tt.id || name != tt.name {
			t.Errorf("Identity(%v) = %s/%s, want %s/%s", tt.auto, id, name, tt.id, tt.name)
		}
	}
}

func TestExtract_StateTrigger(t *testing.T) {
	auto := parse(t, `
id: door
trigger:
  - platform: state
    entity_id: binary_sensor.front_door
    from: "off"
    to: "on"
  - trigger: state
    entity_id: [light.a, light.b]
    attribute: brightness
    to: 255
`)
	res := New(Options{}).Extract(auto, 0)

	to, ok := findRef(res.References, "trigger[0].to")
	if !ok {
		t.Fatalf("no ref at trigger[0].to: %v", res.References)
	}
	if *to.ExpectedState != "on" || to.TransitionFrom == nil || *to.TransitionFrom != "off" {
		t.Errorf("to ref = %v", to)
	}
	from, ok := findRef(res.References, "trigger[0].from")
	if !ok || *from.ExpectedState != "off" {
		t.Errorf("from ref = %v", from)
	}

	var attrRefs int
	for _, r := range res.References {
		if r.Location == "trigger[1].to" {
			attrRefs++
			if r.ExpectedState != nil || r.ExpectedAttribute == nil || *r.ExpectedAttribute != "brightness" {
				t.Errorf("attribute ref = %v", r)
			}
		}
	}
	if attrRefs != 2 {
		t.Errorf("attribute refs = %d, want 2", attrRefs)
	}
}

func TestExtract_StringAndListNormalize(t *testing.T) {
	single := parse(t, `
trigger:
  - platform: state
    entity_id: light.a, light.b
`)
	list := parse(t, `
trigger:
  - platform: state
    entity_id:
      - light.a
      - light.b
`)
	x := New(Options{})
	a := x.Extract(single, 0).References
	b := x.Extract(list, 0).References
	if diff := cmp.Diff(refIDs(a), refIDs(b)); diff != "" {
		t.Errorf("string vs list entities differ (-string +list):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"trigger[0].entity_id", "trigger[0].entity_id"}, locations(a)); diff != "" {
		t.Errorf("string locations (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"trigger[0].entity_id[0]", "trigger[0].entity_id[1]"}, locations(b)); diff != "" {
		t.Errorf("list locations (-want +got):\n%s", diff)
	}
}

func TestExtract_ListElementLocations(t *testing.T) {
	auto := parse(t, `
trigger:
  - platform: state
    entity_id: climate.den
    from: [heat, cool]
    to: [heat, cool, "off"]
  - platform: time
    at: [input_datetime.wake, "07:00:00", {entity_id: sensor.alarm}]
condition:
  - condition: state
    entity_id: [alarm_control_panel.home]
    state: [armed_away, armed_night]
action:
  - action: light.turn_on
    target:
      entity_id: [light.a, light.b]
      area_id: [den]
  - scene: [scene.movie]
`)
	res := New(Options{}).Extract(auto, 0)
	for _, tc := range []struct{ loc, id, state string }{
		{"trigger[0].to[2]", "climate.den", "off"},
		{"trigger[0].from[1]", "climate.den", "cool"},
		{"trigger[1].at[0]", "input_datetime.wake", ""},
		{"trigger[1].at[2].entity_id", "sensor.alarm", ""},
		{"condition[0].state[1]", "alarm_control_panel.home", "armed_night"},
		{"action[0].target.entity_id[1]", "light.b", ""},
		{"action[0].target.area_id[0]", "den", ""},
		{"action[1].scene[0]", "scene.movie", ""},
	} {
		r, ok := findRef(res.References, tc.loc)
		if !ok {
			t.Errorf("no reference at %s: %v", tc.loc, locations(res.References))
			continue
		}
		if r.EntityID != tc.id {
			t.Errorf("%s: entity = %s, want %s", tc.loc, r.EntityID, tc.id)
		}
		if tc.state != "" && (r.ExpectedState == nil || *r.ExpectedState != tc.state) {
			t.Errorf("%s: state = %v, want %s", tc.loc, r.ExpectedState, tc.state)
		}
	}
	if r, _ := findRef(res.References, "trigger[0].to[0]"); r.TransitionFrom == nil || *r.TransitionFrom != "heat" {
		t.Errorf("transition from = %v", r.TransitionFrom)
	}
}

func TestExtract_AllTriggerKinds(t *testing.T) {
	auto := parse(t, `
trigger:
  - platform: state
    entity_id: sensor.s
  - platform: numeric_state
    entity_id: sensor.n
    above: input_number.low
  - platform: template
    value_template: "{{ is_state('light.t', 'on') }}"
  - platform: sun
    event: sunset
  - platform: time
    at: [input_datetime.wake, "07:00:00", {entity_id: sensor.alarm}]
  - platform: time_pattern
    minutes: "/5"
  - platform: zone
    entity_id: person.p
    zone: zone.work
  - platform: geo_location
    source: usgs
    zone: zone.home
  - platform: device
    device_id: dev1
    entity_id: 3f1b2c
  - platform: event
    event_type: call_service
    event_data:
      entity_id: light.e
  - platform: mqtt
    topic: "home/{{ 'x' }}"
  - platform: webhook
    webhook_id: hook
  - platform: homeassistant
    event: start
  - platform: tag
    tag_id: nfc1
  - platform: calendar
    entity_id: calendar.work
  - platform: persistent_notification
  - platform: conversation
    command: hi
`)
	res := New(Options{}).Extract(auto, 0)
	want := []string{
		"calendar.work", "dev1", "input_datetime.wake", "input_number.low",
		"light.e", "light.t", "nfc1", "person.p", "sensor.alarm", "sensor.n",
		"sensor.s", "zone.home", "zone.work",
	}
	if diff := cmp.Diff(want, refIDs(res.References)); diff != "" {
		t.Errorf("references (-want +got):\n%s", diff)
	}
	if len(TriggerKinds()) != 17 {
		t.Errorf("trigger kinds = %d", len(TriggerKinds()))
	}

	if r, _ := findRef(res.References, "trigger[6].zone"); r.Kind != model.RefZone {
		t.Errorf("zone kind = %s", r.Kind)
	}
	if r, _ := findRef(res.References, "trigger[8].device_id"); r.Kind != model.RefDevice {
		t.Errorf("device kind = %s", r.Kind)
	}
	if r, _ := findRef(res.References, "trigger[13].tag_id"); r.Kind != model.RefTag {
		t.Errorf("tag kind = %s", r.Kind)
	}
	if len(res.Templates) != 2 {
		t.Errorf("templates = %v", res.Templates)
	}
}

func TestExtract_MQTTLocals(t *testing.T) {
	auto := parse(t, `
trigger:
  - platform: mqtt
    topic: "zigbee/{{ 'door' }}"
    value_template: "{{ value_json.contact }}"
`)
	res := New(Options{}).Extract(auto, 0)
	if len(res.Templates) != 2 {
		t.Fatalf("templates = %v", res.Templates)
	}
	for _, site := range res.Templates {
		switch site.Location {
		case "trigger[0].value_template":
			if diff := cmp.Diff([]string{"value", "value_json"}, site.Locals); diff != "" {
				t.Errorf("value_template locals (-want +got):\n%s", diff)
			}
		case "trigger[0].topic":
			if len(site.Locals) != 0 {
				t.Errorf("topic locals = %v", site.Locals)
			}
		default:
			t.Errorf("unexpected site %s", site.Location)
		}
	}
}

func TestExtract_Conditions(t *testing.T) {
	auto := parse(t, `
condition:
  - condition: state
    entity_id: alarm_control_panel.home
    state: [armed_away, armed_night]
  - condition: or
    conditions:
      - condition: numeric_state
        entity_id: sensor.temp
        below: 10
      - "{{ states('sensor.hum') | int > 50 }}"
  - not:
      - condition: zone
        entity_id: person.p
        zone: zone.home
  - condition: time
    after: input_datetime.start
  - condition: device
    device_id: dev2
  - condition: trigger
    id: t1
  - condition: template
    value_template: "{{ true }}"
  - condition: sun
    after: sunset
`)
	res := New(Options{}).Extract(auto, 0)
	want := []string{
		"alarm_control_panel.home", "alarm_control_panel.home", "dev2",
		"input_datetime.start", "person.p", "sensor.hum", "sensor.temp", "zone.home",
	}
	if diff := cmp.Diff(want, refIDs(res.References)); diff != "" {
		t.Errorf("references (-want +got):\n%s", diff)
	}
	if _, ok := findRef(res.References, "condition[1].conditions[1]"); !ok {
		t.Errorf("template shorthand location missing: %v", res.References)
	}
	if _, ok := findRef(res.References, "condition[2].not[0].zone"); !ok {
		t.Errorf("shorthand not location missing: %v", res.References)
	}
	if len(ConditionKinds()) != 10 {
		t.Errorf("condition kinds = %d", len(ConditionKinds()))
	}
}

func TestExtract_ServiceCalls(t *testing.T) {
	auto := parse(t, `
id: svc
action:
  - service: light.turn_on
    target:
      entity_id: light.kitchen
      area_id: kitchen
    data:
      brightness: 200
  - action: switch.turn_off
    entity_id: switch.fan
  - action: homeassistant.toggle
    data:
      entity_id: [light.x]
  - action: input_select.select_option
    target: {entity_id: input_select.mode}
    data: {option: eco}
  - action: script.bedtime
  - action: script.turn_on
    target: {entity_id: script.morning}
  - action: cover.open_cover
    target: {entity_id: all}
  - scene: scene.movie
  - action: "{{ 'light.' ~ mode }}"
`)
	res := New(Options{}).Extract(auto, 0)

	got := map[string]model.ActionKind{}
	for _, a := range res.Actions {
		got[a.EntityID] = a.Action
	}
	want := map[string]model.ActionKind{
		"light.kitchen":     model.ActionTurnOn,
		"switch.fan":        model.ActionTurnOff,
		"light.x":           model.ActionToggle,
		"input_select.mode": model.ActionSet,
		"script.morning":    model.ActionTurnOn,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}

	for _, a := range res.Actions {
		if a.EntityID == "input_select.mode" {
			if v, ok := a.Value.(map[string]any); !ok || v["option"] != "eco" {
				t.Errorf("set value = %v", a.Value)
			}
		}
	}

	kinds := map[string]model.RefKind{}
	for _, r := range res.References {
		kinds[r.EntityID] = r.Kind
	}
	for id, k := range map[string]model.RefKind{
		"light.kitchen":  model.RefServiceCall,
		"kitchen":        model.RefArea,
		"script.bedtime": model.RefScript,
		"script.morning": model.RefScript,
		"scene.movie":    model.RefScene,
	} {
		if kinds[id] != k {
			t.Errorf("kind of %s = %q, want %q", id, kinds[id], k)
		}
	}
	if _, ok := kinds["all"]; ok {
		t.Error("entity_id: all must not become a reference")
	}
	if _, ok := kinds["script.turn_on"]; ok {
		t.Error("script meta-service must not be a script reference")
	}

	if len(res.ServiceCalls) != 7 {
		t.Errorf("service calls = %d, want 7", len(res.ServiceCalls))
	}
	if len(res.Templates) != 1 || res.Templates[0].Location != "action[8].action" {
		t.Errorf("templates = %v", res.Templates)
	}
}

func TestActionFor(t *testing.T) {
	tests := map[string]model.ActionKind{
		"light.turn_on":           model.ActionTurnOn,
		"lock.lock":               model.ActionTurnOn,
		"valve.close_valve":       model.ActionTurnOff,
		"vacuum.stop":             model.ActionTurnOff,
		"fan.toggle":              model.ActionToggle,
		"climate.set_hvac_mode":   model.ActionSet,
		"select.select_option":    model.ActionSet,
		"button.press":            model.ActionSet,
		"notify.mobile_app_ana":   "",
		"persistent_notification": "",
	}
	for svc, want := range tests {
		got, ok := ActionFor(svc)
		if got != want || ok != (want != "") {
			t.Errorf("ActionFor(%q) = %q, %v", svc, got, ok)
		}
	}
}

func TestExtract_NestedActionsAndGuards(t *testing.T) {
	auto := parse(t, `
id: nest
variables:
  target_temp: 21
action:
  - choose:
      - conditions:
          - condition: state
            entity_id: binary_sensor.door
            state: "on"
        sequence:
          - service: light.turn_on
            entity_id: light.hall
    default:
      - if:
          - condition: template
            value_template: "{{ target_temp > 20 }}"
        then:
          - service: light.turn_off
            entity_id: light.hall
        else:
          - repeat:
              for_each: [light.a, light.b]
              sequence:
                - service: light.toggle
                  target:
                    entity_id: "{{ repeat.item }}"
  - parallel:
      - sequence:
          - wait_template: "{{ is_state('lock.front', 'locked') }}"
      - wait_for_trigger:
          - platform: state
            entity_id: cover.garage
  - variables:
      later: "{{ states('sensor.x') }}"
  - service: notify.notify
    response_variable: reply
`)
	res := New(Options{}).Extract(auto, 0)

	var on, off *model.EntityAction
	for i := range res.Actions {
		switch res.Actions[i].Action {
		case model.ActionTurnOn:
			on = &res.Actions[i]
		case model.ActionTurnOff:
			off = &res.Actions[i]
		}
	}
	if on == nil || on.Location != "action[0].choose[0].sequence[0]" {
		t.Fatalf("turn_on action = %+v", on)
	}
	if on.Conditions != "state(binary_sensor.door)=on" {
		t.Errorf("turn_on guard = %q", on.Conditions)
	}
	if off == nil || !strings.HasPrefix(off.Conditions, "not(state(binary_sensor.door)=on)") {
		t.Errorf("turn_off guard = %+v", off)
	}

	for _, loc := range []string{
		"action[0].default[0].else[0].repeat.for_each[0]",
		"action[1].parallel[0].sequence[0].wait_template",
		"action[1].parallel[1].wait_for_trigger[0].entity_id",
	} {
		if _, ok := findRef(res.References, loc); !ok {
			t.Errorf("missing reference at %s", loc)
		}
	}
	if _, ok := findRef(res.References, "action[2].variables.later"); !ok {
		t.Errorf("missing action variable template reference")
	}

	if diff := cmp.Diff([]string{"later", "reply", "target_temp"}, res.Variables); diff != "" {
		t.Errorf("variables (-want +got):\n%s", diff)
	}
}

func TestExtract_DisabledAndBlueprint(t *testing.T) {
	auto := parse(t, `
trigger:
  - platform: state
    entity_id: light.off
    enabled: false
action:
  - service: light.turn_on
    entity_id: light.skip
    enabled: false
`)
	res := New(Options{}).Extract(auto, 0)
	if len(res.References) != 0 || len(res.Actions) != 0 {
		t.Errorf("disabled nodes extracted: %+v", res)
	}

	bp := parse(t, `
use_blueprint:
  path: motion_light.yaml
  input: {light_target: {entity_id: light.x}}
`)
	res = New(Options{}).Extract(bp, 0)
	if !res.Skipped || len(res.References) != 0 {
		t.Errorf("blueprint result = %+v", res)
	}
}

func nestedChoose(levels int) map[string]any {
	inner := []any{map[string]any{"service": "light.turn_on", "entity_id": "light.deep"}}
	for i := 0; i < levels; i++ {
		inner = []any{map[string]any{
			"choose": []any{map[string]any{
				"conditions": []any{map[string]any{
					"condition":      "template",
					"value_template": fmt.Sprintf("{{ %d > 0 }}", i),
				}},
				"sequence": inner,
			}},
		}}
	}
	return map[string]any{"id": "deep", "action": inner}
}

func TestExtract_DepthCeiling(t *testing.T) {
	x := New(Options{})
	shallow := x.Extract(nestedChoose(10), 0)
	deep := x.Extract(nestedChoose(25), 0)

	if shallow.Truncated {
		t.Error("10 levels should not truncate")
	}
	if !deep.Truncated {
		t.Error("25 levels should truncate")
	}
	if len(deep.References) > len(shallow.References) {
		t.Errorf("deep refs %d > shallow refs %d", len(deep.References), len(shallow.References))
	}
	if diff := cmp.Diff([]string{"light.deep"}, refIDs(shallow.References)); diff != "" {
		t.Errorf("shallow references (-want +got):\n%s", diff)
	}
	for _, site := range deep.Templates {
		if n := strings.Count(site.Location, "choose["); n > DefaultMaxDepth {
			t.Errorf("template beyond ceiling at depth %d: %s", n, site.Location)
		}
	}
}

func TestExtract_MalformedNodesIsolated(t *testing.T) {
	auto := parse(t, `
trigger:
  - null
  - "not a mapping"
  - platform: state
    entity_id: light.ok
condition: 42
action:
  - 7
  - service: light.turn_on
    entity_id: {bad: shape}
  - service: light.turn_off
    entity_id: light.ok
`)
	res := New(Options{}).Extract(auto, 0)
	if diff := cmp.Diff([]string{"light.ok", "light.ok"}, refIDs(res.References)); diff != "" {
		t.Errorf("references (-want +got):\n%s", diff)
	}
	if len(res.Actions) != 1 {
		t.Errorf("actions = %+v", res.Actions)
	}
}

func TestExtract_BatchIsolation(t *testing.T) {
	batch := []map[string]any{
		parse(t, "id: one\ntrigger:\n  - platform: state\n    entity_id: light.one\n"),
		parse(t, "id: two\ntrigger: null\naction:\n  - service: light.turn_on\n    entity_id: light.two\n"),
		parse(t, "id: three\ntrigger:\n  - platform: state\n    entity_id: light.three\n"),
	}
	x := New(Options{})
	var got []string
	for i, a := range batch {
		got = append(got, refIDs(x.Extract(a, i).References)...)
	}
	if diff := cmp.Diff([]string{"light.one", "light.two", "light.three"}, got); diff != "" {
		t.Errorf("references (-want +got):\n%s", diff)
	}
}
