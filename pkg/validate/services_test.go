package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/autodoctor/pkg/model"
)

type fakeServices map[string]ServiceSpec

func (f fakeServices) Service(name string) (ServiceSpec, bool) {
	s, ok := f[name]
	return s, ok
}

func (f fakeServices) Services(domain string) []string {
	var out []string
	for name := range f {
		if d, _ := model.SplitEntityID(name); d == domain {
			out = append(out, name)
		}
	}
	return out
}

func testServices() fakeServices {
	return fakeServices{
		"light.turn_on": {Target: true, Fields: map[string]ServiceField{
			"brightness": {Selector: map[string]any{"number": map[string]any{"min": 0, "max": 255}}},
			"flash":      {Selector: map[string]any{"select": map[string]any{"options": []any{"short", "long"}}}},
			"transition": {Selector: map[string]any{"number": map[string]any{}}},
		}},
		"notify.send_message": {Fields: map[string]ServiceField{
			"message": {Required: true, Selector: map[string]any{"text": map[string]any{}}},
			"title":   {Selector: map[string]any{"text": map[string]any{}}},
		}},
		"input_boolean.turn_on": {Target: true, Fields: map[string]ServiceField{
			"entity_id": {Required: true},
		}},
		"script.morning": {Fields: map[string]ServiceField{
			"volume": {Selector: map[string]any{"number": map[string]any{}}},
		}},
		"homeassistant.reload_all": {},
	}
}

func call(service string, data map[string]any) model.ServiceCall {
	return model.ServiceCall{AutomationID: "a1", AutomationName: "A", Service: service, Location: "action[0]", Data: data}
}

func kinds(issues []model.ValidationIssue) []model.IssueKind {
	out := make([]model.IssueKind, len(issues))
	for i, is := range issues {
		out[i] = is.Kind
	}
	return out
}

func TestValidateService_NoRegistry(t *testing.T) {
	v := New(newKB(), Options{})
	assert.Nil(t, v.ValidateService(call("light.turn_onn", nil)))
}

func TestValidateService_NotFound(t *testing.T) {
	v := New(newKB(), Options{Services: testServices()})
	issues := v.ValidateService(call("light.turn_onn", nil))
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueServiceNotFound, issues[0].Kind)
	assert.Equal(t, model.SeverityError, issues[0].Severity)
	assert.Equal(t, "light.turn_on", issues[0].Suggestion)

	// Suggestions never cross domains.
	issues = v.ValidateService(call("switch.turn_on", nil))
	require.Len(t, issues, 1)
	assert.Empty(t, issues[0].Suggestion)
}

func TestValidateService_Params(t *testing.T) {
	v := New(newKB(), Options{Services: testServices()})

	tests := []struct {
		name   string
		call   model.ServiceCall
		want   []model.IssueKind
		wantAt string
	}{
		{"valid", call("light.turn_on", map[string]any{"brightness": 120, "flash": "short"}), nil, ""},
		{"numeric string", call("light.turn_on", map[string]any{"transition": "2.5"}), nil, ""},
		{"templated value", call("light.turn_on", map[string]any{"brightness": "{{ states('sensor.b') }}"}), nil, ""},
		{"bad number", call("light.turn_on", map[string]any{"brightness": "bright"}),
			[]model.IssueKind{model.IssueServiceInvalidType}, "action[0].data.brightness"},
		{"bad select", call("light.turn_on", map[string]any{"flash": "medium"}),
			[]model.IssueKind{model.IssueServiceInvalidType}, "action[0].data.flash"},
		{"unknown param", call("light.turn_on", map[string]any{"colour": "red"}),
			[]model.IssueKind{model.IssueServiceUnknownParam}, "action[0].data.colour"},
		{"missing required", call("notify.send_message", map[string]any{"title": "hi"}),
			[]model.IssueKind{model.IssueServiceMissingRequired}, "action[0]"},
		{"text given a map", call("notify.send_message", map[string]any{"message": map[string]any{"a": 1}}),
			[]model.IssueKind{model.IssueServiceInvalidType}, "action[0].data.message"},
		{"script takes anything", call("script.morning", map[string]any{"room": "kitchen"}), nil, ""},
		{"no declared fields", call("homeassistant.reload_all", map[string]any{"x": 1}), nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := v.ValidateService(tt.call)
			if tt.want == nil {
				assert.Empty(t, issues)
				return
			}
			assert.Equal(t, tt.want, kinds(issues))
			assert.Equal(t, tt.wantAt, issues[0].Location)
		})
	}
}

func TestValidateService_TargetSatisfiesEntityID(t *testing.T) {
	v := New(newKB(), Options{Services: testServices()})

	c := call("input_boolean.turn_on", nil)
	assert.Equal(t, []model.IssueKind{model.IssueServiceMissingRequired}, kinds(v.ValidateService(c)))

	c.HasTarget = true
	assert.Empty(t, v.ValidateService(c))
}
