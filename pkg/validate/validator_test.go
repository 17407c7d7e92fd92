package validate

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/autodoctor/pkg/knowledge"
	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// fakeKB is an in-memory Knowledge.
type fakeKB struct {
	entities     map[string]knowledge.Entity
	legal        map[string][]string
	removed      map[string]bool
	integrations map[string]string
	devices      map[string]bool
	areas        map[string]bool
	noRegistry   bool
	err          error
	candErr      error
	panicOn      string
}

func (f *fakeKB) EntityExists(id string) (bool, error) {
	if id == f.panicOn {
		panic("collaborator blew up")
	}
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.entities[id]
	return ok, nil
}

func (f *fakeKB) EntityRemoved(id string) bool      { return f.removed[id] }
func (f *fakeKB) Integration(id string) string      { return f.integrations[id] }
func (f *fakeKB) TagExists(id string) (bool, error) { return false, knowledge.ErrNoSource }

func (f *fakeKB) LegalValues(id string) (knowledge.Values, error) {
	vs, ok := f.legal[id]
	if !ok {
		return nil, nil
	}
	return knowledge.NewValues(append(vs, "unavailable", "unknown")...), nil
}

func (f *fakeKB) AttributeNames(id string) (knowledge.Values, error) {
	e, ok := f.entities[id]
	if !ok {
		return nil, nil
	}
	out := knowledge.Values{}
	for k := range e.Attributes {
		out.Add(k)
	}
	return out, nil
}

func (f *fakeKB) Candidates(domain string) ([]string, error) {
	if f.candErr != nil {
		return nil, f.candErr
	}
	var out []string
	for id := range f.entities {
		if d, _ := model.SplitEntityID(id); domain == "" || d == domain {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeKB) DeviceExists(id string) (bool, error) {
	if f.noRegistry {
		return false, knowledge.ErrNoSource
	}
	return f.devices[id], nil
}

func (f *fakeKB) AreaExists(id string) (bool, error) {
	if f.noRegistry {
		return false, knowledge.ErrNoSource
	}
	return f.areas[id], nil
}

func (f *fakeKB) ZoneExists(id string) (bool, error) {
	if !strings.HasPrefix(id, "zone.") {
		id = "zone." + id
	}
	return f.EntityExists(id)
}

func newKB() *fakeKB {
	return &fakeKB{
		entities: map[string]knowledge.Entity{
			"binary_sensor.front_door":    {State: "off"},
			"binary_sensor.autodoctor_ok": {State: "on"},
			"light.kitchen":               {State: "on", Attributes: map[string]any{"brightness": 200, "color_mode": "hs"}},
			"alarm_control_panel.home":    {State: "disarmed"},
			"sensor.temp":                 {State: "21"},
			"zone.work":                   {State: "0"},
		},
		legal: map[string][]string{
			"binary_sensor.front_door":    {"on", "off"},
			"binary_sensor.autodoctor_ok": {"on", "off"},
			"light.kitchen":               {"on", "off"},
			"alarm_control_panel.home":    {"disarmed", "armed_away", "armed_home", "armed_night"},
		},
		removed:      map[string]bool{"light.old": true},
		integrations: map[string]string{"light.kitchen": "hue"},
		devices:      map[string]bool{"dev1": true},
		areas:        map[string]bool{"kitchen": true},
	}
}

func ref(id string) model.StateReference {
	return model.StateReference{AutomationID: "a1", AutomationName: "A", EntityID: id, Location: "trigger[0].entity_id", Kind: model.RefDirect}
}

func withState(r model.StateReference, s string) model.StateReference {
	r.ExpectedState = model.StringPtr(s)
	return r
}

func TestValidate_CurrentValueIsLegal(t *testing.T) {
	kb := newKB()
	v := New(kb, Options{})
	for id, states := range kb.legal {
		for _, s := range states {
			assert.Empty(t, v.Validate(withState(ref(id), s)), "%s=%s", id, s)
		}
	}
}

func TestValidate_CaseMismatch(t *testing.T) {
	v := New(newKB(), Options{})
	for _, s := range []string{"ON", "Off", "Armed_Away"} {
		id := "light.kitchen"
		if s == "Armed_Away" {
			id = "alarm_control_panel.home"
		}
		issues := v.Validate(withState(ref(id), s))
		require.Len(t, issues, 1, s)
		assert.Equal(t, model.IssueCaseMismatch, issues[0].Kind)
		assert.Equal(t, model.SeverityWarning, issues[0].Severity)
		assert.Equal(t, strings.ToLower(s), issues[0].Suggestion)
	}
}

func TestValidate_InvalidState(t *testing.T) {
	v := New(newKB(), Options{})
	issues := v.Validate(withState(ref("alarm_control_panel.home"), "armed_awya"))
	require.Len(t, issues, 1)
	is := issues[0]
	assert.Equal(t, model.IssueInvalidState, is.Kind)
	assert.Equal(t, model.SeverityError, is.Severity)
	assert.Equal(t, "armed_away", is.Suggestion)
	assert.Contains(t, is.ValidStates, "disarmed")

	issues = v.Validate(withState(ref("light.kitchen"), "purple"))
	require.Len(t, issues, 1)
	assert.Empty(t, issues[0].Suggestion)
}

func TestValidate_FreeFormSkipsState(t *testing.T) {
	v := New(newKB(), Options{})
	assert.Empty(t, v.Validate(withState(ref("sensor.temp"), "anything")))
}

func TestValidate_EntityNotFound(t *testing.T) {
	v := New(newKB(), Options{})

	issues := v.Validate(ref("binary_sensor.frnt_door"))
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueEntityNotFound, issues[0].Kind)
	assert.Equal(t, "binary_sensor.front_door", issues[0].Suggestion)

	// A value check never runs against a missing entity.
	issues = v.Validate(withState(ref("light.nope"), "on"))
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueEntityNotFound, issues[0].Kind)

	issues = v.Validate(ref("light.old"))
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueEntityRemoved, issues[0].Kind)
}

func TestSuggestEntity_DomainScoped(t *testing.T) {
	kb := newKB()
	v := New(kb, Options{})

	assert.Equal(t, "binary_sensor.front_door", v.SuggestEntity("binary_sensor.frnt_door"))
	assert.NotEqual(t, "binary_sensor.autodoctor_ok", v.SuggestEntity("binary_sensor.frnt_door"))

	delete(kb.entities, "binary_sensor.front_door")
	assert.Empty(t, v.SuggestEntity("binary_sensor.frnt_door"))

	// light.kitchen is similar but in another domain.
	assert.Empty(t, v.SuggestEntity("switch.kitchen"))

	kb.candErr = errors.New("unreachable")
	assert.Empty(t, v.SuggestEntity("light.kitchn"))
}

func TestValidate_Attribute(t *testing.T) {
	v := New(newKB(), Options{AttributeSampleSize: 1})
	r := ref("light.kitchen")
	r.ExpectedAttribute = model.StringPtr("brightnes")
	issues := v.Validate(r)
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueAttributeNotFound, issues[0].Kind)
	assert.Equal(t, "brightness", issues[0].Suggestion)
	assert.Contains(t, issues[0].Message, "available: brightness, ...")

	r.ExpectedAttribute = model.StringPtr("color_mode")
	assert.Empty(t, v.Validate(r))
}

func TestValidate_KnowledgeFailureSkips(t *testing.T) {
	kb := newKB()
	kb.err = errors.New("socket closed")
	v := New(kb, Options{})
	assert.Empty(t, v.Validate(withState(ref("light.nope"), "on")))

	kb.err = nil
	kb.panicOn = "light.boom"
	assert.Empty(t, v.Validate(ref("light.boom")))
}

func TestValidate_RegistryKinds(t *testing.T) {
	kb := newKB()
	v := New(kb, Options{})

	tests := []struct {
		name string
		ref  model.StateReference
		want model.IssueKind
	}{
		{"device ok", model.StateReference{EntityID: "dev1", Kind: model.RefDevice}, ""},
		{"device missing", model.StateReference{EntityID: "dev9", Kind: model.RefDevice}, model.IssueEntityNotFound},
		{"template device", model.StateReference{EntityID: "dev9", Kind: model.RefDevice, InTemplate: true}, model.IssueTemplateDeviceNotFound},
		{"template area", model.StateReference{EntityID: "attic", Kind: model.RefArea, InTemplate: true}, model.IssueTemplateAreaNotFound},
		{"area ok", model.StateReference{EntityID: "kitchen", Kind: model.RefArea}, ""},
		{"template zone", model.StateReference{EntityID: "zone.gym", Kind: model.RefZone, InTemplate: true}, model.IssueTemplateZoneNotFound},
		{"zone ok", model.StateReference{EntityID: "zone.work", Kind: model.RefZone}, ""},
		{"zone missing", model.StateReference{EntityID: "zone.gym", Kind: model.RefZone}, model.IssueEntityNotFound},
		{"tag unknown registry", model.StateReference{EntityID: "nfc", Kind: model.RefTag}, ""},
		{"integration ok", model.StateReference{EntityID: "hue", Kind: model.RefMetadata}, ""},
		{"integration missing", model.StateReference{EntityID: "zwave", Kind: model.RefMetadata}, model.IssueEntityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := v.Validate(tt.ref)
			if tt.want == "" {
				assert.Empty(t, issues)
				return
			}
			require.Len(t, issues, 1)
			assert.Equal(t, tt.want, issues[0].Kind)
		})
	}

	kb.noRegistry = true
	assert.Empty(t, v.Validate(model.StateReference{EntityID: "dev9", Kind: model.RefDevice}))
}

func TestFromTemplate(t *testing.T) {
	found := template.NewAnalyzer(nil, nil).Analyze("{{ 5 | multiply }}\n{{ x }}", "action[0].data.v", nil)
	issues := FromTemplate("a1", "A", found)
	require.Len(t, issues, 2)
	for _, is := range issues {
		assert.Equal(t, "a1", is.AutomationID)
		assert.Equal(t, "action[0].data.v", is.Location)
	}
	assert.Equal(t, model.IssueTemplateInvalidArguments, issues[0].Kind)
	assert.Contains(t, issues[1].Message, "(line 2)")
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 1.0, Ratio("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, Ratio("abc", "xyz"), 1e-9)
	assert.InDelta(t, 18.0/19.0, Ratio("frnt_door", "front_door"), 1e-9)
	assert.InDelta(t, 1.0, Ratio("", ""), 1e-9)
	assert.Less(t, Ratio("frnt_door", "autodoctor_ok"), DefaultEntitySuggestionThreshold)
	// characters, not bytes
	assert.InDelta(t, 0.8, Ratio("küche", "kuche"), 1e-9)
	assert.InDelta(t, 7.0/13.0, Ratio("kitchen_light", "light_kitchen"), 1e-9)
}
