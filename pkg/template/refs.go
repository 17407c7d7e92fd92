package template

import (
	"regexp"

	"github.com/ormasoftchile/autodoctor/pkg/model"
)

// Owner identifies the automation a template belongs to.
type Owner struct {
	ID   string
	Name string
}

var commentRe = regexp.MustCompile(`(?s)\{#.*?#\}`)

// StripComments removes {# ... #} blocks so that identifiers mentioned in
// comments are never harvested.
func StripComments(text string) string {
	return commentRe.ReplaceAllString(text, "")
}

const quoted = `['"]([^'"]+)['"]`

// refPattern is one recognised access form. Submatch 1 is always the
// identifier; state and attr name the submatch holding the expected value or
// attribute, or 0.
type refPattern struct {
	re    *regexp.Regexp
	kind  model.RefKind
	state int
	attr  int
	// loose patterns accept identifiers that are not entity ids (area and
	// device ids, label ids, integration names).
	loose bool
}

// Order matters: a later pattern never re-reports an entity an earlier one
// already produced.
var refPatterns = []refPattern{
	{re: regexp.MustCompile(`\bis_state\(\s*` + quoted + `\s*,\s*` + quoted), kind: model.RefDirect, state: 2},
	{re: regexp.MustCompile(`\bis_state_attr\(\s*` + quoted + `\s*,\s*` + quoted), kind: model.RefDirect, attr: 2},
	{re: regexp.MustCompile(`\bstate_attr\(\s*` + quoted + `\s*,\s*` + quoted), kind: model.RefDirect, attr: 2},
	{re: regexp.MustCompile(`\bstates\(\s*` + quoted), kind: model.RefDirect},
	{re: regexp.MustCompile(`\bstates\.([a-z_][a-z0-9_]*\.[a-z0-9_]+)(?:\.attributes\.([a-z0-9_]+))?`), kind: model.RefDirect, attr: 2},
	{re: regexp.MustCompile(`\bhas_value\(\s*` + quoted), kind: model.RefDirect},
	{re: regexp.MustCompile(`\bis_state\(\s*` + quoted), kind: model.RefDirect},
	{re: regexp.MustCompile(`\bexpand\(\s*` + quoted), kind: model.RefGroup},
	{re: regexp.MustCompile(`\b(?:area_entities|area_devices|area_name|area_id)\(\s*` + quoted), kind: model.RefArea, loose: true},
	{re: regexp.MustCompile(`\b(?:device_entities|device_attr|is_device_attr)\(\s*` + quoted), kind: model.RefDevice, loose: true},
	{re: regexp.MustCompile(`\b(?:label_entities|label_devices|label_areas)\(\s*` + quoted), kind: model.RefTag, loose: true},
	{re: regexp.MustCompile(`\bintegration_entities\(\s*` + quoted), kind: model.RefMetadata, loose: true},
	{re: regexp.MustCompile(`\b(?:distance|closest)\(\s*` + quoted), kind: model.RefZone},
}

// References harvests the identifiers text reads through the recognised
// access forms. Identifiers built from expressions are not resolved.
func References(text, location string, owner Owner) []model.StateReference {
	text = StripComments(text)

	type exact struct{ id, state, attr string }
	firstBy := make(map[string]int)
	seen := make(map[exact]bool)

	var refs []model.StateReference
	for pi, p := range refPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			id := m[1]
			kind := p.kind

			switch kind {
			case model.RefArea:
				// area_id('light.x') and area_name('light.x') take an entity
				if model.IsEntityID(id) {
					kind = model.RefDirect
				}
			case model.RefZone:
				if !model.IsEntityID(id) {
					continue
				}
				if d, _ := model.SplitEntityID(id); d != "zone" {
					kind = model.RefDirect
				}
			}
			if !p.loose && !model.IsEntityID(id) {
				continue
			}

			if first, ok := firstBy[id]; ok && first != pi {
				continue
			}
			firstBy[id] = pi

			ref := model.StateReference{
				AutomationID:   owner.ID,
				AutomationName: owner.Name,
				EntityID:       id,
				Location:       location,
				Kind:           kind,
				InTemplate:     true,
			}
			var e exact
			e.id = id
			if p.state > 0 && m[p.state] != "" {
				ref.ExpectedState = model.StringPtr(m[p.state])
				e.state = m[p.state]
			}
			if p.attr > 0 && m[p.attr] != "" {
				ref.ExpectedAttribute = model.StringPtr(m[p.attr])
				e.attr = m[p.attr]
			}
			if seen[e] {
				continue
			}
			seen[e] = true
			refs = append(refs, ref)
		}
	}
	return refs
}
