// Package validate cross-checks extracted references and service calls
// against the knowledge base and turns template analyzer findings into
// validation issues.
package validate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/knowledge"
	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// Tunables. Entity suggestions use a stricter bar than value suggestions
// since a wrong entity suggestion is far more disruptive.
const (
	DefaultEntitySuggestionThreshold = 0.75
	DefaultValueSuggestionThreshold  = 0.6
	DefaultAttributeSampleSize       = 10
)

// Knowledge is the subset of the knowledge base the validator reads.
type Knowledge interface {
	EntityExists(id string) (bool, error)
	EntityRemoved(id string) bool
	Integration(id string) string
	LegalValues(id string) (knowledge.Values, error)
	AttributeNames(id string) (knowledge.Values, error)
	Candidates(domain string) ([]string, error)
	DeviceExists(id string) (bool, error)
	AreaExists(id string) (bool, error)
	ZoneExists(id string) (bool, error)
	TagExists(id string) (bool, error)
}

// Options configures a Validator. Zero values take the defaults.
type Options struct {
	EntitySuggestionThreshold float64
	ValueSuggestionThreshold  float64
	AttributeSampleSize       int
	Services                  ServiceRegistry
	Logger                    *zap.Logger
}

// Validator turns references into issues.
type Validator struct {
	kb   Knowledge
	opts Options
	log  *zap.Logger
}

// New returns a Validator over kb.
func New(kb Knowledge, opts Options) *Validator {
	if opts.EntitySuggestionThreshold <= 0 {
		opts.EntitySuggestionThreshold = DefaultEntitySuggestionThreshold
	}
	if opts.ValueSuggestionThreshold <= 0 {
		opts.ValueSuggestionThreshold = DefaultValueSuggestionThreshold
	}
	if opts.AttributeSampleSize <= 0 {
		opts.AttributeSampleSize = DefaultAttributeSampleSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{kb: kb, opts: opts, log: log.Named("validate")}
}

// Validate checks one reference. Lookup failures skip the reference rather
// than guess: they yield no issues.
func (v *Validator) Validate(ref model.StateReference) (issues []model.ValidationIssue) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("reference validation aborted",
				zap.String("automation", ref.AutomationID),
				zap.String("entity", ref.EntityID),
				zap.Any("panic", r))
			issues = nil
		}
	}()

	switch ref.Kind {
	case model.RefDevice:
		return v.registryRef(ref, "Device", v.kb.DeviceExists, model.IssueTemplateDeviceNotFound)
	case model.RefArea:
		return v.registryRef(ref, "Area", v.kb.AreaExists, model.IssueTemplateAreaNotFound)
	case model.RefTag:
		return v.registryRef(ref, "Label or tag", v.kb.TagExists, "")
	case model.RefZone:
		if ref.InTemplate {
			return v.registryRef(ref, "Zone", v.kb.ZoneExists, model.IssueTemplateZoneNotFound)
		}
		return v.entity(ref)
	case model.RefMetadata:
		return v.integration(ref)
	default:
		return v.entity(ref)
	}
}

func (v *Validator) issue(ref model.StateReference, kind model.IssueKind, sev model.Severity, msg string) model.ValidationIssue {
	return model.ValidationIssue{
		Kind:           kind,
		Severity:       sev,
		AutomationID:   ref.AutomationID,
		AutomationName: ref.AutomationName,
		EntityID:       ref.EntityID,
		Location:       ref.Location,
		Message:        msg,
	}
}

func (v *Validator) skip(ref model.StateReference, what string, err error) []model.ValidationIssue {
	v.log.Debug("check skipped",
		zap.String("check", what),
		zap.String("entity", ref.EntityID),
		zap.String("location", ref.Location),
		zap.Error(err))
	return nil
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

func (v *Validator) entity(ref model.StateReference) []model.ValidationIssue {
	exists, err := v.kb.EntityExists(ref.EntityID)
	if err != nil {
		return v.skip(ref, "existence", err)
	}
	if !exists {
		if v.kb.EntityRemoved(ref.EntityID) {
			return []model.ValidationIssue{v.issue(ref, model.IssueEntityRemoved, model.SeverityError,
				fmt.Sprintf("Entity '%s' was removed from the registry", ref.EntityID))}
		}
		is := v.issue(ref, model.IssueEntityNotFound, model.SeverityError,
			fmt.Sprintf("Entity '%s' does not exist", ref.EntityID))
		is.Suggestion = v.SuggestEntity(ref.EntityID)
		return []model.ValidationIssue{is}
	}

	var issues []model.ValidationIssue
	if ref.ExpectedState != nil {
		if is, ok := v.state(ref, *ref.ExpectedState); ok {
			issues = append(issues, is)
		}
	}
	if ref.ExpectedAttribute != nil {
		if is, ok := v.attribute(ref, *ref.ExpectedAttribute); ok {
			issues = append(issues, is)
		}
	}
	return issues
}

func (v *Validator) state(ref model.StateReference, want string) (model.ValidationIssue, bool) {
	legal, err := v.kb.LegalValues(ref.EntityID)
	if err != nil {
		v.skip(ref, "state", err)
		return model.ValidationIssue{}, false
	}
	if legal == nil || legal.Has(want) {
		return model.ValidationIssue{}, false
	}

	valid := legal.Sorted()
	for _, s := range valid {
		if strings.EqualFold(s, want) {
			is := v.issue(ref, model.IssueCaseMismatch, model.SeverityWarning,
				fmt.Sprintf("State '%s' for %s has the wrong case; states are case-sensitive", want, ref.EntityID))
			is.Suggestion = s
			return is, true
		}
	}

	is := v.issue(ref, model.IssueInvalidState, model.SeverityError,
		fmt.Sprintf("State '%s' is not a valid state for %s", want, ref.EntityID))
	is.Suggestion = v.suggestValue(want, valid)
	is.ValidStates = valid
	return is, true
}

func (v *Validator) attribute(ref model.StateReference, attr string) (model.ValidationIssue, bool) {
	names, err := v.kb.AttributeNames(ref.EntityID)
	if err != nil {
		v.skip(ref, "attribute", err)
		return model.ValidationIssue{}, false
	}
	// no live state: nothing to compare against
	if names == nil || names.Has(attr) {
		return model.ValidationIssue{}, false
	}

	all := names.Sorted()
	sample := all
	if len(sample) > v.opts.AttributeSampleSize {
		sample = sample[:v.opts.AttributeSampleSize]
	}
	msg := fmt.Sprintf("Attribute '%s' not found on %s", attr, ref.EntityID)
	if len(sample) > 0 {
		msg += fmt.Sprintf(" (available: %s", strings.Join(sample, ", "))
		if len(all) > len(sample) {
			msg += ", ..."
		}
		msg += ")"
	}
	is := v.issue(ref, model.IssueAttributeNotFound, model.SeverityWarning, msg)
	is.Suggestion = v.suggestValue(attr, all)
	return is, true
}

// ---------------------------------------------------------------------------
// Registry objects
// ---------------------------------------------------------------------------

// registryRef checks devices, areas, tags and templated zones. Outside
// templates a missing object is reported as entity_not_found naming the
// object; templateKind is used inside templates when set.
func (v *Validator) registryRef(ref model.StateReference, what string,
	exists func(string) (bool, error), templateKind model.IssueKind) []model.ValidationIssue {
	ok, err := exists(ref.EntityID)
	if err != nil {
		return v.skip(ref, strings.ToLower(what), err)
	}
	if ok {
		return nil
	}
	kind := model.IssueEntityNotFound
	if ref.InTemplate && templateKind != "" {
		kind = templateKind
	}
	return []model.ValidationIssue{v.issue(ref, kind, model.SeverityError,
		fmt.Sprintf("%s '%s' does not exist", what, ref.EntityID))}
}

// integration checks that a platform referenced by integration_entities
// owns at least one entity.
func (v *Validator) integration(ref model.StateReference) []model.ValidationIssue {
	all, err := v.kb.Candidates("")
	if err != nil {
		return v.skip(ref, "integration", err)
	}
	for _, id := range all {
		if v.kb.Integration(id) == ref.EntityID {
			return nil
		}
	}
	return []model.ValidationIssue{v.issue(ref, model.IssueEntityNotFound, model.SeverityWarning,
		fmt.Sprintf("Integration '%s' has no entities", ref.EntityID))}
}

// ---------------------------------------------------------------------------
// Template issues
// ---------------------------------------------------------------------------

// FromTemplate converts analyzer findings into validation issues owned by
// the given automation.
func FromTemplate(automationID, automationName string, found []template.Issue) []model.ValidationIssue {
	out := make([]model.ValidationIssue, 0, len(found))
	for _, f := range found {
		msg := f.Message
		if f.Line > 0 && f.Kind != model.IssueTemplateSyntaxError {
			msg = fmt.Sprintf("%s (line %d)", msg, f.Line)
		}
		out = append(out, model.ValidationIssue{
			Kind:           f.Kind,
			Severity:       f.Severity,
			AutomationID:   automationID,
			AutomationName: automationName,
			EntityID:       f.EntityID,
			Location:       f.Location,
			Message:        msg,
		})
	}
	return out
}
