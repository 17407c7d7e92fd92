package validate

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// ServiceField describes one data field of a service.
type ServiceField struct {
	Required bool
	// Selector is the host's selector declaration, e.g.
	// {"number": {...}}, {"boolean": {}}, {"select": {"options": [...]}}.
	Selector map[string]any
}

// ServiceSpec describes a service.
type ServiceSpec struct {
	Fields map[string]ServiceField
	// Target is set when the service accepts entity/device/area targets.
	Target bool
}

// ServiceRegistry exposes the services the host provides.
type ServiceRegistry interface {
	Service(name string) (ServiceSpec, bool)
	Services(domain string) []string
}

// openDomains accept arbitrary data keys (script and automation variables).
var openDomains = map[string]bool{
	"script":        true,
	"python_script": true,
	"pyscript":      true,
}

// ValidateService checks a service call against the service registry. No
// registry means no service issues.
func (v *Validator) ValidateService(call model.ServiceCall) []model.ValidationIssue {
	if v.opts.Services == nil {
		return nil
	}
	issue := func(kind model.IssueKind, sev model.Severity, loc, msg string) model.ValidationIssue {
		return model.ValidationIssue{
			Kind:           kind,
			Severity:       sev,
			AutomationID:   call.AutomationID,
			AutomationName: call.AutomationName,
			Location:       loc,
			Message:        msg,
		}
	}

	spec, ok := v.opts.Services.Service(call.Service)
	if !ok {
		is := issue(model.IssueServiceNotFound, model.SeverityError, call.Location,
			fmt.Sprintf("Service '%s' does not exist", call.Service))
		is.Suggestion = v.suggestService(call.Service)
		return []model.ValidationIssue{is}
	}

	var issues []model.ValidationIssue
	for _, name := range sortedFields(spec.Fields) {
		f := spec.Fields[name]
		if !f.Required {
			continue
		}
		if _, ok := call.Data[name]; ok {
			continue
		}
		if name == "entity_id" && call.HasTarget {
			continue
		}
		issues = append(issues, issue(model.IssueServiceMissingRequired, model.SeverityError, call.Location,
			fmt.Sprintf("Service '%s' requires parameter '%s'", call.Service, name)))
	}

	domain, _ := model.SplitEntityID(call.Service)
	keys := make([]string, 0, len(call.Data))
	for k := range call.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		loc := call.Location + ".data." + k
		f, known := spec.Fields[k]
		if !known {
			if !openDomains[domain] && len(spec.Fields) > 0 {
				issues = append(issues, issue(model.IssueServiceUnknownParam, model.SeverityWarning, loc,
					fmt.Sprintf("Service '%s' has no parameter '%s'", call.Service, k)))
			}
			continue
		}
		if msg, bad := typeMismatch(call.Data[k], f.Selector); bad {
			issues = append(issues, issue(model.IssueServiceInvalidType, model.SeverityWarning, loc,
				fmt.Sprintf("Parameter '%s' of '%s' %s", k, call.Service, msg)))
		}
	}
	return issues
}

func (v *Validator) suggestService(name string) string {
	domain, svc := model.SplitEntityID(name)
	if domain == "" {
		return ""
	}
	var pool []string
	for _, s := range v.opts.Services.Services(domain) {
		_, o := model.SplitEntityID(s)
		pool = append(pool, o)
	}
	best, ok := bestMatch(svc, pool, v.opts.EntitySuggestionThreshold)
	if !ok {
		return ""
	}
	return domain + "." + best
}

// typeMismatch checks a literal value against its selector. Templates and
// selectors without a checkable type always pass.
func typeMismatch(val any, selector map[string]any) (string, bool) {
	if s, ok := val.(string); ok && template.IsTemplate(s) {
		return "", false
	}
	for kind, cfg := range selector {
		switch kind {
		case "number":
			switch t := val.(type) {
			case int, int64, float64:
				return "", false
			case string:
				if _, err := strconv.ParseFloat(t, 64); err == nil {
					return "", false
				}
			}
			return fmt.Sprintf("expects a number, got %v", val), true
		case "boolean":
			if _, ok := val.(bool); ok {
				return "", false
			}
			return fmt.Sprintf("expects a boolean, got %v", val), true
		case "select":
			opts := selectOptions(cfg)
			s, ok := val.(string)
			if !ok || len(opts) == 0 {
				return "", false
			}
			if cm, _ := cfg.(map[string]any); cm != nil {
				if custom, _ := cm["custom_value"].(bool); custom {
					return "", false
				}
			}
			for _, o := range opts {
				if o == s {
					return "", false
				}
			}
			return fmt.Sprintf("expects one of %v, got '%s'", opts, s), true
		case "text":
			switch val.(type) {
			case map[string]any, []any:
				return "expects text", true
			}
		}
	}
	return "", false
}

func selectOptions(cfg any) []string {
	m, ok := cfg.(map[string]any)
	if !ok {
		return nil
	}
	raw, _ := m["options"].([]any)
	out := make([]string, 0, len(raw))
	for _, o := range raw {
		switch t := o.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			if s, ok := t["value"].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func sortedFields(m map[string]ServiceField) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
