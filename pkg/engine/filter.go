package engine

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ormasoftchile/autodoctor/pkg/model"
)

// Filter is a compiled boolean expression evaluated against each finding.
// The environment exposes:
//
//	kind, severity, automation, automation_name, entity, domain, location,
//	message, suggestion
//
// Conflicts use kind "conflict", the A side as automation, and both
// automation ids in automations. A nil Filter accepts everything.
//
//	severity == "error" && domain in ["light", "switch"]
type Filter struct {
	src     string
	program *vm.Program
}

func filterEnv() map[string]any {
	return map[string]any{
		"kind":            "",
		"severity":        "",
		"automation":      "",
		"automation_name": "",
		"automations":     []string{},
		"entity":          "",
		"domain":          "",
		"location":        "",
		"message":         "",
		"suggestion":      "",
	}
}

// CompileFilter compiles src. An empty expression yields a nil Filter.
func CompileFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(filterEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}
	return &Filter{src: src, program: program}, nil
}

// Issue reports whether is passes the filter. Evaluation errors reject.
func (f *Filter) Issue(is model.ValidationIssue) bool {
	if f == nil {
		return true
	}
	env := filterEnv()
	env["kind"] = string(is.Kind)
	env["severity"] = string(is.Severity)
	env["automation"] = is.AutomationID
	env["automation_name"] = is.AutomationName
	env["automations"] = []string{is.AutomationID}
	env["entity"] = is.EntityID
	env["domain"], _ = model.SplitEntityID(is.EntityID)
	env["location"] = is.Location
	env["message"] = is.Message
	env["suggestion"] = is.Suggestion
	return f.eval(env)
}

// Conflict reports whether c passes the filter.
func (f *Filter) Conflict(c model.Conflict) bool {
	if f == nil {
		return true
	}
	env := filterEnv()
	env["kind"] = "conflict"
	env["severity"] = string(c.Severity)
	env["automation"] = c.AutomationA
	env["automation_name"] = c.AutomationAName
	env["automations"] = []string{c.AutomationA, c.AutomationB}
	env["entity"] = c.EntityID
	env["domain"], _ = model.SplitEntityID(c.EntityID)
	env["message"] = c.Explanation
	return f.eval(env)
}

func (f *Filter) eval(env map[string]any) bool {
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}
