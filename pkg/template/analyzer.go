// Package template analyzes the template snippets embedded in automation
// string fields: semantic checks over the parsed syntax tree, and harvesting
// of the entity, device, area and zone identifiers a template reads.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/jinja"
	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/signature"
)

// Issue is one finding inside a single template.
type Issue struct {
	Kind     model.IssueKind
	Severity model.Severity
	Location string
	Line     int
	EntityID string
	Message  string
}

// IsTemplate reports whether s contains template delimiters.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%") || strings.Contains(s, "{#")
}

// Analyzer runs the semantic checks. It is stateless and safe for
// concurrent use.
type Analyzer struct {
	reg *signature.Registry
	log *zap.Logger
}

// NewAnalyzer returns an analyzer over reg. A nil reg uses the default
// registry; a nil logger discards diagnostics.
func NewAnalyzer(reg *signature.Registry, log *zap.Logger) *Analyzer {
	if reg == nil {
		reg = signature.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{reg: reg, log: log}
}

// Analyze parses text and returns its issues. known lists extra names the
// caller has in scope (automation variables, script fields). A syntax error
// yields exactly one issue and ends the analysis of this template.
func (a *Analyzer) Analyze(text, location string, known []string) (issues []Issue) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("template analysis aborted",
				zap.String("location", location), zap.Any("panic", r))
		}
	}()

	tmpl, err := jinja.Parse(text)
	if err != nil {
		issue := Issue{
			Kind:     model.IssueTemplateSyntaxError,
			Severity: model.SeverityError,
			Location: location,
			Message:  fmt.Sprintf("Template syntax error: %s", err),
		}
		var se *jinja.SyntaxError
		if errors.As(err, &se) {
			issue.Line = se.Line
		}
		return []Issue{issue}
	}

	bound := boundNames(tmpl)
	issues = append(issues, a.checkFiltersAndTests(tmpl, location)...)
	issues = append(issues, a.checkEntityLiterals(tmpl, location, bound)...)
	issues = append(issues, a.checkVariables(tmpl, location, bound, known)...)
	return issues
}

// ---------------------------------------------------------------------------
// Filters and tests
// ---------------------------------------------------------------------------

func (a *Analyzer) checkFiltersAndTests(tmpl *jinja.Template, location string) []Issue {
	var issues []Issue
	jinja.Inspect(tmpl, func(n jinja.Node) bool {
		switch n := n.(type) {
		case *jinja.Filter:
			sig, ok := a.reg.Filter(n.Name)
			if !ok {
				issues = append(issues, Issue{
					Kind: model.IssueTemplateUnknownFilter, Severity: model.SeverityWarning,
					Location: location, Line: n.Pos(),
					Message: fmt.Sprintf("Unknown filter '%s'", n.Name),
				})
				return true
			}
			if is, bad := arityIssue("Filter", sig, n.Args, location, n.Pos()); bad {
				issues = append(issues, is)
			}
		case *jinja.Test:
			sig, ok := a.reg.Test(n.Name)
			if !ok {
				issues = append(issues, Issue{
					Kind: model.IssueTemplateUnknownTest, Severity: model.SeverityWarning,
					Location: location, Line: n.Pos(),
					Message: fmt.Sprintf("Unknown test '%s'", n.Name),
				})
				return true
			}
			if is, bad := arityIssue("Test", sig, n.Args, location, n.Pos()); bad {
				issues = append(issues, is)
			}
		}
		return true
	})
	return issues
}

// arityIssue checks positional arguments against sig. With keyword or
// splatted arguments present only the upper bound is enforced.
func arityIssue(what string, sig signature.Signature, args jinja.Args, location string, line int) (Issue, bool) {
	n := len(args.Positional)
	ok := sig.Accepts(n)
	if args.HasDynamic() {
		ok = sig.MaxArgs == signature.Unbounded ||
			(args.DynArgs == nil && args.DynKwargs == nil && n+len(args.Keywords) <= sig.MaxArgs)
	}
	if ok {
		return Issue{}, false
	}
	return Issue{
		Kind:     model.IssueTemplateInvalidArguments,
		Severity: model.SeverityWarning,
		Location: location,
		Line:     line,
		Message: fmt.Sprintf("%s '%s' expects %s argument(s), got %d",
			what, sig.Name, sig.Expected(), n),
	}, true
}

// ---------------------------------------------------------------------------
// Entity id literals
// ---------------------------------------------------------------------------

func (a *Analyzer) checkEntityLiterals(tmpl *jinja.Template, location string, bound map[string]bool) []Issue {
	var issues []Issue
	check := func(fn string, args []jinja.Expr, line int) {
		idx, ok := a.reg.EntityArg(fn)
		if !ok || idx >= len(args) {
			return
		}
		lit, ok := jinja.StringLiteral(args[idx])
		if !ok || model.IsEntityID(lit) {
			return
		}
		issues = append(issues, Issue{
			Kind:     model.IssueTemplateInvalidEntityID,
			Severity: model.SeverityWarning,
			Location: location,
			Line:     line,
			EntityID: lit,
			Message:  fmt.Sprintf("Invalid entity ID format '%s' in %s()", lit, fn),
		})
	}
	jinja.Inspect(tmpl, func(n jinja.Node) bool {
		switch n := n.(type) {
		case *jinja.Call:
			if name, ok := n.Fn.(*jinja.Name); ok && !bound[name.Name] {
				check(name.Name, n.Positional, n.Pos())
			}
		case *jinja.Filter:
			// 'light.x' | is_state('on'): the piped value is argument 0.
			if n.X != nil {
				check(n.Name, append([]jinja.Expr{n.X}, n.Positional...), n.Pos())
			}
		}
		return true
	})
	return issues
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// boundNames collects every name a template binds anywhere: set targets,
// loop targets, macro names and parameters, with-targets and imports.
func boundNames(tmpl *jinja.Template) map[string]bool {
	bound := make(map[string]bool)
	jinja.Inspect(tmpl, func(n jinja.Node) bool {
		switch n := n.(type) {
		case *jinja.Name:
			if n.Ctx == jinja.Store || n.Ctx == jinja.Param {
				bound[n.Name] = true
			}
		case *jinja.Macro:
			bound[n.Name] = true
		case *jinja.Import:
			bound[n.Target] = true
		case *jinja.FromImport:
			for _, in := range n.Names {
				if in.Alias != "" {
					bound[in.Alias] = true
				} else {
					bound[in.Name] = true
				}
			}
		}
		return true
	})
	return bound
}

func (a *Analyzer) checkVariables(tmpl *jinja.Template, location string, bound map[string]bool, known []string) []Issue {
	defined := make(map[string]bool, len(known)+len(signature.ContextNames))
	for _, k := range known {
		defined[k] = true
	}
	for _, k := range signature.ContextNames {
		defined[k] = true
	}

	unknown := make(map[string]int)
	jinja.Inspect(tmpl, func(n jinja.Node) bool {
		name, ok := n.(*jinja.Name)
		if !ok || name.Ctx != jinja.Load {
			return true
		}
		if bound[name.Name] || defined[name.Name] || a.reg.IsGlobal(name.Name) {
			return true
		}
		if _, seen := unknown[name.Name]; !seen {
			unknown[name.Name] = name.Pos()
		}
		return true
	})

	names := make([]string, 0, len(unknown))
	for k := range unknown {
		names = append(names, k)
	}
	sort.Strings(names)

	issues := make([]Issue, 0, len(names))
	for _, nm := range names {
		issues = append(issues, Issue{
			Kind:     model.IssueTemplateUnknownVariable,
			Severity: model.SeverityWarning,
			Location: location,
			Line:     unknown[nm],
			Message:  fmt.Sprintf("Unknown variable '%s'", nm),
		})
	}
	return issues
}
