// Package signature holds the static tables the template analyzer checks
// against: filter and test arities, functions that take an entity id, and the
// identifiers that are always in scope.
package signature

import (
	"fmt"
	"sort"
)

// Unbounded marks a signature without an upper argument limit.
const Unbounded = -1

// ArgSpec names one positional argument.
type ArgSpec struct {
	Name     string
	Required bool
}

// Signature describes the positional arguments a filter or test accepts.
// For filters and tests the piped/tested value is not counted.
type Signature struct {
	Name    string
	MinArgs int
	MaxArgs int
	Args    []ArgSpec
}

// Accepts reports whether n positional arguments fit the signature.
func (s Signature) Accepts(n int) bool {
	if n < s.MinArgs {
		return false
	}
	return s.MaxArgs == Unbounded || n <= s.MaxArgs
}

// Expected renders the accepted count or range, e.g. "1", "1-2", "at least 1".
func (s Signature) Expected() string {
	switch {
	case s.MaxArgs == Unbounded:
		return fmt.Sprintf("at least %d", s.MinArgs)
	case s.MinArgs == s.MaxArgs:
		return fmt.Sprintf("%d", s.MinArgs)
	default:
		return fmt.Sprintf("%d-%d", s.MinArgs, s.MaxArgs)
	}
}

// sig builds a Signature from argument names; a trailing "?" marks an
// optional argument and "*" makes the signature unbounded.
func sig(name string, args ...string) Signature {
	s := Signature{Name: name}
	for _, a := range args {
		switch {
		case a == "*":
			s.MaxArgs = Unbounded
			continue
		case len(a) > 0 && a[len(a)-1] == '?':
			s.Args = append(s.Args, ArgSpec{Name: a[:len(a)-1]})
		default:
			s.Args = append(s.Args, ArgSpec{Name: a, Required: true})
			s.MinArgs++
		}
		if s.MaxArgs != Unbounded {
			s.MaxArgs++
		}
	}
	return s
}

// Registry is an immutable lookup over signatures and known names.
type Registry struct {
	filters     map[string]Signature
	tests       map[string]Signature
	entityFuncs map[string]int
	globals     map[string]struct{}
}

// Filter returns the filter signature for name.
func (r *Registry) Filter(name string) (Signature, bool) {
	s, ok := r.filters[name]
	return s, ok
}

// Test returns the test signature for name.
func (r *Registry) Test(name string) (Signature, bool) {
	s, ok := r.tests[name]
	return s, ok
}

// EntityArg reports which argument index of a function holds an entity id.
func (r *Registry) EntityArg(fn string) (int, bool) {
	i, ok := r.entityFuncs[fn]
	return i, ok
}

// IsGlobal reports whether name is always defined in a template.
func (r *Registry) IsGlobal(name string) bool {
	_, ok := r.globals[name]
	return ok
}

// Filters returns all filter names, sorted.
func (r *Registry) Filters() []string { return sortedKeys(r.filters) }

// Tests returns all test names, sorted.
func (r *Registry) Tests() []string { return sortedKeys(r.tests) }

func sortedKeys(m map[string]Signature) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds a registry from explicit tables. Default() is the normal
// entry point.
func New(filters, tests []Signature, entityFuncs map[string]int, globals []string) *Registry {
	r := &Registry{
		filters:     make(map[string]Signature, len(filters)),
		tests:       make(map[string]Signature, len(tests)),
		entityFuncs: make(map[string]int, len(entityFuncs)),
		globals:     make(map[string]struct{}, len(globals)),
	}
	for _, s := range filters {
		r.filters[s.Name] = s
	}
	for _, s := range tests {
		r.tests[s.Name] = s
	}
	for k, v := range entityFuncs {
		r.entityFuncs[k] = v
	}
	for _, g := range globals {
		r.globals[g] = struct{}{}
	}
	return r
}

var defaultRegistry = New(builtinFilters(), builtinTests(), entityFunctions, globalNames)

// Default returns the process-wide registry. It is read-only.
func Default() *Registry { return defaultRegistry }
