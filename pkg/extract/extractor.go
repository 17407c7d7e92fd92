// Package extract walks automation definitions into the flat reference,
// action and service-call records the validator and conflict detector
// consume.
//
// Extraction is tolerant: a malformed node is skipped with a debug
// diagnostic and its siblings are still walked. Nothing here returns an
// error or panics out to the caller.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/template"
)

// DefaultMaxDepth bounds condition and action nesting.
const DefaultMaxDepth = 20

// TemplateSite is one template string and where it was found.
type TemplateSite struct {
	Text     string `json:"text"`
	Location string `json:"location"`
	// Locals are names the host defines only while rendering this site,
	// such as value_json in an MQTT trigger.
	Locals []string `json:"locals,omitempty"`
}

// Result is everything extracted from one automation.
type Result struct {
	AutomationID   string
	AutomationName string
	References     []model.StateReference
	Actions        []model.EntityAction
	ServiceCalls   []model.ServiceCall
	Templates      []TemplateSite
	// Variables are names the automation defines for its templates.
	Variables []string
	// Truncated is set when a branch exceeded the depth ceiling.
	Truncated bool
	// Skipped is set for automations that are not walked (blueprints).
	Skipped bool
}

// Options configures an Extractor.
type Options struct {
	MaxDepth int
	Logger   *zap.Logger
}

// Extractor is stateless between calls and safe for concurrent use.
type Extractor struct {
	maxDepth int
	log      *zap.Logger
}

// New returns an Extractor.
func New(opts Options) *Extractor {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{maxDepth: opts.MaxDepth, log: log.Named("extract")}
}

// Identity returns the id and display name of the automation at index in
// its batch. The id falls back to the alias, then to "automation_<index>".
func Identity(auto map[string]any, index int) (id, name string) {
	name, _ = auto["alias"].(string)
	id = scalarString(auto["id"])
	if id == "" {
		id = name
	}
	if id == "" {
		id = fmt.Sprintf("automation_%d", index)
	}
	if name == "" {
		name = id
	}
	return id, name
}

// Extract walks one automation.
func (x *Extractor) Extract(auto map[string]any, index int) (res Result) {
	id, name := Identity(auto, index)
	res.AutomationID, res.AutomationName = id, name

	w := &walker{
		x:     x,
		res:   &res,
		owner: template.Owner{ID: id, Name: name},
		log:   x.log.With(zap.String("automation", id)),
		vars:  make(map[string]bool),
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("extraction aborted", zap.Any("panic", r))
		}
		res.Variables = w.variables()
	}()

	if _, ok := auto["use_blueprint"]; ok {
		w.log.Debug("blueprint automation skipped")
		res.Skipped = true
		return res
	}

	w.defineVars(auto["variables"])
	w.defineVars(auto["trigger_variables"])

	w.triggers(section(auto, "trigger", "triggers"), "trigger", 0)
	w.conditions(section(auto, "condition", "conditions"), "condition", 0)
	w.actions(section(auto, "action", "actions"), "action", 0, nil)
	return res
}

// section returns the first present key; automations use singular and
// plural section names interchangeably.
func section(auto map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := auto[k]; ok {
			return v
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Walker
// ---------------------------------------------------------------------------

type walker struct {
	x     *Extractor
	res   *Result
	owner template.Owner
	log   *zap.Logger
	vars  map[string]bool
}

func (w *walker) tooDeep(depth int, loc string) bool {
	if depth <= w.x.maxDepth {
		return false
	}
	if !w.res.Truncated {
		w.log.Warn("nesting exceeds depth ceiling; branch truncated",
			zap.String("location", loc), zap.Int("max_depth", w.x.maxDepth))
	}
	w.res.Truncated = true
	return true
}

func (w *walker) malformed(loc, want string, got any) {
	w.log.Debug("malformed node skipped",
		zap.String("location", loc),
		zap.String("want", want),
		zap.String("got", fmt.Sprintf("%T", got)))
}

func (w *walker) variables() []string {
	out := make([]string, 0, len(w.vars))
	for k := range w.vars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (w *walker) defineVars(v any) {
	m, ok := asMap(v)
	if !ok {
		return
	}
	for k, val := range m {
		w.vars[k] = true
		if s, ok := val.(string); ok && template.IsTemplate(s) {
			w.template(s, "variables."+k)
		}
	}
}

// ref appends a reference owned by the automation being walked.
func (w *walker) ref(r model.StateReference) {
	r.AutomationID = w.owner.ID
	r.AutomationName = w.owner.Name
	if r.Kind == "" {
		r.Kind = model.RefDirect
	}
	w.res.References = append(w.res.References, r)
}

// template records a template site and harvests its references.
func (w *walker) template(text, loc string, locals ...string) {
	w.res.Templates = append(w.res.Templates, TemplateSite{Text: text, Location: loc, Locals: locals})
	w.res.References = append(w.res.References, template.References(text, loc, w.owner)...)
}

// located is a scalar taken from a field together with its exact
// location: the field itself, or the list element it came from.
type located struct {
	value string
	loc   string
}

func plain(ls []located) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.value
	}
	return out
}

// ids normalizes an entity-id field: a string, a comma-separated string or
// a list of strings. Template strings are routed to the template path and
// not returned.
func (w *walker) ids(v any, loc string) []located {
	var out []located
	add := func(s, at string) {
		if template.IsTemplate(s) {
			w.template(s, at)
			return
		}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, located{part, at})
			}
		}
	}
	switch t := v.(type) {
	case nil:
	case string:
		add(t, loc)
	case []any:
		for i, e := range t {
			if s, ok := e.(string); ok {
				add(s, index(loc, i))
			} else {
				w.malformed(index(loc, i), "string", e)
			}
		}
	case []string:
		for i, s := range t {
			add(s, index(loc, i))
		}
	default:
		w.malformed(loc, "string or list", v)
	}
	return out
}

// funnel scans every field of node not named in handled for template
// strings, descending into nested mappings and lists.
func (w *walker) funnel(node map[string]any, loc string, handled ...string) {
	skip := make(map[string]bool, len(handled))
	for _, h := range handled {
		skip[h] = true
	}
	for _, k := range sortedKeys(node) {
		if skip[k] {
			continue
		}
		w.scanTemplates(node[k], join(loc, k), 0)
	}
}

func (w *walker) scanTemplates(v any, loc string, depth int) {
	if w.tooDeep(depth, loc) {
		return
	}
	switch t := v.(type) {
	case string:
		if template.IsTemplate(t) {
			w.template(t, loc)
		}
	case []any:
		for i, e := range t {
			w.scanTemplates(e, index(loc, i), depth+1)
		}
	default:
		if m, ok := asMap(v); ok {
			for _, k := range sortedKeys(m) {
				w.scanTemplates(m[k], join(loc, k), depth+1)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Tree helpers
// ---------------------------------------------------------------------------

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// asList treats a lone mapping as a one-element list.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []any:
		return t, true
	}
	if _, ok := asMap(v); ok {
		return []any{v}, true
	}
	return nil, false
}

// values normalizes a scalar-or-list field of expected values.
func values(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := scalarString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := scalarString(v); s != "" {
		return []string{s}
	}
	return nil
}

// valuesAt is values with the location of each element.
func valuesAt(v any, loc string) []located {
	items, ok := v.([]any)
	if !ok {
		if s := scalarString(v); s != "" {
			return []located{{s, loc}}
		}
		return nil
	}
	var out []located
	for i, e := range items {
		if s := scalarString(e); s != "" {
			out = append(out, located{s, index(loc, i)})
		}
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(t)
	}
	return ""
}

func disabled(node map[string]any) bool {
	b, ok := node["enabled"].(bool)
	return ok && !b
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(loc, key string) string { return loc + "." + key }

func index(loc string, i int) string { return fmt.Sprintf("%s[%d]", loc, i) }
