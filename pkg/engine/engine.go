// Package engine runs a validation pass over a batch of automations: it
// extracts references, analyzes templates, validates everything against the
// knowledge base, detects conflicts and filters the findings.
//
// Each automation is processed inside its own recovery boundary, so a
// failure in one never affects the others.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/conflict"
	"github.com/ormasoftchile/autodoctor/pkg/extract"
	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/signature"
	"github.com/ormasoftchile/autodoctor/pkg/template"
	"github.com/ormasoftchile/autodoctor/pkg/validate"
)

// Knowledge is the knowledge base as the engine drives it.
type Knowledge interface {
	validate.Knowledge
	LoadHistory(ctx context.Context, ids []string) error
	ClearCache()
}

// Suppressions reports which suppression keys the user has silenced.
type Suppressions interface {
	SuppressedKeys() (map[string]bool, error)
}

// Options configures an Engine.
type Options struct {
	MaxDepth     int
	Validate     validate.Options
	Signatures   *signature.Registry
	Suppressions Suppressions
	// IgnoreKinds drops issues of these kinds from every result.
	IgnoreKinds []model.IssueKind
	// Where is an optional boolean filter expression over issues and
	// conflicts; see Filter.
	Where  string
	Logger *zap.Logger
}

// Stats summarizes a run.
type Stats struct {
	Automations  int           `json:"automations"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Truncated    int           `json:"truncated"`
	References   int           `json:"references"`
	Templates    int           `json:"templates"`
	ServiceCalls int           `json:"service_calls"`
	Suppressed   int           `json:"suppressed"`
	Filtered     int           `json:"filtered"`
	Duration     time.Duration `json:"duration"`
}

// Result is the output of one run.
type Result struct {
	RunID     string                  `json:"run_id"`
	Issues    []model.ValidationIssue `json:"issues"`
	Conflicts []model.Conflict        `json:"conflicts"`
	Stats     Stats                   `json:"stats"`
}

// HasErrors reports whether any issue or conflict is error severity.
func (r Result) HasErrors() bool {
	for _, is := range r.Issues {
		if is.Severity == model.SeverityError {
			return true
		}
	}
	for _, c := range r.Conflicts {
		if c.Severity == model.SeverityError {
			return true
		}
	}
	return false
}

// Engine wires the pipeline stages together. The knowledge base is the only
// state shared across runs.
type Engine struct {
	kb        Knowledge
	extractor *extract.Extractor
	analyzer  *template.Analyzer
	validator *validate.Validator
	detector  *conflict.Detector
	filter    *Filter
	ignore    map[model.IssueKind]bool
	supp      Suppressions
	log       *zap.Logger
}

// New builds an Engine over kb. It fails only when the Where expression
// does not compile.
func New(kb Knowledge, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	filter, err := CompileFilter(opts.Where)
	if err != nil {
		return nil, err
	}
	vopts := opts.Validate
	if vopts.Logger == nil {
		vopts.Logger = log
	}
	ignore := make(map[model.IssueKind]bool, len(opts.IgnoreKinds))
	for _, k := range opts.IgnoreKinds {
		ignore[k] = true
	}
	return &Engine{
		kb:        kb,
		extractor: extract.New(extract.Options{MaxDepth: opts.MaxDepth, Logger: log}),
		analyzer:  template.NewAnalyzer(opts.Signatures, log),
		validator: validate.New(kb, vopts),
		detector:  conflict.New(log),
		filter:    filter,
		ignore:    ignore,
		supp:      opts.Suppressions,
		log:       log.Named("engine"),
	}, nil
}

// ClearCache drops everything the knowledge base has resolved so the next
// run sees fresh host data.
func (e *Engine) ClearCache() {
	e.kb.ClearCache()
}

// Run validates a batch. The history preload is the only step that blocks
// on ctx; when it fails the run continues without history.
func (e *Engine) Run(ctx context.Context, autos []map[string]any) Result {
	start := time.Now()
	res := Result{RunID: uuid.New().String()}
	log := e.log.With(zap.String("run", res.RunID))

	extracted := make([]*extract.Result, len(autos))
	for i, auto := range autos {
		extracted[i] = e.extract(log, auto, i, &res.Stats)
	}
	res.Stats.Automations = len(autos)

	if err := e.kb.LoadHistory(ctx, historyIDs(extracted)); err != nil {
		log.Warn("history preload failed, continuing without history", zap.Error(err))
	}

	var actions []model.EntityAction
	for i, x := range extracted {
		if x == nil || x.Skipped {
			continue
		}
		issues, ok := e.validate(log, x, i)
		if !ok {
			res.Stats.Failed++
			continue
		}
		res.Issues = append(res.Issues, issues...)
		actions = append(actions, x.Actions...)
	}

	res.Issues = model.DedupeIssues(res.Issues)
	res.Conflicts = e.detector.Detect(actions)
	e.apply(log, &res)

	res.Stats.Duration = time.Since(start)
	log.Info("run finished",
		zap.Int("automations", res.Stats.Automations),
		zap.Int("issues", len(res.Issues)),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Int("failed", res.Stats.Failed),
		zap.Duration("duration", res.Stats.Duration))
	return res
}

// Conflicts runs only extraction and conflict detection.
func (e *Engine) Conflicts(autos []map[string]any) []model.Conflict {
	var stats Stats
	var actions []model.EntityAction
	for i, auto := range autos {
		if x := e.extract(e.log, auto, i, &stats); x != nil {
			actions = append(actions, x.Actions...)
		}
	}
	res := Result{Conflicts: e.detector.Detect(actions)}
	e.apply(e.log, &res)
	return res.Conflicts
}

// extract isolates one automation's extraction. A nil result means the
// automation failed and was counted.
func (e *Engine) extract(log *zap.Logger, auto map[string]any, index int, stats *Stats) (out *extract.Result) {
	defer func() {
		if r := recover(); r != nil {
			id, _ := extract.Identity(auto, index)
			log.Error("automation failed during extraction",
				zap.String("automation", id), zap.Any("panic", r))
			stats.Failed++
			out = nil
		}
	}()
	x := e.extractor.Extract(auto, index)
	if x.Skipped {
		stats.Skipped++
	}
	if x.Truncated {
		stats.Truncated++
	}
	stats.References += len(x.References)
	stats.Templates += len(x.Templates)
	stats.ServiceCalls += len(x.ServiceCalls)
	return &x
}

// validate isolates one automation's template analysis and validation.
func (e *Engine) validate(log *zap.Logger, x *extract.Result, index int) (issues []model.ValidationIssue, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("automation failed during validation",
				zap.String("automation", x.AutomationID),
				zap.Int("index", index),
				zap.Any("panic", r))
			issues, ok = nil, false
		}
	}()

	for _, site := range x.Templates {
		known := x.Variables
		if len(site.Locals) > 0 {
			known = append(append([]string(nil), x.Variables...), site.Locals...)
		}
		found := e.analyzer.Analyze(site.Text, site.Location, known)
		issues = append(issues, validate.FromTemplate(x.AutomationID, x.AutomationName, found)...)
	}
	for _, ref := range x.References {
		issues = append(issues, e.validator.Validate(ref)...)
	}
	for _, call := range x.ServiceCalls {
		issues = append(issues, e.validator.ValidateService(call)...)
	}
	return issues, true
}

// apply drops ignored kinds, suppressed findings and anything the Where
// filter rejects.
func (e *Engine) apply(log *zap.Logger, res *Result) {
	suppressed := map[string]bool{}
	if e.supp != nil {
		keys, err := e.supp.SuppressedKeys()
		if err != nil {
			log.Warn("suppressions unavailable", zap.Error(err))
		} else {
			suppressed = keys
		}
	}

	issues := res.Issues[:0:0]
	for _, is := range res.Issues {
		switch {
		case e.ignore[is.Kind]:
			res.Stats.Filtered++
		case suppressed[is.SuppressionKey()]:
			res.Stats.Suppressed++
		case !e.filter.Issue(is):
			res.Stats.Filtered++
		default:
			issues = append(issues, is)
		}
	}
	res.Issues = issues

	conflicts := res.Conflicts[:0:0]
	for _, c := range res.Conflicts {
		switch {
		case suppressed[c.SuppressionKey()]:
			res.Stats.Suppressed++
		case !e.filter.Conflict(c):
			res.Stats.Filtered++
		default:
			conflicts = append(conflicts, c)
		}
	}
	res.Conflicts = conflicts
}

// historyIDs lists the entities whose expected values will be checked, so
// the recorder is only asked about what matters.
func historyIDs(results []*extract.Result) []string {
	seen := map[string]bool{}
	for _, x := range results {
		if x == nil {
			continue
		}
		for _, ref := range x.References {
			if ref.ExpectedState == nil || seen[ref.EntityID] {
				continue
			}
			seen[ref.EntityID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s Stats) String() string {
	return fmt.Sprintf("%d automations, %d skipped, %d failed, %d references, %d templates, %d service calls",
		s.Automations, s.Skipped, s.Failed, s.References, s.Templates, s.ServiceCalls)
}
