// Package conflict finds pairs of automations that drive the same entity in
// opposing or unpredictable directions.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/model"
)

// Detector builds the entity → action graph of a batch and reports
// conflicting pairs.
type Detector struct {
	log *zap.Logger
}

// New returns a Detector. A nil logger discards output.
func New(log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{log: log.Named("conflict")}
}

// Detect compares every pair of actions on the same entity that come from
// different automations. Each (entity, automation pair) yields at most one
// conflict: the most severe pairing. The result is sorted by entity, then
// automation A, then automation B, and never depends on input order.
func (d *Detector) Detect(actions []model.EntityAction) []model.Conflict {
	byEntity := make(map[string][]model.EntityAction)
	for _, a := range actions {
		if a.EntityID == "" || a.AutomationID == "" {
			continue
		}
		byEntity[a.EntityID] = append(byEntity[a.EntityID], a)
	}

	best := make(map[string]candidate)
	for entity, acts := range byEntity {
		for i := 0; i < len(acts); i++ {
			for j := i + 1; j < len(acts); j++ {
				a, b := acts[i], acts[j]
				if a.AutomationID == b.AutomationID {
					continue
				}
				sev, ok := classify(a.Action, b.Action)
				if !ok {
					continue
				}
				if b.AutomationID < a.AutomationID {
					a, b = b, a
				}
				c := candidate{sev: sev, a: a, b: b}
				key := entity + "\x1f" + a.AutomationID + "\x1f" + b.AutomationID
				if prev, seen := best[key]; !seen || c.beats(prev) {
					best[key] = c
				}
			}
		}
	}

	out := make([]model.Conflict, 0, len(best))
	for _, c := range best {
		out = append(out, c.conflict())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		if out[i].AutomationA != out[j].AutomationA {
			return out[i].AutomationA < out[j].AutomationA
		}
		return out[i].AutomationB < out[j].AutomationB
	})
	d.log.Debug("conflict detection finished",
		zap.Int("actions", len(actions)),
		zap.Int("entities", len(byEntity)),
		zap.Int("conflicts", len(out)))
	return out
}

// classify rates a pair of action kinds. Toggles race with anything;
// turn_on against turn_off is an outright contradiction. Set actions are
// value writes and never conflict with each other here.
func classify(x, y model.ActionKind) (model.Severity, bool) {
	switch {
	case x == model.ActionToggle || y == model.ActionToggle:
		return model.SeverityWarning, true
	case x == model.ActionTurnOn && y == model.ActionTurnOff,
		x == model.ActionTurnOff && y == model.ActionTurnOn:
		return model.SeverityError, true
	}
	return "", false
}

type candidate struct {
	sev  model.Severity
	a, b model.EntityAction
}

// beats orders candidates for the same pair: higher severity first, then
// the lexicographically smaller rendering so the choice is stable.
func (c candidate) beats(o candidate) bool {
	if c.sev.Rank() != o.sev.Rank() {
		return c.sev.Rank() > o.sev.Rank()
	}
	return c.tiebreak() < o.tiebreak()
}

func (c candidate) tiebreak() string {
	return strings.Join([]string{
		string(c.a.Action), string(c.b.Action),
		c.a.Location, c.b.Location,
		c.a.Conditions, c.b.Conditions,
	}, "\x1f")
}

func (c candidate) conflict() model.Conflict {
	return model.Conflict{
		EntityID:        c.a.EntityID,
		AutomationA:     c.a.AutomationID,
		AutomationAName: c.a.AutomationName,
		AutomationB:     c.b.AutomationID,
		AutomationBName: c.b.AutomationName,
		ActionA:         c.a.Action,
		ActionB:         c.b.Action,
		Severity:        c.sev,
		Explanation:     explain(c),
		Scenario:        scenario(c),
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func explain(c candidate) string {
	return fmt.Sprintf("'%s' %s %s%s, while '%s' %s it%s",
		name(c.a), verb(c.a.Action), c.a.EntityID, when(c.a.Conditions),
		name(c.b), verb(c.b.Action), when(c.b.Conditions))
}

func scenario(c candidate) string {
	if c.a.Action == model.ActionToggle || c.b.Action == model.ActionToggle {
		return fmt.Sprintf("If both automations run close together, %s may end up in either state "+
			"depending on its state before the toggle", c.a.EntityID)
	}
	return fmt.Sprintf("If both automations fire together, the final state of %s depends on which "+
		"one runs last", c.a.EntityID)
}

func name(a model.EntityAction) string {
	if a.AutomationName != "" {
		return a.AutomationName
	}
	return a.AutomationID
}

func verb(k model.ActionKind) string {
	switch k {
	case model.ActionTurnOn:
		return "turns on"
	case model.ActionTurnOff:
		return "turns off"
	case model.ActionToggle:
		return "toggles"
	default:
		return "sets"
	}
}

func when(cond string) string {
	if cond == "" {
		return ""
	}
	return " when " + cond
}
