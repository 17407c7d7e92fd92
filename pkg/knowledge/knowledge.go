// Package knowledge resolves what the entities referenced by automations are
// and which values they may legitimately take.
//
// Legal values come from four layers, each only adding to the previous:
//
//  1. class defaults inferred from the entity's domain,
//  2. schema introspection of the entity's own attributes (options lists),
//  3. values observed in the recorder history,
//  4. values a user confirmed for the (domain, integration) pair.
//
// Results are cached per entity until ClearCache is called.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ormasoftchile/autodoctor/pkg/model"
)

// ErrNoSource is returned by lookups whose collaborator is not configured.
// Callers treat it as "cannot tell" and skip the dependent check.
var ErrNoSource = errors.New("knowledge: source not configured")

// DefaultHistoryDays is the recorder lookback window.
const DefaultHistoryDays = 30

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Entity is a live state snapshot of one entity.
type Entity struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// StateSource exposes current entity states.
type StateSource interface {
	State(entityID string) (Entity, bool, error)
	// EntityIDs lists the known entities of domain, or all of them when
	// domain is empty.
	EntityIDs(domain string) ([]string, error)
}

// Registry answers structural questions about the host's registries.
type Registry interface {
	EntityRegistered(entityID string) bool
	EntityRemoved(entityID string) bool
	Integration(entityID string) string
	DeviceExists(id string) bool
	AreaExists(id string) bool
	TagExists(id string) bool
}

// HistorySource returns the distinct states recorded per entity since a
// point in time.
type HistorySource interface {
	History(ctx context.Context, entityIDs []string, since time.Time) (map[string][]string, error)
}

// CorrectionSource returns values a user confirmed as legitimate.
type CorrectionSource interface {
	LearnedValues(domain, integration string) ([]string, error)
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Values is a set of strings. A nil Values means "unconstrained".
type Values map[string]struct{}

// NewValues builds a set from vs.
func NewValues(vs ...string) Values {
	out := make(Values, len(vs))
	out.Add(vs...)
	return out
}

// Add inserts vs.
func (v Values) Add(vs ...string) {
	for _, s := range vs {
		v[s] = struct{}{}
	}
}

// Has reports membership.
func (v Values) Has(s string) bool {
	_, ok := v[s]
	return ok
}

// Sorted returns the members in lexical order.
func (v Values) Sorted() []string {
	out := make([]string, 0, len(v))
	for s := range v {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Base
// ---------------------------------------------------------------------------

// Options configures a Base. Every collaborator is optional.
type Options struct {
	Registry    Registry
	History     HistorySource
	Corrections CorrectionSource
	HistoryDays int
	Logger      *zap.Logger
	// Now is the clock used for the history window.
	Now func() time.Time
}

// Base is the knowledge base. It is safe for concurrent use; the value
// cache is the only mutable state and is guarded by mu.
type Base struct {
	states StateSource
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	legal   map[string]Values
	history map[string]Values
	// fetched holds the ids whose history has been asked for, whether or
	// not the recorder had rows for them.
	fetched map[string]bool

	loads singleflight.Group
}

// New creates a knowledge base over states.
func New(states StateSource, opts Options) *Base {
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = DefaultHistoryDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Base{
		states:  states,
		opts:    opts,
		log:     log.Named("knowledge"),
		legal:   make(map[string]Values),
		history: make(map[string]Values),
		fetched: make(map[string]bool),
	}
}

// ClearCache drops every cached value set and the loaded history, so the
// next lookups recompute from the sources.
func (b *Base) ClearCache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.legal = make(map[string]Values)
	b.history = make(map[string]Values)
	b.fetched = make(map[string]bool)
	b.log.Debug("cache cleared")
}

// EntityExists reports whether id has a live state or a registry entry.
func (b *Base) EntityExists(id string) (bool, error) {
	if b.states == nil {
		return false, ErrNoSource
	}
	_, ok, err := b.states.State(id)
	if err != nil {
		return false, fmt.Errorf("state of %s: %w", id, err)
	}
	if !ok && b.opts.Registry != nil {
		ok = b.opts.Registry.EntityRegistered(id)
	}
	return ok, nil
}

// EntityRemoved reports whether the registry recorded id as deleted.
func (b *Base) EntityRemoved(id string) bool {
	return b.opts.Registry != nil && b.opts.Registry.EntityRemoved(id)
}

// Integration returns the platform owning id, or "".
func (b *Base) Integration(id string) string {
	if b.opts.Registry == nil {
		return ""
	}
	return b.opts.Registry.Integration(id)
}

// Candidates lists existing entity ids of domain.
func (b *Base) Candidates(domain string) ([]string, error) {
	if b.states == nil {
		return nil, ErrNoSource
	}
	return b.states.EntityIDs(domain)
}

// AttributeNames returns the attribute names id currently exposes, or nil
// when the entity has no live state.
func (b *Base) AttributeNames(id string) (Values, error) {
	if b.states == nil {
		return nil, ErrNoSource
	}
	ent, ok, err := b.states.State(id)
	if err != nil {
		return nil, fmt.Errorf("state of %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	out := make(Values, len(ent.Attributes))
	for k := range ent.Attributes {
		out.Add(k)
	}
	return out, nil
}

// DeviceExists checks the device registry.
func (b *Base) DeviceExists(id string) (bool, error) {
	if b.opts.Registry == nil {
		return false, ErrNoSource
	}
	return b.opts.Registry.DeviceExists(id), nil
}

// AreaExists checks the area registry.
func (b *Base) AreaExists(id string) (bool, error) {
	if b.opts.Registry == nil {
		return false, ErrNoSource
	}
	return b.opts.Registry.AreaExists(id), nil
}

// TagExists checks the tag and label registries.
func (b *Base) TagExists(id string) (bool, error) {
	if b.opts.Registry == nil {
		return false, ErrNoSource
	}
	return b.opts.Registry.TagExists(id), nil
}

// ZoneExists accepts either "zone.x" or a bare zone object id.
func (b *Base) ZoneExists(id string) (bool, error) {
	if !strings.HasPrefix(id, "zone.") {
		id = "zone." + id
	}
	return b.EntityExists(id)
}

// ---------------------------------------------------------------------------
// Legal values
// ---------------------------------------------------------------------------

// LegalValues returns the set of states id may take, or nil when the entity
// is free-form. "unavailable" and "unknown" are always members of a
// non-nil set.
func (b *Base) LegalValues(id string) (Values, error) {
	b.mu.Lock()
	if v, ok := b.legal[id]; ok {
		b.mu.Unlock()
		return v, nil
	}
	b.mu.Unlock()

	v, err := b.resolve(id)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.legal[id] = v
	b.mu.Unlock()
	return v, nil
}

func (b *Base) resolve(id string) (Values, error) {
	if b.states == nil {
		return nil, ErrNoSource
	}
	domain, _ := model.SplitEntityID(id)
	ent, live, err := b.states.State(id)
	if err != nil {
		return nil, fmt.Errorf("state of %s: %w", id, err)
	}

	var vals Values

	// 1. class defaults
	if defs, ok := domainDefaults[domain]; ok {
		vals = NewValues(defs...)
	}

	// 2. schema introspection
	if live {
		if attr, ok := schemaAttributes[domain]; ok {
			if opts := stringList(ent.Attributes[attr]); len(opts) > 0 {
				if vals == nil {
					vals = make(Values)
				}
				vals.Add(opts...)
			}
		}
	}
	if presenceDomains[domain] {
		zones, err := b.zoneNames()
		if err != nil {
			b.log.Debug("zone names unavailable", zap.Error(err))
		}
		if vals == nil {
			vals = make(Values)
		}
		vals.Add(zones...)
	}

	if vals == nil {
		return nil, nil
	}

	// 3. observed history, including the current state
	if live {
		vals.Add(ent.State)
	}
	b.mu.Lock()
	for s := range b.history[id] {
		vals.Add(s)
	}
	b.mu.Unlock()
	vals.Add(StateUnavailable, StateUnknown)

	// 4. user-confirmed corrections
	if b.opts.Corrections != nil {
		learned, err := b.opts.Corrections.LearnedValues(domain, b.Integration(id))
		if err != nil {
			b.log.Warn("learned values unavailable", zap.String("entity", id), zap.Error(err))
		}
		vals.Add(learned...)
	}
	return vals, nil
}

// zoneNames returns the friendly names of every zone except home, which
// presence entities report as "home".
func (b *Base) zoneNames() ([]string, error) {
	ids, err := b.states.EntityIDs("zone")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, id := range ids {
		if id == "zone.home" {
			continue
		}
		ent, ok, err := b.states.State(id)
		if err != nil || !ok {
			continue
		}
		if n, ok := ent.Attributes["friendly_name"].(string); ok && n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// LoadHistory loads the recorder history for the ids not fetched since the
// last ClearCache. Concurrent callers asking for the same ids share one
// in-flight load, which runs on its own goroutine; ctx only bounds how long
// this caller waits. Cached value sets of the fetched ids are dropped so the
// next LegalValues sees their history.
func (b *Base) LoadHistory(ctx context.Context, ids []string) error {
	if b.opts.History == nil {
		return nil
	}
	missing := b.unfetched(ids)
	if len(missing) == 0 {
		return nil
	}

	ch := b.loads.DoChan(strings.Join(missing, ","), func() (any, error) {
		since := b.opts.Now().AddDate(0, 0, -b.opts.HistoryDays)
		start := time.Now()
		observed, err := b.opts.History.History(context.WithoutCancel(ctx), missing, since)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		for id, states := range observed {
			set := b.history[id]
			if set == nil {
				set = make(Values)
				b.history[id] = set
			}
			for _, s := range states {
				if s == StateUnavailable || s == StateUnknown || s == "" {
					continue
				}
				set.Add(s)
			}
		}
		for _, id := range missing {
			b.fetched[id] = true
			delete(b.legal, id)
		}
		b.log.Debug("history loaded",
			zap.Int("requested", len(missing)),
			zap.Int("entities", len(observed)),
			zap.Duration("elapsed", time.Since(start)))
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// unfetched returns the sorted, distinct ids without loaded history.
func (b *Base) unfetched(ids []string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] || b.fetched[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Observed returns the history values recorded for id, excluding the
// placeholder states.
func (b *Base) Observed(id string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history[id].Sorted()
}
