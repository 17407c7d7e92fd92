// Package hass reads Home Assistant host data from disk: a states snapshot,
// the .storage registries, the recorder database and the service catalog.
// Each reader backs one knowledge or validation collaborator; all of them
// are optional.
package hass

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ormasoftchile/autodoctor/pkg/knowledge"
	"github.com/ormasoftchile/autodoctor/pkg/model"
)

// States is an immutable snapshot of /api/states.
type States struct {
	byID map[string]knowledge.Entity
	ids  []string
}

// LoadStates reads a JSON snapshot as returned by GET /api/states.
func LoadStates(path string) (*States, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open states: %w", err)
	}
	defer f.Close()
	s, err := ParseStates(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseStates decodes a states snapshot.
func ParseStates(r io.Reader) (*States, error) {
	var list []knowledge.Entity
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	return NewStates(list), nil
}

// NewStates builds a snapshot from entities. Later duplicates win.
func NewStates(list []knowledge.Entity) *States {
	s := &States{byID: make(map[string]knowledge.Entity, len(list))}
	for _, e := range list {
		if e.EntityID == "" {
			continue
		}
		if _, dup := s.byID[e.EntityID]; !dup {
			s.ids = append(s.ids, e.EntityID)
		}
		s.byID[e.EntityID] = e
	}
	sort.Strings(s.ids)
	return s
}

// State returns the snapshot entry for id.
func (s *States) State(id string) (knowledge.Entity, bool, error) {
	e, ok := s.byID[id]
	return e, ok, nil
}

// EntityIDs lists the entities of domain, or every entity for "".
func (s *States) EntityIDs(domain string) ([]string, error) {
	if domain == "" {
		return append([]string(nil), s.ids...), nil
	}
	var out []string
	for _, id := range s.ids {
		if d, _ := model.SplitEntityID(id); d == domain {
			out = append(out, id)
		}
	}
	return out, nil
}

// Len is the number of entities in the snapshot.
func (s *States) Len() int { return len(s.ids) }
