package hass

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Registry file names under the .storage directory.
const (
	EntityRegistryFile = "core.entity_registry"
	DeviceRegistryFile = "core.device_registry"
	AreaRegistryFile   = "core.area_registry"
	FloorRegistryFile  = "core.floor_registry"
	LabelRegistryFile  = "core.label_registry"
	TagRegistryFile    = "tag"
)

// RegistryEntry is the subset of an entity registry entry that matters here.
type RegistryEntry struct {
	EntityID   string `json:"entity_id"`
	Platform   string `json:"platform"`
	DeviceID   string `json:"device_id"`
	AreaID     string `json:"area_id"`
	DisabledBy string `json:"disabled_by"`
}

// Registry answers existence questions from the .storage registries. Files
// that are absent leave their registry empty.
type Registry struct {
	entities map[string]RegistryEntry
	deleted  map[string]bool
	devices  map[string]bool
	areas    map[string]bool
	tags     map[string]bool
}

type storageFile[T any] struct {
	Version int    `json:"version"`
	Key     string `json:"key"`
	Data    T      `json:"data"`
}

type entityData struct {
	Entities        []RegistryEntry `json:"entities"`
	DeletedEntities []RegistryEntry `json:"deleted_entities"`
}

type idEntry struct {
	ID      string `json:"id"`
	AreaID  string `json:"area_id"`
	FloorID string `json:"floor_id"`
	LabelID string `json:"label_id"`
}

type deviceData struct {
	Devices []idEntry `json:"devices"`
}

type areaData struct {
	Areas []idEntry `json:"areas"`
}

type floorData struct {
	Floors []idEntry `json:"floors"`
}

type labelData struct {
	Labels []idEntry `json:"labels"`
}

type tagData struct {
	Items []idEntry `json:"items"`
}

// LoadRegistry reads the registries found in dir (a .storage directory).
func LoadRegistry(dir string) (*Registry, error) {
	r := &Registry{
		entities: map[string]RegistryEntry{},
		deleted:  map[string]bool{},
		devices:  map[string]bool{},
		areas:    map[string]bool{},
		tags:     map[string]bool{},
	}

	var ents storageFile[entityData]
	if err := readStorage(dir, EntityRegistryFile, &ents); err != nil {
		return nil, err
	}
	for _, e := range ents.Data.Entities {
		r.entities[e.EntityID] = e
	}
	for _, e := range ents.Data.DeletedEntities {
		if _, live := r.entities[e.EntityID]; !live {
			r.deleted[e.EntityID] = true
		}
	}

	var devs storageFile[deviceData]
	if err := readStorage(dir, DeviceRegistryFile, &devs); err != nil {
		return nil, err
	}
	for _, d := range devs.Data.Devices {
		r.devices[d.ID] = true
	}

	// Floors are target-compatible with areas.
	var areas storageFile[areaData]
	if err := readStorage(dir, AreaRegistryFile, &areas); err != nil {
		return nil, err
	}
	for _, a := range areas.Data.Areas {
		r.areas[first(a.ID, a.AreaID)] = true
	}
	var floors storageFile[floorData]
	if err := readStorage(dir, FloorRegistryFile, &floors); err != nil {
		return nil, err
	}
	for _, f := range floors.Data.Floors {
		r.areas[first(f.FloorID, f.ID)] = true
	}

	var labels storageFile[labelData]
	if err := readStorage(dir, LabelRegistryFile, &labels); err != nil {
		return nil, err
	}
	for _, l := range labels.Data.Labels {
		r.tags[first(l.LabelID, l.ID)] = true
	}
	var tags storageFile[tagData]
	if err := readStorage(dir, TagRegistryFile, &tags); err != nil {
		return nil, err
	}
	for _, t := range tags.Data.Items {
		r.tags[t.ID] = true
	}

	delete(r.areas, "")
	delete(r.tags, "")
	return r, nil
}

func readStorage(dir, name string, v any) error {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func first(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func (r *Registry) EntityRegistered(id string) bool {
	_, ok := r.entities[id]
	return ok
}

func (r *Registry) EntityRemoved(id string) bool { return r.deleted[id] }

func (r *Registry) Integration(id string) string { return r.entities[id].Platform }

func (r *Registry) DeviceExists(id string) bool { return r.devices[id] }

func (r *Registry) AreaExists(id string) bool { return r.areas[id] }

func (r *Registry) TagExists(id string) bool { return r.tags[id] }

// Entry returns the registry entry of id.
func (r *Registry) Entry(id string) (RegistryEntry, bool) {
	e, ok := r.entities[id]
	return e, ok
}
