// Package automation loads automation definitions from YAML into the
// generic trees the extractor walks.
//
// Accepted shapes, per document:
//
//	- id: a            # automations.yaml: a list
//	id: a              # one automation
//	automation: [...]  # a configuration package; "automation <label>:" too
//
// Host-specific tags (!secret, !input, !include ...) are kept as their
// scalar text so that loading never depends on files outside the batch.
package automation

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Automation is one definition tree plus where it came from.
type Automation struct {
	Source string
	Tree   map[string]any
}

// Trees strips the sources from a batch.
func Trees(autos []Automation) []map[string]any {
	out := make([]map[string]any, len(autos))
	for i, a := range autos {
		out[i] = a.Tree
	}
	return out
}

// LoadPaths loads every path in order. Directories contribute their *.yaml
// and *.yml files, sorted by name, recursively.
func LoadPaths(paths ...string) ([]Automation, error) {
	var out []Automation
	for _, p := range paths {
		files, err := expand(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			autos, err := LoadFile(f)
			if err != nil {
				return nil, err
			}
			out = append(out, autos...)
		}
	}
	return out, nil
}

// Files lists the YAML files LoadPaths would read.
func Files(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		files, err := expand(p)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile reads one YAML file.
func LoadFile(path string) ([]Automation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open automations: %w", err)
	}
	defer f.Close()
	autos, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range autos {
		autos[i].Source = path
	}
	return autos, nil
}

// Load reads every document of a YAML stream.
func Load(r io.Reader) ([]Automation, error) {
	dec := yaml.NewDecoder(r)
	var out []Automation
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode automations: %w", err)
		}
		v, err := toValue(&doc)
		if err != nil {
			return nil, err
		}
		for _, tree := range automations(v) {
			out = append(out, Automation{Tree: tree})
		}
	}
}

// automations interprets one decoded document.
func automations(v any) []map[string]any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, _ := item.(map[string]any)
			if m == nil {
				// Keep the slot so automation_<n> fallbacks stay stable.
				m = map[string]any{}
			}
			out = append(out, m)
		}
		return out
	case map[string]any:
		var pkg []map[string]any
		found := false
		for _, k := range sortedKeys(t) {
			if k == "automation" || strings.HasPrefix(k, "automation ") {
				found = true
				pkg = append(pkg, automations(t[k])...)
			}
		}
		if found {
			return pkg
		}
		return []map[string]any{t}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Node conversion
// ---------------------------------------------------------------------------

// toValue converts a node tree into plain Go values with string keys.
// Scalars with a local tag decode as if untagged.
func toValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return toValue(n.Content[0])
	case yaml.AliasNode:
		return toValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := toValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Tag == "!!merge" {
				merged, err := toValue(v)
				if err != nil {
					return nil, err
				}
				mergeInto(out, merged)
				continue
			}
			val, err := toValue(v)
			if err != nil {
				return nil, err
			}
			out[k.Value] = val
		}
		return out, nil
	case yaml.ScalarNode:
		s := *n
		if strings.HasPrefix(s.Tag, "!") && !strings.HasPrefix(s.Tag, "!!") {
			return s.Value, nil
		}
		var v any
		if err := s.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
}

// mergeInto applies a "<<" merge: existing keys win.
func mergeInto(dst map[string]any, src any) {
	switch t := src.(type) {
	case map[string]any:
		for k, v := range t {
			if _, ok := dst[k]; !ok {
				dst[k] = v
			}
		}
	case []any:
		for _, item := range t {
			mergeInto(dst, item)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
