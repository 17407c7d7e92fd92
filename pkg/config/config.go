// Package config loads autodoctor's YAML configuration and validates it
// against a JSON Schema generated from the Config type.
package config

//go:generate go run ../../scripts/gen-schema.go ../../schemas/autodoctor.schema.json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/autodoctor/pkg/extract"
	"github.com/ormasoftchile/autodoctor/pkg/knowledge"
	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/validate"
)

// DefaultFile is looked up in the working directory when no --config is
// given.
const DefaultFile = "autodoctor.yaml"

// Config is the file format. Paths are resolved relative to the file.
type Config struct {
	Automations []string `yaml:"automations,omitempty"  json:"automations,omitempty"  jsonschema:"description=Automation files or directories validated when no paths are given"`
	States      string   `yaml:"states,omitempty"       json:"states,omitempty"       jsonschema:"description=JSON snapshot of /api/states"`
	RegistryDir string   `yaml:"registry_dir,omitempty" json:"registry_dir,omitempty" jsonschema:"description=Home Assistant .storage directory"`
	Recorder    string   `yaml:"recorder,omitempty"     json:"recorder,omitempty"     jsonschema:"description=Recorder SQLite database (home-assistant_v2.db)"`
	Services    string   `yaml:"services,omitempty"     json:"services,omitempty"     jsonschema:"description=JSON catalog of /api/services"`
	Store       string   `yaml:"store,omitempty"        json:"store,omitempty"        jsonschema:"description=SQLite file for learned values and suppressions"`

	HistoryDays               int     `yaml:"history_days"                json:"history_days"                jsonschema:"minimum=1,default=30"`
	MaxDepth                  int     `yaml:"max_depth"                   json:"max_depth"                   jsonschema:"minimum=1,maximum=1000,default=20"`
	EntitySuggestionThreshold float64 `yaml:"entity_suggestion_threshold" json:"entity_suggestion_threshold" jsonschema:"exclusiveMinimum=0,maximum=1,default=0.75"`
	ValueSuggestionThreshold  float64 `yaml:"value_suggestion_threshold"  json:"value_suggestion_threshold"  jsonschema:"exclusiveMinimum=0,maximum=1,default=0.6"`
	AttributeSampleSize       int     `yaml:"attribute_sample_size"       json:"attribute_sample_size"       jsonschema:"minimum=1,default=10"`

	IgnoreKinds []string `yaml:"ignore_kinds,omitempty" json:"ignore_kinds,omitempty" jsonschema:"description=Issue kinds never reported"`
	Where       string   `yaml:"where,omitempty"        json:"where,omitempty"        jsonschema:"description=Boolean filter expression over findings"`
}

// Default returns a configuration with every tunable at its default.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.HistoryDays == 0 {
		c.HistoryDays = knowledge.DefaultHistoryDays
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = extract.DefaultMaxDepth
	}
	if c.EntitySuggestionThreshold == 0 {
		c.EntitySuggestionThreshold = validate.DefaultEntitySuggestionThreshold
	}
	if c.ValueSuggestionThreshold == 0 {
		c.ValueSuggestionThreshold = validate.DefaultValueSuggestionThreshold
	}
	if c.AttributeSampleSize == 0 {
		c.AttributeSampleSize = validate.DefaultAttributeSampleSize
	}
}

// IssueKinds converts IgnoreKinds.
func (c *Config) IssueKinds() []model.IssueKind {
	out := make([]model.IssueKind, len(c.IgnoreKinds))
	for i, k := range c.IgnoreKinds {
		out[i] = model.IssueKind(k)
	}
	return out
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// ValidationError is one problem found in a configuration.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// LoadFile reads, defaults, resolves and validates a configuration file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	c, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.resolve(filepath.Dir(path))
	return c, nil
}

// Load reads a configuration. Unknown keys are rejected.
func Load(r io.Reader) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	c.applyDefaults()
	if errs := c.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid config: %w", errors.Join(joined...))
	}
	return &c, nil
}

// resolve makes relative paths relative to base.
func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.States = abs(c.States)
	c.RegistryDir = abs(c.RegistryDir)
	c.Recorder = abs(c.Recorder)
	c.Services = abs(c.Services)
	c.Store = abs(c.Store)
	for i, p := range c.Automations {
		c.Automations[i] = abs(p)
	}
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

// GenerateJSONSchema produces the JSON Schema (Draft 2020-12) of Config.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.RequiredFromJSONSchemaTags = true
	s := r.Reflect(&Config{})
	s.ID = "https://github.com/ormasoftchile/autodoctor/schemas/config.json"
	s.Title = "autodoctor configuration"
	s.Description = "Schema for autodoctor.yaml"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// Validate checks c against the generated schema and the rules a schema
// cannot express.
func (c *Config) Validate() []*ValidationError {
	errs := c.validateSchema()
	known := make(map[model.IssueKind]bool, len(model.IssueKinds))
	for _, k := range model.IssueKinds {
		known[k] = true
	}
	for i, k := range c.IgnoreKinds {
		if !known[model.IssueKind(k)] {
			errs = append(errs, &ValidationError{
				Path:    fmt.Sprintf("ignore_kinds[%d]", i),
				Message: fmt.Sprintf("unknown issue kind %q", k),
			})
		}
	}
	return errs
}

func (c *Config) validateSchema() []*ValidationError {
	fail := func(format string, args ...any) []*ValidationError {
		return []*ValidationError{{Message: fmt.Sprintf(format, args...)}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fail("generate schema: %v", err)
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fail("unmarshal schema: %v", err)
	}
	comp := sjsonschema.NewCompiler()
	if err := comp.AddResource("config.json", schemaDoc); err != nil {
		return fail("add schema resource: %v", err)
	}
	sch, err := comp.Compile("config.json")
	if err != nil {
		return fail("compile schema: %v", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fail("marshal for schema validation: %v", err)
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fail("unmarshal document: %v", err)
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fail("%v", err)
	}
	var out []*ValidationError
	for _, cause := range leaves(ve) {
		out = append(out, &ValidationError{
			Path:    strings.Join(cause.InstanceLocation, "."),
			Message: fmt.Sprintf("%v", cause.ErrorKind),
		})
	}
	return out
}

func leaves(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		flat = append(flat, leaves(c)...)
	}
	return flat
}
