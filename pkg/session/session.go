// Package session assembles an engine from a configuration: it opens the
// host data sources and the store, builds the knowledge base and keeps them
// open for repeated runs (the CLI's watch loop and the MCP server).
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/automation"
	"github.com/ormasoftchile/autodoctor/pkg/config"
	"github.com/ormasoftchile/autodoctor/pkg/engine"
	"github.com/ormasoftchile/autodoctor/pkg/hass"
	"github.com/ormasoftchile/autodoctor/pkg/knowledge"
	"github.com/ormasoftchile/autodoctor/pkg/model"
	"github.com/ormasoftchile/autodoctor/pkg/store"
	"github.com/ormasoftchile/autodoctor/pkg/validate"
)

// ErrNoAutomations is returned when neither arguments nor the configuration
// name any automation files.
var ErrNoAutomations = errors.New("no automation files given")

// Session owns everything a run needs.
type Session struct {
	Config *config.Config
	KB     *knowledge.Base
	Engine *engine.Engine
	// Store is nil when no store is configured.
	Store *store.Store

	recorder *hass.Recorder
	log      *zap.Logger
}

// Open opens every configured source. Missing optional sources leave their
// checks disabled; sources that are configured but unreadable are errors.
func Open(cfg *config.Config, log *zap.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{Config: cfg, log: log}

	var states knowledge.StateSource
	if cfg.States != "" {
		st, err := hass.LoadStates(cfg.States)
		if err != nil {
			return nil, err
		}
		log.Debug("states loaded", zap.String("path", cfg.States), zap.Int("entities", st.Len()))
		states = st
	}

	kopts := knowledge.Options{HistoryDays: cfg.HistoryDays, Logger: log}
	if cfg.RegistryDir != "" {
		reg, err := hass.LoadRegistry(cfg.RegistryDir)
		if err != nil {
			return nil, err
		}
		kopts.Registry = reg
	}
	if cfg.Recorder != "" {
		rec, err := hass.OpenRecorder(cfg.Recorder)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
		kopts.History = rec
	}
	if cfg.Store != "" {
		st, err := store.Open(cfg.Store)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Store = st
		kopts.Corrections = st
	}

	vopts := validate.Options{
		EntitySuggestionThreshold: cfg.EntitySuggestionThreshold,
		ValueSuggestionThreshold:  cfg.ValueSuggestionThreshold,
		AttributeSampleSize:       cfg.AttributeSampleSize,
	}
	if cfg.Services != "" {
		svc, err := hass.LoadServices(cfg.Services)
		if err != nil {
			s.Close()
			return nil, err
		}
		vopts.Services = svc
	}

	s.KB = knowledge.New(states, kopts)
	eopts := engine.Options{
		MaxDepth:    cfg.MaxDepth,
		Validate:    vopts,
		IgnoreKinds: cfg.IssueKinds(),
		Where:       cfg.Where,
		Logger:      log,
	}
	if s.Store != nil {
		eopts.Suppressions = s.Store
	}
	eng, err := engine.New(s.KB, eopts)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Engine = eng
	return s, nil
}

// Close releases the recorder and the store.
func (s *Session) Close() error {
	var errs []error
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}

// Paths returns args, or the configured automation paths when args is
// empty.
func (s *Session) Paths(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(s.Config.Automations) > 0 {
		return s.Config.Automations, nil
	}
	return nil, ErrNoAutomations
}

func (s *Session) load(paths []string) ([]map[string]any, error) {
	paths, err := s.Paths(paths)
	if err != nil {
		return nil, err
	}
	autos, err := automation.LoadPaths(paths...)
	if err != nil {
		return nil, fmt.Errorf("load automations: %w", err)
	}
	return automation.Trees(autos), nil
}

// Validate runs the full pipeline over the automations at paths.
func (s *Session) Validate(ctx context.Context, paths []string) (engine.Result, error) {
	autos, err := s.load(paths)
	if err != nil {
		return engine.Result{}, err
	}
	return s.Engine.Run(ctx, autos), nil
}

// Conflicts runs conflict detection only.
func (s *Session) Conflicts(paths []string) ([]model.Conflict, error) {
	autos, err := s.load(paths)
	if err != nil {
		return nil, err
	}
	return s.Engine.Conflicts(autos), nil
}

// Learn records value as legal for the entity's domain and integration and
// drops cached value sets so the next run sees it.
func (s *Session) Learn(entityID, value string) (store.LearnedValue, error) {
	if s.Store == nil {
		return store.LearnedValue{}, fmt.Errorf("learn: no store configured")
	}
	domain, _ := model.SplitEntityID(entityID)
	if !model.IsEntityID(entityID) {
		return store.LearnedValue{}, fmt.Errorf("learn: %q is not an entity id", entityID)
	}
	lv := store.LearnedValue{Domain: domain, Integration: s.KB.Integration(entityID), Value: value}
	if err := s.Store.Learn(lv); err != nil {
		return store.LearnedValue{}, err
	}
	s.KB.ClearCache()
	return lv, nil
}
