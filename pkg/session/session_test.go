package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/autodoctor/pkg/config"
	"github.com/ormasoftchile/autodoctor/pkg/model"
)

const automations = `
- id: vacuum_done
  alias: Vacuum done
  triggers:
    - trigger: state
      entity_id: vacuum.rocky
      to: segment_cleaning
  actions:
    - action: light.turn_on
      target: {entity_id: light.hall}
- id: lights_out
  alias: Lights out
  actions:
    - action: light.turn_off
      target: {entity_id: light.hall}
`

func workspace(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	write("automations.yaml", automations)
	write("states.json", `[
		{"entity_id": "vacuum.rocky", "state": "docked"},
		{"entity_id": "light.hall", "state": "off"}
	]`)
	write(".storage/core.entity_registry", `{"data": {"entities": [
		{"entity_id": "vacuum.rocky", "platform": "roborock"}
	]}}`)
	cfgPath := write("autodoctor.yaml", `
automations: [automations.yaml]
states: states.json
registry_dir: .storage
store: .autodoctor/store.db
`)
	cfg, err := config.LoadFile(cfgPath)
	require.NoError(t, err)
	return cfg
}

func TestSession_ValidateAndLearn(t *testing.T) {
	s, err := Open(workspace(t), nil)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Validate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, model.IssueInvalidState, res.Issues[0].Kind)
	require.Len(t, res.Conflicts, 1)

	lv, err := s.Learn("vacuum.rocky", "segment_cleaning")
	require.NoError(t, err)
	assert.Equal(t, "roborock", lv.Integration)

	res, err = s.Validate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Issues)

	require.NoError(t, s.Store.Suppress(res.Conflicts[0].SuppressionKey(), "intended"))
	conflicts, err := s.Conflicts(nil)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = s.Learn("not an id", "x")
	assert.Error(t, err)
}

func TestSession_NoSources(t *testing.T) {
	s, err := Open(nil, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoAutomations)

	_, err = s.Learn("light.x", "on")
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "a.yaml")
	require.NoError(t, os.WriteFile(p, []byte(automations), 0o644))
	res, err := s.Validate(context.Background(), []string{p})
	require.NoError(t, err)
	assert.Empty(t, res.Issues, "entity checks are skipped without states")
	assert.Len(t, res.Conflicts, 1)
}

func TestOpen_BadSource(t *testing.T) {
	cfg := config.Default()
	cfg.States = filepath.Join(t.TempDir(), "missing.json")
	_, err := Open(cfg, nil)
	assert.Error(t, err)
}
