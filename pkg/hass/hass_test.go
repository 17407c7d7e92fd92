package hass

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/autodoctor/pkg/knowledge"
	"github.com/ormasoftchile/autodoctor/pkg/validate"
)

var (
	_ knowledge.StateSource    = (*States)(nil)
	_ knowledge.Registry       = (*Registry)(nil)
	_ knowledge.HistorySource  = (*Recorder)(nil)
	_ validate.ServiceRegistry = (*Services)(nil)
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestStates(t *testing.T) {
	s, err := ParseStates(strings.NewReader(`[
		{"entity_id": "light.kitchen", "state": "on", "attributes": {"brightness": 180}},
		{"entity_id": "binary_sensor.door", "state": "off", "attributes": {}},
		{"entity_id": "light.hall", "state": "off"},
		{"state": "orphan"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	e, ok, err := s.State("light.kitchen")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "on", e.State)
	assert.EqualValues(t, 180, e.Attributes["brightness"])

	lights, err := s.EntityIDs("light")
	require.NoError(t, err)
	assert.Equal(t, []string{"light.hall", "light.kitchen"}, lights)

	all, _ := s.EntityIDs("")
	assert.Len(t, all, 3)

	_, err = ParseStates(strings.NewReader(`{"not": "a list"}`))
	assert.Error(t, err)
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, EntityRegistryFile, `{"version": 1, "key": "core.entity_registry", "data": {
		"entities": [
			{"entity_id": "light.kitchen", "platform": "hue", "device_id": "d1"},
			{"entity_id": "sensor.disabled", "platform": "zha", "disabled_by": "user"}
		],
		"deleted_entities": [
			{"entity_id": "light.old"},
			{"entity_id": "light.kitchen"}
		]}}`)
	writeFile(t, dir, DeviceRegistryFile, `{"data": {"devices": [{"id": "d1"}]}}`)
	writeFile(t, dir, AreaRegistryFile, `{"data": {"areas": [{"id": "kitchen"}]}}`)
	writeFile(t, dir, FloorRegistryFile, `{"data": {"floors": [{"floor_id": "ground"}]}}`)
	writeFile(t, dir, LabelRegistryFile, `{"data": {"labels": [{"label_id": "night"}]}}`)
	// no tag file: that registry stays empty

	r, err := LoadRegistry(dir)
	require.NoError(t, err)

	assert.True(t, r.EntityRegistered("sensor.disabled"))
	assert.False(t, r.EntityRegistered("light.old"))
	assert.True(t, r.EntityRemoved("light.old"))
	assert.False(t, r.EntityRemoved("light.kitchen"), "re-added entities are live")
	assert.Equal(t, "hue", r.Integration("light.kitchen"))
	assert.True(t, r.DeviceExists("d1"))
	assert.True(t, r.AreaExists("kitchen"))
	assert.True(t, r.AreaExists("ground"))
	assert.False(t, r.AreaExists(""))
	assert.True(t, r.TagExists("night"))
	assert.False(t, r.TagExists("nfc"))

	writeFile(t, dir, TagRegistryFile, `{"data": {"items": [`)
	_, err = LoadRegistry(dir)
	assert.ErrorContains(t, err, "decode tag")
}

func TestRecorder_History(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home-assistant_v2.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE states_meta (metadata_id INTEGER PRIMARY KEY, entity_id TEXT);
		CREATE TABLE states (state_id INTEGER PRIMARY KEY, metadata_id INTEGER, state TEXT, last_updated_ts REAL);
		INSERT INTO states_meta VALUES (1, 'select.mode'), (2, 'light.hall');
	`)
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ts := func(d time.Duration) float64 { return float64(now.Add(-d).Unix()) }
	rows := []struct {
		meta  int
		state string
		at    float64
	}{
		{1, "eco", ts(time.Hour)},
		{1, "boost", ts(48 * time.Hour)},
		{1, "eco", ts(72 * time.Hour)},
		{1, "legacy", ts(60 * 24 * time.Hour)},
		{2, "on", ts(time.Hour)},
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO states (metadata_id, state, last_updated_ts) VALUES (?, ?, ?)`, r.meta, r.state, r.at)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	rec, err := OpenRecorder(path)
	require.NoError(t, err)
	defer rec.Close()

	got, err := rec.History(context.Background(), []string{"select.mode", "sensor.none"}, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"select.mode": {"boost", "eco"}}, got)

	got, err = rec.History(context.Background(), nil, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServices(t *testing.T) {
	s, err := ParseServices(strings.NewReader(`[
		{"domain": "light", "services": {
			"turn_on": {
				"target": {"entity": [{"domain": ["light"]}]},
				"fields": {
					"brightness": {"selector": {"number": {"min": 0, "max": 255}}},
					"advanced_fields": {"collapsed": true, "fields": {
						"flash": {"selector": {"select": {"options": ["short", "long"]}}}
					}}
				}
			},
			"turn_off": {"target": {}}
		}},
		{"domain": "notify", "services": {
			"send_message": {"fields": {"message": {"required": true, "selector": {"text": null}}}}
		}}
	]`))
	require.NoError(t, err)

	on, ok := s.Service("light.turn_on")
	require.True(t, ok)
	assert.True(t, on.Target)
	assert.Contains(t, on.Fields, "brightness")
	assert.Contains(t, on.Fields, "flash")
	assert.NotContains(t, on.Fields, "advanced_fields")

	msg, ok := s.Service("notify.send_message")
	require.True(t, ok)
	assert.False(t, msg.Target)
	assert.True(t, msg.Fields["message"].Required)

	assert.Equal(t, []string{"light.turn_off", "light.turn_on"}, s.Services("light"))
	_, ok = s.Service("light.blink")
	assert.False(t, ok)
}
