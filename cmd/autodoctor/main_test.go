package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func workspace(t *testing.T, automations string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"automations.yaml": automations,
		"states.json":      `[{"entity_id": "light.hall", "state": "off"}]`,
		"autodoctor.yaml":  "automations: [automations.yaml]\nstates: states.json\nstore: store.db\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "autodoctor.yaml")
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	configPath, jsonOutput, whereExpr, noColor, showKeys = "", false, "", true, false
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestValidateCmd_ExitStatus(t *testing.T) {
	cfg := workspace(t, `
- id: bad
  triggers:
    - trigger: state
      entity_id: light.hal
`)
	if err := execute(t, "validate", "--config", cfg, "--no-color"); !errors.Is(err, errFindings) {
		t.Fatalf("err = %v, want errFindings", err)
	}

	clean := workspace(t, `
- id: good
  triggers:
    - trigger: state
      entity_id: light.hall
      to: "on"
`)
	if err := execute(t, "validate", "--config", clean, "--json"); err != nil {
		t.Fatalf("clean run failed: %v", err)
	}
}

func TestValidateCmd_Where(t *testing.T) {
	cfg := workspace(t, `
- id: bad
  triggers:
    - trigger: state
      entity_id: light.hal
`)
	if err := execute(t, "validate", "--config", cfg, "--where", `kind == "conflict"`); err != nil {
		t.Fatalf("filtered run failed: %v", err)
	}
	if err := execute(t, "validate", "--config", cfg, "--where", "=="); err == nil {
		t.Fatal("expected error for a bad filter")
	}
}

func TestSuppressCmd(t *testing.T) {
	cfg := workspace(t, `
- id: a
  actions: [{action: light.turn_on, target: {entity_id: light.hall}}]
- id: b
  actions: [{action: light.turn_off, target: {entity_id: light.hall}}]
`)
	if err := execute(t, "conflicts", "--config", cfg); !errors.Is(err, errFindings) {
		t.Fatalf("err = %v, want errFindings", err)
	}
	if err := execute(t, "suppress", "--config", cfg, "conflict:a:b:light.hall", "--reason", "night mode"); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, "conflicts", "--config", cfg); err != nil {
		t.Fatalf("suppressed conflict still reported: %v", err)
	}
	if err := execute(t, "unsuppress", "--config", cfg, "conflict:a:b:light.hall"); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, "unsuppress", "--config", cfg, "conflict:a:b:light.hall"); err == nil {
		t.Fatal("expected error for a key that is not suppressed")
	}
}

func TestLearnCmd(t *testing.T) {
	cfg := workspace(t, `
- id: strobe
  triggers:
    - trigger: state
      entity_id: light.hall
      to: strobing
`)
	if err := execute(t, "validate", "--config", cfg); !errors.Is(err, errFindings) {
		t.Fatalf("err = %v, want errFindings", err)
	}
	if err := execute(t, "learn", "--config", cfg, "light.hall", "strobing"); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, "validate", "--config", cfg); err != nil {
		t.Fatalf("learned value still rejected: %v", err)
	}
}
