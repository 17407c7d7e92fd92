//go:build ignore

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ormasoftchile/autodoctor/pkg/config"
)

// Writes the autodoctor.yaml schema for editors (yaml-language-server).
func main() {
	out := filepath.Join("schemas", "autodoctor.schema.json")
	if len(os.Args) > 1 {
		out = os.Args[1]
	}
	data, err := config.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote", out)
}
