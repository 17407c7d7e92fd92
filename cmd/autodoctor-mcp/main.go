// Package main provides the autodoctor-mcp binary, an MCP server for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/config"
	amcp "github.com/ormasoftchile/autodoctor/pkg/mcp"
	"github.com/ormasoftchile/autodoctor/pkg/session"
)

var version = "dev"

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:          "autodoctor-mcp",
		Short:        "Serve autodoctor tools over MCP stdio",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./"+config.DefaultFile+" when present)")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		if _, err := os.Stat(config.DefaultFile); err == nil {
			configPath = config.DefaultFile
		}
	}
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return err
		}
	}

	// stdout carries the protocol; logs go to stderr.
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	log, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	s, err := session.Open(cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	return server.ServeStdio(amcp.NewServer(version, s))
}
