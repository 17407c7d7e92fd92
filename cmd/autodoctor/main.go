package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ormasoftchile/autodoctor/pkg/config"
	"github.com/ormasoftchile/autodoctor/pkg/engine"
	"github.com/ormasoftchile/autodoctor/pkg/report"
	"github.com/ormasoftchile/autodoctor/pkg/session"
	"github.com/ormasoftchile/autodoctor/pkg/store"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// errFindings signals a run that completed but reported errors. The report
// has already been printed, so main only sets the exit code.
var errFindings = errors.New("automations have errors")

var (
	configPath string
	jsonOutput bool
	whereExpr  string
	verbose    bool
	noColor    bool
	showKeys   bool

	logger *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errFindings) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "autodoctor",
	Short: "Static analysis for Home Assistant automations",
	Long: `autodoctor checks automations against the live entity knowledge of a Home
Assistant instance: unknown entities, impossible states, broken templates,
bad service calls and automations that fight over the same entity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig reads --config, or autodoctor.yaml in the working directory
// when present, or falls back to defaults. --where overrides the file.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultFile); err == nil {
			path = config.DefaultFile
		}
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
		logger.Debug("config loaded", zap.String("path", path))
	}
	if whereExpr != "" {
		cfg.Where = whereExpr
	}
	return cfg, nil
}

func openSession() (*session.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.Open(cfg, logger)
}

func colorEnabled() bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func printResult(res engine.Result) error {
	if jsonOutput {
		return report.JSON(os.Stdout, res)
	}
	return report.Text(os.Stdout, res, report.Options{Color: colorEnabled(), ShowKeys: showKeys})
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [paths...]",
	Short: "Validate automations (files or directories; defaults to the configured paths)",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Validate(cmd.Context(), args)
	if err != nil {
		return err
	}
	if err := printResult(res); err != nil {
		return err
	}
	if res.HasErrors() {
		return errFindings
	}
	return nil
}

// --- conflicts ---

var conflictsCmd = &cobra.Command{
	Use:   "conflicts [paths...]",
	Short: "Report automations that drive the same entity in opposing directions",
	RunE:  runConflicts,
}

func runConflicts(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	conflicts, err := s.Conflicts(args)
	if err != nil {
		return err
	}
	res := engine.Result{Conflicts: conflicts}
	if err := printResult(res); err != nil {
		return err
	}
	if res.HasErrors() {
		return errFindings
	}
	return nil
}

// --- learn ---

var learnCmd = &cobra.Command{
	Use:   "learn <entity_id> <value>",
	Short: "Accept a state value for the entity's domain and integration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		lv, err := s.Learn(args[0], args[1])
		if err != nil {
			return err
		}
		scope := lv.Domain
		if lv.Integration != "" {
			scope += " (" + lv.Integration + ")"
		}
		fmt.Printf("✓ learned %q for %s\n", lv.Value, scope)
		return nil
	},
}

// --- suppress / unsuppress ---

var suppressReason string

var suppressCmd = &cobra.Command{
	Use:   "suppress <key>",
	Short: "Silence a finding by its suppression key (see --keys)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Suppress(args[0], suppressReason); err != nil {
			return err
		}
		fmt.Printf("✓ suppressed %s\n", args[0])
		return nil
	},
}

var unsuppressCmd = &cobra.Command{
	Use:   "unsuppress <key>",
	Short: "Remove a suppression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Unsuppress(args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s is not suppressed", args[0])
			}
			return err
		}
		fmt.Printf("✓ unsuppressed %s\n", args[0])
		return nil
	},
}

var suppressionsCmd = &cobra.Command{
	Use:   "suppressions",
	Short: "List suppressed findings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		list, err := st.Suppressions()
		if err != nil {
			return err
		}
		for _, sp := range list {
			line := fmt.Sprintf("%s  %s", sp.CreatedAt.Format("2006-01-02"), sp.Key)
			if sp.Reason != "" {
				line += "  # " + sp.Reason
			}
			fmt.Println(line)
		}
		return nil
	},
}

// openStore opens only the store; suppress and unsuppress do not need the
// host data sources.
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store == "" {
		return nil, fmt.Errorf("no store configured (set store: in %s)", config.DefaultFile)
	}
	return store.Open(cfg.Store)
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of autodoctor.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("autodoctor %s (commit: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	for _, c := range []*cobra.Command{validateCmd, conflictsCmd, watchCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
		c.Flags().StringVar(&whereExpr, "where", "", `Keep findings matching an expression, e.g. 'severity == "error"'`)
		c.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
		c.Flags().BoolVar(&showKeys, "keys", false, "Print suppression keys")
	}
	suppressCmd.Flags().StringVar(&suppressReason, "reason", "", "Why the finding is acceptable")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(suppressCmd)
	rootCmd.AddCommand(unsuppressCmd)
	rootCmd.AddCommand(suppressionsCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
