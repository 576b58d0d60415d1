package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"yashubustudio/qalens/internal/app"
	"yashubustudio/qalens/qalens"
)

type cliOptions struct {
	verbose     bool
	configPath  string
	catalogPath string
	projectType string
	qualityType string
	mappings    []string
	joinRole    string
	combine     string
	granularity string
	outputPath  string
	outputDir   string
	addr        string
	watch       bool
	debounce    time.Duration
	stdout      bool
}

var (
	opts   cliOptions
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "qalens-cli",
	Short: "Normalize and analyze QA review exports",
	Long: `qalens-cli reads spreadsheet exports of expert quality reviews, maps their columns
onto canonical roles, classifies every score into pass, minor or fail, and reports
consensus and per-expert summaries.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if opts.verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
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

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the project and quality type vocabularies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := qalens.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			ProjectTypes []qalens.ProjectTypeConfig `json:"projectTypes"`
			QualityTypes []qalens.QualityTypeConfig `json:"qualityTypes"`
		}{catalog.ProjectTypes(), catalog.QualityTypes()})
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect FILE...",
	Short: "Show the detected column mapping of each file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		if _, err := svc.LoadPaths(cmd.Context(), args); err != nil {
			return err
		}
		type detected struct {
			Table   qalens.TableInfo     `json:"table"`
			Mapping qalens.ColumnMapping `json:"mapping"`
			Missing []qalens.Role        `json:"missing,omitempty"`
		}
		var out []detected
		for _, info := range svc.Session().Tables() {
			m, err := svc.Session().Mapping(info.ID)
			if err != nil {
				return err
			}
			out = append(out, detected{Table: info, Mapping: m, Missing: m.MissingRequired()})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Run the full analysis and write a snapshot",
	Long: `analyze loads every file, combines the usable tables and writes the analysis
snapshot as JSON. A .xlsx output path writes the summary tables as a workbook instead.
Without --output the snapshot goes to --output-dir/analysis_<timestamp>.json.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		if _, err := svc.LoadPaths(cmd.Context(), args); err != nil {
			return err
		}
		snap := svc.Session().Snapshot()
		if opts.stdout {
			if err := writeJSON(cmd.OutOrStdout(), snap); err != nil {
				return err
			}
		} else {
			path, err := resolveOutputPath(opts.outputPath, opts.outputDir)
			if err != nil {
				return err
			}
			if err := writeSnapshot(path, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "analysis written to %s\n", path)
		}
		printSummary(cmd.ErrOrStderr(), snap)
		if snap.Error != "" {
			return errors.New(snap.Error)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve [FILE...]",
	Short: "Serve the JSON API over an analysis session",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.Run(ctx, svc, app.RunOptions{
			Addr:     opts.addr,
			Paths:    args,
			Watch:    opts.watch,
			Debounce: opts.debounce,
		}, logger)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch FILE...",
	Short: "Re-run the analysis whenever an input file changes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if _, err := svc.LoadPaths(ctx, args); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printSummary(out, svc.Session().Snapshot())
		return app.WatchOnly(ctx, svc, args, opts.debounce, func() {
			printSummary(out, svc.Session().Snapshot())
		}, logger)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config and catalog file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := opts.configPath
		if cfgPath == "" {
			cfgPath = "qalens.yaml"
		}
		wrote, err := app.EnsureConfigFile(cfgPath)
		if err != nil {
			return err
		}
		report(cmd, cfgPath, wrote)
		if opts.catalogPath != "" {
			wrote, err := app.EnsureCatalogFile(opts.catalogPath)
			if err != nil {
				return err
			}
			report(cmd, opts.catalogPath, wrote)
		}
		return nil
	},
}

func report(cmd *cobra.Command, path string, wrote bool) {
	if wrote {
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, left unchanged\n", path)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&opts.configPath, "config", "", "Path to the YAML config (default: ./qalens.yaml)")
	pf.StringVar(&opts.catalogPath, "catalog", "", "YAML file with custom project and quality types")
	pf.StringVar(&opts.projectType, "project-type", "", "Project type id used for column detection")
	pf.StringVar(&opts.qualityType, "quality-type", "", "Quality type id used to classify scores")
	pf.StringArrayVar(&opts.mappings, "map", nil, "Pin a column: [table:]role=column (repeatable)")
	pf.StringVar(&opts.joinRole, "join-role", "", "Role whose values join tables (default: expertId)")
	pf.StringVar(&opts.combine, "combine", "", "How several tables combine: join or append")
	pf.StringVar(&opts.granularity, "granularity", "", "Trend bucket width: day, week or month")
	pf.DurationVar(&opts.debounce, "debounce", 500*time.Millisecond, "Quiet period before a changed file is reloaded")

	analyzeCmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "File to write (.json or .xlsx)")
	analyzeCmd.Flags().StringVar(&opts.outputDir, "output-dir", "out", "Directory used when --output is omitted")
	analyzeCmd.Flags().BoolVar(&opts.stdout, "stdout", false, "Write the snapshot JSON to STDOUT instead of a file")

	serveCmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "Listen address")
	serveCmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload the given files when they change")

	rootCmd.AddCommand(catalogCmd, detectCmd, analyzeCmd, serveCmd, watchCmd, initCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and layers the command line flags on top.
func loadConfig() (qalens.Config, error) {
	cfg, err := qalens.LoadConfig(strings.TrimSpace(opts.configPath))
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(&cfg, opts); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cfg *qalens.Config, o cliOptions) error {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.CatalogPath, o.catalogPath)
	set(&cfg.ProjectType, o.projectType)
	if q := strings.TrimSpace(o.qualityType); q != "" {
		cfg.QualityType = q
		cfg.QualityOverride = nil
	}
	if v := strings.TrimSpace(o.joinRole); v != "" {
		cfg.JoinRole = qalens.Role(v)
	}
	if v := strings.ToLower(strings.TrimSpace(o.combine)); v != "" {
		cfg.Combine = qalens.CombineMode(v)
	}
	if v := strings.ToLower(strings.TrimSpace(o.granularity)); v != "" {
		cfg.Aggregate.Granularity = qalens.Granularity(v)
	}
	return cfg.Validate()
}

func newService() (*app.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	overrides, err := app.ParseMappingOverrides(opts.mappings)
	if err != nil {
		return nil, err
	}
	logger.Debug("config resolved",
		zap.String("project_type", cfg.ProjectType),
		zap.String("quality_type", cfg.QualityType),
		zap.Int("overrides", len(overrides)))
	return app.NewService(cfg, overrides, logger)
}
