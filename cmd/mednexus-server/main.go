package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mednexus/mednexus/internal/config"
	"github.com/mednexus/mednexus/internal/domain/riskassessment"
	"github.com/mednexus/mednexus/internal/platform/db"
	"github.com/mednexus/mednexus/internal/platform/imaging"
	"github.com/mednexus/mednexus/internal/platform/modelregistry"
	"github.com/mednexus/mednexus/internal/platform/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mednexus-server",
		Short:        "Multi-disease clinical risk assessment service",
		SilenceUsage: true,
		Version:      version,
	}
	rootCmd.PersistentFlags().String("manifest", "", "Model manifest path (overrides MODEL_MANIFEST)")
	rootCmd.PersistentFlags().String("storage-root", "", "Image storage root (overrides STORAGE_ROOT)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(modelsCmd())
	return rootCmd
}

// loadConfig applies persistent flag overrides on top of the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("manifest"); v != "" {
		cfg.ModelManifest = v
	}
	if v, _ := cmd.Flags().GetString("storage-root"); v != "" {
		cfg.StorageRoot = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

// buildEngine loads the model registry and wires the risk engine. Any model
// problem is fatal here, before the process accepts work.
func buildEngine(cfg *config.Config, logger zerolog.Logger, tp *telemetry.Provider) (*riskassessment.Engine, *modelregistry.Registry, error) {
	registry, err := modelregistry.LoadManifest(cfg.ModelManifest, riskassessment.DiseaseNames()...)
	if err != nil {
		return nil, nil, err
	}
	images, err := imaging.NewPreprocessor(cfg.StorageRoot)
	if err != nil {
		return nil, nil, err
	}
	opts := []riskassessment.EngineOption{
		riskassessment.WithSource(cfg.PipelineSource),
		riskassessment.WithLogger(logger.With().Str("component", "risk-engine").Logger()),
	}
	if tp != nil {
		opts = append(opts, riskassessment.WithMetrics(tp.Pipeline), riskassessment.WithTracer(tp.Tracer()))
	}
	engine, err := riskassessment.NewEngine(registry, images, opts...)
	if err != nil {
		return nil, nil, err
	}
	return engine, registry, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the risk assessment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	open := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.RequireDatabase(); err != nil {
			return nil, nil, err
		}
		pool, err := db.NewPool(cmd.Context(), db.PoolConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "mednexus-migrate",
		})
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, db.DefaultMigrations()), pool.Close, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
			}
			return w.Flush()
		},
	})

	return cmd
}

func assessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess <snapshot.json>",
		Short: "Assess a patient snapshot file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var snap riskassessment.Snapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return fmt.Errorf("parse snapshot: %w", err)
			}

			engine, _, err := buildEngine(cfg, logger, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			a, err := engine.Run(ctx, &snap)
			if err != nil {
				return err
			}
			res, err := riskassessment.Assemble(a)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if asFHIR, _ := cmd.Flags().GetBool("fhir"); asFHIR {
				return enc.Encode(res.ToFHIR())
			}
			return enc.Encode(res)
		},
	}
	cmd.Flags().Bool("fhir", false, "Print a FHIR RiskAssessment instead of the stored result shape")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := modelregistry.LoadManifest(cfg.ModelManifest, riskassessment.DiseaseNames()...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODALITY\tNAME\tFEATURES\tPIPELINE")
			for _, name := range registry.NumericNames() {
				width := "-"
				if s, err := registry.Scorer(name); err == nil {
					if dim, ok := s.(modelregistry.Dimensioned); ok {
						width = fmt.Sprint(dim.Dimension())
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t-\n", modelregistry.ModalityNumeric, name, width)
			}
			for _, tag := range registry.VisualTags() {
				vm, _ := registry.Visual(tag)
				fmt.Fprintf(w, "%s\t%s\t-\t%s\n", modelregistry.ModalityVisual, tag, vm.Pipeline)
			}
			return w.Flush()
		},
	}
}
