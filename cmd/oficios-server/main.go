package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labforense/oficios/internal/config"
	"github.com/labforense/oficios/internal/platform/db"
	"github.com/labforense/oficios/internal/platform/sandbox"
	"github.com/labforense/oficios/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "oficios-server",
		Short: "Forensic case routing and consolidation API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns the embedded migrations, or dir when given.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.EnsureSchema(ctx, pool, schema, migrationFiles(dir))
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
	upCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// routeCmd prints the routing decision for one case without changing it.
func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <case-id>",
		Short: "Print the next routing step of a case as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid case id %q: %w", args[0], err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := zerolog.Nop()

			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			step, err := a.casework.DecideNextStep(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(step)
		},
	}
}

// seedCmd fills a development database with an examiner roster and open cases.
func seedCmd() *cobra.Command {
	defaults := sandbox.DefaultSeedConfig()
	var seedCfg sandbox.SeedConfig

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a development database with examiners and demo cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to seed with ENV=production")
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := sandbox.NewSeeder(seedCfg, a.oficios, a.casework).Run(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("examiners", res.Examiners).
				Int("cases", res.Cases).
				Dur("duration", res.Duration).
				Msg("seed complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&seedCfg.ExaminersPerSection, "examiners", defaults.ExaminersPerSection, "examiners per section")
	cmd.Flags().IntVar(&seedCfg.Cases, "cases", defaults.Cases, "demo cases to open")
	cmd.Flags().StringVar(&seedCfg.CasePrefix, "prefix", defaults.CasePrefix, "case number prefix")
	cmd.Flags().Int64Var(&seedCfg.Seed, "seed", defaults.Seed, "random seed, 0 for time-based")
	return cmd
}
