package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prenatal/prenatal/internal/config"
	"github.com/prenatal/prenatal/internal/domain/dating"
	"github.com/prenatal/prenatal/internal/domain/labs"
	"github.com/prenatal/prenatal/internal/platform/db"
	"github.com/prenatal/prenatal/migrations"
	"github.com/prenatal/prenatal/pkg/calendar"
)

// migrationFiles returns dir when set, otherwise the migrations compiled
// into the binary.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	if schema == "" {
		schema = cfg.DBSchema
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, nil, err
	}
	migrator, err := db.NewMigrator(pool, migrationFiles(dir), schema)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return migrator, pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			fmt.Printf("Running migrations on schema: %s\n", migrator.Schema())
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, migrator.Schema(), statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// -- calc --

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dateFlag(cmd *cobra.Command, name string) (calendar.Date, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

func calcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Run the engine calculations and print JSON",
	}

	datingCmd := &cobra.Command{
		Use:   "dating",
		Short: "Gestational age, due date and discrepancy check",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			raw := dating.RawInput{}
			raw.LMPDate, _ = cmd.Flags().GetString("lmp")
			raw.UltrasoundExamDate, _ = cmd.Flags().GetString("us-date")
			raw.UltrasoundAge, _ = cmd.Flags().GetString("us-age")
			if cmd.Flags().Changed("us-weeks") {
				w, _ := cmd.Flags().GetInt("us-weeks")
				raw.UltrasoundWeeks = &w
			}
			if cmd.Flags().Changed("us-days") {
				d, _ := cmd.Flags().GetInt("us-days")
				raw.UltrasoundDays = &d
			}
			ref, err := dateFlag(cmd, "ref")
			if err != nil {
				return err
			}
			if ref.IsZero() {
				loc, err := cfg.Location()
				if err != nil {
					return err
				}
				ref = calendar.Today(loc)
			}
			return writeJSON(cmd.OutOrStdout(), dating.SummarizeRaw(raw, ref))
		},
	}
	datingCmd.Flags().String("lmp", "", "Last menstrual period (YYYY-MM-DD, or unknown/incompatible)")
	datingCmd.Flags().String("us-date", "", "Ultrasound exam date")
	datingCmd.Flags().Int("us-weeks", 0, "Ultrasound gestational age, weeks")
	datingCmd.Flags().Int("us-days", 0, "Ultrasound gestational age, days")
	datingCmd.Flags().String("us-age", "", `Ultrasound age in legacy notation, e.g. "8s 2d"`)
	datingCmd.Flags().String("ref", "", "Reference date (default today in CLINIC_TIMEZONE)")

	visitsCmd := &cobra.Command{
		Use:   "visits",
		Short: "Milestones and the routine visit calendar for a due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			protocol, err := loadProtocol(cfg)
			if err != nil {
				return err
			}
			due, err := dateFlag(cmd, "due")
			if err != nil {
				return err
			}
			first, err := dateFlag(cmd, "first")
			if err != nil {
				return err
			}
			if weeks, _ := cmd.Flags().GetIntSlice("weeks"); len(weeks) > 0 {
				if protocol, err = protocol.WithTargetWeeks(weeks); err != nil {
					return err
				}
			}
			milestones, err := protocol.Milestones(due)
			if err != nil {
				return err
			}
			visits, err := protocol.Visits(due, first)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"protocol_version": protocol.Version,
				"milestones":       milestones,
				"visits":           visits,
			})
		},
	}
	visitsCmd.Flags().String("due", "", "Due date (required)")
	visitsCmd.Flags().String("first", "", "First visit date (required)")
	visitsCmd.Flags().IntSlice("weeks", nil, "Override the protocol target weeks")

	classifyCmd := &cobra.Command{
		Use:   "classify <analyte> <value>",
		Short: "Classify one lab result against the embedded reference ranges",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tri, _ := cmd.Flags().GetInt("trimester")
			file, _ := cmd.Flags().GetString("ranges")
			c := labs.NewClassifier(nil)
			if file != "" {
				t, err := labs.LoadTable(file)
				if err != nil {
					return err
				}
				c.Swap(t)
			}
			return writeJSON(cmd.OutOrStdout(), labs.Classified{
				Measurement: labs.Measurement{Analyte: args[0], Value: args[1]},
				Result:      c.Classify(args[0], args[1], dating.Trimester(tri)),
			})
		},
	}
	classifyCmd.Flags().Int("trimester", 1, "Trimester, 1 to 3")
	classifyCmd.Flags().String("ranges", "", "Reference range file (default embedded)")

	cmd.AddCommand(datingCmd, visitsCmd, classifyCmd)
	return cmd
}

// -- ranges --

func rangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranges",
		Short: "Manage reference range tables",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a reference range file and report its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := labs.LoadTable(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: version %s, %d analytes\n", args[0], t.Version, len(t.Analytes()))
			return nil
		},
	}

	pushCmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Validate a reference range file, store it in Redis and notify running servers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			client := redis.NewClient(opts)
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			logger := newLogger(cfg.Env).Level(zerolog.WarnLevel)
			t, err := labs.NewRedisSource(client, cfg.RangesKey, cfg.RangesChannel, logger).Publish(ctx, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published version %s to %s\n", t.Version, cfg.RangesKey)
			return nil
		},
	}

	cmd.AddCommand(validateCmd, pushCmd)
	return cmd
}
