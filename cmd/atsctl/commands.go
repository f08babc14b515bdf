package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ats-platform/internal/audit"
	"ats-platform/internal/auth"
	"ats-platform/internal/config"
	"ats-platform/internal/gate"
	"ats-platform/internal/httpapi"
	"ats-platform/internal/rbac"
	"ats-platform/internal/storage"
	"ats-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "atsctl",
		Short:         "ATS administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional KEY=VALUE file loaded before the environment is read")

	cmd.AddCommand(auditCmd(), catalogCmd(), userCmd())
	return cmd
}

// openDB loads config, connects and applies the schema.
func openDB(ctx context.Context) (*sql.DB, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return nil, config.Config{}, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, config.Config{}, err
	}
	return db, cfg, nil
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Audit log maintenance"}

	var days int
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit entries older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, cfg, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			if !cmd.Flags().Changed("days") {
				days = cfg.Audit.RetentionDays
			}
			return runPurge(ctx, cmd.OutOrStdout(), audit.NewService(audit.NewPostgresRepo(db)), days)
		},
	}
	purge.Flags().IntVar(&days, "days", audit.DefaultRetentionDays, "Retention in days; entries older than this are deleted")

	cmd.AddCommand(purge)
	return cmd
}

func runPurge(ctx context.Context, out io.Writer, svc *audit.Service, days int) error {
	res, err := svc.Purge(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %d entries older than %s\n", res.DeletedCount, res.CutoffDate.Format(time.RFC3339))
	return nil
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Permission catalog tools"}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check that every route permission is registered and granted to some role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Copy the default catalog into the override store for roles without an entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			return runSeed(ctx, cmd.OutOrStdout(), rbac.NewPostgresOverrideStore(db))
		},
	})
	return cmd
}

func runVerify(out io.Writer) error {
	catalog, err := rbac.LoadDefaultCatalog()
	if err != nil {
		return err
	}
	h := &httpapi.Handlers{}
	reqs := httpapi.Requirements(h.Routes())
	if err := catalog.CheckRoutePermissions(gate.Permissions(reqs...)...); err != nil {
		return err
	}
	fmt.Fprintf(out, "catalog ok: %d permissions, %d gated routes\n", len(catalog.Registry().All()), len(reqs))
	return nil
}

func runSeed(ctx context.Context, out io.Writer, store rbac.OverrideStore) error {
	catalog, err := rbac.LoadDefaultCatalog()
	if err != nil {
		return err
	}
	seeded, err := rbac.SeedOverrides(ctx, store, catalog)
	if err != nil {
		return err
	}
	if len(seeded) == 0 {
		fmt.Fprintln(out, "nothing to seed")
		return nil
	}
	for _, r := range seeded {
		fmt.Fprintf(out, "seeded %s\n", r.String())
	}
	return nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "User account tools"}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashPassword(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	return cmd
}

func runHashPassword(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}
