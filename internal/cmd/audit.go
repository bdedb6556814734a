package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Wikid82/gearshare/backend/internal/audit"
	"github.com/Wikid82/gearshare/backend/internal/cerberus"
	"github.com/Wikid82/gearshare/backend/internal/config"
	"github.com/Wikid82/gearshare/backend/internal/database"
	"github.com/Wikid82/gearshare/backend/internal/storage"
)

var (
	auditBackend   string
	auditEmail     string
	auditPassword  string
	auditStatePath string
	auditFailUnder int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the security posture of a GearShare backend",
}

var auditRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every security check once and print the report",
	Long: `Run builds the full guard set against the backend, optionally signs in,
runs the audit engine once and prints the report.

The password can be supplied through GEARSHARE_AUDIT_PASSWORD instead of
the --password flag.`,
	RunE: runAudit,
}

func init() {
	auditRunCmd.Flags().StringVar(&auditBackend, "backend", "", "Backend base URL (defaults to GEARSHARE_BACKEND_URL)")
	auditRunCmd.Flags().StringVar(&auditEmail, "email", "", "Sign in as this user before auditing")
	auditRunCmd.Flags().StringVar(&auditPassword, "password", "", "Password for --email")
	auditRunCmd.Flags().StringVar(&auditStatePath, "state", "", "SQLite file for guard state (in-memory when empty)")
	auditRunCmd.Flags().IntVar(&auditFailUnder, "fail-under", 0, "Exit non-zero when the overall score is below this value")

	auditCmd.AddCommand(auditRunCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sec := cfg.Security
	if auditBackend != "" {
		sec.BackendURL = auditBackend
	}

	st, err := openState(auditStatePath)
	if err != nil {
		return err
	}

	guards, _ := cerberus.Connect(sec, st)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = guards.Stop(stopCtx)
	}()

	if auditEmail != "" {
		password := auditPassword
		if password == "" {
			password = os.Getenv("GEARSHARE_AUDIT_PASSWORD")
		}
		if _, err := guards.SignIn(ctx, auditEmail, password); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		defer func() {
			if err := guards.SignOut(context.WithoutCancel(ctx)); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "sign out: %v\n", err)
			}
		}()
	}

	report := guards.Audit.Run(ctx)
	if err := render(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	return belowThreshold(report, auditFailUnder)
}

func belowThreshold(report audit.Report, threshold int) error {
	if threshold > 0 && report.Metrics.OverallScore < threshold {
		return fmt.Errorf("security score %d is below %d", report.Metrics.OverallScore, threshold)
	}
	return nil
}

func openState(path string) (storage.Store, error) {
	if path == "" {
		return storage.NewMemoryStore(), nil
	}
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate state: %w", err)
	}
	return storage.NewDBStore(db), nil
}
