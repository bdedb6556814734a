package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Wikid82/gearshare/backend/internal/api/routes"
	"github.com/Wikid82/gearshare/backend/internal/audit"
	"github.com/Wikid82/gearshare/backend/internal/config"
	"github.com/Wikid82/gearshare/backend/internal/database"
	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/storage"
)

// execute runs the root command with fresh flag state and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func fixClock(t *testing.T, now time.Time) {
	t.Helper()
	prev := clock
	clock = func() time.Time { return now }
	t.Cleanup(func() { clock = prev })
}

func TestRootSubcommands(t *testing.T) {
	want := map[string][]string{
		"audit":   {"run"},
		"payment": {"validate"},
	}
	for parent, children := range want {
		var found *cobra.Command
		for _, c := range rootCmd.Commands() {
			if c.Name() == parent {
				found = c
			}
		}
		require.NotNil(t, found, "missing %s command", parent)
		for _, child := range children {
			sub, _, err := found.Find([]string{child})
			require.NoError(t, err)
			assert.Equal(t, child, sub.Name())
		}
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("output"))
}

func TestPaymentValidate_FlagsJSON(t *testing.T) {
	fixClock(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	out, err := execute(t, "payment", "validate", "-o", "json",
		"--equipment-id", "eq-1", "--title", "Canon R5",
		"--price", "20000", "--start", "2026-02-01", "--end", "2026-02-05")
	require.NoError(t, err)

	var res payment.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Equal(t, risk.Low, res.Risk)
}

func TestPaymentValidate_RejectsInvalid(t *testing.T) {
	fixClock(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	out, err := execute(t, "payment", "validate",
		"--equipment-id", "eq-1", "--price", "0",
		"--start", "2025-12-01", "--end", "2025-11-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment rejected")

	var res payment.Result
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "equipment title is required")
	assert.Contains(t, res.Errors, "total price must be greater than zero")
	assert.Contains(t, res.Errors, "start date must be in the future")
	assert.Contains(t, res.Errors, "end date must be after start date")
	assert.Equal(t, risk.Medium, res.Risk)
}

func TestPaymentValidate_FileWithOverride(t *testing.T) {
	fixClock(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	path := filepath.Join(t.TempDir(), "rental.yaml")
	body := strings.Join([]string{
		"equipment_id: eq-9",
		"equipment_title: Cargo bike",
		"total_price: 150000",
		"start_date: 2026-03-01T10:00:00Z",
		"end_date: 2026-03-03T10:00:00Z",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute(t, "payment", "validate", "-o", "json", "-f", path)
	require.NoError(t, err)
	var res payment.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, risk.High, res.Risk)

	out, err = execute(t, "payment", "validate", "-o", "json", "-f", path, "--price", "5000")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, risk.Low, res.Risk)
}

func TestPaymentValidate_BadInput(t *testing.T) {
	_, err := execute(t, "payment", "validate", "--start", "next tuesday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--start")

	_, err = execute(t, "payment", "validate", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRender_UnknownFormat(t *testing.T) {
	fixClock(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := execute(t, "payment", "validate", "-o", "xml",
		"--equipment-id", "eq-1", "--title", "Tent", "--price", "100",
		"--start", "2026-02-01", "--end", "2026-02-02")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("GEARSHARE_DB_PATH", filepath.Join(t.TempDir(), "cli.db"))

	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	router := gin.New()
	cfg := config.Config{
		JWTSecret:   "cli-secret",
		Environment: "test",
		CheckoutURL: "https://pay.example.com",
		Security:    config.DefaultSecurityConfig(),
	}
	require.NoError(t, routes.Register(router, db, cfg, nil))

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return srv
}

func decodeReport(t *testing.T, out string) map[string]any {
	t.Helper()
	var report map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	return report
}

func TestAuditRun_Anonymous(t *testing.T) {
	srv := startBackend(t)

	out, err := execute(t, "audit", "run", "--backend", srv.URL)
	require.NoError(t, err)

	report := decodeReport(t, out)
	checks, ok := report["checks"].([]any)
	require.True(t, ok)
	assert.Len(t, checks, 10)
	metrics, ok := report["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, metrics, "overall_score")
	assert.NotEmpty(t, report["summary"])
}

func TestAuditRun_SignedInWithPersistentState(t *testing.T) {
	srv := startBackend(t)

	payload := `{"email":"auditor@example.com","password":"correct-horse","name":"Auditor"}`
	resp, err := http.Post(srv.URL+"/api/v1/auth/register", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Setenv("GEARSHARE_AUDIT_PASSWORD", "correct-horse")
	state := filepath.Join(t.TempDir(), "state.db")
	for run := 1; run <= 4; run++ {
		out, err := execute(t, "audit", "run", "-o", "json",
			"--backend", srv.URL, "--email", "auditor@example.com", "--state", state)
		require.NoError(t, err, "run %d", run)

		var report audit.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		require.Len(t, report.Checks, 10)
		for _, ch := range report.Checks {
			if ch.Name == audit.CheckConcurrentSession {
				assert.Equal(t, audit.StatusPass, ch.Status, "run %d: %s", run, ch.Message)
			}
		}
	}
	assert.FileExists(t, state)

	db, err := database.Open(state)
	require.NoError(t, err)
	_, ok, err := storage.NewDBStore(db).Get(storage.KeyAppSessionCount)
	require.NoError(t, err)
	assert.False(t, ok, "session count is released after every run")
}

func TestAuditRun_SignInFailure(t *testing.T) {
	srv := startBackend(t)

	_, err := execute(t, "audit", "run", "--backend", srv.URL,
		"--email", "nobody@example.com", "--password", "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign in")
}

func TestAuditRun_FailUnder(t *testing.T) {
	srv := startBackend(t)

	_, err := execute(t, "audit", "run", "--backend", srv.URL, "--fail-under", "101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below 101")
}
