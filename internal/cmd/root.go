// Package cmd implements the guardctl command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Wikid82/gearshare/backend/internal/version"
)

var outputFormat string

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Drive the GearShare security guards from the command line",
	Long: `guardctl runs the GearShare client-side guards outside the app.
It can audit a running backend and validate rental payments locally
before they ever reach checkout.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx available to subcommands.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "Output format (yaml|json)")
}

func render(w io.Writer, v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q (want yaml or json)", outputFormat)
	}
}
