// Command astro serves and administers the expert dispatcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/config"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(logs io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "astro",
		Short:         "Multi-expert reading dispatcher",
		Long:          "astro serves the reading API and offers offline tools to inspect experts, preview draws and manage entitlements. Configuration is read from the environment.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(logs),
		newExpertsCmd(logs),
		newDecksCmd(logs),
		newDrawCmd(logs),
		newGrantCmd(logs),
		newBalanceCmd(logs),
		newRefundCmd(logs),
		newMigrateCmd(logs),
		newMetricsCmd(logs),
	)
	return root
}

// withApp loads the configuration, wires an app and closes it after fn.
func withApp(cmd *cobra.Command, logs io.Writer, serving bool, fn func(context.Context, *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := wireApp(ctx, cfg, logs, serving)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, a)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
