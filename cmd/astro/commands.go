package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/pipeline"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/telemetry"
)

func newExpertsCmd(logs io.Writer) *cobra.Command {
	var (
		locale string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "experts",
		Short: "List installed experts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logs, false, func(_ context.Context, a *app) error {
				loc := a.localizer.Match(locale)
				list := a.registry.List()
				if asJSON {
					type entry struct {
						ID      experts.Kind `json:"id"`
						Name    string       `json:"name"`
						Version string       `json:"version"`
						Cost    int          `json:"cost"`
					}
					out := make([]entry, 0, len(list))
					for _, e := range list {
						out = append(out, entry{e.ID(), a.localizer.ExpertName(string(e.ID()), loc), e.Version(), e.Cost()})
					}
					return writeJSON(cmd, out)
				}
				rows := make([][]string, 0, len(list))
				for _, e := range list {
					rows = append(rows, []string{string(e.ID()), a.localizer.ExpertName(string(e.ID()), loc), e.Version(), fmt.Sprint(e.Cost())})
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "NAME", "VERSION", "COST"}, rows))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "en", "display locale")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newDecksCmd(logs io.Writer) *cobra.Command {
	var deckType, locale string
	cmd := &cobra.Command{
		Use:   "decks",
		Short: "List loaded decks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logs, false, func(_ context.Context, a *app) error {
				decks := a.assets.Decks(deckType)
				rows := make([][]string, 0, len(decks))
				for _, d := range decks {
					rows = append(rows, []string{d.ID, d.Type, d.Name.Get(locale), fmt.Sprint(len(d.Items))})
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "TYPE", "NAME", "ITEMS"}, rows))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&deckType, "type", "", "only decks of this type")
	cmd.Flags().StringVar(&locale, "locale", "en", "display locale")
	return cmd
}

func newDrawCmd(logs io.Writer) *cobra.Command {
	var (
		userID, expert, locale, date string
		nonce                        int
		input                        map[string]string
		asJSON                       bool
	)
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Run a reading without charging, to preview or reproduce it",
		Example: "  astro draw --expert tarot --user 42 --date 2024-01-01 --input spread_id=tarot_three_ppf\n" +
			"  astro draw --expert numerology --user 42 --input full_name='Ada Lovelace' --input birth_date=1815-12-10",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := experts.ParseKind(expert)
			if err != nil {
				return err
			}
			var day time.Time
			if date != "" {
				if day, err = time.Parse(time.DateOnly, date); err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
			}
			values := make(map[string]any, len(input))
			for k, raw := range input {
				values[k] = flagValue(raw)
			}
			return withApp(cmd, logs, false, func(ctx context.Context, a *app) error {
				d, err := a.dispatcher(nil)
				if err != nil {
					return err
				}
				res, err := d.Run(ctx, pipeline.Request{
					UserID: userID,
					Expert: kind,
					Locale: locale,
					Date:   day,
					Nonce:  nonce,
					Values: values,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", res.Stage, err)
				}
				if asJSON {
					return writeJSON(cmd, res)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderReading(res))
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "user id the draw is seeded with")
	f.StringVar(&expert, "expert", "", "expert id")
	f.StringVar(&locale, "locale", "en", "answer locale")
	f.StringVar(&date, "date", "", "logical date YYYY-MM-DD (default today)")
	f.IntVar(&nonce, "nonce", 0, "redraw counter")
	f.StringToStringVar(&input, "input", nil, "form value key=value, repeatable")
	f.BoolVar(&asJSON, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("expert")
	return cmd
}

func newGrantCmd(logs io.Writer) *cobra.Command {
	var userID, product, orderID string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a product to a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logs, false, func(ctx context.Context, a *app) error {
				e, err := a.governor.Grant(ctx, userID, product, orderID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, e)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&product, "product", "", "product id")
	cmd.Flags().StringVar(&orderID, "order", "", "payment order id; repeated grants for one order are ignored")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func newBalanceCmd(logs io.Writer) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a user's entitlement and usage today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logs, false, func(ctx context.Context, a *app) error {
				b, err := a.governor.Balance(ctx, userID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, b)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRefundCmd(logs io.Writer) *cobra.Command {
	var userID, product string
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Cancel a user's active entitlements for a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logs, false, func(ctx context.Context, a *app) error {
				n, err := a.governor.Refund(ctx, userID, product)
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]int{"cancelled": n})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&product, "product", "", "product id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func newMigrateCmd(logs io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the entitlement and usage tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the store migrates it.
			return withApp(cmd, logs, false, func(_ context.Context, a *app) error {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", a.cfg.StoreDriver)
				return err
			})
		},
	}
}

func newMetricsCmd(logs io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Summarize product events of the last month",
		Long:  "metrics reads the event stream and prints DAU, MAU, conversion, average generation time and the verifier failure rate. Without REDIS_ADDR there are no stored events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logs, false, func(ctx context.Context, a *app) error {
				m, err := telemetry.SummarizeSource(ctx, a.source, time.Now())
				if err != nil {
					return err
				}
				return writeJSON(cmd, m)
			})
		},
	}
}

// flagValue reads numbers and booleans as JSON so that numeric form fields
// can be given on the command line. Anything else is a string.
func flagValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return raw
}
