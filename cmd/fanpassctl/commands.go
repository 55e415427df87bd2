package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/bootstrap"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/reconcile"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscription"
)

// setupServices connects to the real backends; replaced in tests.
var setupServices = bootstrap.Setup

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [email]",
		Short: "Show stored profiles and subscriptions for an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			insp, err := setupServices(ctx).Engine.Inspect(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, insp)
		},
	}
}

func fixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fix [email]",
		Short: "Grant an email a fresh 30 day window without asking the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := setupServices(ctx).Engine.ManualFix(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func reconcileCmd() *cobra.Command {
	var (
		attempts int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile [paymentId]",
		Short: "Verify a payment with the gateway and activate it when approved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			res, err := setupServices(ctx).Engine.Reconcile(ctx, reconcile.Request{
				PaymentID: args[0],
				Source:    models.SubscriptionSourceCLI,
				Retry:     gateway.RetryPolicy{MaxAttempts: attempts, Delay: delay},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVarP(&attempts, "attempts", "n", 0, "Status lookups before giving up (0 uses the client default)")
	cmd.Flags().DurationVarP(&delay, "delay", "d", -1, "Wait between lookups (negative uses the client default)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark subscriptions whose window has closed as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := setupServices(ctx).Engine.ExpireStale(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d subscription(s)\n", n)
			return nil
		},
	}
}

func plansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE\tDAYS")
			for _, p := range subscription.Plans() {
				fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n", p.ID, p.Name, p.Currency, p.Price.StringFixed(2), strconv.Itoa(p.DurationDays))
			}
			return w.Flush()
		},
	}
}

func signCmd() *cobra.Command {
	var (
		secret    string
		requestID string
		ts        string
	)
	cmd := &cobra.Command{
		Use:   "sign [paymentId]",
		Short: "Print an x-signature header for replaying a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			if ts == "" {
				ts = strconv.FormatInt(time.Now().Unix(), 10)
			}
			fmt.Fprintln(cmd.OutOrStdout(), gateway.SignWebhook(args[0], requestID, ts, secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Webhook signing secret")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Value sent as x-request-id")
	cmd.Flags().StringVar(&ts, "ts", "", "Timestamp to sign (defaults to now)")
	return cmd
}
